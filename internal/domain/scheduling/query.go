package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter narrows a slot listing. At most one of Day, Week or Month may be
// set; Week and Month need Year.
type Filter struct {
	Status *Status
	Day    *time.Time
	Week   *int
	Month  *int
	Year   *int
}

// QueryEngine answers read-only calendar queries.
type QueryEngine struct {
	store SlotStore
}

func NewQueryEngine(store SlotStore) *QueryEngine {
	return &QueryEngine{store: store}
}

// everything is the range used when a listing has no date filter.
var everything = DateRange{From: NewDate(1, time.January, 1), To: NewDate(9999, time.December, 31)}

func (f Filter) dateRange() (DateRange, error) {
	set := 0
	for _, ok := range []bool{f.Day != nil, f.Week != nil, f.Month != nil} {
		if ok {
			set++
		}
	}
	if set > 1 {
		return DateRange{}, invalidArgument("day, week and month filters are mutually exclusive")
	}
	switch {
	case f.Day != nil:
		if err := checkYear(f.Day.Year()); err != nil {
			return DateRange{}, err
		}
		return DayRange(*f.Day), nil
	case f.Week != nil:
		if f.Year == nil {
			return DateRange{}, invalidArgument("week filter requires year")
		}
		return ISOWeekRange(*f.Week, *f.Year)
	case f.Month != nil:
		if f.Year == nil {
			return DateRange{}, invalidArgument("month filter requires year")
		}
		return MonthRange(*f.Month, *f.Year)
	}
	return everything, nil
}

// List returns the practitioner's slots matching f, ordered by date and time.
func (q *QueryEngine) List(ctx context.Context, practitionerID uuid.UUID, f Filter) ([]*Slot, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, invalidArgument("unknown slot status %q", *f.Status)
	}
	r, err := f.dateRange()
	if err != nil {
		return nil, err
	}
	slots, err := q.store.Find(ctx, practitionerID, r)
	if err != nil {
		return nil, err
	}
	if f.Status == nil {
		return nonNil(slots), nil
	}
	out := make([]*Slot, 0, len(slots))
	for _, sl := range slots {
		if sl.Status == *f.Status {
			out = append(out, sl)
		}
	}
	return out, nil
}

func (q *QueryEngine) ListByDay(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]*Slot, error) {
	return q.List(ctx, practitionerID, Filter{Day: &date})
}

// ListByWeek lists ISO-8601 week `week` of `year`, Monday through Sunday.
func (q *QueryEngine) ListByWeek(ctx context.Context, practitionerID uuid.UUID, week, year int) ([]*Slot, error) {
	return q.List(ctx, practitionerID, Filter{Week: &week, Year: &year})
}

func (q *QueryEngine) ListByMonth(ctx context.Context, practitionerID uuid.UUID, month, year int) ([]*Slot, error) {
	return q.List(ctx, practitionerID, Filter{Month: &month, Year: &year})
}

func (q *QueryEngine) ListAvailable(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]*Slot, error) {
	st := StatusAvailable
	return q.List(ctx, practitionerID, Filter{Day: &date, Status: &st})
}

// ListDayProjection is ListByDay reduced to id, time and status.
func (q *QueryEngine) ListDayProjection(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]SlotSummary, error) {
	slots, err := q.ListByDay(ctx, practitionerID, date)
	if err != nil {
		return nil, err
	}
	out := make([]SlotSummary, 0, len(slots))
	for _, sl := range slots {
		out = append(out, SlotSummary{ID: sl.ID, Time: sl.Time, Status: sl.Status})
	}
	return out, nil
}

func nonNil(slots []*Slot) []*Slot {
	if slots == nil {
		return []*Slot{}
	}
	return slots
}
