package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/estacao/agenda/internal/platform/metrics"
)

var propagatorTracer = otel.Tracer("agenda.internal.scheduling.recurrence")

// Propagator flips slot availability, either for one named slot or for a
// time of day across every weekday of a month.
type Propagator struct {
	store   SlotStore
	logger  zerolog.Logger
	metrics *metrics.SchedulingMetrics
}

func NewPropagator(store SlotStore, logger zerolog.Logger, m *metrics.SchedulingMetrics) *Propagator {
	return &Propagator{store: store, logger: logger, metrics: m}
}

// WeekdaysOfMonth returns every Monday..Friday date in the month of anchor.
func WeekdaysOfMonth(anchor time.Time) []time.Time {
	y, m, _ := anchor.Date()
	n := DaysIn(y, m)
	out := make([]time.Time, 0, n)
	for d := 1; d <= n; d++ {
		date := NewDate(y, m, d)
		if isWeekend(date.Weekday()) {
			continue
		}
		out = append(out, date)
	}
	return out
}

// Propagate toggles every slot at `clock` on the weekdays of anchor's month.
// Each slot is handled on its own; one failure does not stop the sweep. On
// cancellation the results so far are returned along with ctx.Err().
func (p *Propagator) Propagate(ctx context.Context, practitionerID uuid.UUID, clock string, anchor time.Time) ([]ToggleResult, error) {
	canonical, err := ParseClock(clock)
	if err != nil {
		return nil, err
	}
	if err := checkYear(anchor.Year()); err != nil {
		return nil, err
	}

	ctx, span := propagatorTracer.Start(ctx, "scheduling.propagate")
	defer span.End()
	span.SetAttributes(
		attribute.String("agenda.practitioner_id", practitionerID.String()),
		attribute.String("agenda.time", canonical),
		attribute.String("agenda.month", anchor.Format("2006-01")),
	)

	var results []ToggleResult
	for _, date := range WeekdaysOfMonth(anchor) {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return results, err
		}
		matched, err := p.store.FindByPractitionerTimeAndDate(ctx, practitionerID, canonical, date)
		if err != nil {
			results = append(results, p.failed(uuid.Nil, date, canonical, err))
			continue
		}
		for _, sl := range matched {
			if err := ctx.Err(); err != nil {
				span.RecordError(err)
				return results, err
			}
			results = append(results, p.flip(ctx, sl))
		}
	}

	p.logSummary(practitionerID, canonical, anchor, results)
	return results, nil
}

// Toggle processes every item in request order. Recurrent items propagate
// over their month; the others flip the named slot only.
func (p *Propagator) Toggle(ctx context.Context, practitionerID uuid.UUID, items []ToggleItem) ([]ToggleResult, error) {
	results := make([]ToggleResult, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if !item.Recurrent {
			results = append(results, p.toggleOne(ctx, practitionerID, item.SlotID))
			continue
		}

		anchor, err := ParseDate(item.Date)
		if err != nil {
			results = append(results, p.failed(item.SlotID, time.Time{}, item.Time, err))
			continue
		}
		swept, err := p.Propagate(ctx, practitionerID, item.Time, anchor)
		results = append(results, swept...)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return results, err
		}
		if err != nil {
			results = append(results, p.failed(item.SlotID, anchor, item.Time, err))
		}
	}
	return results, nil
}

func (p *Propagator) toggleOne(ctx context.Context, practitionerID, slotID uuid.UUID) ToggleResult {
	sl, err := p.store.Get(ctx, slotID)
	if err != nil {
		return p.failed(slotID, time.Time{}, "", err)
	}
	if sl.PractitionerID != practitionerID {
		return p.failed(slotID, time.Time{}, "", ErrNotFound)
	}
	return p.flip(ctx, sl)
}

// flip applies the toggle to one observed slot via compare-and-set.
func (p *Propagator) flip(ctx context.Context, sl *Slot) ToggleResult {
	res := ToggleResult{SlotID: sl.ID, Date: sl.Date.Format(DateLayout), Time: sl.Time, Status: sl.Status}

	var next Status
	switch sl.Status {
	case StatusAvailable:
		next = StatusBlocked
	case StatusBlocked:
		next = StatusAvailable
	default:
		res.Outcome = OutcomeSkippedReserved
		p.metrics.ObserveToggle(string(res.Outcome))
		return res
	}

	updated, err := p.store.SetStatus(ctx, StatusChange{SlotID: sl.ID, From: sl.Status, To: next})
	if err != nil {
		return p.failed(sl.ID, sl.Date, sl.Time, err)
	}
	res.Status = updated.Status
	res.Outcome = OutcomeToggled
	res.Success = true
	p.metrics.ObserveToggle(string(res.Outcome))
	return res
}

func (p *Propagator) failed(slotID uuid.UUID, date time.Time, clock string, err error) ToggleResult {
	if errors.Is(err, ErrStorageUnavailable) {
		p.logger.Error().Err(err).Str("slot_id", slotID.String()).Msg("slot toggle failed")
	}
	p.metrics.ObserveToggle(string(OutcomeFailed))
	res := ToggleResult{SlotID: slotID, Time: clock, Outcome: OutcomeFailed, Error: err.Error()}
	if !date.IsZero() {
		res.Date = date.Format(DateLayout)
	}
	return res
}

func (p *Propagator) logSummary(practitionerID uuid.UUID, clock string, anchor time.Time, results []ToggleResult) {
	counts := map[ToggleOutcome]int{}
	for _, r := range results {
		counts[r.Outcome]++
	}
	p.logger.Info().
		Str("practitioner_id", practitionerID.String()).
		Str("time", clock).
		Str("month", anchor.Format("2006-01")).
		Int("toggled", counts[OutcomeToggled]).
		Int("skipped_reserved", counts[OutcomeSkippedReserved]).
		Int("failed", counts[OutcomeFailed]).
		Msg("recurring toggle applied")
}
