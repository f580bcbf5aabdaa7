package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ZoneResolver returns the operating timezone of a practitioner.
type ZoneResolver interface {
	Location(ctx context.Context, practitionerID uuid.UUID) (*time.Location, error)
}

// FixedZone resolves every practitioner to the same location.
type FixedZone struct{ Loc *time.Location }

// NewFixedZone loads the IANA zone name. An empty name means DefaultTimezone.
func NewFixedZone(name string) (FixedZone, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return FixedZone{}, invalidArgument("unknown timezone %q", name)
	}
	return FixedZone{Loc: loc}, nil
}

func (z FixedZone) Location(context.Context, uuid.UUID) (*time.Location, error) {
	if z.Loc == nil {
		return time.UTC, nil
	}
	return z.Loc, nil
}

// Decision is the outcome of a conflict check.
type Decision struct {
	Conflict    bool         `json:"conflict"`
	Appointment *Appointment `json:"appointment,omitempty"`
}

// ConflictGuard enforces the minimum gap between two sessions of the same
// patient: a new session may not start within one session length of an
// existing one's edges.
type ConflictGuard struct {
	source AppointmentSource
	zones  ZoneResolver
}

func NewConflictGuard(source AppointmentSource, zones ZoneResolver) *ConflictGuard {
	return &ConflictGuard{source: source, zones: zones}
}

// Overlaps reports whether a session starting at start collides with the
// buffered window of a session starting at existing.
func Overlaps(start, existing time.Time) bool {
	end := start.Add(SessionDuration)
	bufStart := existing.Add(-SessionDuration)
	bufEnd := existing.Add(2 * SessionDuration)

	startInside := !start.Before(bufStart) && start.Before(bufEnd)
	endInside := end.After(bufStart) && !end.After(bufEnd)
	spans := start.Before(bufStart) && end.After(bufEnd)
	return startInside || endInside || spans
}

// Evaluate checks a candidate start against existing appointments, returning
// the first conflict in the order given. Appointments on excludeSlot are
// ignored.
func (g *ConflictGuard) Evaluate(ctx context.Context, start time.Time, existing []Appointment, excludeSlot uuid.UUID) (Decision, error) {
	for i := range existing {
		a := existing[i]
		if excludeSlot != uuid.Nil && a.SlotID == excludeSlot {
			continue
		}
		loc, err := g.zones.Location(ctx, a.PractitionerID)
		if err != nil {
			return Decision{}, storageError("resolve timezone", err)
		}
		aStart, err := Resolve(a.Date, a.Time, loc)
		if err != nil {
			return Decision{}, err
		}
		if Overlaps(start, aStart) {
			return Decision{Conflict: true, Appointment: &a}, nil
		}
	}
	return Decision{}, nil
}

// Check loads the patient's sessions from the day before to the day after
// the candidate and evaluates them.
func (g *ConflictGuard) Check(ctx context.Context, req BookingRequest) (Decision, error) {
	return g.check(ctx, req, uuid.Nil)
}

func (g *ConflictGuard) check(ctx context.Context, req BookingRequest, excludeSlot uuid.UUID) (Decision, error) {
	if req.PatientID == uuid.Nil {
		return Decision{}, invalidArgument("patient_id is required")
	}
	loc, err := g.zones.Location(ctx, req.PractitionerID)
	if err != nil {
		return Decision{}, storageError("resolve timezone", err)
	}
	start, err := Resolve(req.Date, req.Time, loc)
	if err != nil {
		return Decision{}, err
	}
	day := DateOf(req.Date)
	existing, err := g.source.AppointmentsBetween(ctx, req.PatientID, day.AddDate(0, 0, -1), day.AddDate(0, 0, 1))
	if err != nil {
		return Decision{}, err
	}
	return g.Evaluate(ctx, start, existing, excludeSlot)
}
