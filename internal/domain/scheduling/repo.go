package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StatusChange is a compare-and-set on a single slot: the write only happens
// if the slot is currently in From (and, when Holder is set, reserved by
// Holder).
type StatusChange struct {
	SlotID    uuid.UUID
	From      Status
	To        Status
	PatientID *uuid.UUID
	Holder    *uuid.UUID
}

func (c StatusChange) validate() error {
	if c.SlotID == uuid.Nil {
		return invalidArgument("slot_id is required")
	}
	if !c.From.Valid() || !c.To.Valid() {
		return invalidArgument("unknown status in change %s -> %s", c.From, c.To)
	}
	if (c.PatientID != nil) != (c.To == StatusReserved) {
		return invalidArgument("patient_id must be set exactly when reserving")
	}
	return nil
}

// AppointmentSource lists the sessions a patient already holds.
type AppointmentSource interface {
	AppointmentsBetween(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]Appointment, error)
}

// SlotStore is the single point of truth for slots.
type SlotStore interface {
	AppointmentSource

	Find(ctx context.Context, practitionerID uuid.UUID, r DateRange) ([]*Slot, error)
	FindByPractitionerTimeAndDate(ctx context.Context, practitionerID uuid.UUID, clock string, date time.Time) ([]*Slot, error)
	Get(ctx context.Context, id uuid.UUID) (*Slot, error)
	// SetStatus fails with ErrConflict when the precondition no longer holds.
	SetStatus(ctx context.Context, change StatusChange) (*Slot, error)
	CreateMany(ctx context.Context, slots []*Slot) (int, error)
	// WithPatientLock runs fn inside a boundary that serialises every
	// caller holding the same patient id, across processes.
	WithPatientLock(ctx context.Context, patientID uuid.UUID, fn func(ctx context.Context) error) error
}
