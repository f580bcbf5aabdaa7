package scheduling

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionDuration is the fixed length of a therapy session.
const SessionDuration = 50 * time.Minute

// DefaultTimezone is the operating timezone of the platform's practitioners.
const DefaultTimezone = "America/Sao_Paulo"

// Status is the availability state of a slot.
type Status string

const (
	StatusAvailable Status = "available"
	StatusBlocked   Status = "blocked"
	StatusReserved  Status = "reserved"
)

var validSlotStatuses = map[Status]bool{
	StatusAvailable: true, StatusBlocked: true, StatusReserved: true,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool { return validSlotStatuses[s] }

// ParseStatus accepts a status in any letter case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", invalidArgument("unknown slot status %q", s)
	}
	return st, nil
}

// Slot maps to the slot table: one bookable hour of a practitioner's calendar.
type Slot struct {
	ID             uuid.UUID    `db:"id"`
	PractitionerID uuid.UUID    `db:"practitioner_id"`
	Date           time.Time    `db:"slot_date"`
	Time           string       `db:"slot_time"`
	Weekday        time.Weekday `db:"weekday"`
	Status         Status       `db:"status"`
	PatientID      *uuid.UUID   `db:"patient_id"`
	CreatedAt      time.Time    `db:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
}

// NewSlot builds an available slot with its weekday derived from date.
func NewSlot(practitionerID uuid.UUID, date time.Time, clock string) (*Slot, error) {
	if practitionerID == uuid.Nil {
		return nil, invalidArgument("practitioner_id is required")
	}
	canonical, err := ParseClock(clock)
	if err != nil {
		return nil, err
	}
	sl := &Slot{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		Time:           canonical,
		Status:         StatusAvailable,
	}
	sl.SetDate(date)
	return sl, nil
}

// SetDate is the only way to move a slot to another date; it keeps Weekday
// in step.
func (sl *Slot) SetDate(d time.Time) {
	sl.Date = DateOf(d)
	sl.Weekday = sl.Date.Weekday()
}

// Validate checks the slot invariants.
func (sl *Slot) Validate() error {
	if !sl.Status.Valid() {
		return fmt.Errorf("slot %s: unknown status %q", sl.ID, sl.Status)
	}
	if (sl.PatientID != nil) != (sl.Status == StatusReserved) {
		return fmt.Errorf("slot %s: patient must be set exactly when reserved (status %s)", sl.ID, sl.Status)
	}
	if sl.Weekday != sl.Date.Weekday() {
		return fmt.Errorf("slot %s: weekday %s disagrees with date %s", sl.ID, sl.Weekday, sl.Date.Format(DateLayout))
	}
	if _, err := ParseClock(sl.Time); err != nil {
		return fmt.Errorf("slot %s: %w", sl.ID, err)
	}
	return nil
}

// Window returns the session interval [start, end) of the slot in loc.
func (sl *Slot) Window(loc *time.Location) (time.Time, time.Time, error) {
	start, err := Resolve(sl.Date, sl.Time, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.Add(SessionDuration), nil
}

func (sl *Slot) clone() *Slot {
	c := *sl
	if sl.PatientID != nil {
		pid := *sl.PatientID
		c.PatientID = &pid
	}
	return &c
}

type slotJSON struct {
	ID             uuid.UUID  `json:"id"`
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	Date           string     `json:"date"`
	Time           string     `json:"time"`
	Weekday        string     `json:"weekday"`
	Status         Status     `json:"status"`
	PatientID      *uuid.UUID `json:"patient_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (sl Slot) MarshalJSON() ([]byte, error) {
	return json.Marshal(slotJSON{
		ID:             sl.ID,
		PractitionerID: sl.PractitionerID,
		Date:           sl.Date.Format(DateLayout),
		Time:           sl.Time,
		Weekday:        sl.Weekday.String(),
		Status:         sl.Status,
		PatientID:      sl.PatientID,
		CreatedAt:      sl.CreatedAt,
		UpdatedAt:      sl.UpdatedAt,
	})
}

func (sl *Slot) UnmarshalJSON(data []byte) error {
	var raw slotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d, err := ParseDate(raw.Date)
	if err != nil {
		return err
	}
	*sl = Slot{
		ID:             raw.ID,
		PractitionerID: raw.PractitionerID,
		Time:           raw.Time,
		Status:         raw.Status,
		PatientID:      raw.PatientID,
		CreatedAt:      raw.CreatedAt,
		UpdatedAt:      raw.UpdatedAt,
	}
	sl.SetDate(d)
	return nil
}

// SlotSummary is the minimal projection used by day views.
type SlotSummary struct {
	ID     uuid.UUID `json:"id"`
	Time   string    `json:"time"`
	Status Status    `json:"status"`
}

// BookingRequest is a candidate reservation.
type BookingRequest struct {
	PractitionerID uuid.UUID
	PatientID      uuid.UUID
	Date           time.Time
	Time           string
}

// Appointment is a session a patient already holds.
type Appointment struct {
	SlotID         uuid.UUID `json:"slot_id"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	Date           time.Time `json:"-"`
	Time           string    `json:"time"`
}

func (a Appointment) MarshalJSON() ([]byte, error) {
	type alias Appointment
	return json.Marshal(struct {
		alias
		Date string `json:"date"`
	}{alias: alias(a), Date: a.Date.Format(DateLayout)})
}

// Booking is the result of a successful reservation.
type Booking struct {
	SlotID         uuid.UUID `json:"slot_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	Date           string    `json:"date"`
	Time           string    `json:"time"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	CreatedAt      time.Time `json:"created_at"`
}

// ToggleItem is one element of a bulk availability toggle.
type ToggleItem struct {
	SlotID    uuid.UUID `json:"slot_id"`
	Time      string    `json:"time"`
	Date      string    `json:"date"`
	Recurrent bool      `json:"recurrent"`
}

// ToggleOutcome describes what happened to one slot during a toggle.
type ToggleOutcome string

const (
	OutcomeToggled         ToggleOutcome = "toggled"
	OutcomeSkippedReserved ToggleOutcome = "skipped_reserved"
	OutcomeFailed          ToggleOutcome = "failed"
)

// ToggleResult reports the per-slot outcome of a toggle.
type ToggleResult struct {
	SlotID  uuid.UUID     `json:"slot_id"`
	Date    string        `json:"date,omitempty"`
	Time    string        `json:"time,omitempty"`
	Status  Status        `json:"status,omitempty"`
	Outcome ToggleOutcome `json:"outcome"`
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
}
