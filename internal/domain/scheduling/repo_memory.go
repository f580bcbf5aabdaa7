package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process SlotStore. It backs `STORE=memory` and the
// package tests.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[uuid.UUID]*Slot
	keys  map[string]uuid.UUID

	lockMu   sync.Mutex
	patients map[uuid.UUID]*sync.Mutex

	now func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots:    make(map[uuid.UUID]*Slot),
		keys:     make(map[string]uuid.UUID),
		patients: make(map[uuid.UUID]*sync.Mutex),
		now:      time.Now,
	}
}

func slotKey(practitionerID uuid.UUID, date time.Time, clock string) string {
	return practitionerID.String() + "|" + date.Format(DateLayout) + "|" + clock
}

func sortSlots(items []*Slot) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].Date.Equal(items[j].Date) {
			return items[i].Date.Before(items[j].Date)
		}
		return items[i].Time < items[j].Time
	})
}

func (m *MemoryStore) Find(ctx context.Context, practitionerID uuid.UUID, r DateRange) ([]*Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("find slots", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Slot
	for _, sl := range m.slots {
		if sl.PractitionerID == practitionerID && r.Contains(sl.Date) {
			out = append(out, sl.clone())
		}
	}
	sortSlots(out)
	return out, nil
}

func (m *MemoryStore) FindByPractitionerTimeAndDate(ctx context.Context, practitionerID uuid.UUID, clock string, date time.Time) ([]*Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("find slot by time", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.keys[slotKey(practitionerID, DateOf(date), clock)]
	if !ok {
		return nil, nil
	}
	return []*Slot{m.slots[id].clone()}, nil
}

func (m *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("get slot", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	sl, ok := m.slots[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sl.clone(), nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, change StatusChange) (*Slot, error) {
	if err := change.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storageError("set slot status", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sl, ok := m.slots[change.SlotID]
	if !ok {
		return nil, ErrNotFound
	}
	if sl.Status != change.From {
		return nil, ErrConflict
	}
	if change.Holder != nil && (sl.PatientID == nil || *sl.PatientID != *change.Holder) {
		return nil, ErrConflict
	}
	sl.Status = change.To
	sl.PatientID = nil
	if change.PatientID != nil {
		pid := *change.PatientID
		sl.PatientID = &pid
	}
	sl.UpdatedAt = m.now()
	return sl.clone(), nil
}

func (m *MemoryStore) CreateMany(ctx context.Context, slots []*Slot) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, storageError("create slots", err)
	}
	for _, sl := range slots {
		if sl.Status == StatusReserved {
			return 0, invalidArgument("slot %s: cannot create a reserved slot", sl.ID)
		}
		if err := sl.Validate(); err != nil {
			return 0, invalidArgument("%v", err)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	created := 0
	now := m.now()
	for _, sl := range slots {
		key := slotKey(sl.PractitionerID, sl.Date, sl.Time)
		if _, dup := m.keys[key]; dup {
			continue
		}
		if _, dup := m.slots[sl.ID]; dup {
			continue
		}
		c := sl.clone()
		c.CreatedAt, c.UpdatedAt = now, now
		m.slots[c.ID] = c
		m.keys[key] = c.ID
		created++
	}
	return created, nil
}

func (m *MemoryStore) AppointmentsBetween(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("list appointments", err)
	}
	r := DateRange{From: DateOf(from), To: DateOf(to)}
	m.mu.RLock()
	var held []*Slot
	for _, sl := range m.slots {
		if sl.Status == StatusReserved && sl.PatientID != nil && *sl.PatientID == patientID && r.Contains(sl.Date) {
			held = append(held, sl)
		}
	}
	sortSlots(held)
	out := make([]Appointment, 0, len(held))
	for _, sl := range held {
		out = append(out, Appointment{SlotID: sl.ID, PractitionerID: sl.PractitionerID, Date: sl.Date, Time: sl.Time})
	}
	m.mu.RUnlock()
	return out, nil
}

func (m *MemoryStore) WithPatientLock(ctx context.Context, patientID uuid.UUID, fn func(ctx context.Context) error) error {
	m.lockMu.Lock()
	l, ok := m.patients[patientID]
	if !ok {
		l = &sync.Mutex{}
		m.patients[patientID] = l
	}
	m.lockMu.Unlock()

	l.Lock()
	defer l.Unlock()
	if err := ctx.Err(); err != nil {
		return storageError("lock patient", err)
	}
	return fn(ctx)
}
