package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetStatusCompareAndSet(t *testing.T) {
	store := NewMemoryStore()
	sl := seedSlot(t, store, uuid.New(), NewDate(2024, time.April, 1), "10:00", StatusAvailable)
	ctx := context.Background()

	_, err := store.SetStatus(ctx, StatusChange{SlotID: sl.ID, From: StatusBlocked, To: StatusAvailable})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := store.SetStatus(ctx, StatusChange{SlotID: sl.ID, From: StatusAvailable, To: StatusBlocked})
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, got.Status)

	_, err = store.SetStatus(ctx, StatusChange{SlotID: uuid.New(), From: StatusAvailable, To: StatusBlocked})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_HolderGuard(t *testing.T) {
	store := NewMemoryStore()
	patient := uuid.New()
	sl := seedSlot(t, store, uuid.New(), NewDate(2024, time.April, 1), "10:00", StatusAvailable)
	reserveFor(t, store, sl, patient)
	ctx := context.Background()

	other := uuid.New()
	_, err := store.SetStatus(ctx, StatusChange{SlotID: sl.ID, From: StatusReserved, To: StatusAvailable, Holder: &other})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := store.SetStatus(ctx, StatusChange{SlotID: sl.ID, From: StatusReserved, To: StatusAvailable, Holder: &patient})
	require.NoError(t, err)
	assert.Nil(t, got.PatientID)
	requireInvariants(t, store)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	sl := seedSlot(t, store, uuid.New(), NewDate(2024, time.April, 1), "10:00", StatusAvailable)

	got := mustGet(t, store, sl.ID)
	got.Status = StatusReserved
	assert.Equal(t, StatusAvailable, mustGet(t, store, sl.ID).Status)
}

func TestMemoryStore_CreateManyRejectsDuplicatesAndReserved(t *testing.T) {
	store := NewMemoryStore()
	practitioner := uuid.New()
	ctx := context.Background()

	a, _ := NewSlot(practitioner, NewDate(2024, time.April, 1), "10:00")
	b, _ := NewSlot(practitioner, NewDate(2024, time.April, 1), "10:00")
	n, err := store.CreateMany(ctx, []*Slot{a, b})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c, _ := NewSlot(practitioner, NewDate(2024, time.April, 2), "10:00")
	patient := uuid.New()
	c.Status, c.PatientID = StatusReserved, &patient
	_, err = store.CreateMany(ctx, []*Slot{c})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMemoryStore_AppointmentsBetween(t *testing.T) {
	store := NewMemoryStore()
	patient := uuid.New()
	practitioner := uuid.New()
	in := seedSlot(t, store, practitioner, NewDate(2024, time.April, 2), "10:00", StatusAvailable)
	out := seedSlot(t, store, practitioner, NewDate(2024, time.April, 5), "10:00", StatusAvailable)
	reserveFor(t, store, in, patient)
	reserveFor(t, store, out, patient)

	got, err := store.AppointmentsBetween(context.Background(), patient, NewDate(2024, time.April, 1), NewDate(2024, time.April, 3))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, in.ID, got[0].SlotID)
	assert.Equal(t, practitioner, got[0].PractitionerID)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Find(ctx, uuid.New(), DayRange(NewDate(2024, 4, 1)))
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}
