package scheduling

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var saoPaulo = mustZone("America/Sao_Paulo")

func mustZone(name string) FixedZone {
	z, err := NewFixedZone(name)
	if err != nil {
		panic(err)
	}
	return z
}

// fixedNow is well before every date the tests book.
func fixedNow() time.Time { return time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC) }

func seedSlot(t *testing.T, store *MemoryStore, practitionerID uuid.UUID, date time.Time, clock string, status Status) *Slot {
	t.Helper()
	sl, err := NewSlot(practitionerID, date, clock)
	require.NoError(t, err)
	if status == StatusReserved {
		pid := uuid.New()
		sl.Status, sl.PatientID = status, &pid
		store.mu.Lock()
		store.slots[sl.ID] = sl.clone()
		store.keys[slotKey(practitionerID, sl.Date, sl.Time)] = sl.ID
		store.mu.Unlock()
		return sl
	}
	sl.Status = status
	n, err := store.CreateMany(context.Background(), []*Slot{sl})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return sl
}

func reserveFor(t *testing.T, store *MemoryStore, sl *Slot, patientID uuid.UUID) {
	t.Helper()
	pid := patientID
	_, err := store.SetStatus(context.Background(), StatusChange{SlotID: sl.ID, From: StatusAvailable, To: StatusReserved, PatientID: &pid})
	require.NoError(t, err)
}

func mustGet(t *testing.T, store SlotStore, id uuid.UUID) *Slot {
	t.Helper()
	sl, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return sl
}

// requireInvariants checks every stored slot.
func requireInvariants(t *testing.T, store *MemoryStore) {
	t.Helper()
	store.mu.RLock()
	defer store.mu.RUnlock()
	for _, sl := range store.slots {
		require.NoError(t, sl.Validate())
	}
}

func newTestCoordinator(store SlotStore) *Coordinator {
	guard := NewConflictGuard(store, saoPaulo)
	return NewCoordinator(store, guard, saoPaulo, WithClock(fixedNow), WithLogger(zerolog.Nop()))
}
