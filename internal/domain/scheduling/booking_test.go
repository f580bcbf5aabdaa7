package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estacao/agenda/internal/platform/metrics"
)

func TestBook_Success(t *testing.T) {
	store := NewMemoryStore()
	practitioner, patient := uuid.New(), uuid.New()
	sl := seedSlot(t, store, practitioner, NewDate(2024, time.March, 11), "10:00", StatusAvailable)
	c := NewCoordinator(store, NewConflictGuard(store, saoPaulo), saoPaulo,
		WithClock(fixedNow), WithMetrics(metrics.NewSchedulingMetrics(prometheus.NewRegistry())))

	b, err := c.Book(context.Background(), patient, sl.ID)
	require.NoError(t, err)
	assert.Equal(t, sl.ID, b.SlotID)
	assert.Equal(t, patient, b.PatientID)
	assert.Equal(t, practitioner, b.PractitionerID)
	assert.Equal(t, "2024-03-11", b.Date)
	assert.Equal(t, "10:00", b.Time)
	assert.Equal(t, "2024-03-11T13:00:00Z", b.Start.UTC().Format(time.RFC3339))
	assert.Equal(t, SessionDuration, b.End.Sub(b.Start))

	got := mustGet(t, store, sl.ID)
	assert.Equal(t, StatusReserved, got.Status)
	require.NotNil(t, got.PatientID)
	assert.Equal(t, patient, *got.PatientID)
	requireInvariants(t, store)
}

func TestBook_BlockedSlotNeverMutated(t *testing.T) {
	store := NewMemoryStore()
	sl := seedSlot(t, store, uuid.New(), NewDate(2024, time.March, 11), "10:00", StatusBlocked)
	before := mustGet(t, store, sl.ID)
	c := newTestCoordinator(store)

	for i := 0; i < 3; i++ {
		_, err := c.Book(context.Background(), uuid.New(), sl.ID)
		assert.ErrorIs(t, err, ErrInvalidState)
	}
	after := mustGet(t, store, sl.ID)
	assert.Equal(t, before, after)
	requireInvariants(t, store)
}

func TestBook_Rejections(t *testing.T) {
	store := NewMemoryStore()
	practitioner := uuid.New()
	reserved := seedSlot(t, store, practitioner, NewDate(2024, time.March, 11), "08:00", StatusReserved)
	past := seedSlot(t, store, practitioner, NewDate(2023, time.December, 29), "10:00", StatusAvailable)
	c := newTestCoordinator(store)
	ctx := context.Background()

	_, err := c.Book(ctx, uuid.New(), reserved.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = c.Book(ctx, uuid.New(), past.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StatusAvailable, mustGet(t, store, past.ID).Status)

	_, err = c.Book(ctx, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Book(ctx, uuid.Nil, past.ID)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBook_SchedulingConflict(t *testing.T) {
	store := NewMemoryStore()
	practitioner, patient := uuid.New(), uuid.New()
	day := NewDate(2024, time.March, 11)
	nine := seedSlot(t, store, practitioner, day, "09:00", StatusAvailable)
	ten := seedSlot(t, store, uuid.New(), day, "10:00", StatusAvailable)
	c := newTestCoordinator(store)
	ctx := context.Background()

	_, err := c.Book(ctx, patient, nine.ID)
	require.NoError(t, err)

	_, err = c.Book(ctx, patient, ten.ID)
	require.ErrorIs(t, err, ErrSchedulingConflict)
	var conflict *SchedulingConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, nine.ID, conflict.Appointment.SlotID)
	assert.Equal(t, "09:00", conflict.Appointment.Time)
	assert.Equal(t, "2024-03-11", conflict.Appointment.Date.Format(DateLayout))
	assert.Equal(t, StatusAvailable, mustGet(t, store, ten.ID).Status)

	// someone else may still take it
	_, err = c.Book(ctx, uuid.New(), ten.ID)
	assert.NoError(t, err)
	requireInvariants(t, store)
}

// barrierStore holds every Get until `parties` callers have arrived, so the
// callers race on the write rather than on the read.
type barrierStore struct {
	SlotStore
	wg sync.WaitGroup
}

func newBarrierStore(inner SlotStore, parties int) *barrierStore {
	b := &barrierStore{SlotStore: inner}
	b.wg.Add(parties)
	return b
}

func (b *barrierStore) Get(ctx context.Context, id uuid.UUID) (*Slot, error) {
	sl, err := b.SlotStore.Get(ctx, id)
	b.wg.Done()
	b.wg.Wait()
	return sl, err
}

func TestBook_ConcurrentSameSlotAtMostOnce(t *testing.T) {
	for run := 0; run < 20; run++ {
		mem := NewMemoryStore()
		sl := seedSlot(t, mem, uuid.New(), NewDate(2024, time.March, 11), "10:00", StatusAvailable)
		store := newBarrierStore(mem, 2)
		c := newTestCoordinator(store)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		bookings := make([]*Booking, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				bookings[i], errs[i] = c.Book(context.Background(), uuid.New(), sl.ID)
			}(i)
		}
		wg.Wait()

		won, lost := 0, 0
		for i := range errs {
			switch {
			case errs[i] == nil && bookings[i] != nil:
				won++
			case errors.Is(errs[i], ErrConflict):
				lost++
			default:
				t.Fatalf("run %d: unexpected error %v", run, errs[i])
			}
		}
		assert.Equal(t, 1, won, "run %d", run)
		assert.Equal(t, 1, lost, "run %d", run)
		requireInvariants(t, mem)
	}
}

func TestBook_ConcurrentSamePatientConflictingSlots(t *testing.T) {
	for run := 0; run < 20; run++ {
		mem := NewMemoryStore()
		day := NewDate(2024, time.March, 11)
		a := seedSlot(t, mem, uuid.New(), day, "10:00", StatusAvailable)
		b := seedSlot(t, mem, uuid.New(), day, "10:30", StatusAvailable)
		store := newBarrierStore(mem, 2)
		c := newTestCoordinator(store)
		patient := uuid.New()

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, id := range []uuid.UUID{a.ID, b.ID} {
			wg.Add(1)
			go func(i int, id uuid.UUID) {
				defer wg.Done()
				_, errs[i] = c.Book(context.Background(), patient, id)
			}(i, id)
		}
		wg.Wait()

		ok, conflicts := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrSchedulingConflict):
				conflicts++
			default:
				t.Fatalf("run %d: unexpected error %v", run, err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, conflicts)
		requireInvariants(t, mem)
	}
}

func TestRelease(t *testing.T) {
	store := NewMemoryStore()
	patient := uuid.New()
	sl := seedSlot(t, store, uuid.New(), NewDate(2024, time.March, 11), "10:00", StatusAvailable)
	blocked := seedSlot(t, store, uuid.New(), NewDate(2024, time.March, 11), "11:00", StatusBlocked)
	c := newTestCoordinator(store)
	ctx := context.Background()

	_, err := c.Book(ctx, patient, sl.ID)
	require.NoError(t, err)

	_, err = c.Release(ctx, uuid.New(), sl.ID)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = c.Release(ctx, patient, blocked.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = c.Release(ctx, patient, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	released, err := c.Release(ctx, patient, sl.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, released.Status)
	assert.Nil(t, released.PatientID)

	_, err = c.Release(ctx, patient, sl.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	requireInvariants(t, store)
}

// stallingStore never answers before the context gives up.
type stallingStore struct{ SlotStore }

func (s stallingStore) Get(ctx context.Context, _ uuid.UUID) (*Slot, error) {
	<-ctx.Done()
	return nil, storageError("get slot", ctx.Err())
}

func TestBook_StoreTimeout(t *testing.T) {
	c := NewCoordinator(stallingStore{NewMemoryStore()}, NewConflictGuard(NewMemoryStore(), saoPaulo), saoPaulo,
		WithStoreTimeout(20*time.Millisecond), WithClock(fixedNow), WithLogger(zerolog.Nop()))

	_, err := c.Book(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "storage_unavailable", ErrorKind(err))
}
