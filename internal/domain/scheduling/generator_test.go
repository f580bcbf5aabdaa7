package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_HourlyHorizon(t *testing.T) {
	store := NewMemoryStore()
	practitioner := uuid.New()
	g := NewGenerator(store, saoPaulo, zerolog.Nop())
	g.now = fixedNow

	created, err := g.Generate(context.Background(), practitioner, NewDate(2024, time.April, 1), 3)
	require.NoError(t, err)
	assert.Equal(t, 3*18, created)

	day, err := store.Find(context.Background(), practitioner, DayRange(NewDate(2024, time.April, 2)))
	require.NoError(t, err)
	require.Len(t, day, 18)
	assert.Equal(t, "06:00", day[0].Time)
	assert.Equal(t, "23:00", day[17].Time)
	for _, sl := range day {
		assert.Equal(t, StatusBlocked, sl.Status)
		assert.Equal(t, time.Tuesday, sl.Weekday)
	}
	requireInvariants(t, store)
}

func TestGenerator_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	practitioner := uuid.New()
	existing := seedSlot(t, store, practitioner, NewDate(2024, time.April, 1), "10:00", StatusBlocked)
	g := NewGenerator(store, saoPaulo, zerolog.Nop())
	g.now = fixedNow

	created, err := g.Generate(context.Background(), practitioner, NewDate(2024, time.April, 1), 1)
	require.NoError(t, err)
	assert.Equal(t, 17, created)
	assert.Equal(t, StatusBlocked, mustGet(t, store, existing.ID).Status)

	created, err = g.Generate(context.Background(), practitioner, NewDate(2024, time.April, 1), 1)
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestGenerator_SkipsPastHours(t *testing.T) {
	store := NewMemoryStore()
	g := NewGenerator(store, saoPaulo, zerolog.Nop())
	// 12:30 in Sao Paulo
	g.now = func() time.Time { return time.Date(2024, time.April, 1, 15, 30, 0, 0, time.UTC) }

	created, err := g.Generate(context.Background(), uuid.New(), NewDate(2024, time.April, 1), 1)
	require.NoError(t, err)
	assert.Equal(t, 11, created) // 13:00 .. 23:00
}

func TestGenerator_DefaultsAndValidation(t *testing.T) {
	store := NewMemoryStore()
	g := NewGenerator(store, saoPaulo, zerolog.Nop())
	g.now = fixedNow

	created, err := g.Generate(context.Background(), uuid.New(), NewDate(2024, time.April, 1), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultHorizonDays*18, created)

	_, err = g.Generate(context.Background(), uuid.Nil, NewDate(2024, time.April, 1), 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGenerator_WeekendStaysClosedAfterOpeningWeekdays(t *testing.T) {
	store := NewMemoryStore()
	practitioner := uuid.New()
	g := NewGenerator(store, saoPaulo, zerolog.Nop())
	g.now = fixedNow
	ctx := context.Background()

	// 2024-04-01 is a Monday; seven days include one weekend.
	_, err := g.Generate(ctx, practitioner, NewDate(2024, time.April, 1), 7)
	require.NoError(t, err)

	p := NewPropagator(store, zerolog.Nop(), nil)
	_, err = p.Propagate(ctx, practitioner, "10:00", NewDate(2024, time.April, 1))
	require.NoError(t, err)

	week, err := store.Find(ctx, practitioner, DateRange{From: NewDate(2024, time.April, 1), To: NewDate(2024, time.April, 7)})
	require.NoError(t, err)
	for _, sl := range week {
		open := sl.Time == "10:00" && !isWeekend(sl.Weekday)
		if open {
			assert.Equal(t, StatusAvailable, sl.Status, sl.Date.Format(DateLayout))
		} else {
			assert.Equal(t, StatusBlocked, sl.Status, sl.Date.Format(DateLayout)+" "+sl.Time)
		}
	}
}
