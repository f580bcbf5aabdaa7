package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultHorizonDays is how far ahead a calendar is generated.
	DefaultHorizonDays = 60
	firstHour          = 6
	lastHour           = 23
)

// Generator lays out a practitioner's hourly slots over a rolling horizon.
type Generator struct {
	store  SlotStore
	zones  ZoneResolver
	now    func() time.Time
	logger zerolog.Logger
}

func NewGenerator(store SlotStore, zones ZoneResolver, logger zerolog.Logger) *Generator {
	return &Generator{store: store, zones: zones, now: time.Now, logger: logger}
}

// Generate creates blocked slots from 06:00 to 23:00 on each of `days`
// days starting at from. Slots that already exist or that start before now
// are skipped. It returns how many slots were created.
func (g *Generator) Generate(ctx context.Context, practitionerID uuid.UUID, from time.Time, days int) (int, error) {
	if practitionerID == uuid.Nil {
		return 0, invalidArgument("practitioner_id is required")
	}
	if days <= 0 {
		days = DefaultHorizonDays
	}
	loc, err := g.zones.Location(ctx, practitionerID)
	if err != nil {
		return 0, storageError("resolve timezone", err)
	}
	first := DateOf(from)
	horizon := DateRange{From: first, To: first.AddDate(0, 0, days-1)}

	existing, err := g.store.Find(ctx, practitionerID, horizon)
	if err != nil {
		return 0, err
	}
	taken := make(map[string]bool, len(existing))
	for _, sl := range existing {
		taken[slotKey(practitionerID, sl.Date, sl.Time)] = true
	}

	now := g.now()
	var fresh []*Slot
	for d := first; !d.After(horizon.To); d = d.AddDate(0, 0, 1) {
		for h := firstHour; h <= lastHour; h++ {
			clock := fmt.Sprintf("%02d:00", h)
			if taken[slotKey(practitionerID, d, clock)] {
				continue
			}
			start, err := Resolve(d, clock, loc)
			if err != nil {
				return 0, err
			}
			if start.Before(now) {
				continue
			}
			sl, err := NewSlot(practitionerID, d, clock)
			if err != nil {
				return 0, err
			}
			// Practitioners open their hours by toggling.
			sl.Status = StatusBlocked
			fresh = append(fresh, sl)
		}
	}

	created, err := g.store.CreateMany(ctx, fresh)
	if err != nil {
		return created, err
	}
	g.logger.Info().
		Str("practitioner_id", practitionerID.String()).
		Str("range", horizon.String()).
		Int("created", created).
		Msg("calendar generated")
	return created, nil
}
