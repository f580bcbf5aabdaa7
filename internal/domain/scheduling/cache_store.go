package scheduling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/estacao/agenda/internal/platform/metrics"
)

// RangeCache stores opaque listings grouped by scope. Invalidate drops every
// entry of a scope at once by moving it to a new generation. Get reports the
// generation it looked at; Set must be given that generation so a fill that
// raced an invalidation is never visible.
type RangeCache interface {
	Get(ctx context.Context, scope, key string) (value []byte, gen int64, ok bool, err error)
	Set(ctx context.Context, scope string, gen int64, key string, value []byte) error
	Invalidate(ctx context.Context, scope string) error
}

// CachedStore serves Find from a RangeCache and invalidates a practitioner's
// listings on every successful write. All other calls go straight to the
// wrapped store.
type CachedStore struct {
	SlotStore
	cache   RangeCache
	logger  zerolog.Logger
	metrics *metrics.SchedulingMetrics
}

func NewCachedStore(store SlotStore, cache RangeCache, logger zerolog.Logger, m *metrics.SchedulingMetrics) *CachedStore {
	return &CachedStore{SlotStore: store, cache: cache, logger: logger, metrics: m}
}

func (c *CachedStore) Find(ctx context.Context, practitionerID uuid.UUID, r DateRange) ([]*Slot, error) {
	scope, key := practitionerID.String(), r.String()
	raw, gen, ok, err := c.cache.Get(ctx, scope, key)
	cacheable := err == nil
	switch {
	case err != nil:
		c.metrics.ObserveCache("error")
		c.logger.Warn().Err(err).Str("practitioner_id", scope).Msg("slot cache read failed")
	case ok:
		var slots []*Slot
		if err := json.Unmarshal(raw, &slots); err == nil {
			c.metrics.ObserveCache("hit")
			return nonNil(slots), nil
		}
		c.metrics.ObserveCache("error")
	default:
		c.metrics.ObserveCache("miss")
	}

	slots, err := c.SlotStore.Find(ctx, practitionerID, r)
	if err != nil {
		return nil, err
	}
	if !cacheable {
		return slots, nil
	}
	if raw, err := json.Marshal(slots); err == nil {
		if err := c.cache.Set(ctx, scope, gen, key, raw); err != nil {
			c.logger.Warn().Err(err).Str("practitioner_id", scope).Msg("slot cache write failed")
		}
	}
	return slots, nil
}

func (c *CachedStore) SetStatus(ctx context.Context, change StatusChange) (*Slot, error) {
	sl, err := c.SlotStore.SetStatus(ctx, change)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, sl.PractitionerID)
	if p := pendingFrom(ctx); p != nil {
		p.add(sl.PractitionerID)
	}
	return sl, nil
}

func (c *CachedStore) CreateMany(ctx context.Context, slots []*Slot) (int, error) {
	n, err := c.SlotStore.CreateMany(ctx, slots)
	if err != nil {
		return n, err
	}
	seen := make(map[uuid.UUID]bool)
	for _, sl := range slots {
		if !seen[sl.PractitionerID] {
			seen[sl.PractitionerID] = true
			c.invalidate(ctx, sl.PractitionerID)
		}
	}
	return n, nil
}

// WithPatientLock invalidates again once the boundary has committed, so a
// listing read between the write and the commit does not outlive it.
func (c *CachedStore) WithPatientLock(ctx context.Context, patientID uuid.UUID, fn func(ctx context.Context) error) error {
	p := &pendingInvalidations{}
	err := c.SlotStore.WithPatientLock(context.WithValue(ctx, pendingKey{}, p), patientID, fn)
	for _, id := range p.drain() {
		c.invalidate(context.WithoutCancel(ctx), id)
	}
	return err
}

func (c *CachedStore) invalidate(ctx context.Context, practitionerID uuid.UUID) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := c.cache.Invalidate(ctx, practitionerID.String()); err != nil {
		c.logger.Warn().Err(err).Str("practitioner_id", practitionerID.String()).Msg("slot cache invalidation failed")
	}
}

type pendingKey struct{}

type pendingInvalidations struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func pendingFrom(ctx context.Context) *pendingInvalidations {
	p, _ := ctx.Value(pendingKey{}).(*pendingInvalidations)
	return p
}

func (p *pendingInvalidations) add(id uuid.UUID) {
	p.mu.Lock()
	p.ids = append(p.ids, id)
	p.mu.Unlock()
}

func (p *pendingInvalidations) drain() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := p.ids
	p.ids = nil
	return ids
}
