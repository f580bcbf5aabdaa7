package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/estacao/agenda/internal/platform/metrics"
)

var bookingTracer = otel.Tracer("agenda.internal.scheduling.booking")

// DefaultStoreTimeout bounds every booking when the caller sets no earlier
// deadline.
const DefaultStoreTimeout = 5 * time.Second

// Coordinator reserves and releases single slots.
type Coordinator struct {
	store        SlotStore
	guard        *ConflictGuard
	zones        ZoneResolver
	storeTimeout time.Duration
	now          func() time.Time
	logger       zerolog.Logger
	metrics      *metrics.SchedulingMetrics
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

func WithStoreTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.storeTimeout = d
		}
	}
}

// WithClock replaces time.Now, used to decide whether a slot is in the past.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

func WithLogger(l zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

func WithMetrics(m *metrics.SchedulingMetrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

func NewCoordinator(store SlotStore, guard *ConflictGuard, zones ZoneResolver, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:        store,
		guard:        guard,
		zones:        zones,
		storeTimeout: DefaultStoreTimeout,
		now:          time.Now,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Book reserves slotID for patientID. At most one concurrent Book of the
// same slot succeeds; the others get ErrConflict.
func (c *Coordinator) Book(ctx context.Context, patientID, slotID uuid.UUID) (booking *Booking, err error) {
	started := c.now()
	ctx, span := bookingTracer.Start(ctx, "scheduling.book")
	defer func() {
		c.finish(span, "book", started, err)
	}()
	span.SetAttributes(
		attribute.String("agenda.slot_id", slotID.String()),
		attribute.String("agenda.patient_id", patientID.String()),
	)

	if patientID == uuid.Nil || slotID == uuid.Nil {
		return nil, invalidArgument("patient_id and slot_id are required")
	}
	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	sl, err := c.store.Get(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if sl.Status != StatusAvailable {
		return nil, invalidState("slot %s is %s", slotID, sl.Status)
	}
	loc, err := c.zones.Location(ctx, sl.PractitionerID)
	if err != nil {
		return nil, storageError("resolve timezone", err)
	}
	start, end, err := sl.Window(loc)
	if err != nil {
		return nil, err
	}
	if start.Before(c.now()) {
		return nil, invalidState("slot %s starts in the past", slotID)
	}

	req := BookingRequest{PractitionerID: sl.PractitionerID, PatientID: patientID, Date: sl.Date, Time: sl.Time}
	var reserved *Slot
	err = c.store.WithPatientLock(ctx, patientID, func(ctx context.Context) error {
		decision, err := c.guard.check(ctx, req, slotID)
		if err != nil {
			return err
		}
		if decision.Conflict {
			return &SchedulingConflictError{Appointment: *decision.Appointment}
		}
		pid := patientID
		reserved, err = c.store.SetStatus(ctx, StatusChange{
			SlotID: slotID, From: StatusAvailable, To: StatusReserved, PatientID: &pid,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return &Booking{
		SlotID:         reserved.ID,
		PatientID:      patientID,
		PractitionerID: reserved.PractitionerID,
		Date:           reserved.Date.Format(DateLayout),
		Time:           reserved.Time,
		Start:          start,
		End:            end,
		CreatedAt:      reserved.UpdatedAt,
	}, nil
}

// Release returns a slot reserved by patientID to Available.
func (c *Coordinator) Release(ctx context.Context, patientID, slotID uuid.UUID) (sl *Slot, err error) {
	started := c.now()
	ctx, span := bookingTracer.Start(ctx, "scheduling.release")
	defer func() {
		c.finish(span, "release", started, err)
	}()
	span.SetAttributes(attribute.String("agenda.slot_id", slotID.String()))

	if patientID == uuid.Nil || slotID == uuid.Nil {
		return nil, invalidArgument("patient_id and slot_id are required")
	}
	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	cur, err := c.store.Get(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusReserved {
		return nil, invalidState("slot %s is %s", slotID, cur.Status)
	}
	if cur.PatientID == nil || *cur.PatientID != patientID {
		return nil, ErrConflict
	}
	pid := patientID
	return c.store.SetStatus(ctx, StatusChange{
		SlotID: slotID, From: StatusReserved, To: StatusAvailable, Holder: &pid,
	})
}

func (c *Coordinator) finish(span trace.Span, op string, started time.Time, err error) {
	kind := ErrorKind(err)
	c.metrics.ObserveBooking(op, kind, c.now().Sub(started))
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrStorageUnavailable) {
			span.SetStatus(codes.Error, kind)
			c.logger.Error().Err(err).Str("operation", op).Msg("booking store failure")
		}
	}
	span.End()
}
