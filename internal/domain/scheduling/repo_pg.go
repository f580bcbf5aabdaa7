package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/estacao/agenda/internal/platform/db"
)

type slotRepoPG struct{ pool db.Pool }

// NewSlotRepoPG returns a SlotStore backed by the slot table.
func NewSlotRepoPG(pool db.Pool) SlotStore { return &slotRepoPG{pool: pool} }

func (r *slotRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const slotCols = `id, practitioner_id, slot_date, slot_time, weekday, status, patient_id, created_at, updated_at`

func (r *slotRepoPG) scanSlot(row pgx.Row) (*Slot, error) {
	var (
		sl      Slot
		weekday int16
		status  string
	)
	err := row.Scan(&sl.ID, &sl.PractitionerID, &sl.Date, &sl.Time, &weekday, &status,
		&sl.PatientID, &sl.CreatedAt, &sl.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sl.Date = DateOf(sl.Date)
	sl.Weekday = time.Weekday(weekday)
	sl.Status = Status(status)
	return &sl, nil
}

func (r *slotRepoPG) scanSlots(rows pgx.Rows) ([]*Slot, error) {
	defer rows.Close()
	var items []*Slot
	for rows.Next() {
		sl, err := r.scanSlot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, sl)
	}
	return items, rows.Err()
}

func (r *slotRepoPG) Find(ctx context.Context, practitionerID uuid.UUID, dr DateRange) ([]*Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+slotCols+` FROM slot
		WHERE practitioner_id = $1 AND slot_date BETWEEN $2 AND $3
		ORDER BY slot_date, slot_time`, practitionerID, dr.From, dr.To)
	if err != nil {
		return nil, storageError("find slots", err)
	}
	items, err := r.scanSlots(rows)
	return items, storageError("scan slots", err)
}

func (r *slotRepoPG) FindByPractitionerTimeAndDate(ctx context.Context, practitionerID uuid.UUID, clock string, date time.Time) ([]*Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+slotCols+` FROM slot
		WHERE practitioner_id = $1 AND slot_time = $2 AND slot_date = $3`,
		practitionerID, clock, DateOf(date))
	if err != nil {
		return nil, storageError("find slot by time", err)
	}
	items, err := r.scanSlots(rows)
	return items, storageError("scan slots", err)
}

func (r *slotRepoPG) Get(ctx context.Context, id uuid.UUID) (*Slot, error) {
	sl, err := r.scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM slot WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sl, storageError("get slot", err)
}

func (r *slotRepoPG) SetStatus(ctx context.Context, change StatusChange) (*Slot, error) {
	if err := change.validate(); err != nil {
		return nil, err
	}
	q := r.conn(ctx)
	sl, err := r.scanSlot(q.QueryRow(ctx, `UPDATE slot SET status = $3, patient_id = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2 AND ($5::uuid IS NULL OR patient_id = $5)
		RETURNING `+slotCols,
		change.SlotID, string(change.From), string(change.To), change.PatientID, change.Holder))
	if err == nil {
		return sl, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, storageError("set slot status", err)
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM slot WHERE id = $1)`, change.SlotID).Scan(&exists); err != nil {
		return nil, storageError("check slot", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrConflict
}

func (r *slotRepoPG) CreateMany(ctx context.Context, slots []*Slot) (int, error) {
	if len(slots) == 0 {
		return 0, nil
	}
	ids := make([]uuid.UUID, len(slots))
	practitioners := make([]uuid.UUID, len(slots))
	dates := make([]time.Time, len(slots))
	clocks := make([]string, len(slots))
	statuses := make([]string, len(slots))
	for i, sl := range slots {
		if sl.Status == StatusReserved {
			return 0, invalidArgument("slot %s: cannot create a reserved slot", sl.ID)
		}
		if err := sl.Validate(); err != nil {
			return 0, invalidArgument("%v", err)
		}
		ids[i], practitioners[i], dates[i] = sl.ID, sl.PractitionerID, sl.Date
		clocks[i], statuses[i] = sl.Time, string(sl.Status)
	}

	tag, err := r.conn(ctx).Exec(ctx, `INSERT INTO slot (id, practitioner_id, slot_date, slot_time, weekday, status)
		SELECT id, practitioner_id, slot_date, slot_time, EXTRACT(DOW FROM slot_date)::smallint, status
		FROM unnest($1::uuid[], $2::uuid[], $3::date[], $4::text[], $5::text[])
			AS s(id, practitioner_id, slot_date, slot_time, status)
		ON CONFLICT (practitioner_id, slot_date, slot_time) DO NOTHING`,
		ids, practitioners, dates, clocks, statuses)
	if err != nil {
		return 0, storageError("create slots", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *slotRepoPG) AppointmentsBetween(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, practitioner_id, slot_date, slot_time FROM slot
		WHERE patient_id = $1 AND status = 'reserved' AND slot_date BETWEEN $2 AND $3
		ORDER BY slot_date, slot_time`, patientID, DateOf(from), DateOf(to))
	if err != nil {
		return nil, storageError("list appointments", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.SlotID, &a.PractitionerID, &a.Date, &a.Time); err != nil {
			return nil, storageError("scan appointment", err)
		}
		a.Date = DateOf(a.Date)
		out = append(out, a)
	}
	return out, storageError("iterate appointments", rows.Err())
}

const patientLockSQL = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

// WithPatientLock takes a transaction-scoped advisory lock keyed by the
// patient id. When ctx already carries a transaction the lock joins it.
func (r *slotRepoPG) WithPatientLock(ctx context.Context, patientID uuid.UUID, fn func(ctx context.Context) error) error {
	if tx := db.TxFromContext(ctx); tx != nil {
		if _, err := tx.Exec(ctx, patientLockSQL, patientID.String()); err != nil {
			return storageError("lock patient", err)
		}
		return fn(ctx)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storageError("begin", err)
	}
	if _, err := tx.Exec(ctx, patientLockSQL, patientID.String()); err != nil {
		_ = tx.Rollback(ctx)
		return storageError("lock patient", err)
	}
	if err := fn(db.WithTx(ctx, tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return storageError("commit", tx.Commit(ctx))
}
