package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tidyslot/tidyslot/libs/db"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/apperr"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/booking"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/model"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/outbox"
)

type BookingRepository struct {
	conn   db.Conn
	outbox *outbox.Repository
}

func NewBookingRepository(conn db.Conn, outboxRepo *outbox.Repository) *BookingRepository {
	return &BookingRepository{conn: conn, outbox: outboxRepo}
}

const bookingColumns = `
	id::text, owner_id::text, service_id::text, start_utc, end_utc, timezone, status,
	invitee_name, invitee_email, invitee_phone, cancelled_at, COALESCE(cancel_reason, ''), created_at, updated_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanBooking(row scanner) (model.Booking, error) {
	var (
		b           model.Booking
		status      string
		cancelledAt *time.Time
	)
	err := row.Scan(
		&b.ID,
		&b.OwnerID,
		&b.ServiceID,
		&b.Start,
		&b.End,
		&b.Timezone,
		&status,
		&b.Invitee.Name,
		&b.Invitee.Email,
		&b.Invitee.Phone,
		&cancelledAt,
		&b.CancelReason,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return model.Booking{}, err
	}
	b.Status = model.BookingStatus(status)
	b.Start, b.End = b.Start.UTC(), b.End.UTC()
	b.CancelledAt = cancelledAt
	return b, nil
}

func collect(rows pgx.Rows) ([]model.Booking, error) {
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ConfirmedOverlapping lists confirmed bookings of ownerID intersecting [start, end).
func (r *BookingRepository) ConfirmedOverlapping(ctx context.Context, ownerID string, start, end time.Time) ([]model.Booking, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+bookingColumns+`
		FROM bookings
		WHERE owner_id = $1
			AND status = 'confirmed'
			AND start_utc < $3
			AND end_utc > $2
		ORDER BY start_utc ASC
	`, ownerID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query confirmed bookings: %w", err)
	}
	return collect(rows)
}

func (r *BookingRepository) Get(ctx context.Context, bookingID string) (model.Booking, error) {
	b, err := scanBooking(r.conn.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID))
	if err != nil {
		if db.IsNoRows(err) {
			return model.Booking{}, apperr.NotFound("booking", bookingID)
		}
		return model.Booking{}, fmt.Errorf("load booking: %w", err)
	}
	return b, nil
}

func (r *BookingRepository) ListForOwner(ctx context.Context, ownerID string, from, to time.Time, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn.Query(ctx, `SELECT `+bookingColumns+`
		FROM bookings
		WHERE owner_id = $1
			AND start_utc >= $2
			AND start_utc < $3
		ORDER BY start_utc ASC
		LIMIT $4
	`, ownerID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return collect(rows)
}

// InTx runs fn in a transaction and commits when it returns nil.
func (r *BookingRepository) InTx(ctx context.Context, fn func(booking.Tx) error) error {
	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&bookingTx{tx: tx, outbox: r.outbox}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if db.HasCode(err, db.CodeExclusionViolation) {
			return apperr.Conflict(apperr.ErrSlotUnavailable)
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type bookingTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

// LockOwner serializes writers for one owner until the transaction ends.
func (t *bookingTx) LockOwner(ctx context.Context, ownerID string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, ownerID)
	return err
}

func (t *bookingTx) HasConfirmedOverlap(ctx context.Context, ownerID string, start, end time.Time) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE owner_id = $1
				AND status = 'confirmed'
				AND start_utc < $3
				AND end_utc > $2
		)
	`, ownerID, start, end).Scan(&exists)
	return exists, err
}

func (t *bookingTx) Insert(ctx context.Context, b model.Booking) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bookings
			(id, owner_id, service_id, start_utc, end_utc, timezone, status, invitee_name, invitee_email, invitee_phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, b.ID, b.OwnerID, b.ServiceID, b.Start, b.End, b.Timezone, string(b.Status),
		b.Invitee.Name, b.Invitee.Email, b.Invitee.Phone, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		if db.HasCode(err, db.CodeExclusionViolation) {
			return apperr.Conflict(apperr.ErrSlotUnavailable)
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (t *bookingTx) GetForUpdate(ctx context.Context, bookingID string) (model.Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, bookingID))
	if err != nil {
		if db.IsNoRows(err) {
			return model.Booking{}, apperr.NotFound("booking", bookingID)
		}
		return model.Booking{}, fmt.Errorf("lock booking: %w", err)
	}
	return b, nil
}

func (t *bookingTx) SetStatus(ctx context.Context, bookingID string, status model.BookingStatus, reason string, at time.Time) (model.Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
			cancelled_at = CASE WHEN $2 = 'cancelled' THEN $4 ELSE cancelled_at END,
			cancel_reason = CASE WHEN $2 = 'cancelled' THEN NULLIF($3, '') ELSE cancel_reason END,
			updated_at = $4
		WHERE id = $1
		RETURNING `+bookingColumns, bookingID, string(status), reason, at))
	if err != nil {
		return model.Booking{}, fmt.Errorf("update booking status: %w", err)
	}
	return b, nil
}

func (t *bookingTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	if err := t.outbox.Insert(ctx, t.tx, evt); err != nil {
		return fmt.Errorf("write outbox event: %w", err)
	}
	return nil
}

var _ booking.Store = (*BookingRepository)(nil)
