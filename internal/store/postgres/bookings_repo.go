package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"clientdesk/backend/internal/domain"
	"clientdesk/backend/internal/store"
)

type BookingRepo struct {
	db *bun.DB
}

func NewBookingRepo(db *bun.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

// Reserve relies on the bookings_no_overlap exclusion constraint for the
// overlap check, so two concurrent reservations cannot both commit even
// across processes. The per-user advisory lock keeps the error paths
// deterministic under contention.
func (r *BookingRepo) Reserve(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	var out domain.Booking
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockUserDiary(ctx, tx, b.UserID); err != nil {
			return err
		}

		m := b
		m.Status = domain.BookingStatusPending
		_, err := tx.NewInsert().Model(&m).Exec(ctx)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				if pgErr.Code == "23P01" && pgErr.ConstraintName == "bookings_no_overlap" {
					return store.ErrConflict
				}
				if pgErr.Code == "23505" {
					var existing domain.Booking
					selectErr := tx.NewSelect().
						Model(&existing).
						Where("idempotency_key = ?", m.IdempotencyKey).
						Limit(1).
						Scan(ctx)
					if selectErr != nil {
						return err
					}

					if existing.UserID != b.UserID ||
						!existing.SlotStart.Equal(b.SlotStart) ||
						!existing.SlotEnd.Equal(b.SlotEnd) {
						return store.ErrIdempotencyConflict
					}

					out = existing
					return store.ErrIdempotentReplay
				}
			}
			return err
		}

		out = m
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrIdempotentReplay) {
			return out, err
		}
		return domain.Booking{}, err
	}
	return out, nil
}

func (r *BookingRepo) Confirm(ctx context.Context, bookingID uuid.UUID, externalEventID, joinLink string) (domain.Booking, error) {
	return r.transition(ctx, bookingID, domain.BookingStatusConfirmed, []domain.BookingStatus{domain.BookingStatusPending}, map[string]any{
		"external_event_id": externalEventID,
		"join_link":         joinLink,
	})
}

func (r *BookingRepo) Fail(ctx context.Context, bookingID uuid.UUID, reason string) (domain.Booking, error) {
	return r.transition(ctx, bookingID, domain.BookingStatusFailed, []domain.BookingStatus{domain.BookingStatusPending}, map[string]any{
		"failure_reason": reason,
	})
}

func (r *BookingRepo) Cancel(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	return r.transition(ctx, bookingID, domain.BookingStatusCancelled, []domain.BookingStatus{domain.BookingStatusConfirmed}, nil)
}

func (r *BookingRepo) transition(ctx context.Context, bookingID uuid.UUID, to domain.BookingStatus, from []domain.BookingStatus, extra map[string]any) (domain.Booking, error) {
	var out domain.Booking
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().
			Model((*domain.Booking)(nil)).
			Set("status = ?", to).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", bookingID).
			Where("status IN (?)", bun.In(from))
		for col, val := range extra {
			q = q.Set("? = ?", bun.Ident(col), val)
		}

		res, err := q.Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}

		selectErr := tx.NewSelect().Model(&out).Where("id = ?", bookingID).Limit(1).Scan(ctx)
		if affected == 0 {
			if errors.Is(selectErr, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			if selectErr != nil {
				return selectErr
			}
			return store.ErrInvalidTransition
		}
		return selectErr
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return out, nil
}

func (r *BookingRepo) Get(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	var b domain.Booking
	err := r.db.NewSelect().Model(&b).Where("id = ?", bookingID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Booking{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Booking{}, err
	}
	return b, nil
}

func (r *BookingRepo) FindByIdempotencyKey(ctx context.Context, key string) (domain.Booking, error) {
	var b domain.Booking
	err := r.db.NewSelect().Model(&b).Where("idempotency_key = ?", key).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Booking{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Booking{}, err
	}
	return b, nil
}

func (r *BookingRepo) ListActive(ctx context.Context, userID string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	var rows []domain.Booking
	err := r.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Where("status IN (?)", bun.In([]domain.BookingStatus{domain.BookingStatusPending, domain.BookingStatusConfirmed})).
		Where("slot_start < ?", windowEnd).
		Where("slot_end > ?", windowStart).
		OrderExpr("slot_start ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func lockUserDiary(ctx context.Context, tx bun.Tx, userID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", userID).Exec(ctx)
	return err
}
