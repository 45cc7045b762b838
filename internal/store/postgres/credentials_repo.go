package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"clientdesk/backend/internal/domain"
	"clientdesk/backend/internal/store"
)

type CredentialRepo struct {
	db *bun.DB
}

func NewCredentialRepo(db *bun.DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

func (r *CredentialRepo) Get(ctx context.Context, userID string, provider domain.Provider) (domain.Credential, error) {
	var c domain.Credential
	err := r.db.NewSelect().
		Model(&c).
		Where("user_id = ?", userID).
		Where("provider = ?", provider).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Credential{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Credential{}, err
	}
	return c, nil
}

func (r *CredentialRepo) ListForUser(ctx context.Context, userID string) ([]domain.Credential, error) {
	var rows []domain.Credential
	err := r.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		OrderExpr("provider ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *CredentialRepo) Upsert(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
	m := cred
	_, err := r.db.NewInsert().
		Model(&m).
		On("CONFLICT (user_id, provider) DO UPDATE").
		Set("access_token = EXCLUDED.access_token").
		Set("refresh_token = EXCLUDED.refresh_token").
		Set("expires_at = EXCLUDED.expires_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return domain.Credential{}, err
	}
	return m, nil
}

func (r *CredentialRepo) Delete(ctx context.Context, userID string, provider domain.Provider) error {
	res, err := r.db.NewDelete().
		Model((*domain.Credential)(nil)).
		Where("user_id = ?", userID).
		Where("provider = ?", provider).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type AuthStateRepo struct {
	db *bun.DB
}

func NewAuthStateRepo(db *bun.DB) *AuthStateRepo {
	return &AuthStateRepo{db: db}
}

func (r *AuthStateRepo) Create(ctx context.Context, state domain.AuthState) (domain.AuthState, error) {
	m := state
	if _, err := r.db.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.AuthState{}, err
	}
	return m, nil
}

// Consume is a conditional update, so a state token races to exactly one
// winner even when the OAuth callback is delivered twice.
func (r *AuthStateRepo) Consume(ctx context.Context, token string, now time.Time) (domain.AuthState, error) {
	now = now.UTC()
	res, err := r.db.NewUpdate().
		Model((*domain.AuthState)(nil)).
		Set("consumed_at = ?", now).
		Where("token = ?", token).
		Where("consumed_at IS NULL").
		Where("expires_at > ?", now).
		Exec(ctx)
	if err != nil {
		return domain.AuthState{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.AuthState{}, err
	}
	if affected == 0 {
		return domain.AuthState{}, store.ErrNotFound
	}

	var st domain.AuthState
	err = r.db.NewSelect().Model(&st).Where("token = ?", token).Limit(1).Scan(ctx)
	if err != nil {
		return domain.AuthState{}, err
	}
	return st, nil
}

type UnavailabilityRuleRepo struct {
	db *bun.DB
}

func NewUnavailabilityRuleRepo(db *bun.DB) *UnavailabilityRuleRepo {
	return &UnavailabilityRuleRepo{db: db}
}

func (r *UnavailabilityRuleRepo) ListForUser(ctx context.Context, userID string) ([]domain.UnavailabilityRule, error) {
	var rows []domain.UnavailabilityRule
	err := r.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
