package store

import (
	"context"
	"time"

	"clientdesk/backend/internal/domain"
)

type CredentialRepository interface {
	Get(ctx context.Context, userID string, provider domain.Provider) (domain.Credential, error)
	ListForUser(ctx context.Context, userID string) ([]domain.Credential, error)
	// Upsert is last-writer-wins keyed by (user_id, provider). Callers
	// refreshing a token must hold the per-(user, provider) refresh lock.
	Upsert(ctx context.Context, cred domain.Credential) (domain.Credential, error)
	Delete(ctx context.Context, userID string, provider domain.Provider) error
}

type AuthStateRepository interface {
	Create(ctx context.Context, state domain.AuthState) (domain.AuthState, error)
	// Consume marks the state consumed and returns it. A token that is
	// unknown, expired at now, or already consumed returns ErrNotFound.
	Consume(ctx context.Context, token string, now time.Time) (domain.AuthState, error)
}

// UnavailabilityRuleRepository is read-only: rules are managed by the user
// settings surface, the booking core only expands them.
type UnavailabilityRuleRepository interface {
	ListForUser(ctx context.Context, userID string) ([]domain.UnavailabilityRule, error)
}
