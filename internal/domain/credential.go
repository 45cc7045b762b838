package domain

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderCalendly Provider = "calendly"
	ProviderCalDAV   Provider = "caldav"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderGoogle, ProviderCalendly, ProviderCalDAV:
		return true
	}
	return false
}

// Credential is the OAuth grant for one (user, provider) pair. Token content
// is opaque to everything except the provider adapter that issued it.
type Credential struct {
	bun.BaseModel `bun:"table:credentials"`

	UserID       string    `bun:"user_id,pk"`
	Provider     Provider  `bun:"provider,pk"`
	AccessToken  string    `bun:"access_token,notnull"`
	RefreshToken string    `bun:"refresh_token,notnull"`
	ExpiresAt    time.Time `bun:"expires_at,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
	UpdatedAt    time.Time `bun:"updated_at,notnull"`
}

func (c *Credential) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		c.UpdatedAt = now
	}
	return nil
}

// ExpiresWithin reports whether the access token expires within margin of now.
func (c Credential) ExpiresWithin(margin time.Duration, now time.Time) bool {
	return !c.ExpiresAt.After(now.Add(margin))
}

// AuthState is a server-held record of an in-flight OAuth authorization,
// keyed by a random state token handed to the browser. It is consumed exactly
// once on callback and expires after a short TTL.
type AuthState struct {
	bun.BaseModel `bun:"table:auth_states"`

	Token      string     `bun:"token,pk"`
	UserID     string     `bun:"user_id,notnull"`
	Provider   Provider   `bun:"provider,notnull"`
	ExpiresAt  time.Time  `bun:"expires_at,notnull"`
	ConsumedAt *time.Time `bun:"consumed_at"`
	CreatedAt  time.Time  `bun:"created_at,notnull"`
}

func (s *AuthState) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok {
		if s.CreatedAt.IsZero() {
			s.CreatedAt = time.Now().UTC()
		}
	}
	return nil
}
