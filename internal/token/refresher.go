// Package token keeps provider access tokens valid. Every provider call in
// the booking core goes through EnsureValid first.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clientdesk/backend/internal/domain"
	"clientdesk/backend/internal/provider"
	"clientdesk/backend/internal/store"
)

// ErrStaleRefresh reports a refresh response whose expiry did not advance
// past the stored one. The stored credential is left untouched.
var ErrStaleRefresh = errors.New("refresh did not extend credential expiry")

const (
	defaultMargin         = 5 * time.Minute
	defaultRetryBase      = 500 * time.Millisecond
	defaultRetryAttempt   = 3
	defaultRequestTimeout = 10 * time.Second
)

type Options struct {
	// Margin is how close to expiry a token may get before it is refreshed.
	Margin        time.Duration
	RetryAttempts int
	RetryBase     time.Duration
	// RequestTimeout bounds each call to the token endpoint. The refresh
	// holds the per-(user, provider) lock, so a hung endpoint must not
	// stall every caller for that credential.
	RequestTimeout time.Duration
	Logger         *slog.Logger
	// Now is overridable for tests.
	Now func() time.Time
}

type Refresher struct {
	creds    store.CredentialRepository
	adapters *provider.Registry
	margin   time.Duration
	attempts int
	base     time.Duration
	timeout  time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRefresher(creds store.CredentialRepository, adapters *provider.Registry, opts Options) *Refresher {
	margin := opts.Margin
	if margin <= 0 {
		margin = defaultMargin
	}
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempt
	}
	base := opts.RetryBase
	if base <= 0 {
		base = defaultRetryBase
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Refresher{
		creds:    creds,
		adapters: adapters,
		margin:   margin,
		attempts: attempts,
		base:     base,
		timeout:  timeout,
		log:      log.With(slog.String("component", "token.refresher")),
		now:      now,
		locks:    map[string]*sync.Mutex{},
	}
}

// EnsureValid returns a credential whose access token is good for at least
// the configured margin, refreshing and persisting it when it is not. The
// refresh-and-persist sequence is single-flight per (user, provider): many
// providers revoke the old refresh token when issuing a new one, so two
// concurrent refreshes would strand the credential. Latecomers block on the
// lock and pick up the already-refreshed row.
func (r *Refresher) EnsureValid(ctx context.Context, userID string, p domain.Provider) (domain.Credential, error) {
	cred, err := r.creds.Get(ctx, userID, p)
	if err != nil {
		return domain.Credential{}, err
	}
	if !cred.ExpiresWithin(r.margin, r.now()) {
		return cred, nil
	}

	lock := r.lockFor(userID, p)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a concurrent caller may have refreshed while
	// we waited.
	cred, err = r.creds.Get(ctx, userID, p)
	if err != nil {
		return domain.Credential{}, err
	}
	if !cred.ExpiresWithin(r.margin, r.now()) {
		return cred, nil
	}

	adapter, err := r.adapters.Get(p)
	if err != nil {
		return domain.Credential{}, err
	}

	var fresh domain.Credential
	err = provider.Retry(ctx, r.attempts, r.base, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		c, err := adapter.Refresh(callCtx, cred)
		if err != nil {
			return err
		}
		fresh = c
		return nil
	})
	if err != nil {
		if provider.IsAuthExpired(err) {
			r.log.Warn("refresh token revoked; reconnect required",
				slog.String("user_id", userID),
				slog.String("provider", string(p)),
			)
		}
		return domain.Credential{}, err
	}

	if !fresh.ExpiresAt.After(cred.ExpiresAt) {
		return domain.Credential{}, fmt.Errorf("%w: stored %s, got %s",
			ErrStaleRefresh,
			cred.ExpiresAt.UTC().Format(time.RFC3339),
			fresh.ExpiresAt.UTC().Format(time.RFC3339),
		)
	}

	fresh.UserID = userID
	fresh.Provider = p
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = cred.RefreshToken
	}

	saved, err := r.creds.Upsert(ctx, fresh)
	if err != nil {
		return domain.Credential{}, err
	}

	r.log.Info("credential refreshed",
		slog.String("user_id", userID),
		slog.String("provider", string(p)),
		slog.Time("expires_at", saved.ExpiresAt),
	)
	return saved, nil
}

func (r *Refresher) lockFor(userID string, p domain.Provider) *sync.Mutex {
	key := userID + "|" + string(p)
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}
