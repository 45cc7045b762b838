// Package connect manages provider connections: it issues short-lived
// authorization state records, completes the code exchange on callback, and
// disconnects providers. State tokens are server-held and consumed exactly
// once, so a replayed or forged callback cannot attach a credential.
package connect

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"clientdesk/backend/internal/domain"
	"clientdesk/backend/internal/provider"
	"clientdesk/backend/internal/store"
)

const defaultStateTTL = 10 * time.Minute

type Service struct {
	creds    store.CredentialRepository
	states   store.AuthStateRepository
	adapters *provider.Registry
	ttl      time.Duration
	log      *slog.Logger
	now      func() time.Time
}

func NewService(creds store.CredentialRepository, states store.AuthStateRepository, adapters *provider.Registry, stateTTL time.Duration, log *slog.Logger) *Service {
	if stateTTL <= 0 {
		stateTTL = defaultStateTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		creds:    creds,
		states:   states,
		adapters: adapters,
		ttl:      stateTTL,
		log:      log.With(slog.String("component", "connect.service")),
		now:      time.Now,
	}
}

// BeginConnect records a pending authorization and returns the provider's
// consent URL plus the state token to round-trip through it.
func (s *Service) BeginConnect(ctx context.Context, userID string, p domain.Provider) (authURL, state string, err error) {
	if userID == "" {
		return "", "", fmt.Errorf("user_id is required")
	}
	if !p.Valid() {
		return "", "", fmt.Errorf("unknown provider %q", p)
	}
	adapter, err := s.adapters.Get(p)
	if err != nil {
		return "", "", err
	}

	token, err := randomToken()
	if err != nil {
		return "", "", err
	}

	_, err = s.states.Create(ctx, domain.AuthState{
		Token:     token,
		UserID:    userID,
		Provider:  p,
		ExpiresAt: s.now().Add(s.ttl).UTC(),
	})
	if err != nil {
		return "", "", err
	}

	return adapter.AuthCodeURL(token), token, nil
}

// CompleteConnect consumes the state token, exchanges the authorization code
// and persists the credential. An expired, unknown, or already-consumed
// state returns store.ErrNotFound without calling the provider.
func (s *Service) CompleteConnect(ctx context.Context, state, authCode string) (domain.Credential, error) {
	st, err := s.states.Consume(ctx, state, s.now())
	if err != nil {
		return domain.Credential{}, err
	}

	adapter, err := s.adapters.Get(st.Provider)
	if err != nil {
		return domain.Credential{}, err
	}

	cred, err := adapter.Exchange(ctx, authCode)
	if err != nil {
		return domain.Credential{}, err
	}
	cred.UserID = st.UserID
	cred.Provider = st.Provider

	saved, err := s.creds.Upsert(ctx, cred)
	if err != nil {
		return domain.Credential{}, err
	}

	s.log.Info("provider connected",
		slog.String("user_id", saved.UserID),
		slog.String("provider", string(saved.Provider)),
		slog.Time("expires_at", saved.ExpiresAt),
	)
	return saved, nil
}

func (s *Service) Disconnect(ctx context.Context, userID string, p domain.Provider) error {
	if err := s.creds.Delete(ctx, userID, p); err != nil {
		return err
	}
	s.log.Info("provider disconnected",
		slog.String("user_id", userID),
		slog.String("provider", string(p)),
	)
	return nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
