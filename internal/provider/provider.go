// Package provider defines the contract every external calendar integration
// implements. Adapters absorb provider quirks (freebusy queries, weekly
// availability rules, CalDAV object stores) behind one interface so the
// availability and booking services never branch on the provider.
package provider

import (
	"context"
	"fmt"
	"time"

	"clientdesk/backend/internal/domain"
)

type ExternalEvent struct {
	ID       string
	JoinLink string
}

type EventRequest struct {
	Slot     domain.Slot
	Attendee domain.Attendee
	Summary  string
	// IdempotencyKey is forwarded as the provider-side request token where
	// the provider supports one, so a client-side retry cannot create a
	// second event.
	IdempotencyKey string
}

type Adapter interface {
	Provider() domain.Provider

	AuthCodeURL(state string) string
	Exchange(ctx context.Context, authCode string) (domain.Credential, error)
	Refresh(ctx context.Context, cred domain.Credential) (domain.Credential, error)

	// BusyIntervals returns occupied time clipped to [rangeStart, rangeEnd)
	// in UTC. No ordering is guaranteed; callers sort.
	BusyIntervals(ctx context.Context, cred domain.Credential, rangeStart, rangeEnd time.Time) ([]domain.BusyInterval, error)
	CreateEvent(ctx context.Context, cred domain.Credential, req EventRequest) (ExternalEvent, error)
	CancelEvent(ctx context.Context, cred domain.Credential, externalEventID string) error
}

type Registry struct {
	adapters map[domain.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[domain.Provider]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Provider()] = a
	}
	return &Registry{adapters: m}
}

func (r *Registry) Get(p domain.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", p)
	}
	return a, nil
}
