// Package googlecal integrates Google Calendar: freebusy queries for
// availability and event insert/delete for booking mirroring.
package googlecal

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"clientdesk/backend/internal/domain"
	"clientdesk/backend/internal/provider"
)

// defaultTokenLifetime is assumed when the token endpoint omits expires_in.
const defaultTokenLifetime = time.Hour

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// CalendarID defaults to the user's primary calendar.
	CalendarID string
	// Endpoint overrides the Calendar API base URL.
	Endpoint string
	Logger   *slog.Logger
}

type Adapter struct {
	oauth      *oauth2.Config
	calendarID string
	endpoint   string
	log        *slog.Logger
}

func New(cfg Config) *Adapter {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Adapter{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{calendar.CalendarEventsScope, calendar.CalendarReadonlyScope},
			Endpoint:     google.Endpoint,
		},
		calendarID: calendarID,
		endpoint:   cfg.Endpoint,
		log:        log.With(slog.String("component", "provider.googlecal")),
	}
}

func (a *Adapter) Provider() domain.Provider { return domain.ProviderGoogle }

func (a *Adapter) AuthCodeURL(state string) string {
	return a.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (a *Adapter) Exchange(ctx context.Context, authCode string) (domain.Credential, error) {
	tok, err := a.oauth.Exchange(ctx, authCode)
	if err != nil {
		return domain.Credential{}, a.wrapTokenError("exchange", err)
	}
	return a.credentialFromToken(tok, ""), nil
}

func (a *Adapter) Refresh(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
	src := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return domain.Credential{}, a.wrapTokenError("refresh", err)
	}
	out := a.credentialFromToken(tok, cred.RefreshToken)
	out.UserID = cred.UserID
	out.Provider = cred.Provider
	return out, nil
}

func (a *Adapter) BusyIntervals(ctx context.Context, cred domain.Credential, rangeStart, rangeEnd time.Time) ([]domain.BusyInterval, error) {
	svc, err := a.service(ctx, cred)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: rangeStart.UTC().Format(time.RFC3339),
		TimeMax: rangeEnd.UTC().Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: a.calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, a.wrapAPIError("freebusy", err)
	}

	cal, ok := resp.Calendars[a.calendarID]
	if !ok {
		return nil, nil
	}

	out := make([]domain.BusyInterval, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		start, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			continue
		}
		start, end = start.UTC(), end.UTC()
		if start.Before(rangeStart) {
			start = rangeStart.UTC()
		}
		if end.After(rangeEnd) {
			end = rangeEnd.UTC()
		}
		if !end.After(start) {
			continue
		}
		out = append(out, domain.BusyInterval{Start: start, End: end, Source: string(domain.ProviderGoogle)})
	}
	return out, nil
}

// CreateEvent assigns a deterministic event id derived from the idempotency
// key. A retried insert hits the duplicate-id case and resolves to the event
// already created instead of producing a second one.
func (a *Adapter) CreateEvent(ctx context.Context, cred domain.Credential, req provider.EventRequest) (provider.ExternalEvent, error) {
	svc, err := a.service(ctx, cred)
	if err != nil {
		return provider.ExternalEvent{}, err
	}

	eventID := eventIDForKey(req.IdempotencyKey)
	ev := &calendar.Event{
		Id:      eventID,
		Summary: req.Summary,
		Start:   &calendar.EventDateTime{DateTime: req.Slot.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		End:     &calendar.EventDateTime{DateTime: req.Slot.End.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		Attendees: []*calendar.EventAttendee{
			{DisplayName: req.Attendee.Name, Email: req.Attendee.Email},
		},
	}

	created, err := svc.Events.Insert(a.calendarID, ev).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusConflict {
			existing, getErr := svc.Events.Get(a.calendarID, eventID).Context(ctx).Do()
			if getErr != nil {
				return provider.ExternalEvent{}, a.wrapAPIError("create_event", getErr)
			}
			return provider.ExternalEvent{ID: existing.Id, JoinLink: joinLink(existing)}, nil
		}
		return provider.ExternalEvent{}, a.wrapAPIError("create_event", err)
	}

	return provider.ExternalEvent{ID: created.Id, JoinLink: joinLink(created)}, nil
}

func (a *Adapter) CancelEvent(ctx context.Context, cred domain.Credential, externalEventID string) error {
	svc, err := a.service(ctx, cred)
	if err != nil {
		return err
	}
	if err := svc.Events.Delete(a.calendarID, externalEventID).Context(ctx).Do(); err != nil {
		return a.wrapAPIError("cancel_event", err)
	}
	return nil
}

// service builds a Calendar client on a static token source. Refreshing is
// the TokenRefresher's job; the adapter must not refresh behind its back.
func (a *Adapter) service(ctx context.Context, cred domain.Credential) (*calendar.Service, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cred.AccessToken,
		TokenType:   "Bearer",
	}))
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, provider.NewError(domain.ProviderGoogle, provider.KindUnavailable, "client", err)
	}
	return svc, nil
}

func (a *Adapter) credentialFromToken(tok *oauth2.Token, fallbackRefresh string) domain.Credential {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(defaultTokenLifetime)
	}
	return domain.Credential{
		Provider:     domain.ProviderGoogle,
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    expiry.UTC(),
	}
}

func (a *Adapter) wrapAPIError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return provider.FromStatus(domain.ProviderGoogle, op, gerr.Code, err)
	}
	return provider.NewError(domain.ProviderGoogle, provider.KindUnavailable, op, err)
}

// wrapTokenError classifies oauth token endpoint failures. invalid_grant
// means the refresh token itself is dead: only a new consent fixes that.
func (a *Adapter) wrapTokenError(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.ErrorCode == "invalid_grant" {
			return provider.NewError(domain.ProviderGoogle, provider.KindAuthExpired, op, err)
		}
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
		}
		return provider.FromStatus(domain.ProviderGoogle, op, status, err)
	}
	return provider.NewError(domain.ProviderGoogle, provider.KindUnavailable, op, err)
}

// eventIDForKey maps the idempotency key into Google's event id alphabet
// (base32hex): sha1 hex is a strict subset.
func eventIDForKey(key string) string {
	sum := sha1.Sum([]byte("clientdesk:event:" + key))
	return hex.EncodeToString(sum[:])
}

func joinLink(ev *calendar.Event) string {
	if ev.HangoutLink != "" {
		return ev.HangoutLink
	}
	return ev.HtmlLink
}

var _ provider.Adapter = (*Adapter)(nil)
