// Package calendly integrates a Calendly-style scheduling-link API. The
// provider publishes weekly availability rules rather than busy blocks; the
// adapter expands the rules for the requested range and reports everything
// outside them as busy, so callers see the same shape as any other provider.
package calendly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"clientdesk/backend/internal/domain"
	"clientdesk/backend/internal/provider"
)

const (
	defaultBaseURL  = "https://api.calendly.com"
	defaultAuthURL  = "https://auth.calendly.com/oauth/authorize"
	defaultTokenURL = "https://auth.calendly.com/oauth/token"
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// BaseURL overrides the API base URL.
	BaseURL string
	// TokenURL and AuthURL override the OAuth endpoints.
	TokenURL string
	AuthURL  string
	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Adapter struct {
	oauth   *oauth2.Config
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

func New(cfg Config) *Adapter {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = defaultAuthURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL},
		},
		baseURL: baseURL,
		client:  client,
		log:     log.With(slog.String("component", "provider.calendly")),
	}
}

func (a *Adapter) Provider() domain.Provider { return domain.ProviderCalendly }

func (a *Adapter) AuthCodeURL(state string) string {
	return a.oauth.AuthCodeURL(state)
}

func (a *Adapter) Exchange(ctx context.Context, authCode string) (domain.Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client)
	tok, err := a.oauth.Exchange(ctx, authCode)
	if err != nil {
		return domain.Credential{}, a.wrapTokenError("exchange", err)
	}
	return a.credentialFromToken(tok, ""), nil
}

func (a *Adapter) Refresh(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client)
	tok, err := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return domain.Credential{}, a.wrapTokenError("refresh", err)
	}
	out := a.credentialFromToken(tok, cred.RefreshToken)
	out.UserID = cred.UserID
	out.Provider = cred.Provider
	return out, nil
}

type availabilitySchedule struct {
	Timezone string `json:"timezone"`
	Rules    []struct {
		Wday      string `json:"wday"`
		Intervals []struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"intervals"`
	} `json:"rules"`
}

type schedulesResponse struct {
	Collection []availabilitySchedule `json:"collection"`
}

func (a *Adapter) BusyIntervals(ctx context.Context, cred domain.Credential, rangeStart, rangeEnd time.Time) ([]domain.BusyInterval, error) {
	var resp schedulesResponse
	if err := a.do(ctx, cred, http.MethodGet, "/user_availability_schedules", "", nil, &resp); err != nil {
		return nil, err
	}
	return busyFromSchedules(resp.Collection, rangeStart.UTC(), rangeEnd.UTC())
}

type scheduledEventRequest struct {
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	Name         string `json:"name"`
	InviteeName  string `json:"invitee_name"`
	InviteeEmail string `json:"invitee_email"`
}

type scheduledEventResponse struct {
	Resource struct {
		ID      string `json:"id"`
		JoinURL string `json:"join_url"`
	} `json:"resource"`
}

func (a *Adapter) CreateEvent(ctx context.Context, cred domain.Credential, req provider.EventRequest) (provider.ExternalEvent, error) {
	body := scheduledEventRequest{
		StartTime:    req.Slot.Start.UTC().Format(time.RFC3339),
		EndTime:      req.Slot.End.UTC().Format(time.RFC3339),
		Name:         req.Summary,
		InviteeName:  req.Attendee.Name,
		InviteeEmail: req.Attendee.Email,
	}
	var resp scheduledEventResponse
	if err := a.do(ctx, cred, http.MethodPost, "/scheduled_events", req.IdempotencyKey, body, &resp); err != nil {
		return provider.ExternalEvent{}, err
	}
	return provider.ExternalEvent{ID: resp.Resource.ID, JoinLink: resp.Resource.JoinURL}, nil
}

func (a *Adapter) CancelEvent(ctx context.Context, cred domain.Credential, externalEventID string) error {
	path := fmt.Sprintf("/scheduled_events/%s/cancellation", externalEventID)
	return a.do(ctx, cred, http.MethodPost, path, "", map[string]string{"reason": "cancelled by organizer"}, nil)
}

func (a *Adapter) do(ctx context.Context, cred domain.Credential, method, path, idempotencyKey string, body, out any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return provider.NewError(domain.ProviderCalendly, provider.KindRejected, op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return provider.NewError(domain.ProviderCalendly, provider.KindRejected, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return provider.NewError(domain.ProviderCalendly, provider.KindUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return provider.FromStatus(domain.ProviderCalendly, op, resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, payload))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return provider.NewError(domain.ProviderCalendly, provider.KindUnavailable, op, err)
	}
	return nil
}

func (a *Adapter) credentialFromToken(tok *oauth2.Token, fallbackRefresh string) domain.Credential {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(time.Hour)
	}
	return domain.Credential{
		Provider:     domain.ProviderCalendly,
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    expiry.UTC(),
	}
}

func (a *Adapter) wrapTokenError(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.ErrorCode == "invalid_grant" {
			return provider.NewError(domain.ProviderCalendly, provider.KindAuthExpired, op, err)
		}
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
		}
		return provider.FromStatus(domain.ProviderCalendly, op, status, err)
	}
	return provider.NewError(domain.ProviderCalendly, provider.KindUnavailable, op, err)
}

// busyFromSchedules inverts weekly availability rules into busy intervals for
// [rangeStart, rangeEnd): anything the rules do not declare available is busy.
func busyFromSchedules(schedules []availabilitySchedule, rangeStart, rangeEnd time.Time) ([]domain.BusyInterval, error) {
	if !rangeEnd.After(rangeStart) {
		return nil, nil
	}

	var free []domain.BusyInterval
	for _, sched := range schedules {
		loc := time.UTC
		if sched.Timezone != "" {
			l, err := time.LoadLocation(sched.Timezone)
			if err != nil {
				return nil, provider.NewError(domain.ProviderCalendly, provider.KindRejected, "schedules",
					fmt.Errorf("invalid schedule timezone %q", sched.Timezone))
			}
			loc = l
		}

		byWday := make(map[string][][2]int, len(sched.Rules))
		for _, rule := range sched.Rules {
			for _, iv := range rule.Intervals {
				from, err := parseClock(iv.From)
				if err != nil {
					continue
				}
				to, err := parseClock(iv.To)
				if err != nil || to <= from {
					continue
				}
				byWday[rule.Wday] = append(byWday[rule.Wday], [2]int{from, to})
			}
		}

		// Walk whole local days so rules land on their own calendar dates.
		startLocal := rangeStart.In(loc)
		day := time.Date(startLocal.Year(), startLocal.Month(), startLocal.Day(), 0, 0, 0, 0, loc)
		for day.Before(rangeEnd) {
			for _, span := range byWday[wdayName(day.Weekday())] {
				free = append(free, domain.BusyInterval{
					Start: day.Add(time.Duration(span[0]) * time.Minute).UTC(),
					End:   day.Add(time.Duration(span[1]) * time.Minute).UTC(),
				})
			}
			day = day.AddDate(0, 0, 1)
		}
	}

	merged := domain.MergeBusyIntervals(free)

	out := make([]domain.BusyInterval, 0, len(merged)+1)
	cursor := rangeStart
	for _, f := range merged {
		if !f.End.After(rangeStart) || !f.Start.Before(rangeEnd) {
			continue
		}
		if f.Start.After(cursor) {
			out = append(out, domain.BusyInterval{Start: cursor, End: f.Start, Source: string(domain.ProviderCalendly)})
		}
		if f.End.After(cursor) {
			cursor = f.End
		}
	}
	if cursor.Before(rangeEnd) {
		out = append(out, domain.BusyInterval{Start: cursor, End: rangeEnd, Source: string(domain.ProviderCalendly)})
	}
	return out, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func wdayName(wd time.Weekday) string {
	switch wd {
	case time.Sunday:
		return "sunday"
	case time.Monday:
		return "monday"
	case time.Tuesday:
		return "tuesday"
	case time.Wednesday:
		return "wednesday"
	case time.Thursday:
		return "thursday"
	case time.Friday:
		return "friday"
	default:
		return "saturday"
	}
}

var _ provider.Adapter = (*Adapter)(nil)
