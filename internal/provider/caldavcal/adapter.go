// Package caldavcal integrates CalDAV calendar servers (iCloud and friends)
// that authenticate with app-specific passwords instead of OAuth. Busy time
// comes from a VEVENT time-range query; bookings are mirrored as VEVENT
// objects PUT under a deterministic UID.
package caldavcal

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"clientdesk/backend/internal/domain"
	"clientdesk/backend/internal/provider"
)

// appPasswordLifetime is the nominal expiry recorded for app-specific
// passwords, which do not expire on their own. Each refresh pushes it
// forward, keeping the stored expiry strictly monotonic.
const appPasswordLifetime = 10 * 365 * 24 * time.Hour

type Config struct {
	// Endpoint is the CalDAV server root, e.g. https://caldav.icloud.com/.
	Endpoint string
	// CalendarPath is the collection bookings are written to, relative to
	// the endpoint.
	CalendarPath string
	Logger       *slog.Logger
}

type Adapter struct {
	endpoint     string
	calendarPath string
	log          *slog.Logger
}

func New(cfg Config) *Adapter {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		endpoint:     cfg.Endpoint,
		calendarPath: cfg.CalendarPath,
		log:          log.With(slog.String("component", "provider.caldav")),
	}
}

func (a *Adapter) Provider() domain.Provider { return domain.ProviderCalDAV }

// AuthCodeURL is empty: CalDAV has no authorization redirect. The connect
// flow goes straight to Exchange with user-supplied credentials.
func (a *Adapter) AuthCodeURL(string) string { return "" }

// Exchange accepts "username:app-password" in place of an OAuth code and
// stores it as the opaque access token.
func (a *Adapter) Exchange(ctx context.Context, authCode string) (domain.Credential, error) {
	username, password, ok := strings.Cut(authCode, ":")
	if !ok || username == "" || password == "" {
		return domain.Credential{}, provider.NewError(domain.ProviderCalDAV, provider.KindRejected, "exchange",
			errors.New("expected username:app-password"))
	}

	cred := domain.Credential{
		Provider:    domain.ProviderCalDAV,
		AccessToken: username + ":" + password,
		ExpiresAt:   time.Now().Add(appPasswordLifetime).UTC(),
	}

	// Probe the collection so a typo'd password fails at connect time.
	client, err := a.client(cred)
	if err != nil {
		return domain.Credential{}, err
	}
	if _, err := client.FindCalendars(ctx, ""); err != nil {
		return domain.Credential{}, a.wrapError("exchange", err)
	}
	return cred, nil
}

func (a *Adapter) Refresh(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
	out := cred
	out.ExpiresAt = time.Now().Add(appPasswordLifetime).UTC()
	return out, nil
}

func (a *Adapter) BusyIntervals(ctx context.Context, cred domain.Credential, rangeStart, rangeEnd time.Time) ([]domain.BusyInterval, error) {
	client, err := a.client(cred)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: rangeStart,
				End:   rangeEnd,
			}},
		},
	}

	objs, err := client.QueryCalendar(ctx, a.calendarPath, query)
	if err != nil {
		return nil, a.wrapError("query", err)
	}

	var out []domain.BusyInterval
	for _, obj := range objs {
		if obj.Data == nil {
			continue
		}
		for _, ev := range obj.Data.Events() {
			start, err := ev.DateTimeStart(time.UTC)
			if err != nil {
				continue
			}
			end, err := ev.DateTimeEnd(time.UTC)
			if err != nil || !end.After(start) {
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
			out = append(out, domain.BusyInterval{Start: start, End: end, Source: string(domain.ProviderCalDAV)})
		}
	}
	return out, nil
}

// CreateEvent is idempotent by construction: the object UID and path derive
// from the idempotency key, so a retried PUT overwrites the same object.
func (a *Adapter) CreateEvent(ctx context.Context, cred domain.Credential, req provider.EventRequest) (provider.ExternalEvent, error) {
	client, err := a.client(cred)
	if err != nil {
		return provider.ExternalEvent{}, err
	}

	uid := eventUID(req.IdempotencyKey)

	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, req.Summary)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, req.Slot.Start.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, req.Slot.End.UTC())
	if req.Attendee.Email != "" {
		p := ical.NewProp(ical.PropAttendee)
		p.Params.Set(ical.ParamCommonName, req.Attendee.Name)
		p.SetText("mailto:" + req.Attendee.Email)
		ve.Props.Add(p)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//clientdesk//EN")
	cal.Children = append(cal.Children, ve)

	if _, err := client.PutCalendarObject(ctx, a.objectPath(uid), cal); err != nil {
		return provider.ExternalEvent{}, a.wrapError("put", err)
	}
	return provider.ExternalEvent{ID: uid}, nil
}

func (a *Adapter) CancelEvent(ctx context.Context, cred domain.Credential, externalEventID string) error {
	client, err := a.client(cred)
	if err != nil {
		return err
	}
	if err := client.RemoveAll(ctx, a.objectPath(externalEventID)); err != nil {
		return a.wrapError("remove", err)
	}
	return nil
}

func (a *Adapter) objectPath(uid string) string {
	return path.Join(a.calendarPath, uid+".ics")
}

type basicAuthTransport struct {
	username string
	password string
	next     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	req.Header.Set("User-Agent", "clientdesk/1.0")
	return t.next.RoundTrip(req)
}

func (a *Adapter) client(cred domain.Credential) (*caldav.Client, error) {
	username, password, ok := strings.Cut(cred.AccessToken, ":")
	if !ok {
		return nil, provider.NewError(domain.ProviderCalDAV, provider.KindAuthExpired, "client",
			errors.New("credential is not a username:app-password pair"))
	}
	httpClient := &http.Client{
		Transport: &basicAuthTransport{username: username, password: password, next: http.DefaultTransport},
	}
	client, err := caldav.NewClient(httpClient, a.endpoint)
	if err != nil {
		return nil, provider.NewError(domain.ProviderCalDAV, provider.KindUnavailable, "client", err)
	}
	return client, nil
}

func (a *Adapter) wrapError(op string, err error) error {
	var httpErr *webdav.HTTPError
	if errors.As(err, &httpErr) {
		return provider.FromStatus(domain.ProviderCalDAV, op, httpErr.Code, err)
	}
	return provider.NewError(domain.ProviderCalDAV, provider.KindUnavailable, op, err)
}

func eventUID(key string) string {
	sum := sha1.Sum([]byte("clientdesk:event:" + key))
	return fmt.Sprintf("%s@clientdesk", hex.EncodeToString(sum[:]))
}

var _ provider.Adapter = (*Adapter)(nil)
