package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tidyslot/tidyslot/services/availability-service/internal/model"
)

const ProviderGoogle = "google"

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	// TokenURL overrides the Google token endpoint.
	TokenURL string
	// APIEndpoint overrides the Calendar API base URL.
	APIEndpoint string
	HTTPClient  *http.Client
}

// Google reads busy time from every Google calendar an owner has linked.
// Expired access tokens are refreshed inline and written back to the store.
type Google struct {
	oauth       *oauth2.Config
	store       IntegrationStore
	apiEndpoint string
	httpClient  *http.Client
	logger      *slog.Logger
}

func NewGoogle(cfg GoogleConfig, store IntegrationStore, logger *slog.Logger) *Google {
	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Google{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{gcal.CalendarReadonlyScope},
		},
		store:       store,
		apiEndpoint: cfg.APIEndpoint,
		httpClient:  hc,
		logger:      logger,
	}
}

func (g *Google) Name() string { return ProviderGoogle }

func (g *Google) FetchBusyIntervals(ctx context.Context, ownerID string, start, end time.Time) ([]model.BusyInterval, error) {
	integrations, err := g.store.ListForOwner(ctx, ownerID, ProviderGoogle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransientFetch, err)
	}
	if len(integrations) == 0 {
		return nil, ErrNoIntegration
	}

	var out []model.BusyInterval
	for _, in := range integrations {
		busy, err := g.fetchOne(ctx, in, start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, busy...)
	}
	return out, nil
}

func (g *Google) fetchOne(ctx context.Context, in Integration, start, end time.Time) ([]model.BusyInterval, error) {
	if in.Status == IntegrationReauthRequired {
		return nil, ErrReauthRequired
	}

	tok, err := g.token(ctx, in)
	if err != nil {
		return nil, err
	}

	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, g.httpClient), oauth2.StaticTokenSource(tok))
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if g.apiEndpoint != "" {
		opts = append(opts, option.WithEndpoint(g.apiEndpoint))
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransientFetch, err)
	}

	var out []model.BusyInterval
	call := svc.Events.List(in.CalendarID).
		SingleEvents(true).
		ShowDeleted(false).
		OrderBy("startTime").
		MaxResults(250).
		TimeMin(start.UTC().Format(time.RFC3339)).
		TimeMax(end.UTC().Format(time.RFC3339))
	err = call.Pages(ctx, func(page *gcal.Events) error {
		loc := time.UTC
		if page.TimeZone != "" {
			if l, lerr := time.LoadLocation(page.TimeZone); lerr == nil {
				loc = l
			}
		}
		for _, item := range page.Items {
			if item.Status == "cancelled" || item.Transparency == "transparent" {
				continue
			}
			s, okS := eventTime(item.Start, loc)
			e, okE := eventTime(item.End, loc)
			if !okS || !okE || !e.After(s) {
				continue
			}
			out = append(out, model.BusyInterval{
				OwnerID:   in.OwnerID,
				Start:     s,
				End:       e,
				Source:    model.SourceExternalCalendar,
				SourceRef: in.CalendarID + "/" + item.Id,
			})
		}
		return nil
	})
	if err != nil {
		return nil, g.classify(ctx, in, err)
	}
	return out, nil
}

// token returns a usable access token, refreshing it when expired.
func (g *Google) token(ctx context.Context, in Integration) (*oauth2.Token, error) {
	if in.Token == nil || (in.Token.RefreshToken == "" && !in.Token.Valid()) {
		g.markReauth(ctx, in)
		return nil, ErrReauthRequired
	}
	refreshCtx := context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	fresh, err := g.oauth.TokenSource(refreshCtx, in.Token).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && (re.ErrorCode == "invalid_grant" || re.ErrorCode == "unauthorized_client" ||
			(re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized)) {
			g.markReauth(ctx, in)
			return nil, ErrReauthRequired
		}
		return nil, fmt.Errorf("%w: refresh token: %v", ErrTransientFetch, err)
	}
	if fresh.AccessToken != in.Token.AccessToken {
		if err := g.store.SaveToken(ctx, in.ID, fresh); err != nil {
			g.logger.Warn("persist refreshed calendar token failed", "integration_id", in.ID, "err", err)
		}
	}
	return fresh, nil
}

// quotaReasons are 403 reasons Google uses for throttling rather than for a
// revoked grant.
var quotaReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
	"dailyLimitExceeded":    true,
}

func (g *Google) classify(ctx context.Context, in Integration, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("%w: %v", ErrTransientFetch, err)
	}
	switch {
	case gerr.Code == http.StatusForbidden && throttled(gerr):
		return fmt.Errorf("%w: %v", ErrTransientFetch, err)
	case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
		g.markReauth(ctx, in)
		return ErrReauthRequired
	}
	return fmt.Errorf("%w: %v", ErrTransientFetch, err)
}

func throttled(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if quotaReasons[item.Reason] {
			return true
		}
	}
	return false
}

func (g *Google) markReauth(ctx context.Context, in Integration) {
	if err := g.store.MarkReauthRequired(ctx, in.ID); err != nil {
		g.logger.Warn("mark calendar integration for reauth failed", "integration_id", in.ID, "err", err)
	}
}

func eventTime(dt *gcal.EventDateTime, fallback *time.Location) (time.Time, bool) {
	if dt == nil {
		return time.Time{}, false
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t.UTC(), err == nil
	}
	if dt.Date != "" {
		loc := fallback
		if dt.TimeZone != "" {
			if l, err := time.LoadLocation(dt.TimeZone); err == nil {
				loc = l
			}
		}
		t, err := time.ParseInLocation("2006-01-02", dt.Date, loc)
		return t.UTC(), err == nil
	}
	return time.Time{}, false
}
