package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"intradesk/pkg/types"
)

// HTTPSource pulls VIX, headlines, breadth, institutional flows,
// fundamentals, and the event calendar from the data vendor's REST API.
// Responses are cached briefly so a workflow fanning out over the
// universe does not hammer the vendor with identical reads. Feeds this
// vendor plan lacks answer 404; those read as empty rather than failing
// the caller.
type HTTPSource struct {
	http   *resty.Client
	logger *slog.Logger

	cacheTTL time.Duration
	vixAt    time.Time
	vix      float64
}

// NewHTTPSource creates a vendor client with retry on 5xx.
func NewHTTPSource(baseURL, apiKey string, logger *slog.Logger) *HTTPSource {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("X-Api-Key", apiKey)

	return &HTTPSource{
		http:     httpClient,
		logger:   logger.With("component", "marketdata"),
		cacheTTL: 30 * time.Second,
	}
}

// VIX returns the volatility index, served from cache inside the TTL.
func (s *HTTPSource) VIX(ctx context.Context) (float64, error) {
	if time.Since(s.vixAt) < s.cacheTTL {
		return s.vix, nil
	}

	var result struct {
		Value float64 `json:"value"`
	}
	resp, err := s.http.R().SetContext(ctx).SetResult(&result).Get("/vix")
	if err != nil {
		return 0, fmt.Errorf("get vix: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, &types.UpstreamError{Status: resp.StatusCode(), Message: resp.String()}
	}
	s.vix = result.Value
	s.vixAt = time.Now()
	return result.Value, nil
}

// Headlines returns news events published at or after since.
func (s *HTTPSource) Headlines(ctx context.Context, since time.Time) ([]types.NewsEvent, error) {
	var result struct {
		Events []types.NewsEvent `json:"events"`
	}
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("since", since.Format(time.RFC3339)).
		SetResult(&result).
		Get("/news")
	if err != nil {
		return nil, fmt.Errorf("get headlines: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &types.UpstreamError{Status: resp.StatusCode(), Message: resp.String()}
	}
	return result.Events, nil
}

// Breadth returns the advance/decline snapshot.
func (s *HTTPSource) Breadth(ctx context.Context) (Breadth, error) {
	var result Breadth
	resp, err := s.http.R().SetContext(ctx).SetResult(&result).Get("/breadth")
	if err != nil {
		return Breadth{}, fmt.Errorf("get breadth: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Breadth{}, &types.UpstreamError{Status: resp.StatusCode(), Message: resp.String()}
	}
	return result, nil
}

// Flows returns the day's institutional flow snapshot. A vendor without
// the feed reads as the zero value.
func (s *HTTPSource) Flows(ctx context.Context) (Flows, error) {
	var result Flows
	resp, err := s.http.R().SetContext(ctx).SetResult(&result).Get("/flows")
	if err != nil {
		return Flows{}, fmt.Errorf("get flows: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return Flows{}, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return Flows{}, &types.UpstreamError{Status: resp.StatusCode(), Message: resp.String()}
	}
	return result, nil
}

// Fundamentals returns one company's figures; ok is false when the vendor
// covers nothing for the symbol.
func (s *HTTPSource) Fundamentals(ctx context.Context, symbol string) (Fundamentals, bool, error) {
	var result Fundamentals
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&result).
		Get("/fundamentals")
	if err != nil {
		return Fundamentals{}, false, fmt.Errorf("get fundamentals: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return Fundamentals{}, false, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return Fundamentals{}, false, &types.UpstreamError{Status: resp.StatusCode(), Message: resp.String()}
	}
	return result, true, nil
}

// Events returns scheduled market events inside [from, to].
func (s *HTTPSource) Events(ctx context.Context, from, to time.Time) ([]CalendarEvent, error) {
	var result struct {
		Events []CalendarEvent `json:"events"`
	}
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("from", from.Format(time.RFC3339)).
		SetQueryParam("to", to.Format(time.RFC3339)).
		SetResult(&result).
		Get("/calendar")
	if err != nil {
		return nil, fmt.Errorf("get calendar: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &types.UpstreamError{Status: resp.StatusCode(), Message: resp.String()}
	}
	return result.Events, nil
}
