// Package pvlive fetches GSP generation readings from the PVLive API.
package pvlive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/gridwatch/pvlive-consumer/internal/models"
)

// DefaultDomain is the production PVLive host.
const DefaultDomain = "api.pvlive.uk"

const (
	// DefaultTimeout bounds one HTTP request.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries is how many times a failed fetch is retried.
	DefaultMaxRetries = 3
)

// ExtraFields are requested on top of gsp_id, datetime_gmt and generation_mw.
const ExtraFields = "installedcapacity_mwp,capacity_mwp,updated_gmt"

const timeLayout = "2006-01-02T15:04:05Z"

var (
	// ErrCircuitOpen is returned while the breaker refuses requests.
	ErrCircuitOpen = errors.New("pvlive circuit breaker open")

	// ErrMalformedRow marks a response row that cannot be typed.
	ErrMalformedRow = errors.New("malformed pvlive row")

	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
	errUnexpected  = errors.New("unexpected status code")
)

// Backoff controls the retry delays of one fetch.
type Backoff struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Options configures a Client. Zero values take the defaults.
type Options struct {
	// BaseURL overrides the scheme and host, e.g. for tests.
	BaseURL string
	Domain  string
	Timeout time.Duration
	Backoff Backoff
	Logger  *slog.Logger
}

// Client is a PVLive API client. It retries with exponential backoff behind a
// circuit breaker shared by every GSP request.
type Client struct {
	baseURL string
	http    *http.Client
	backoff Backoff
	circuit *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewClient builds a Client.
func NewClient(opts Options) *Client {
	if opts.Domain == "" {
		opts.Domain = DefaultDomain
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://" + opts.Domain
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Backoff.InitialInterval <= 0 {
		opts.Backoff.InitialInterval = 500 * time.Millisecond
	}
	if opts.Backoff.MaxInterval <= 0 {
		opts.Backoff.MaxInterval = 10 * time.Second
	}
	if opts.Backoff.MaxRetries < 0 {
		opts.Backoff.MaxRetries = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	logger := opts.Logger
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pvlive",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    &http.Client{Timeout: opts.Timeout},
		backoff: opts.Backoff,
		circuit: cb,
		logger:  logger,
	}
}

// Fetch returns the readings PVLive holds for gspID between the window's start
// and end, both inclusive upstream. An empty slice means PVLive has no data.
// Rows that cannot be typed are logged and dropped.
func (c *Client) Fetch(ctx context.Context, gspID int, w models.FetchWindow) ([]models.RawReading, error) {
	values := url.Values{}
	values.Set("start", w.Start.UTC().Format(timeLayout))
	values.Set("end", w.End.UTC().Format(timeLayout))
	values.Set("extra_fields", ExtraFields)
	u := fmt.Sprintf("%s/pvlive/api/v4/gsp/%d?%s", c.baseURL, gspID, values.Encode())

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetch gsp %d: %w", gspID, err)
	}

	var payload Response
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode gsp %d payload: %w", gspID, err)
	}

	readings, rowErrs, err := payload.Readings()
	if err != nil {
		return nil, fmt.Errorf("gsp %d: %w", gspID, err)
	}
	for _, rowErr := range rowErrs {
		c.logger.Warn("dropping pvlive row", "gsp_id", gspID, "error", rowErr)
	}
	return readings, nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	var attempt int
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := c.circuit.Execute(func() (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return nil, err
			}
			resp, err := c.http.Do(req)
			if err != nil {
				return nil, fmt.Errorf("request pvlive: %w", err)
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				return nil, errRateLimited
			case resp.StatusCode >= 500:
				return nil, fmt.Errorf("%w: %s", errServerError, resp.Status)
			case resp.StatusCode < 200 || resp.StatusCode >= 300:
				return nil, fmt.Errorf("%w: %s", errUnexpected, resp.Status)
			}

			var raw json.RawMessage
			if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
				return nil, fmt.Errorf("read body: %w", err)
			}
			return []byte(raw), nil
		})
		if err == nil {
			return result.([]byte), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		if errors.Is(err, errUnexpected) || attempt >= c.backoff.MaxRetries {
			return nil, err
		}

		delay := c.backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > c.backoff.MaxInterval {
			delay = c.backoff.MaxInterval
		}
		c.logger.Debug("retrying pvlive request", "attempt", attempt+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		attempt++
	}
}
