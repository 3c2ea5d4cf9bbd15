// Package source fetches raw profiles from the upstream profile service and
// normalizes them into records.
package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/profilesync/pkg/config"
	"github.com/ajitpratap0/profilesync/pkg/errors"
	"github.com/ajitpratap0/profilesync/pkg/logger"
	"github.com/ajitpratap0/profilesync/pkg/observability"
)

// Skip reasons reported for profiles in a terminal state.
const (
	SkipSuspended  = "suspended"
	SkipUnverified = "unverified"
	SkipNotFound   = "not_found"
	SkipPrivate    = "private"
)

// maxBody bounds a profile payload.
const maxBody = 1 << 20

// RawFields is one fetched profile before normalization.
type RawFields struct {
	// Fields maps column names to raw values.
	Fields map[string]string `json:"fields"`
	// SkipReason is set when the source reports a terminal state; Fields is
	// then ignored.
	SkipReason string `json:"skip_reason,omitempty"`
}

// Fetcher retrieves one profile by nickname. A rate-limited request returns
// an error of type errors.ErrorTypeRateLimit.
type Fetcher interface {
	Fetch(ctx context.Context, nickname string) (RawFields, error)
}

// HTTPFetcher fetches GET {base_url}/{nickname} and decodes a RawFields JSON
// document.
type HTTPFetcher struct {
	client *http.Client
	base   string
	token  string
	logger *zap.Logger
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher returns a fetcher for cfg.BaseURL.
func NewHTTPFetcher(cfg config.SourceConfig, log *zap.Logger) (*HTTPFetcher, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "source.base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid source.base_url")
	}
	log = logger.OrNop(log).With(zap.String("component", "source"))
	return &HTTPFetcher{
		client: newHTTPClient(cfg, log),
		base:   strings.TrimSuffix(cfg.BaseURL, "/"),
		token:  cfg.Token,
		logger: log,
	}, nil
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, nickname string) (RawFields, error) {
	target := f.base + "/" + url.PathEscape(strings.TrimSpace(nickname))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return RawFields{}, errors.Wrap(err, errors.ErrorTypeInternal, "build source request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	observability.InjectHTTP(ctx, req.Header)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return RawFields{}, classifyTransport(err, nickname)
	}
	defer resp.Body.Close()

	log := logger.Decorate(ctx, f.logger).With(
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		log.Debug("profile not found")
		return RawFields{SkipReason: SkipNotFound}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		log.Warn("source rate limited")
		return RawFields{}, errors.Newf(errors.ErrorTypeRateLimit, "source throttled fetch of %s", nickname).
			WithDetail("retry_after", retryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode >= 500:
		return RawFields{}, errors.Newf(errors.ErrorTypeTransient, "source returned %d for %s", resp.StatusCode, nickname)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return RawFields{}, errors.Newf(errors.ErrorTypeAuthentication, "source rejected credentials (%d)", resp.StatusCode)
	default:
		return RawFields{}, errors.Newf(errors.ErrorTypeData, "source returned %d for %s", resp.StatusCode, nickname)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return RawFields{}, classifyTransport(err, nickname)
	}
	var raw RawFields
	if err := json.Unmarshal(body, &raw); err != nil {
		return RawFields{}, errors.Wrap(err, errors.ErrorTypeData, fmt.Sprintf("decode profile %s", nickname))
	}
	log.Debug("profile fetched", zap.Int("fields", len(raw.Fields)), zap.String("skip_reason", raw.SkipReason))
	return raw, nil
}

func classifyTransport(err error, nickname string) error {
	msg := fmt.Sprintf("fetch %s", nickname)
	if errors.Is(err, context.Canceled) {
		return errors.Wrap(err, errors.ErrorTypeInternal, msg)
	}
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, msg)
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, msg)
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
