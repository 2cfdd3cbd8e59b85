// Package resolver talks to the external video resolution backend and
// normalizes the delivery URL it returns.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vidrelay/internal/domain"
	"vidrelay/internal/metrics"
)

const (
	defaultBackendTimeout  = 45 * time.Second
	defaultRedirectTimeout = 15 * time.Second
	defaultExtension       = "mp4"
	maxResponseBytes       = 1 << 20
	statusSuccess          = "success"
)

// Client implements domain.Resolver against an HTTP backend.
type Client struct {
	backendURL   string
	defaultTitle string

	backend  *http.Client
	redirect *http.Client
	logger   *slog.Logger
}

type Config struct {
	BackendURL      string
	BackendTimeout  time.Duration
	RedirectTimeout time.Duration
	DefaultTitle    string
	Logger          *slog.Logger

	// Optional; built from the timeouts above when nil.
	BackendClient  *http.Client
	RedirectClient *http.Client
}

func New(cfg Config) *Client {
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = defaultBackendTimeout
	}
	if cfg.RedirectTimeout <= 0 {
		cfg.RedirectTimeout = defaultRedirectTimeout
	}
	if cfg.BackendClient == nil {
		cfg.BackendClient = NewHTTPClient(cfg.BackendTimeout)
	}
	if cfg.RedirectClient == nil {
		cfg.RedirectClient = NewHTTPClient(cfg.RedirectTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		backendURL:   cfg.BackendURL,
		defaultTitle: cfg.DefaultTitle,
		backend:      cfg.BackendClient,
		redirect:     cfg.RedirectClient,
		logger:       cfg.Logger,
	}
}

// backendResponse is the body the backend returns on 2xx.
type backendResponse struct {
	Status    string          `json:"status"`
	DirectURL string          `json:"direct_download_url"`
	Title     string          `json:"title"`
	Duration  flexSeconds     `json:"duration"`
	Ext       string          `json:"ext"`
	Detail    json.RawMessage `json:"detail"`
}

// Resolve posts sourceURL to the backend once. Any failure is returned as a
// *domain.ResolutionError.
func (c *Client) Resolve(ctx context.Context, sourceURL string) (domain.ResolvedVideo, error) {
	start := time.Now()
	video, err := c.resolve(ctx, sourceURL)
	metrics.ObserveSince(metrics.BackendLatency, start)

	if err != nil {
		kind := domain.FailureTransport
		var re *domain.ResolutionError
		if errors.As(err, &re) {
			kind = re.Kind
		}
		metrics.BackendRequests.WithLabelValues(kind.String()).Inc()
		return domain.ResolvedVideo{}, err
	}
	metrics.BackendRequests.WithLabelValues(statusSuccess).Inc()
	return video, nil
}

func (c *Client) resolve(ctx context.Context, sourceURL string) (domain.ResolvedVideo, error) {
	payload, err := json.Marshal(domain.ResolutionRequest{SourceURL: sourceURL})
	if err != nil {
		return domain.ResolvedVideo{}, transportError(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.backendURL, bytes.NewReader(payload))
	if err != nil {
		return domain.ResolvedVideo{}, transportError(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.backend.Do(req)
	if err != nil {
		return domain.ResolvedVideo{}, transportError(fmt.Errorf("backend request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.ResolvedVideo{}, transportError(fmt.Errorf("read backend response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.ResolvedVideo{}, transportError(fmt.Errorf("backend returned HTTP %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var br backendResponse
	if err := json.Unmarshal(body, &br); err != nil {
		return domain.ResolvedVideo{}, transportError(fmt.Errorf("decode backend response: %w", err))
	}

	if br.Status != statusSuccess || strings.TrimSpace(br.DirectURL) == "" {
		return domain.ResolvedVideo{}, &domain.ResolutionError{
			Kind:   domain.FailureApplication,
			Detail: detailText(br.Detail),
			Err:    fmt.Errorf("backend status %q, direct url present: %t", br.Status, br.DirectURL != ""),
		}
	}

	video := domain.ResolvedVideo{
		Title:           br.Title,
		DirectURL:       strings.TrimSpace(br.DirectURL),
		DurationSeconds: int(br.Duration),
		Extension:       strings.TrimPrefix(br.Ext, "."),
	}
	if video.Title == "" {
		video.Title = c.defaultTitle
	}
	if video.Extension == "" {
		video.Extension = defaultExtension
	}
	return video, nil
}

// ResolveFinalURL follows redirects from candidateURL with a HEAD request and
// returns where they end. It never fails: on any error the candidate is
// returned unchanged.
func (c *Client) ResolveFinalURL(ctx context.Context, candidateURL string, headers http.Header) string {
	u, err := url.Parse(candidateURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		metrics.RedirectResolutions.WithLabelValues("failed").Inc()
		c.logger.Debug("redirect resolution skipped: not an http url", "url", candidateURL)
		return candidateURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, candidateURL, nil)
	if err != nil {
		metrics.RedirectResolutions.WithLabelValues("failed").Inc()
		return candidateURL
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.redirect.Do(req)
	if err != nil {
		metrics.RedirectResolutions.WithLabelValues("failed").Inc()
		c.logger.Warn("redirect resolution failed, using original url", "err", err)
		return candidateURL
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		metrics.RedirectResolutions.WithLabelValues("failed").Inc()
		c.logger.Warn("redirect resolution got error status, using original url", "status", resp.StatusCode)
		return candidateURL
	}

	final := resp.Request.URL.String()
	if final == candidateURL {
		metrics.RedirectResolutions.WithLabelValues("unchanged").Inc()
	} else {
		metrics.RedirectResolutions.WithLabelValues("changed").Inc()
		c.logger.Debug("redirect resolved", "final_host", resp.Request.URL.Host)
	}
	return final
}

func transportError(err error) *domain.ResolutionError {
	return &domain.ResolutionError{Kind: domain.FailureTransport, Err: err}
}

// detailText extracts a human-readable detail from the backend's "detail"
// field, which is usually a string but may be any JSON value.
func detailText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return truncate(string(raw), 300)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// flexSeconds accepts integer, fractional, quoted or null durations.
type flexSeconds int

func (f *flexSeconds) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		*f = 0
		return nil
	}
	*f = flexSeconds(math.Round(v))
	return nil
}
