// Package smoke checks that a deployed sample service answers on its root
// and health endpoints.
package smoke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const healthyStatus = "healthy"

// ErrUnhealthy is returned when the service answers but does not report itself healthy.
var ErrUnhealthy = errors.New("service unhealthy")

// Health is the /health payload.
type Health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service,omitempty"`
}

// Report is the outcome of a successful check.
type Report struct {
	BaseURL string
	Root    map[string]any
	Health  Health
	Elapsed time.Duration
}

// Message returns the greeting from the root payload, if any.
func (r *Report) Message() string {
	if m, ok := r.Root["message"].(string); ok {
		return m
	}
	return ""
}

// Checker runs smoke checks.
type Checker struct {
	httpClient *http.Client
	log        zerolog.Logger
}

// NewChecker creates a checker with the given per-request timeout.
func NewChecker(timeout time.Duration, log zerolog.Logger) *Checker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Checker{
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Check requests GET / and GET /health on target. A bare host is treated as https.
func (c *Checker) Check(ctx context.Context, target string) (*Report, error) {
	base := NormalizeURL(target)
	start := time.Now()

	var root map[string]any
	if err := c.getJSON(ctx, base+"/", &root); err != nil {
		return nil, err
	}

	var health Health
	if err := c.getJSON(ctx, base+"/health", &health); err != nil {
		return nil, err
	}
	if health.Status != healthyStatus {
		return nil, fmt.Errorf("%w: %s/health reported status %q", ErrUnhealthy, base, health.Status)
	}

	return &Report{BaseURL: base, Root: root, Health: health, Elapsed: time.Since(start)}, nil
}

// NormalizeURL turns a domain or URL into a base URL without trailing slash.
func NormalizeURL(target string) string {
	target = strings.TrimSpace(target)
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "https://" + target
	}
	return strings.TrimRight(target, "/")
}

func (c *Checker) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.log.Debug().Str("url", url).Msg("smoke request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrUnhealthy, url, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s returned invalid json: %v", ErrUnhealthy, url, err)
	}
	return nil
}
