package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"metricwatch/internal/metrics"
	"metricwatch/internal/snapshot"
)

// Source errors
var (
	ErrUnexpectedStatus = errors.New("unexpected status from metrics source")
	ErrBodyTooLarge     = errors.New("metrics source response too large")
)

// DefaultMaxBodyBytes caps a snapshot response unless overridden
const DefaultMaxBodyBytes int64 = 32 << 20

// Source fetches the current metrics snapshot for a target
type Source interface {
	Fetch(ctx context.Context, target string) (*snapshot.Snapshot, error)
}

// CAdvisor reads container stats from a cAdvisor style endpoint at
// GET {base}/{target}.
type CAdvisor struct {
	baseURL  string
	client   *http.Client
	maxBytes int64
}

// Option customizes a CAdvisor client
type Option func(*CAdvisor)

// WithMaxBodyBytes caps the response size; non-positive keeps the default
func WithMaxBodyBytes(n int64) Option {
	return func(c *CAdvisor) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// NewCAdvisor creates a client. A non-positive timeout defaults to 10s.
func NewCAdvisor(baseURL string, timeout time.Duration, opts ...Option) *CAdvisor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &CAdvisor{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		maxBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch downloads and decodes one snapshot
func (c *CAdvisor) Fetch(ctx context.Context, target string) (*snapshot.Snapshot, error) {
	start := time.Now()
	defer func() {
		metrics.SourceFetchDuration.Observe(time.Since(start).Seconds())
	}()

	endpoint := c.baseURL + "/" + url.PathEscape(target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, endpoint, resp.StatusCode)
	}

	if resp.ContentLength > c.maxBytes {
		return nil, fmt.Errorf("%w: %s sent %d bytes, limit %d", ErrBodyTooLarge, endpoint, resp.ContentLength, c.maxBytes)
	}

	// One byte past the limit tells a truncated body from one that fits
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, fmt.Errorf("%w: %s exceeded %d bytes", ErrBodyTooLarge, endpoint, c.maxBytes)
	}

	snap, err := snapshot.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	return snap, nil
}
