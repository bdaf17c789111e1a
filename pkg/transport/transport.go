package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nsgo/nsapi/pkg/logging"
)

// The remote API enforces a hard request bucket on top of the recommended
// spacing: at most DefaultBucketSize requests in any DefaultBucketWindow.
// The ceiling limiter guards this bucket even when the dispatch scheduler
// runs unthrottled.
const (
	DefaultBucketSize   = 50
	DefaultBucketWindow = 30 * time.Second

	// DefaultTimeout bounds a single network call.
	DefaultTimeout = 30 * time.Second

	// maxBodySize caps response reads to keep a misbehaving endpoint from
	// exhausting memory.
	maxBodySize = 8 * 1024 * 1024
)

// Raw is the transport-level view of a completed call: undecoded body plus
// response metadata.
type Raw struct {
	Status int
	Header http.Header
	Body   []byte
}

// StatusError reports a non-2xx response, with metadata attached for the
// caller. The transport never retries; Retry-After information is exposed so
// a caller can implement its own policy.
type StatusError struct {
	Status int
	Header http.Header
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote API returned status %d", e.Status)
}

// RetryAfter reports the server-requested wait before the next attempt, when
// the response carries one.
func (e *StatusError) RetryAfter() (time.Duration, bool) {
	for _, h := range []string{"Retry-After", "X-Retry-After"} {
		if v := e.Header.Get(h); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
				return time.Duration(secs) * time.Second, true
			}
		}
	}
	return 0, false
}

// Client performs the actual network calls for dispatched requests. It is
// safe for concurrent use.
type Client struct {
	http      *http.Client
	userAgent string
	log       *logging.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
}

// New creates a Client with the default HTTP timeout and bucket ceiling.
// userAgent is mandatory: the remote API rejects anonymous traffic.
func New(userAgent string) (*Client, error) {
	return NewWithClient(userAgent, &http.Client{Timeout: DefaultTimeout})
}

// NewWithClient creates a Client around a caller-supplied http.Client.
func NewWithClient(userAgent string, httpClient *http.Client) (*Client, error) {
	if userAgent == "" {
		return nil, fmt.Errorf("user agent is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		http:      httpClient,
		limiter:   rate.NewLimiter(rate.Every(DefaultBucketWindow/DefaultBucketSize), DefaultBucketSize),
		userAgent: userAgent,
		log:       logging.Discard(),
	}, nil
}

// SetLogger attaches a structured logger. A nil logger restores the discard
// default.
func (c *Client) SetLogger(log *logging.Logger) {
	if log == nil {
		log = logging.Discard()
	}
	c.log = log
}

// SetBucket replaces the ceiling limiter, for tests and mock endpoints.
// Calls already waiting on the previous limiter are unaffected.
func (c *Client) SetBucket(size int, window time.Duration) {
	c.mu.Lock()
	c.limiter = rate.NewLimiter(rate.Every(window/time.Duration(size)), size)
	c.mu.Unlock()
}

func (c *Client) bucket() *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limiter
}

// Do performs the HTTP call, reads the body, and returns the raw result.
// Non-2xx statuses return both the raw response and a *StatusError so the
// caller sees the metadata either way. Do blocks on the bucket ceiling when
// it has been exhausted.
func (c *Client) Do(ctx context.Context, req *http.Request) (*Raw, error) {
	if err := c.bucket().Wait(ctx); err != nil {
		return nil, err
	}

	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("request failed", "url", req.URL.String(), "error", err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	raw := &Raw{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	}

	c.log.Debug("request completed",
		"url", req.URL.String(),
		"status", resp.StatusCode,
		"duration", time.Since(start).String())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return raw, &StatusError{Status: resp.StatusCode, Header: resp.Header}
	}
	return raw, nil
}
