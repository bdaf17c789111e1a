package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nsgo/nsapi/pkg/api"
	"github.com/nsgo/nsapi/pkg/cache"
	"github.com/nsgo/nsapi/pkg/config"
	"github.com/nsgo/nsapi/pkg/logging"
	"github.com/nsgo/nsapi/pkg/scheduler"
	"github.com/nsgo/nsapi/pkg/telemetry"
	"github.com/nsgo/nsapi/pkg/transport"
)

// Client mediates all interaction with the remote API for one identity:
// requests are fingerprinted, optionally served from cache, and otherwise
// queued behind the cadence scheduler. Each Client owns its queue, scheduler
// state, and cache exclusively; instances are independent.
type Client struct {
	log       *logging.Logger
	transport *transport.Client
	sched     *scheduler.Scheduler
	cache     *cache.Store[*api.Response]
	memory    *telemetry.MemoryStore
	recorder  telemetry.Recorder
	sqlite    *telemetry.SQLiteStore

	mu      sync.Mutex
	baseURL string
	delays  scheduler.Delays
}

// New creates a Client from a validated configuration.
func New(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logging.NewLogger("client", logging.Level(cfg.LogLevel))

	tc, err := transport.New(api.UserAgent(cfg.UserAgent))
	if err != nil {
		return nil, err
	}
	tc.SetLogger(log.WithComponent("transport"))

	store, err := cache.New(cfg.CacheValidity, func(r *api.Response) *api.Response {
		return r.Clone()
	})
	if err != nil {
		return nil, err
	}
	store.SetEnabled(cfg.CacheEnabled)

	delays := scheduler.Delays{
		API:                cfg.APIDelay,
		RecruitTelegram:    cfg.RecruitTelegramDelay,
		NonRecruitTelegram: cfg.NonRecruitTelegramDelay,
	}

	c := &Client{
		log:       log,
		transport: tc,
		cache:     store,
		memory:    telemetry.NewMemoryStore(1000, 0),
		baseURL:   api.DefaultBaseURL,
		delays:    delays,
	}
	c.recorder = c.memory

	if cfg.TelemetryDB != "" {
		sqlite, err := telemetry.OpenSQLite(cfg.TelemetryDB)
		if err != nil {
			return nil, err
		}
		c.sqlite = sqlite
		c.recorder = telemetry.Multi(c.memory, sqlite)
	}

	c.sched = scheduler.New(scheduler.Options{
		Delays:         delays,
		Throttled:      cfg.Throttle,
		AllowImmediate: cfg.AllowImmediate,
		Logger:         log.WithComponent("scheduler"),
	})

	return c, nil
}

// Submit fingerprints the request, serves it from cache when possible, and
// otherwise queues it for dispatch. Submission fails synchronously with
// scheduler.ErrShutdown or scheduler.ErrNewBlocked; every other failure is
// reported through the returned Ticket.
func (c *Client) Submit(req *api.Request) (*Ticket, error) {
	// Admission is checked before the cache: a shut-down or blocked client
	// rejects every submission, warm fingerprint or not.
	if err := c.sched.Accepting(); err != nil {
		return nil, err
	}

	fingerprint, cacheable := req.Fingerprint()
	if cacheable {
		if resp, ok := c.cache.Get(fingerprint); ok {
			c.record(telemetry.Dispatch{
				Kind:     req.Kind.String(),
				Category: scheduler.Plain.String(),
				CacheHit: true,
				Success:  true,
				Status:   resp.Status,
			})
			return resolvedTicket(resp, true), nil
		}
	}

	ticket := newTicket()
	sreq := &scheduler.Request{
		Category: categoryFor(req),
		Cancel: func(err error) {
			ticket.resolve(nil, err)
		},
	}
	sreq.Execute = func(done func()) {
		defer done()
		c.execute(req, sreq, fingerprint, cacheable, ticket)
	}

	if err := c.sched.Submit(sreq); err != nil {
		return nil, err
	}
	return ticket, nil
}

// Fetch is the synchronous convenience path: submit and wait.
func (c *Client) Fetch(ctx context.Context, req *api.Request) (*api.Response, error) {
	ticket, err := c.Submit(req)
	if err != nil {
		return nil, err
	}
	return ticket.Wait(ctx)
}

// execute runs on the dispatch goroutine: network call, auth update, decode,
// cache store, telemetry, ticket resolution. A failure here never corrupts
// scheduler state; it only resolves this request's ticket.
func (c *Client) execute(req *api.Request, sreq *scheduler.Request, fingerprint string, cacheable bool, ticket *Ticket) {
	record := telemetry.Dispatch{
		Kind:      req.Kind.String(),
		Category:  sreq.Category.String(),
		QueueWait: time.Since(sreq.Enqueued()),
	}
	start := time.Now()

	httpReq, err := c.buildHTTPRequest(req)
	if err != nil {
		ticket.resolve(nil, err)
		record.Duration = time.Since(start)
		c.record(record)
		return
	}

	raw, err := c.transport.Do(context.Background(), httpReq)
	record.Duration = time.Since(start)
	if raw != nil {
		record.Status = raw.Status
	}
	if err != nil {
		ticket.resolve(nil, err)
		c.record(record)
		return
	}

	req.Auth.UpdateFrom(raw.Header)

	resp, err := api.Decode(req.Kind, raw.Status, raw.Header, raw.Body)
	if err != nil {
		ticket.resolve(nil, err)
		c.record(record)
		return
	}

	if cacheable {
		c.cache.Put(fingerprint, resp)
	}
	record.Success = true
	ticket.resolve(resp, nil)
	c.record(record)
}

func (c *Client) buildHTTPRequest(req *api.Request) (*http.Request, error) {
	c.mu.Lock()
	base := c.baseURL
	c.mu.Unlock()

	var httpReq *http.Request
	var err error
	if req.Kind == api.KindCommand {
		body := req.QueryValues().Encode()
		httpReq, err = http.NewRequest(http.MethodPost, base, strings.NewReader(body))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		httpReq, err = http.NewRequest(http.MethodGet, req.URL(base), nil)
	}
	if err != nil {
		return nil, err
	}
	req.Auth.ApplyHeaders(httpReq.Header)
	return httpReq, nil
}

func (c *Client) record(d telemetry.Dispatch) {
	if err := c.recorder.Record(d); err != nil {
		c.log.Warn("telemetry record failed", "error", err.Error())
	}
}

func categoryFor(req *api.Request) scheduler.Category {
	if req.Kind != api.KindTelegram {
		return scheduler.Plain
	}
	if req.Recruitment {
		return scheduler.RecruitmentTelegram
	}
	return scheduler.NonRecruitmentTelegram
}

// SetAPIDelay changes the general cadence floor. Values below the published
// minimum are configuration errors.
func (c *Client) SetAPIDelay(d time.Duration) error {
	if d < config.MinAPIDelay {
		return config.ValidationError{Field: "api_delay", Value: d,
			Message: fmt.Sprintf("must be at least %v", config.MinAPIDelay)}
	}
	c.mu.Lock()
	c.delays.API = d
	delays := c.delays
	c.mu.Unlock()
	c.sched.SetDelays(delays)
	return nil
}

// SetRecruitTelegramDelay changes the recruitment telegram cadence floor.
func (c *Client) SetRecruitTelegramDelay(d time.Duration) error {
	if d < config.MinRecruitTelegramDelay {
		return config.ValidationError{Field: "recruit_telegram_delay", Value: d,
			Message: fmt.Sprintf("must be at least %v", config.MinRecruitTelegramDelay)}
	}
	c.mu.Lock()
	c.delays.RecruitTelegram = d
	delays := c.delays
	c.mu.Unlock()
	c.sched.SetDelays(delays)
	return nil
}

// SetNonRecruitTelegramDelay changes the non-recruitment telegram cadence
// floor.
func (c *Client) SetNonRecruitTelegramDelay(d time.Duration) error {
	if d < config.MinNonRecruitTelegramDelay {
		return config.ValidationError{Field: "non_recruit_telegram_delay", Value: d,
			Message: fmt.Sprintf("must be at least %v", config.MinNonRecruitTelegramDelay)}
	}
	c.mu.Lock()
	c.delays.NonRecruitTelegram = d
	delays := c.delays
	c.mu.Unlock()
	c.sched.SetDelays(delays)
	return nil
}

// SetThrottled switches cadence enforcement on or off at runtime without
// losing queued requests.
func (c *Client) SetThrottled(throttled bool) {
	c.sched.SetThrottled(throttled)
}

// SetBlockNew rejects or accepts new submissions.
func (c *Client) SetBlockNew(block bool) {
	c.sched.SetBlockNew(block)
}

// SetBlockExisting freezes or resumes dispatch of queued requests.
func (c *Client) SetBlockExisting(block bool) {
	c.sched.SetBlockExisting(block)
}

// SetCacheEnabled toggles the cache without clearing it.
func (c *Client) SetCacheEnabled(enabled bool) {
	c.cache.SetEnabled(enabled)
}

// SetCacheValidity changes the cache validity window; it must be positive
// (cache.Forever for entries that never expire).
func (c *Client) SetCacheValidity(d time.Duration) error {
	return c.cache.SetValidity(d)
}

// ClearCache removes all cached responses.
func (c *Client) ClearCache() {
	c.cache.Clear()
}

// CancelAll drains the queue, failing every queued ticket with
// scheduler.ErrCancelled. In-flight dispatches are unaffected.
func (c *Client) CancelAll() {
	c.sched.CancelAll()
}

// QueueLen returns the number of queued (not yet dispatched) requests.
func (c *Client) QueueLen() int {
	return c.sched.Len()
}

// Stats returns aggregated telemetry over recent dispatches.
func (c *Client) Stats() telemetry.Stats {
	return c.memory.Aggregate()
}

// Shutdown cancels all queued requests, stops the scheduler permanently,
// and closes the telemetry sink. Irreversible for this instance.
func (c *Client) Shutdown() {
	c.sched.Shutdown()
	if c.sqlite != nil {
		if err := c.sqlite.Close(); err != nil {
			c.log.Warn("closing telemetry database", "error", err.Error())
		}
	}
}

// SetBaseURL points the client at a different endpoint, for mirrors and
// test servers.
func (c *Client) SetBaseURL(base string) {
	c.mu.Lock()
	c.baseURL = base
	c.mu.Unlock()
}

// Transport exposes the underlying HTTP executor, for bucket tuning.
func (c *Client) Transport() *transport.Client {
	return c.transport
}
