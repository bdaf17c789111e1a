package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsgo/nsapi/pkg/api"
	"github.com/nsgo/nsapi/pkg/config"
	"github.com/nsgo/nsapi/pkg/scheduler"
	"github.com/nsgo/nsapi/pkg/transport"
)

const nationXML = `<NATION id="testlandia">
<NAME>Testlandia</NAME>
<REGION>Testregionia</REGION>
<POPULATION>39471</POPULATION>
</NATION>`

func testConfig() *config.Config {
	cfg := config.LoadWithDefaults()
	cfg.UserAgent = "Testlandia (test@example.org)"
	cfg.AllowImmediate = true
	return cfg
}

// newTestClient builds a client pointed at server, with dispatch cadence
// shrunk to keep tests fast. Floors apply to configuration, not to direct
// scheduler tuning.
func newTestClient(t *testing.T, cfg *config.Config, server *httptest.Server) *Client {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)

	c.SetBaseURL(server.URL)
	c.sched.SetDelays(scheduler.Delays{
		API:                time.Millisecond,
		RecruitTelegram:    time.Millisecond,
		NonRecruitTelegram: time.Millisecond,
	})
	return c
}

func nationServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Write([]byte(nationXML))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClient_FetchNation(t *testing.T) {
	server := nationServer(t, nil)
	c := newTestClient(t, testConfig(), server)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := c.Fetch(ctx, api.NewNation("Testlandia", "name", "region"))
	require.NoError(t, err)
	require.NotNil(t, resp.Nation)
	assert.Equal(t, "Testlandia", resp.Nation.Name)
	assert.Equal(t, "Testregionia", resp.Nation.Region)
}

func TestClient_CacheHitSkipsDispatch(t *testing.T) {
	var hits atomic.Int32
	server := nationServer(t, &hits)
	c := newTestClient(t, testConfig(), server)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := api.NewNation("Testlandia", "name")
	first, err := c.Fetch(ctx, req)
	require.NoError(t, err)

	ticket, err := c.Submit(api.NewNation("testlandia", "name"))
	require.NoError(t, err)
	second, err := ticket.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(1), hits.Load(), "second request must come from cache")
	assert.True(t, ticket.CacheHit())
	assert.Equal(t, first.Nation.Name, second.Nation.Name)

	// The cached copy is isolated from the caller's.
	second.Nation.Name = "Mutated"
	third, err := c.Fetch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Testlandia", third.Nation.Name)

	stats := c.Stats()
	assert.Equal(t, 2, stats.CacheHits)
}

func TestClient_CacheDisabledAlwaysDispatches(t *testing.T) {
	var hits atomic.Int32
	server := nationServer(t, &hits)
	cfg := testConfig()
	cfg.CacheEnabled = false
	c := newTestClient(t, cfg, server)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := api.NewNation("Testlandia", "name")
	_, err := c.Fetch(ctx, req)
	require.NoError(t, err)
	_, err = c.Fetch(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_DecodeFailureNotCached(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Write([]byte("<NATION><NAME>unterminated"))
			return
		}
		w.Write([]byte(nationXML))
	}))
	defer server.Close()
	c := newTestClient(t, testConfig(), server)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := api.NewNation("Testlandia", "name")
	_, err := c.Fetch(ctx, req)
	var decodeErr *api.DecodeError
	require.ErrorAs(t, err, &decodeErr)

	resp, err := c.Fetch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Testlandia", resp.Nation.Name)
	assert.Equal(t, int32(2), hits.Load(), "failed decode must not poison the cache")
}

func TestClient_StatusErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "10")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()
	c := newTestClient(t, testConfig(), server)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Fetch(ctx, api.NewNation("Testlandia", "name"))
	var statusErr *transport.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.Status)

	wait, ok := statusErr.RetryAfter()
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, wait)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Failures)
}

func TestClient_AuthSessionUpdate(t *testing.T) {
	var gotPassword, gotPIN atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPassword.Store(r.Header.Get("X-Password"))
		gotPIN.Store(r.Header.Get("X-Pin"))
		w.Header().Set("X-Pin", "67890")
		w.Write([]byte("ok"))
	}))
	defer server.Close()
	c := newTestClient(t, testConfig(), server)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	auth := &api.Auth{Password: "hunter2", UpdatePIN: true}
	resp, err := c.Fetch(ctx, api.NewCommand("testlandia", "issue", nil, auth))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, "hunter2", gotPassword.Load())
	assert.Equal(t, "67890", auth.PIN, "session pin written back")

	// The established session is used on the next call.
	_, err = c.Fetch(ctx, api.NewCommand("testlandia", "issue", nil, auth))
	require.NoError(t, err)
	assert.Equal(t, "67890", gotPIN.Load())
}

func TestClient_BlockNewRejectsSubmission(t *testing.T) {
	server := nationServer(t, nil)
	c := newTestClient(t, testConfig(), server)

	c.SetBlockNew(true)
	_, err := c.Submit(api.NewNation("Testlandia", "name"))
	assert.ErrorIs(t, err, scheduler.ErrNewBlocked)

	c.SetBlockNew(false)
	_, err = c.Submit(api.NewNation("Testlandia", "name"))
	assert.NoError(t, err)
}

func TestClient_CancelAllFailsQueuedTickets(t *testing.T) {
	server := nationServer(t, nil)
	c := newTestClient(t, testConfig(), server)

	c.SetBlockExisting(true)
	ticket, err := c.Submit(api.NewNation("Testlandia", "name"))
	require.NoError(t, err)

	c.CancelAll()
	_, err = ticket.Wait(context.Background())
	assert.ErrorIs(t, err, scheduler.ErrCancelled)
	assert.Zero(t, c.QueueLen())
}

func TestClient_ShutdownRejectsFurtherSubmissions(t *testing.T) {
	server := nationServer(t, nil)
	cfg := testConfig()
	c, err := New(cfg)
	require.NoError(t, err)
	c.SetBaseURL(server.URL)

	c.Shutdown()
	_, err = c.Submit(api.NewNation("Testlandia", "name"))
	assert.ErrorIs(t, err, scheduler.ErrShutdown)
}

func TestClient_ShutdownRejectsCachedFingerprint(t *testing.T) {
	server := nationServer(t, nil)
	c := newTestClient(t, testConfig(), server)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := api.NewNation("Testlandia", "name")
	_, err := c.Fetch(ctx, req)
	require.NoError(t, err)

	c.Shutdown()
	_, err = c.Submit(api.NewNation("Testlandia", "name"))
	assert.ErrorIs(t, err, scheduler.ErrShutdown,
		"a warm cache entry must not outlive shutdown")
}

func TestClient_BlockNewRejectsCachedFingerprint(t *testing.T) {
	server := nationServer(t, nil)
	c := newTestClient(t, testConfig(), server)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := api.NewNation("Testlandia", "name")
	_, err := c.Fetch(ctx, req)
	require.NoError(t, err)

	c.SetBlockNew(true)
	_, err = c.Submit(api.NewNation("Testlandia", "name"))
	assert.ErrorIs(t, err, scheduler.ErrNewBlocked)

	c.SetBlockNew(false)
	ticket, err := c.Submit(api.NewNation("Testlandia", "name"))
	require.NoError(t, err)
	assert.True(t, ticket.CacheHit(), "the entry is served again once unblocked")
}

func TestClient_DelaySettersEnforceFloors(t *testing.T) {
	server := nationServer(t, nil)
	c := newTestClient(t, testConfig(), server)

	assert.Error(t, c.SetAPIDelay(100*time.Millisecond))
	assert.NoError(t, c.SetAPIDelay(config.MinAPIDelay))

	assert.Error(t, c.SetRecruitTelegramDelay(time.Second))
	assert.NoError(t, c.SetRecruitTelegramDelay(config.MinRecruitTelegramDelay))

	assert.Error(t, c.SetNonRecruitTelegramDelay(time.Second))
	assert.NoError(t, c.SetNonRecruitTelegramDelay(config.MinNonRecruitTelegramDelay))

	var valErr config.ValidationError
	assert.ErrorAs(t, c.SetAPIDelay(0), &valErr)
	assert.Equal(t, "api_delay", valErr.Field)
}

func TestClient_SetCacheValidityRejectsNonPositive(t *testing.T) {
	server := nationServer(t, nil)
	c := newTestClient(t, testConfig(), server)

	assert.Error(t, c.SetCacheValidity(0))
	assert.NoError(t, c.SetCacheValidity(time.Minute))
}

func TestClient_ClearCacheForcesRefetch(t *testing.T) {
	var hits atomic.Int32
	server := nationServer(t, &hits)
	c := newTestClient(t, testConfig(), server)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := api.NewNation("Testlandia", "name")
	_, err := c.Fetch(ctx, req)
	require.NoError(t, err)

	c.ClearCache()
	_, err = c.Fetch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_New_RejectsInvalidConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	cfg := config.LoadWithDefaults() // no user agent
	_, err = New(cfg)
	assert.Error(t, err)
}
