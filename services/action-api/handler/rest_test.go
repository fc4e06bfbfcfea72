package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhoffman0214/BobsComponents/internal/domain"
	"github.com/rhoffman0214/BobsComponents/internal/operations"
	"github.com/rhoffman0214/BobsComponents/internal/queue"
	redisstore "github.com/rhoffman0214/BobsComponents/internal/redis"
	"github.com/rhoffman0214/BobsComponents/services/action-api/handler"
	"github.com/rhoffman0214/BobsComponents/services/action-api/launcher"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string) (bool, error) {
	f.keys = append(f.keys, key)
	return f.allow, f.err
}
func (f *fakeLimiter) Limit() int { return 10 }

type brokenLauncher struct{ handler.Launcher }

func (brokenLauncher) Submit(launcher.Submission) (domain.OperationMetadata, error) {
	return domain.OperationMetadata{}, errors.New("executor exploded")
}

// ── helpers ──────────────────────────────────────────────────────────────────

type fixture struct {
	queue  *queue.Service
	router http.Handler
}

func newFixture(t *testing.T, maxConcurrent int, limiter *fakeLimiter) *fixture {
	t.Helper()
	reg := operations.NewRegistry()
	reg.Register("instant", func(_ context.Context, p domain.ProgressFunc) (any, error) {
		p(100)
		return "ok", nil
	})
	reg.Register("hang", func(ctx context.Context, _ domain.ProgressFunc) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	reg.Register("broken", func(context.Context, domain.ProgressFunc) (any, error) {
		return nil, domain.ErrUnauthorized
	})

	q := queue.NewService(queue.WithMaxConcurrent(maxConcurrent))
	l := launcher.New(q, reg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		l.Drain(ctx) //nolint:errcheck
	})

	var rl redisstore.RateLimiter
	if limiter != nil {
		rl = limiter
	}
	r := chi.NewRouter()
	handler.NewREST(l, q, rl, slog.Default()).Routes(r)
	return &fixture{queue: q, router: r}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.7:51234"
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (f *fixture) waitFor(t *testing.T, id string, state domain.ActionState) {
	t.Helper()
	require.Eventually(t, func() bool {
		a, err := f.queue.Get(id)
		return err == nil && a.State == state
	}, time.Second, 5*time.Millisecond)
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestSubmitAction(t *testing.T) {
	f := newFixture(t, 50, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/actions", `{"operation":"instant","name":"Load"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[handler.SubmitActionResponse](t, rec)
	assert.NotEmpty(t, resp.ActionID)
	assert.NotEmpty(t, resp.OperationID)
	assert.Equal(t, domain.StateLoading, resp.State)

	f.waitFor(t, resp.ActionID, domain.StateSuccess)
	got := decode[domain.ActionMetadata](t, f.do(t, http.MethodGet, "/api/v1/actions/"+resp.ActionID, ""))
	assert.Equal(t, "Load", got.Name)
	assert.Equal(t, 100, got.Progress)
}

func TestSubmitAction_Rejections(t *testing.T) {
	tests := map[string]struct {
		body      string
		expStatus int
		expError  string
	}{
		"Malformed body":    {body: `{`, expStatus: http.StatusBadRequest, expError: "invalid request body"},
		"Missing operation": {body: `{"operation":"  "}`, expStatus: http.StatusBadRequest, expError: "field 'operation' is required"},
		"Unknown operation": {body: `{"operation":"teleport"}`, expStatus: http.StatusBadRequest, expError: "teleport"},
		"Unknown preset":    {body: `{"operation":"instant","retry":"aggressive"}`, expStatus: http.StatusBadRequest, expError: "aggressive"},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, 50, nil)
			rec := f.do(t, http.MethodPost, "/api/v1/actions", test.body)

			assert.Equal(t, test.expStatus, rec.Code)
			assert.Contains(t, decode[map[string]string](t, rec)["error"], test.expError)
			assert.Empty(t, f.queue.Actions())
		})
	}
}

func TestSubmitAction_AtCapacity(t *testing.T) {
	f := newFixture(t, 1, nil)

	first := f.do(t, http.MethodPost, "/api/v1/actions", `{"operation":"hang"}`)
	require.Equal(t, http.StatusAccepted, first.Code)

	rec := f.do(t, http.MethodPost, "/api/v1/actions", `{"operation":"instant"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "at capacity, try again later", decode[map[string]string](t, rec)["error"])
	assert.Len(t, f.queue.Actions(), 1)

	stats := decode[map[string]domain.ErrorMetadata](t, f.do(t, http.MethodGet, "/api/v1/errors", ""))
	assert.Zero(t, stats["instant"].TotalErrors)
}

func TestSubmitAction_RateLimit(t *testing.T) {
	tests := map[string]struct {
		limiter   *fakeLimiter
		expStatus int
	}{
		"Allowed":             {limiter: &fakeLimiter{allow: true}, expStatus: http.StatusAccepted},
		"Denied":              {limiter: &fakeLimiter{allow: false}, expStatus: http.StatusTooManyRequests},
		"Limiter unavailable": {limiter: &fakeLimiter{err: errors.New("connection refused")}, expStatus: http.StatusAccepted},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, 50, test.limiter)
			rec := f.do(t, http.MethodPost, "/api/v1/actions", `{"operation":"instant"}`)

			assert.Equal(t, test.expStatus, rec.Code)
			assert.Equal(t, []string{"203.0.113.7"}, test.limiter.keys)
		})
	}
}

func TestSubmitAction_LaunchFailure(t *testing.T) {
	q := queue.NewService()
	h := handler.NewREST(brokenLauncher{}, q, nil, slog.Default())
	r := chi.NewRouter()
	h.Routes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/actions", strings.NewReader(`{"operation":"x"}`)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "exploded")
}

func TestListActions(t *testing.T) {
	f := newFixture(t, 2, nil)
	f.do(t, http.MethodPost, "/api/v1/actions", `{"operation":"hang"}`)
	f.do(t, http.MethodPost, "/api/v1/actions", `{"operation":"hang"}`)

	resp := decode[handler.ListActionsResponse](t, f.do(t, http.MethodGet, "/api/v1/actions", ""))

	assert.Len(t, resp.Actions, 2)
	assert.Equal(t, 2, resp.Running)
	assert.True(t, resp.AtLimit)
	assert.Equal(t, 2, resp.MaxConcurrent)
}

func TestGetAction_NotFound(t *testing.T) {
	f := newFixture(t, 50, nil)
	rec := f.do(t, http.MethodGet, "/api/v1/actions/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelAction(t *testing.T) {
	f := newFixture(t, 50, nil)
	submitted := decode[handler.SubmitActionResponse](t, f.do(t, http.MethodPost, "/api/v1/actions", `{"operation":"hang"}`))

	rec := f.do(t, http.MethodPost, "/api/v1/actions/"+submitted.ActionID+"/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	a, err := f.queue.Get(submitted.ActionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateError, a.State)
	assert.Equal(t, domain.UserMessageFor(domain.CodeOperationCancelled), a.ErrorMessage)

	require.Eventually(t, func() bool {
		return f.do(t, http.MethodPost, "/api/v1/actions/"+submitted.ActionID+"/cancel", "").Code == http.StatusConflict
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/v1/actions/nope/cancel", "").Code)
}

func TestCleanupAndClear(t *testing.T) {
	f := newFixture(t, 50, nil)
	submitted := decode[handler.SubmitActionResponse](t, f.do(t, http.MethodPost, "/api/v1/actions", `{"operation":"instant"}`))
	f.waitFor(t, submitted.ActionID, domain.StateSuccess)

	// Completed a moment ago: still inside the retention window.
	cleaned := decode[map[string]int](t, f.do(t, http.MethodPost, "/api/v1/actions/cleanup", ""))
	assert.Equal(t, 0, cleaned["removed"])

	rec := f.do(t, http.MethodDelete, "/api/v1/actions", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.queue.Actions())
}

func TestErrorStats(t *testing.T) {
	f := newFixture(t, 50, nil)
	submitted := decode[handler.SubmitActionResponse](t, f.do(t, http.MethodPost, "/api/v1/actions", `{"operation":"broken"}`))
	f.waitFor(t, submitted.ActionID, domain.StateError)

	var stats map[string]domain.ErrorMetadata
	require.Eventually(t, func() bool {
		stats = decode[map[string]domain.ErrorMetadata](t, f.do(t, http.MethodGet, "/api/v1/errors", ""))
		return stats["broken"].TotalErrors == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, stats["broken"].ByCode[domain.CodeUnauthorized])
}

func TestListOperations(t *testing.T) {
	f := newFixture(t, 50, nil)
	resp := decode[map[string][]string](t, f.do(t, http.MethodGet, "/api/v1/operations", ""))
	assert.Equal(t, []string{"broken", "hang", "instant"}, resp["operations"])
}
