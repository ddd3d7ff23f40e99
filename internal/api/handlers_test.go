// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamjuke/streamjuke/internal/command"
	"github.com/streamjuke/streamjuke/internal/health"
	"github.com/streamjuke/streamjuke/internal/queue"
	"github.com/streamjuke/streamjuke/internal/ratelimit"
)

type fakeSkipper struct {
	skips atomic.Int32
}

func (f *fakeSkipper) Skip() { f.skips.Add(1) }

type testHarness struct {
	server  *Server
	store   queue.Store
	skipper *fakeSkipper
}

func newTestHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()
	store := queue.NewMemoryStore()
	limiter := ratelimit.New(ratelimit.Config{PerMinute: 6000, Burst: 100})
	skipper := &fakeSkipper{}
	commands := command.New(store, limiter, skipper)

	hm := health.NewManager("test")
	hm.RegisterChecker(health.NewStoreChecker(func(ctx context.Context) error {
		_, err := store.PendingCount(ctx)
		return err
	}))

	return &testHarness{
		server:  New(cfg, commands, hm),
		store:   store,
		skipper: skipper,
	}
}

func (h *testHarness) do(t *testing.T, method, path, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if role != "" {
		req.Header.Set(HeaderRole, role)
	}
	rr := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeInto[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

func TestSubmitEndpoint(t *testing.T) {
	h := newTestHarness(t, Config{})

	rr := h.do(t, http.MethodPost, "/api/v1/queue", "viewer", submitRequest{
		URL:       "https://youtube.com/watch?v=abc",
		Submitter: "alice",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	resp := decodeInto[submitResponse](t, rr)
	assert.Equal(t, int64(1), resp.Position)
	assert.Contains(t, resp.Notice, "NOTICE", "first submission carries the copyright notice")

	item, err := h.store.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", item.SubmittedBy)
	assert.Equal(t, queue.StatusPending, item.Status)
}

func TestSubmitEndpointValidation(t *testing.T) {
	h := newTestHarness(t, Config{})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/queue", bytes.NewReader([]byte("{not json")))
		rr := httptest.NewRecorder()
		h.server.Handler().ServeHTTP(rr, req)

		require.Equal(t, http.StatusBadRequest, rr.Code)
		resp := decodeInto[errorResponse](t, rr)
		assert.Equal(t, codeBadRequest, resp.Error)
	})

	t.Run("unknown field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/queue",
			bytes.NewReader([]byte(`{"url":"https://youtu.be/x","submitter":"a","surprise":1}`)))
		rr := httptest.NewRecorder()
		h.server.Handler().ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("bad url", func(t *testing.T) {
		rr := h.do(t, http.MethodPost, "/api/v1/queue", "viewer", submitRequest{
			URL:       "https://evil.example.com/clip.avi",
			Submitter: "alice",
		})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		resp := decodeInto[errorResponse](t, rr)
		assert.Equal(t, codeInvalidURL, resp.Error)
		assert.NotEmpty(t, resp.Detail)
	})

	t.Run("empty submitter", func(t *testing.T) {
		rr := h.do(t, http.MethodPost, "/api/v1/queue", "viewer", submitRequest{
			URL:       "https://youtu.be/x",
			Submitter: "   ",
		})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		resp := decodeInto[errorResponse](t, rr)
		assert.Equal(t, codeInvalidSubmitter, resp.Error)
	})
}

func TestSubmitEndpointRateLimited(t *testing.T) {
	store := queue.NewMemoryStore()
	limiter := ratelimit.New(ratelimit.Config{PerMinute: 1, Burst: 1})
	commands := command.New(store, limiter, &fakeSkipper{})
	srv := New(Config{}, commands, health.NewManager("test"))

	body := func() *bytes.Reader {
		raw, _ := json.Marshal(submitRequest{URL: "https://youtu.be/x", Submitter: "spammer"})
		return bytes.NewReader(raw)
	}

	first := httptest.NewRecorder()
	srv.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/api/v1/queue", body()))
	require.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	srv.Handler().ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/api/v1/queue", body()))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	resp := decodeInto[errorResponse](t, second)
	assert.Equal(t, codeRateLimited, resp.Error)
}

func TestQueueEndpoint(t *testing.T) {
	h := newTestHarness(t, Config{})
	for i := 0; i < 7; i++ {
		rr := h.do(t, http.MethodPost, "/api/v1/queue", "viewer", submitRequest{
			URL:       fmt.Sprintf("https://youtu.be/clip%d", i),
			Submitter: fmt.Sprintf("user%d", i),
		})
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	t.Run("default limit", func(t *testing.T) {
		rr := h.do(t, http.MethodGet, "/api/v1/queue", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decodeInto[queueResponse](t, rr)
		assert.Len(t, resp.Items, 5)
		assert.Equal(t, "user0", resp.Items[0].Submitter)
		assert.Equal(t, int64(1), resp.Items[0].Position)
	})

	t.Run("explicit limit", func(t *testing.T) {
		rr := h.do(t, http.MethodGet, "/api/v1/queue?limit=2", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decodeInto[queueResponse](t, rr)
		assert.Len(t, resp.Items, 2)
	})

	t.Run("limit clamped to ten", func(t *testing.T) {
		rr := h.do(t, http.MethodGet, "/api/v1/queue?limit=500", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decodeInto[queueResponse](t, rr)
		assert.Len(t, resp.Items, 7)
	})

	t.Run("non-numeric limit", func(t *testing.T) {
		rr := h.do(t, http.MethodGet, "/api/v1/queue?limit=lots", "", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestNowPlayingEndpoint(t *testing.T) {
	h := newTestHarness(t, Config{})

	t.Run("idle", func(t *testing.T) {
		rr := h.do(t, http.MethodGet, "/api/v1/queue/now", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decodeInto[nowPlayingResponse](t, rr)
		assert.False(t, resp.Playing)
		assert.Nil(t, resp.Item)
	})

	t.Run("on air", func(t *testing.T) {
		ctx := context.Background()
		item := queue.New("https://youtu.be/live", "alice", "https://soundcloud.com/alice")
		_, err := h.store.Enqueue(ctx, item)
		require.NoError(t, err)
		require.NoError(t, h.store.UpdateEnrichment(ctx, item.ID, "/tmp/live.mp4", "Live Set", 180))
		require.NoError(t, h.store.UpdateStatus(ctx, item.ID, queue.StatusDownloading, ""))
		require.NoError(t, h.store.UpdateStatus(ctx, item.ID, queue.StatusPlaying, ""))

		rr := h.do(t, http.MethodGet, "/api/v1/queue/now", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decodeInto[nowPlayingResponse](t, rr)
		require.True(t, resp.Playing)
		require.NotNil(t, resp.Item)
		assert.Equal(t, "Live Set", resp.Item.Title)
		assert.Equal(t, "alice", resp.Item.Submitter)
		assert.Equal(t, float64(180), resp.Item.DurationSeconds)
		assert.Equal(t, "https://soundcloud.com/alice", resp.Item.Promo)
	})
}

func TestSkipEndpoint(t *testing.T) {
	h := newTestHarness(t, Config{})

	t.Run("viewer forbidden", func(t *testing.T) {
		rr := h.do(t, http.MethodPost, "/api/v1/queue/skip", "viewer", nil)
		require.Equal(t, http.StatusForbidden, rr.Code)
		resp := decodeInto[errorResponse](t, rr)
		assert.Equal(t, codeForbidden, resp.Error)
		assert.Zero(t, h.skipper.skips.Load())
	})

	t.Run("missing role header is viewer", func(t *testing.T) {
		rr := h.do(t, http.MethodPost, "/api/v1/queue/skip", "", nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("moderator allowed", func(t *testing.T) {
		rr := h.do(t, http.MethodPost, "/api/v1/queue/skip", "moderator", nil)
		require.Equal(t, http.StatusAccepted, rr.Code)
		resp := decodeInto[skipResponse](t, rr)
		assert.True(t, resp.Accepted)
		assert.Equal(t, int32(1), h.skipper.skips.Load())
	})

	t.Run("unknown role downgrades to viewer", func(t *testing.T) {
		rr := h.do(t, http.MethodPost, "/api/v1/queue/skip", "admin", nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, int32(1), h.skipper.skips.Load())
	})
}

func TestClearEndpoint(t *testing.T) {
	h := newTestHarness(t, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.store.Enqueue(ctx, queue.New(fmt.Sprintf("https://youtu.be/c%d", i), "alice", ""))
		require.NoError(t, err)
	}

	t.Run("moderator forbidden", func(t *testing.T) {
		rr := h.do(t, http.MethodDelete, "/api/v1/queue/pending", "moderator", nil)
		require.Equal(t, http.StatusForbidden, rr.Code)

		n, err := h.store.PendingCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("broadcaster clears", func(t *testing.T) {
		rr := h.do(t, http.MethodDelete, "/api/v1/queue/pending", "broadcaster", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decodeInto[clearResponse](t, rr)
		assert.Equal(t, 3, resp.Cleared)

		n, err := h.store.PendingCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestHelpEndpoint(t *testing.T) {
	h := newTestHarness(t, Config{})

	rr := h.do(t, http.MethodGet, "/api/v1/help", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeInto[helpResponse](t, rr)
	assert.Contains(t, resp.Text, "!request")
	assert.Contains(t, resp.Text, "!skip")
}

func TestOpenAPIDocumentServed(t *testing.T) {
	h := newTestHarness(t, Config{})

	rr := h.do(t, http.MethodGet, "/api/v1/openapi.yaml", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/yaml", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "openapi: 3.0.3")
}

func TestProbeEndpoints(t *testing.T) {
	h := newTestHarness(t, Config{Token: "sekrit"})

	t.Run("healthz open", func(t *testing.T) {
		rr := h.do(t, http.MethodGet, "/healthz", "", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("readyz open", func(t *testing.T) {
		rr := h.do(t, http.MethodGet, "/readyz", "", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("metrics open", func(t *testing.T) {
		rr := h.do(t, http.MethodGet, "/metrics", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "juke_")
	})
}
