// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChecker struct {
	name   string
	status Status
}

func (c *mockChecker) Name() string { return c.name }

func (c *mockChecker) Check(_ context.Context) CheckResult {
	return CheckResult{Status: c.status}
}

func TestNewManager(t *testing.T) {
	m := NewManager("v1.2.3")
	assert.NotNil(t, m)
	assert.Equal(t, "v1.2.3", m.version)
	assert.Empty(t, m.checkers)
}

func TestManager_Health_NoCheckers(t *testing.T) {
	m := NewManager("v1.0.0")

	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.GreaterOrEqual(t, resp.Uptime, int64(0))
	assert.Nil(t, resp.Checks)
}

func TestManager_Health_WithCheckers(t *testing.T) {
	m := NewManager("v1.0.0")

	m.RegisterChecker(&mockChecker{name: "healthy", status: StatusHealthy})
	m.RegisterChecker(&mockChecker{name: "degraded", status: StatusDegraded})

	// Non-verbose: no checks included
	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Nil(t, resp.Checks)

	// Verbose: checks included
	resp = m.Health(context.Background(), true)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)
	assert.Equal(t, StatusHealthy, resp.Checks["healthy"].Status)
	assert.Equal(t, StatusDegraded, resp.Checks["degraded"].Status)
}

func TestManager_Health_Unhealthy(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "unhealthy", status: StatusUnhealthy})

	resp := m.Health(context.Background(), true)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Len(t, resp.Checks, 1)
}

func TestManager_Ready_NoCheckers(t *testing.T) {
	m := NewManager("v1.0.0")

	resp := m.Ready(context.Background())
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestManager_Ready_UnhealthyBlocksReadiness(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "store", status: StatusUnhealthy})

	resp := m.Ready(context.Background())
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestManager_Ready_DegradedStaysReady(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "classifier", status: StatusDegraded})

	resp := m.Ready(context.Background())
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusDegraded, resp.Status)
}

func TestServeHealth(t *testing.T) {
	m := NewManager("v1.0.0")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	m.ServeHealth(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.WithinDuration(t, time.Now(), resp.Timestamp, 5*time.Second)
}

func TestServeReady_Unready503(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "store", status: StatusUnhealthy})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	m.ServeReady(rr, req)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Ready)
}

func TestStoreChecker(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		c := NewStoreChecker(func(_ context.Context) error { return nil })
		result := c.Check(context.Background())
		assert.Equal(t, StatusHealthy, result.Status)
	})

	t.Run("ping fails", func(t *testing.T) {
		c := NewStoreChecker(func(_ context.Context) error { return errors.New("database is locked") })
		result := c.Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Contains(t, result.Error, "database is locked")
	})

	t.Run("not wired", func(t *testing.T) {
		c := NewStoreChecker(nil)
		result := c.Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
	})
}

func TestSinkChecker(t *testing.T) {
	t.Run("configured", func(t *testing.T) {
		c := NewSinkChecker(func() string { return "rtmp://live.example.com/app/key" })
		result := c.Check(context.Background())
		assert.Equal(t, StatusHealthy, result.Status)
	})

	t.Run("missing", func(t *testing.T) {
		c := NewSinkChecker(func() string { return "" })
		result := c.Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
	})
}

func TestClassifierChecker(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		c := NewClassifierChecker(func() error { return nil })
		result := c.Check(context.Background())
		assert.Equal(t, StatusHealthy, result.Status)
	})

	t.Run("open approval mode is degraded", func(t *testing.T) {
		c := NewClassifierChecker(func() error { return errors.New("no embedder or filter script configured") })
		result := c.Check(context.Background())
		assert.Equal(t, StatusDegraded, result.Status)
		assert.Contains(t, result.Message, "no embedder")
	})
}

func TestWritableDirChecker(t *testing.T) {
	t.Run("writable", func(t *testing.T) {
		c := NewWritableDirChecker("media_dir", t.TempDir())
		result := c.Check(context.Background())
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Equal(t, "media_dir", c.Name())
	})

	t.Run("missing", func(t *testing.T) {
		c := NewWritableDirChecker("media_dir", filepath.Join(t.TempDir(), "nope"))
		result := c.Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
	})

	t.Run("file not dir", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "afile")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0600))
		c := NewWritableDirChecker("media_dir", path)
		result := c.Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
	})
}

func TestInformational(t *testing.T) {
	c := Informational(&mockChecker{name: "flaky", status: StatusUnhealthy})
	result := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Equal(t, "flaky", c.Name())

	m := NewManager("v1.0.0")
	m.RegisterChecker(c)
	resp := m.Ready(context.Background())
	assert.True(t, resp.Ready, "informational checks must not flip readiness")
}
