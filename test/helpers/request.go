// SPDX-License-Identifier: MIT

// Package helpers carries shared utilities for the wire-level suites:
// an HTTP wrapper speaking the chat-adapter protocol, fake subprocess
// scripts and an in-process daemon runner.
package helpers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// httpClient is shared so suites reuse connections. CloseIdleConnections
// must run before any goroutine-leak check.
var httpClient = &http.Client{Timeout: 10 * time.Second}

// CloseIdleConnections drops pooled keep-alive connections.
func CloseIdleConnections() { httpClient.CloseIdleConnections() }

// Request describes one adapter call.
type Request struct {
	Method string
	Path   string
	Body   any    // JSON-encoded when non-nil
	Token  string // sent as Authorization: Bearer when non-empty
	Role   string // sent as X-Juke-Role when non-empty
}

// Do executes req against baseURL, decodes the JSON response into out
// when out is non-nil, and returns the status code. The body is always
// drained so the connection goes back to the pool.
//
// Usage:
//
//	var queued struct{ Items []struct{ Title string } }
//	status := helpers.Do(t, d.BaseURL, helpers.Request{
//	    Method: http.MethodGet,
//	    Path:   "/api/v1/queue",
//	    Token:  d.Token,
//	}, &queued)
func Do(t *testing.T, baseURL string, req Request, out any) int {
	t.Helper()

	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequest(req.Method, baseURL+req.Path, body)
	require.NoError(t, err)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	if req.Role != "" {
		httpReq.Header.Set("X-Juke-Role", req.Role)
	}

	resp, err := httpClient.Do(httpReq)
	require.NoError(t, err)
	defer func() { require.NoError(t, resp.Body.Close()) }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, out), "undecodable body: %s", raw)
	}
	return resp.StatusCode
}

// GetBody fetches path without auth and returns status and raw body.
// Meant for the probe and metrics endpoints outside the token wall.
func GetBody(t *testing.T, baseURL, path string) (int, string) {
	t.Helper()

	resp, err := httpClient.Get(baseURL + path)
	require.NoError(t, err)
	defer func() { require.NoError(t, resp.Body.Close()) }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(raw)
}
