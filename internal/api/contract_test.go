// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/oapi-codegen/oapi-codegen/v2/pkg/codegen"

	"github.com/streamjuke/streamjuke/internal/auth"
)

var (
	openapiOnce sync.Once
	openapiDoc  *openapi3.T
	openapiErr  error
)

func loadOpenAPIDoc(t *testing.T) *openapi3.T {
	t.Helper()
	openapiOnce.Do(func() {
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromData(specDocument)
		if err != nil {
			openapiErr = err
			return
		}
		if err := doc.Validate(context.Background()); err != nil {
			openapiErr = err
			return
		}
		openapiDoc = doc
	})
	if openapiErr != nil {
		t.Fatalf("openapi load failed: %v", openapiErr)
	}
	return openapiDoc
}

func forEachOperation(t *testing.T, doc *openapi3.T, fn func(method, path string, op *openapi3.Operation)) {
	t.Helper()
	for path, pathItem := range doc.Paths.Map() {
		if pathItem == nil {
			continue
		}
		for method, op := range pathItem.Operations() {
			if op == nil || op.OperationID == "" {
				continue
			}
			fn(method, path, op)
		}
	}
}

// Every documented operation must be mounted; a handler answering 404 or
// 405 means the document and the router drifted apart.
func TestRouterParity(t *testing.T) {
	doc := loadOpenAPIDoc(t)
	handler := newTestHarness(t, Config{}).server.Handler()

	forEachOperation(t, doc, func(method, path string, op *openapi3.Operation) {
		req := httptest.NewRequest(method, path, strings.NewReader(""))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code == http.StatusNotFound || rr.Code == http.StatusMethodNotAllowed {
			t.Errorf("route not mounted: %s %s -> %d", method, path, rr.Code)
		}
	})
}

// The role-scope table, the document's x-min-role markers, and the live
// handlers must agree operation by operation.
func TestScopePolicyParity(t *testing.T) {
	doc := loadOpenAPIDoc(t)

	documented := make(map[string]auth.Role)
	forEachOperation(t, doc, func(method, path string, op *openapi3.Operation) {
		opID := codegen.ToCamelCase(op.OperationID)

		raw, ok := op.Extensions["x-min-role"]
		if !ok {
			t.Fatalf("operation %s (%s %s) has no x-min-role marker", op.OperationID, method, path)
		}
		marker, ok := raw.(string)
		if !ok {
			t.Fatalf("operation %s: x-min-role is %T, want string", op.OperationID, raw)
		}

		want, ok := RequiredRole(opID)
		if !ok {
			t.Fatalf("operation %s missing from the scope table", opID)
		}
		if got := auth.ParseRole(marker); got != want {
			t.Errorf("operation %s: document says %s, scope table says %s", opID, got, want)
		}
		documented[opID] = want
	})

	for opID := range minRoleByOperation {
		if _, ok := documented[opID]; !ok {
			t.Errorf("scope table entry %s has no documented operation", opID)
		}
	}
}

// Privileged operations must reject viewers and accept their declared role;
// viewer operations must never answer 403.
func TestRoleEnforcementMatchesScopeTable(t *testing.T) {
	doc := loadOpenAPIDoc(t)
	handler := newTestHarness(t, Config{}).server.Handler()

	call := func(method, path string, role auth.Role) int {
		req := httptest.NewRequest(method, path, strings.NewReader(""))
		req.Header.Set(HeaderRole, string(role))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	forEachOperation(t, doc, func(method, path string, op *openapi3.Operation) {
		opID := codegen.ToCamelCase(op.OperationID)
		minRole, ok := RequiredRole(opID)
		if !ok {
			t.Fatalf("operation %s missing from the scope table", opID)
		}

		if minRole == auth.RoleViewer {
			if code := call(method, path, auth.RoleViewer); code == http.StatusForbidden || code == http.StatusUnauthorized {
				t.Errorf("viewer operation %s blocked: %s %s -> %d", opID, method, path, code)
			}
			return
		}

		if code := call(method, path, auth.RoleViewer); code != http.StatusForbidden {
			t.Errorf("privileged operation %s allowed a viewer: %s %s -> %d", opID, method, path, code)
		}
		if code := call(method, path, minRole); code == http.StatusForbidden || code == http.StatusUnauthorized {
			t.Errorf("operation %s rejected its own role %s: %s %s -> %d", opID, minRole, method, path, code)
		}
	})
}

// The operation id casing convention must survive codegen round-trips; the
// scope table is keyed by the CamelCase form.
func TestOperationIDCasing(t *testing.T) {
	doc := loadOpenAPIDoc(t)

	forEachOperation(t, doc, func(_, _ string, op *openapi3.Operation) {
		camel := codegen.ToCamelCase(op.OperationID)
		if camel == "" {
			t.Errorf("operation id %q collapses to nothing", op.OperationID)
		}
		if strings.Contains(camel, "-") || strings.Contains(camel, "_") {
			t.Errorf("operation id %q not fully camelized: %q", op.OperationID, camel)
		}
	})
}
