// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

// tracing wraps the handler with OpenTelemetry HTTP instrumentation. It
// creates a span per request and propagates incoming trace context.
func tracing(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(
			next,
			serviceName,
			otelhttp.WithTracerProvider(otel.GetTracerProvider()),
			otelhttp.WithFilter(shouldTrace),
			otelhttp.WithSpanNameFormatter(spanName),
		)
	}
}

// shouldTrace skips probe endpoints to reduce span noise.
func shouldTrace(r *http.Request) bool {
	return !isProbePath(r.URL.Path)
}

// spanName labels spans "juke-api METHOD /path". Query values never appear;
// tokens may travel in them.
func spanName(operation string, r *http.Request) string {
	name := operation + " " + r.Method + " " + r.URL.Path
	if r.URL.RawQuery != "" {
		name += "?"
	}
	return name
}
