// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span attribute keys shared by the pipeline stages. The item and
// reason keys mirror the structured log field names so a trace and its
// log lines correlate on the same values.
const (
	ItemIDKey   = "juke.itemId"
	ItemURLKey  = "juke.url"
	TitleKey    = "juke.title"
	DurationKey = "juke.durationSeconds"
	OutcomeKey  = "juke.outcome"
	ReasonKey   = "juke.reason"
)

// ItemAttributes identifies the queue item a span works on.
func ItemAttributes(id, url string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ItemIDKey, id),
		attribute.String(ItemURLKey, url),
	}
}

// MediaAttributes describes the downloaded media once enrichment has
// filled in title and duration.
func MediaAttributes(title string, durationSeconds float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(TitleKey, title),
		attribute.Float64(DurationKey, durationSeconds),
	}
}

// OutcomeAttributes records how an item left the pipeline. The reason
// is attached only for failures, so successful spans stay free of an
// empty-string attribute.
func OutcomeAttributes(outcome, reason string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(OutcomeKey, outcome),
	}
	if reason != "" {
		attrs = append(attrs, attribute.String(ReasonKey, reason))
	}
	return attrs
}
