// SPDX-License-Identifier: MIT

package moderate

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/streamjuke/streamjuke/internal/log"
)

// Observability keys (frozen).
const (
	AttrVerdict = "juke.moderation.verdict"
	AttrPolicy  = "juke.moderation.policy"
	AttrReason  = "juke.moderation.reason"
	AttrItemID  = "juke.itemId"
)

// Frozen whitelist for enforcement.
var allowedAttributes = map[string]bool{
	AttrVerdict: true,
	AttrPolicy:  true,
	AttrReason:  true,
	AttrItemID:  true,
}

// emitVerdictObs sets the verdict attributes on the current span and
// records the verdict counter. Attributes are strictly whitelisted: a
// key outside the frozen set drops the whole emission rather than
// widening the contract.
func emitVerdictObs(ctx context.Context, itemID string, v Verdict) {
	span := trace.SpanFromContext(ctx)

	// Runtime provider lookup; no init-time rebinding.
	meter := otel.GetMeterProvider().Meter("juke.moderation")

	verdict := "approved"
	if !v.Approved {
		verdict = "rejected"
	}

	verdictTotal, _ := meter.Int64Counter("juke_moderation_verdict_total",
		metric.WithDescription("Total moderation verdicts"))
	verdictTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("verdict", verdict),
		attribute.String("policy", v.Policy),
	))

	attrs := []attribute.KeyValue{
		attribute.String(AttrVerdict, verdict),
		attribute.String(AttrPolicy, v.Policy),
		attribute.String(AttrReason, v.Reason),
		attribute.String(AttrItemID, itemID),
	}

	for _, kv := range attrs {
		if !allowedAttributes[string(kv.Key)] {
			logger := log.WithComponent("moderate")
			logger.Error().
				Str("key", string(kv.Key)).
				Msg("observability invariant violation: attribute not in whitelist")
			return
		}
	}

	span.SetAttributes(attrs...)
}

// startCheckSpan opens the per-item moderation span.
func startCheckSpan(ctx context.Context) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer("juke.moderation")
	return tracer.Start(ctx, "juke.moderation.check")
}
