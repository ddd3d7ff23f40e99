// SPDX-License-Identifier: MIT

// Package moderate decides whether fetched media is safe to broadcast.
// The gate chains a verdict cache, a CLIP-style prompt classifier and an
// operator fallback script; every item leaves with an explicit verdict.
package moderate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/streamjuke/streamjuke/internal/cache"
	"github.com/streamjuke/streamjuke/internal/log"
	"github.com/streamjuke/streamjuke/internal/metrics"
	"github.com/streamjuke/streamjuke/internal/queue"
)

const defaultCheckTimeout = 120 * time.Second

// GateConfig carries the gate's operational parameters.
type GateConfig struct {
	ModelDir     string
	Threshold    float64
	EmbedderArgv []string
	FilterScript string
	FFmpegPath   string
	CheckTimeout time.Duration
	VerdictTTL   time.Duration
}

// Gate is the moderation pipeline for one daemon. Stages run in order:
// cached verdict, classifier, fallback script. A rejected verdict names
// the deciding policy and carries a reason the submitter can read.
type Gate struct {
	cfg      GateConfig
	verdicts cache.Store
	embedder Embedder
	sampler  *FrameSampler
	script   *ScriptModerator
	policies *policyHolder
}

// NewGate wires the moderation stages. verdicts may be nil to disable
// caching. Learned-policy artifacts present in the model dir activate
// immediately; later changes are picked up by Watch.
func NewGate(cfg GateConfig, verdicts cache.Store) *Gate {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = defaultCheckTimeout
	}

	g := &Gate{
		cfg:      cfg,
		verdicts: verdicts,
		sampler:  NewFrameSampler(cfg.FFmpegPath, 0),
		script:   NewScriptModerator(cfg.FilterScript),
		policies: newPolicyHolder(RulesPolicy{Threshold: cfg.Threshold}),
	}
	if len(cfg.EmbedderArgv) > 0 {
		g.embedder = NewSidecarEmbedder(cfg.EmbedderArgv)
	}

	if err := g.policies.Reload(cfg.ModelDir); err != nil {
		logger := log.WithComponent("moderate")
		logger.Warn().Err(err).Msg("learned policy unavailable at startup, rules policy active")
	}
	return g
}

// Watch hot-swaps the learned policy when artifacts in the model dir
// change. Blocks until ctx is cancelled; run it on its own goroutine.
func (g *Gate) Watch(ctx context.Context) {
	if g.cfg.ModelDir == "" {
		return
	}
	watchArtifacts(ctx, g.policies, g.cfg.ModelDir)
}

// Ready reports whether any moderation stage can decide. With neither an
// embedder nor a filter script the gate approves everything, which an
// operator should see as degraded.
func (g *Gate) Ready() error {
	if g.embedder != nil {
		return nil
	}
	if g.cfg.FilterScript != "" {
		return nil
	}
	return errors.New("no embedder or filter script configured, all content approved")
}

// Close shuts down the embedder sidecar.
func (g *Gate) Close() error {
	if g.embedder == nil {
		return nil
	}
	return g.embedder.Close()
}

// Check moderates one fetched item. It never returns an error: every
// failure mode folds into a verdict so the worker always has a terminal
// status to record.
func (g *Gate) Check(ctx context.Context, item *queue.Item) Verdict {
	ctx, span := startCheckSpan(ctx)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.CheckTimeout)
	defer cancel()

	logger := log.WithComponentFromContext(ctx, "moderate")
	start := time.Now()

	v, fromCache := g.check(ctx, item)

	metrics.ObserveModerationDuration(time.Since(start))
	metrics.IncModeration(v.Approved, v.Policy)
	emitVerdictObs(ctx, item.ID.String(), v)

	ev := logger.Info()
	if !v.Approved {
		ev = logger.Warn()
	}
	ev.Str(log.FieldItemID, item.ID.String()).
		Bool("approved", v.Approved).
		Str(log.FieldPolicy, v.Policy).
		Str(log.FieldReason, v.Reason).
		Bool("cached", fromCache).
		Msg("moderation verdict")
	return v
}

func (g *Gate) check(ctx context.Context, item *queue.Item) (Verdict, bool) {
	key := verdictKey(item.URL)

	if v, ok := g.lookupCached(ctx, key); ok {
		metrics.IncVerdictCache("hit")
		return v, true
	}
	metrics.IncVerdictCache("miss")

	v, err := g.classify(ctx, item.FilePath)
	if err != nil {
		logger := log.WithComponentFromContext(ctx, "moderate")
		logger.Warn().
			Err(err).
			Str(log.FieldItemID, item.ID.String()).
			Msg("classifier unavailable, falling back to filter script")
		v = g.script.Check(ctx, item.FilePath)
	}

	// The whole-check deadline trumps whatever a late stage decided, and
	// a timed-out run must not stick a verdict to the URL.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Verdict{Approved: false, Policy: v.Policy, Reason: KindModerationTimeout}, false
	}

	g.storeCached(ctx, key, v)
	return v, false
}

// classify runs the CLIP pipeline: sample frames for video, embed in
// batches, softmax per frame, reduce by element-wise max, then let the
// active policy decide.
func (g *Gate) classify(ctx context.Context, filePath string) (Verdict, error) {
	if g.embedder == nil {
		return Verdict{}, ErrEmbedderUnavailable
	}
	if err := g.embedder.EnsureLoaded(ctx); err != nil {
		return Verdict{}, err
	}

	paths := []string{filePath}
	if IsVideo(filePath) {
		frames, cleanup, err := g.sampler.Sample(ctx, filePath)
		if err != nil {
			return Verdict{}, fmt.Errorf("sample frames: %w", err)
		}
		defer cleanup()
		paths = frames
	}

	frames := make([]Scores, 0, len(paths))
	for start := 0; start < len(paths); start += BatchSize {
		end := min(start+BatchSize, len(paths))
		logits, err := g.embedder.Logits(ctx, paths[start:end])
		if err != nil {
			return Verdict{}, err
		}
		for _, vec := range logits {
			s, err := NewScores(Softmax(vec))
			if err != nil {
				return Verdict{}, err
			}
			frames = append(frames, s)
		}
	}
	if len(frames) == 0 {
		return Verdict{}, errors.New("no frames scored")
	}

	reduced := ReduceMax(frames)
	policy := g.policies.Current()
	dec := policy.Decide(reduced)
	return Verdict{Approved: dec.Approved, Policy: policy.Name(), Reason: dec.Reason}, nil
}

// cachedVerdict is the wire form of a stored verdict. Policy records who
// decided originally; a hit is served under the cache policy label.
type cachedVerdict struct {
	Approved bool   `json:"approved"`
	Policy   string `json:"policy"`
	Reason   string `json:"reason,omitempty"`
}

func (g *Gate) lookupCached(ctx context.Context, key string) (Verdict, bool) {
	if g.verdicts == nil {
		return Verdict{}, false
	}
	raw, ok := g.verdicts.Get(ctx, key)
	if !ok {
		return Verdict{}, false
	}
	var cv cachedVerdict
	if err := json.Unmarshal(raw, &cv); err != nil {
		// A corrupt entry is a miss; the fresh verdict overwrites it.
		g.verdicts.Delete(ctx, key)
		return Verdict{}, false
	}
	return Verdict{Approved: cv.Approved, Policy: PolicyCache, Reason: cv.Reason}, true
}

// storeCached persists content verdicts. Operational failures (timeouts,
// script spawn errors) are not verdicts about the content and never
// stick to the URL.
func (g *Gate) storeCached(ctx context.Context, key string, v Verdict) {
	if g.verdicts == nil {
		return
	}
	if v.Reason == KindModerationError || v.Reason == KindModerationTimeout {
		return
	}
	raw, err := json.Marshal(cachedVerdict{Approved: v.Approved, Policy: v.Policy, Reason: v.Reason})
	if err != nil {
		return
	}
	g.verdicts.Set(ctx, key, raw, g.cfg.VerdictTTL)
}

// verdictKey derives the cache key from the submitted URL. Lowercasing
// first lets trivially re-cased resubmissions share a verdict.
func verdictKey(url string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(url)))
	return "verdict:" + hex.EncodeToString(sum[:])
}
