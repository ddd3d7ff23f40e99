// SPDX-License-Identifier: MIT

package moderate

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/streamjuke/streamjuke/internal/log"
)

// Decision is a policy's verdict on one reduced score vector.
type Decision struct {
	Approved bool
	Reason   string
}

// Policy turns a reduced score vector into an admission decision.
type Policy interface {
	Name() string
	Decide(s Scores) Decision
}

// RulesPolicy is the default gate: reject when the aggregate explicit
// score clears the threshold AND beats the safe anchor. One aggregate
// threshold; per-category thresholds are intentionally not supported.
type RulesPolicy struct {
	Threshold float64
}

// DefaultThreshold is the rules gate applied when none is configured.
const DefaultThreshold = 0.20

func (p RulesPolicy) Name() string { return "rules" }

func (p RulesPolicy) Decide(s Scores) Decision {
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	safe := s.Safe()
	explicit := s.Explicit()
	if explicit >= threshold && explicit > safe {
		return Decision{
			Approved: false,
			Reason:   fmt.Sprintf("explicit %.3f > safe %.3f", explicit, safe),
		}
	}
	return Decision{
		Approved: true,
		Reason:   fmt.Sprintf("safe %.3f >= explicit %.3f", safe, explicit),
	}
}

// LearnedPolicy is a logistic regression over the derived feature
// vector, trained offline. It supersedes the rules policy when its
// artifacts parse.
type LearnedPolicy struct {
	Coefficients []float64
	Intercept    float64
	Threshold    float64
}

func (p *LearnedPolicy) Name() string { return "learned" }

func (p *LearnedPolicy) Decide(s Scores) Decision {
	features := s.Features()
	z := p.Intercept
	for i, w := range p.Coefficients {
		z += w * features[i]
	}
	prob := 1.0 / (1.0 + math.Exp(-z))

	if prob >= p.Threshold {
		return Decision{
			Approved: false,
			Reason:   fmt.Sprintf("learned prob %.3f >= %.2f", prob, p.Threshold),
		}
	}
	return Decision{
		Approved: true,
		Reason:   fmt.Sprintf("learned prob %.3f", prob),
	}
}

// Artifact file names inside the model directory.
const (
	ModelArtifact     = "nsfw_classifier.json"
	ThresholdArtifact = "nsfw_classifier_thresholds.json"
)

type modelArtifact struct {
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

type thresholdArtifact struct {
	LearnedThreshold float64 `json:"learned_threshold"`
}

// LoadLearnedPolicy reads both artifacts from modelDir. A missing model
// file is not an error - it reports (nil, nil) and the rules policy
// stays active. A present-but-unparseable artifact is an error.
func LoadLearnedPolicy(modelDir string) (*LearnedPolicy, error) {
	modelPath := filepath.Join(modelDir, ModelArtifact)
	data, err := os.ReadFile(modelPath) // #nosec G304 -- operator-configured model dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read model artifact: %w", err)
	}

	var m modelArtifact
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model artifact %s: %w", modelPath, err)
	}
	if len(m.Coefficients) != featureCount {
		return nil, fmt.Errorf("model artifact has %d coefficients, want %d", len(m.Coefficients), featureCount)
	}

	threshold := 0.5
	thresholdPath := filepath.Join(modelDir, ThresholdArtifact)
	tdata, err := os.ReadFile(thresholdPath) // #nosec G304 -- operator-configured model dir
	switch {
	case err == nil:
		var t thresholdArtifact
		if err := json.Unmarshal(tdata, &t); err != nil {
			return nil, fmt.Errorf("parse threshold artifact %s: %w", thresholdPath, err)
		}
		if t.LearnedThreshold <= 0 || t.LearnedThreshold >= 1 {
			return nil, fmt.Errorf("learned threshold %g outside (0,1)", t.LearnedThreshold)
		}
		threshold = t.LearnedThreshold
	case os.IsNotExist(err):
		// Sidecar missing: keep the default threshold.
	default:
		return nil, fmt.Errorf("read threshold artifact: %w", err)
	}

	return &LearnedPolicy{
		Coefficients: m.Coefficients,
		Intercept:    m.Intercept,
		Threshold:    threshold,
	}, nil
}

// policyHolder hot-swaps the active policy. Swaps are atomic; a failed
// artifact load keeps the previous policy in place.
type policyHolder struct {
	active atomic.Pointer[policyBox]
	rules  RulesPolicy
}

type policyBox struct {
	policy Policy
}

func newPolicyHolder(rules RulesPolicy) *policyHolder {
	h := &policyHolder{rules: rules}
	h.active.Store(&policyBox{policy: rules})
	return h
}

// Current returns the active policy.
func (h *policyHolder) Current() Policy {
	return h.active.Load().policy
}

// Reload re-reads artifacts from modelDir and swaps the active policy.
// Missing artifacts fall back to rules; a broken artifact keeps the
// current policy and returns the load error.
func (h *policyHolder) Reload(modelDir string) error {
	logger := log.WithComponent("moderate")

	learned, err := LoadLearnedPolicy(modelDir)
	if err != nil {
		logger.Error().Err(err).Str(log.FieldPath, modelDir).Msg("learned policy artifacts broken, keeping active policy")
		return err
	}
	if learned == nil {
		if h.Current().Name() != h.rules.Name() {
			logger.Info().Msg("learned policy artifacts removed, reverting to rules policy")
		}
		h.active.Store(&policyBox{policy: h.rules})
		return nil
	}

	h.active.Store(&policyBox{policy: learned})
	logger.Info().
		Float64("threshold", learned.Threshold).
		Msg("learned policy active")
	return nil
}
