// SPDX-License-Identifier: MIT

package moderate

import (
	"fmt"
	"math"
)

// Prompts is the fixed vocabulary the embedding backend scores against.
// Index positions are load-bearing: 0 is the safe anchor, 1-5 are the
// explicit anchors, 6-10 dampen clothed false positives. Backends must
// confirm this exact count during the handshake.
var Prompts = []string{
	"safe for work image",
	"female nipples",
	"male nipples",
	"penis",
	"vulva",
	"anus",
	"female breast",
	"male chest",
	"bikini",
	"lingerie",
	"cleavage",
}

const (
	idxSafe = iota
	idxFemaleNipples
	idxMaleNipples
	idxPenis
	idxVulva
	idxAnus
	idxBreast
	idxChest
	idxBikini
	idxLingerie
	idxCleavage
)

// Scores is one softmax-normalised similarity vector over Prompts.
type Scores []float64

// NewScores validates a raw vector length against the vocabulary.
func NewScores(v []float64) (Scores, error) {
	if len(v) != len(Prompts) {
		return nil, fmt.Errorf("moderate: score vector has %d entries, vocabulary has %d", len(v), len(Prompts))
	}
	return Scores(v), nil
}

func (s Scores) Safe() float64     { return s[idxSafe] }
func (s Scores) Nipples() float64  { return math.Max(s[idxFemaleNipples], s[idxMaleNipples]) }
func (s Scores) Genitals() float64 { return math.Max(s[idxPenis], s[idxVulva]) }
func (s Scores) Anus() float64     { return s[idxAnus] }
func (s Scores) Breast() float64   { return s[idxBreast] }
func (s Scores) Chest() float64    { return s[idxChest] }

// Clothing is the strongest ambiguous-but-clothed anchor.
func (s Scores) Clothing() float64 {
	return math.Max(s[idxBikini], math.Max(s[idxLingerie], s[idxCleavage]))
}

// Explicit is the aggregate the rules policy gates on.
func (s Scores) Explicit() float64 {
	return math.Max(s.Nipples(), math.Max(s.Genitals(), s.Anus()))
}

// featureCount is the width of the learned-policy input vector.
const featureCount = 8

// Features derives the learned-policy input vector from the reduced
// scores. Order matches the training pipeline and must not change.
func (s Scores) Features() []float64 {
	return []float64{
		s.Safe(),
		s.Nipples(),
		s.Genitals(),
		s.Anus(),
		s.Breast() - s.Safe(),
		s.Chest() - s.Safe(),
		s.Nipples() - s.Clothing(),
		s.Genitals() - s.Clothing(),
	}
}

// Softmax normalises raw logits into a probability vector. Shifted by
// the max logit so large magnitudes cannot overflow.
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}

	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// ReduceMax folds per-frame score vectors into one clip vector by
// element-wise max, so a single explicit frame dominates the verdict.
func ReduceMax(frames []Scores) Scores {
	reduced := make(Scores, len(Prompts))
	for _, frame := range frames {
		for i, v := range frame {
			if v > reduced[i] {
				reduced[i] = v
			}
		}
	}
	return reduced
}
