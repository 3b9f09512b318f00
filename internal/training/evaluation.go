package training

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"taskforge/internal/prompt"
	"taskforge/internal/types"
)

// Well-known judge dimensions.
const (
	DimensionCorrectness           = "correctness"
	DimensionInstructionCompliance = "instruction_compliance"
)

// Verdict is the judge's finding for one dimension. A nil Pass means the
// judge could not decide.
type Verdict struct {
	Pass     *bool    `json:"pass"`
	Positive []string `json:"positive"`
	Negative []string `json:"negative"`
}

// JudgeEvaluation maps dimension names to verdicts.
type JudgeEvaluation map[string]Verdict

// HasNegatives reports whether any dimension lists a negative finding.
func (e JudgeEvaluation) HasNegatives() bool {
	for _, v := range e {
		if len(v.Negative) > 0 {
			return true
		}
	}
	return false
}

// Passed reports whether dimension was explicitly passed.
func (e JudgeEvaluation) Passed(dimension string) bool {
	v, ok := e[dimension]
	return ok && v.Pass != nil && *v.Pass
}

// Negatives returns every negative finding prefixed with its dimension,
// in dimension order.
func (e JudgeEvaluation) Negatives() []string {
	dims := make([]string, 0, len(e))
	for d := range e {
		dims = append(dims, d)
	}
	sort.Strings(dims)

	var out []string
	for _, d := range dims {
		for _, n := range e[d].Negative {
			out = append(out, d+": "+n)
		}
	}
	return out
}

// Weights assigns a weight to each dimension.
type Weights struct {
	ByDimension map[string]float64
	Default     float64
}

// DefaultWeights weighs correctness 5, instruction compliance 3 and
// everything else 1.
func DefaultWeights() Weights {
	return Weights{
		ByDimension: map[string]float64{
			DimensionCorrectness:           5,
			DimensionInstructionCompliance: 3,
		},
		Default: 1,
	}
}

// For returns the weight of dimension.
func (w Weights) For(dimension string) float64 {
	if v, ok := w.ByDimension[dimension]; ok {
		return v
	}
	return w.Default
}

// Score sums the weighted dimension scores:
//
//	pass == true:  +w + 0.25*w*|positive|
//	pass == false: -0.25*w*|negative|
//	pass == nil:   +0.25*w*(|positive| - |negative|)
func (w Weights) Score(e JudgeEvaluation) float64 {
	var total float64
	for dim, v := range e {
		weight := w.For(dim)
		pos, neg := float64(len(v.Positive)), float64(len(v.Negative))
		switch {
		case v.Pass == nil:
			total += 0.25 * weight * (pos - neg)
		case *v.Pass:
			total += weight + 0.25*weight*pos
		default:
			total -= 0.25 * weight * neg
		}
	}
	return total
}

var errNoDimensions = errors.New("verdict has no dimensions")

// ParseJudgeEvaluation extracts the verdict object from a judge reply. The
// last JSON object that decodes to at least one dimension wins. Failures
// are *types.JudgeParseError.
func ParseJudgeEvaluation(raw string) (JudgeEvaluation, error) {
	objects := prompt.FindJSONObjects(raw)
	if len(objects) == 0 {
		return nil, &types.JudgeParseError{Raw: raw, Err: errors.New("no JSON object in reply")}
	}

	var lastErr error
	for i := len(objects) - 1; i >= 0; i-- {
		var eval JudgeEvaluation
		if err := json.Unmarshal([]byte(objects[i]), &eval); err != nil {
			lastErr = err
			continue
		}
		if len(eval) == 0 {
			lastErr = errNoDimensions
			continue
		}
		return eval, nil
	}
	return nil, &types.JudgeParseError{Raw: raw, Err: fmt.Errorf("decode verdict: %w", lastErr)}
}
