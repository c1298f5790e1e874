package learning

import (
	"math"

	"github.com/avelingo/avelingo-go/pkg/annotation"
)

// Sub-score weights for the overall quality blend.
const (
	confidenceWeight          = 0.4
	boxQualityWeight          = 0.3
	promptEffectivenessWeight = 0.3

	// Score assigned when no learned pattern can inform a sub-score:
	// absence of history is not evidence of poor quality.
	unknownScoreDefault = 0.5
)

// QualityScore grades one incoming annotation. All fields are in [0,1];
// OverallQuality is strictly positive even for completely unknown input.
type QualityScore struct {
	Confidence          float64 `json:"confidence"`
	BoundingBoxQuality  float64 `json:"bounding_box_quality"`
	PromptEffectiveness float64 `json:"prompt_effectiveness"`
	OverallQuality      float64 `json:"overall_quality"`
}

// EvaluateAnnotationQuality scores an incoming annotation against the
// learned profile of (species, annotation.SpanishTerm). Unknown pairs fall
// back to neutral defaults.
func (l *PatternLearner) EvaluateAnnotationQuality(ann annotation.Annotation, species string) QualityScore {
	l.mu.RLock()
	defer l.mu.RUnlock()

	score := QualityScore{
		Confidence:          clamp01(ann.Confidence),
		BoundingBoxQuality:  unknownScoreDefault,
		PromptEffectiveness: unknownScoreDefault,
	}

	if p, ok := l.patterns[PatternKey{Species: species, Feature: ann.SpanishTerm}]; ok {
		score.PromptEffectiveness = clamp01(p.Confidence)

		if learned := p.learnedBox(); learned != nil && ann.BoundingBox != nil {
			// Agreement with the learned position decays smoothly with the
			// delta magnitude, scaled by the learned box's size so large
			// features tolerate larger offsets.
			d := annotation.DeltaFrom(*learned, *ann.BoundingBox)
			scale := math.Max(1, learned.Width+learned.Height)
			score.BoundingBoxQuality = clamp01(1 / (1 + d.Magnitude()/scale))
		}
	}

	score.OverallQuality = confidenceWeight*score.Confidence +
		boxQualityWeight*score.BoundingBoxQuality +
		promptEffectivenessWeight*score.PromptEffectiveness

	return score
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
