package learning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelingo/avelingo-go/pkg/annotation"
)

func TestEvaluateAnnotationQuality_UnknownPair(t *testing.T) {
	l := newLearner(t)

	score := l.EvaluateAnnotationQuality(annotation.Annotation{
		SpanishTerm: "el pico",
		Confidence:  0.8,
	}, "never-seen-species")

	assert.Greater(t, score.OverallQuality, 0.0)
	for _, v := range []float64{score.Confidence, score.BoundingBoxQuality, score.PromptEffectiveness, score.OverallQuality} {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	assert.Equal(t, unknownScoreDefault, score.BoundingBoxQuality)
	assert.Equal(t, unknownScoreDefault, score.PromptEffectiveness)
}

func TestEvaluateAnnotationQuality_ZeroConfidenceStillPositiveOverall(t *testing.T) {
	l := newLearner(t)

	score := l.EvaluateAnnotationQuality(annotation.Annotation{SpanishTerm: "x"}, "y")
	assert.Greater(t, score.OverallQuality, 0.0)
}

func TestEvaluateAnnotationQuality_KnownPatternUsesLearnedState(t *testing.T) {
	l := newLearner(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.LearnFromAnnotations(ctx, []annotation.Annotation{
			{SpanishTerm: "el pico", Confidence: 0.9, BoundingBox: box(100, 100, 40, 30)},
		}, Metadata{Species: "cardinal"}))
	}

	// A box matching the learned position scores higher than a distant one.
	near := l.EvaluateAnnotationQuality(annotation.Annotation{
		SpanishTerm: "el pico", Confidence: 0.9, BoundingBox: box(102, 101, 40, 30),
	}, "cardinal")
	far := l.EvaluateAnnotationQuality(annotation.Annotation{
		SpanishTerm: "el pico", Confidence: 0.9, BoundingBox: box(400, 400, 40, 30),
	}, "cardinal")

	assert.Greater(t, near.BoundingBoxQuality, far.BoundingBoxQuality)
	assert.Greater(t, near.OverallQuality, far.OverallQuality)
}

func TestEvaluateAnnotationQuality_ConfidenceClamped(t *testing.T) {
	l := newLearner(t)

	score := l.EvaluateAnnotationQuality(annotation.Annotation{
		SpanishTerm: "el pico",
		Confidence:  1.7, // out-of-range input from a misbehaving model
	}, "cardinal")

	assert.LessOrEqual(t, score.Confidence, 1.0)
	assert.LessOrEqual(t, score.OverallQuality, 1.0)
}
