package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelingo/avelingo-go/internal/testutil"
	"github.com/avelingo/avelingo-go/pkg/annotation"
)

func box(x, y, w, h float64) *annotation.BoundingBox {
	return &annotation.BoundingBox{X: x, Y: y, Width: w, Height: h}
}

func newLearner(t *testing.T, opts ...Option) *PatternLearner {
	t.Helper()
	l := NewPatternLearner(opts...)
	require.NoError(t, l.EnsureInitialized(context.Background()))
	return l
}

func TestLearnFromAnnotations_SkipsBelowThreshold(t *testing.T) {
	l := newLearner(t)

	anns := []annotation.Annotation{
		{SpanishTerm: "el pico", Confidence: 0.69},
		{SpanishTerm: "la cola", Confidence: 0.5},
		{SpanishTerm: "las alas", Confidence: 0.1},
	}
	require.NoError(t, l.LearnFromAnnotations(context.Background(), anns, Metadata{Species: "cardinal"}))

	assert.Zero(t, l.Analytics().TotalPatterns)
}

func TestLearnFromAnnotations_CreatesPatterns(t *testing.T) {
	l := newLearner(t)

	anns := []annotation.Annotation{
		{SpanishTerm: "el pico", Confidence: 0.9, BoundingBox: box(100, 50, 40, 30)},
		{SpanishTerm: "la cola", Confidence: 0.75},
	}
	require.NoError(t, l.LearnFromAnnotations(context.Background(), anns, Metadata{Species: "cardinal"}))

	report := l.Analytics()
	assert.Equal(t, 2, report.TotalPatterns)
	assert.Equal(t, 1, report.SpeciesCount)

	adjusted := l.GetPositionAdjustedFeatures("cardinal", []string{"el pico", "la cola"})
	require.Contains(t, adjusted, "el pico")
	assert.NotContains(t, adjusted, "la cola")
	assert.Equal(t, *box(100, 50, 40, 30), adjusted["el pico"])
}

func TestLearnFromAnnotations_MissingSpecies(t *testing.T) {
	l := newLearner(t)
	err := l.LearnFromAnnotations(context.Background(), nil, Metadata{})
	assert.Error(t, err)
}

func TestLearnFromApproval_BoostsConfidence(t *testing.T) {
	l := newLearner(t)
	ctx := context.Background()
	reviewCtx := annotation.Context{Species: "cardinal"}

	ann := annotation.Annotation{SpanishTerm: "el pico", Confidence: 0.8}
	require.NoError(t, l.LearnFromAnnotations(ctx, []annotation.Annotation{ann}, Metadata{Species: "cardinal"}))

	before := l.ExportPatterns().Patterns[0].Confidence
	l.LearnFromApproval(ctx, ann, reviewCtx)
	after := l.ExportPatterns().Patterns[0].Confidence

	assert.Greater(t, after, before)
	assert.LessOrEqual(t, after, 1.0)
}

func TestLearnFromApproval_ConfidenceCappedAtOne(t *testing.T) {
	l := newLearner(t)
	ctx := context.Background()
	reviewCtx := annotation.Context{Species: "cardinal"}
	ann := annotation.Annotation{SpanishTerm: "el pico", Confidence: 1.0}

	for i := 0; i < 50; i++ {
		l.LearnFromApproval(ctx, ann, reviewCtx)
	}

	assert.LessOrEqual(t, l.ExportPatterns().Patterns[0].Confidence, 1.0)
}

func TestLearnFromRejection_LowersConfidence(t *testing.T) {
	l := newLearner(t)
	ctx := context.Background()
	reviewCtx := annotation.Context{Species: "cardinal"}
	ann := annotation.Annotation{SpanishTerm: "el pico", Confidence: 0.9}

	require.NoError(t, l.LearnFromAnnotations(ctx, []annotation.Annotation{ann}, Metadata{Species: "cardinal"}))
	before := l.ExportPatterns().Patterns[0].Confidence

	l.LearnFromRejection(ctx, ann, "box is misplaced", reviewCtx)
	after := l.ExportPatterns().Patterns[0].Confidence

	assert.Less(t, after, before)
	assert.GreaterOrEqual(t, after, 0.0)
}

func TestLearnFromRejection_FlooredAtZero(t *testing.T) {
	l := newLearner(t)
	ctx := context.Background()
	reviewCtx := annotation.Context{Species: "cardinal"}
	ann := annotation.Annotation{SpanishTerm: "el pico"}

	for i := 0; i < 30; i++ {
		l.LearnFromRejection(ctx, ann, "blurry", reviewCtx)
	}

	assert.GreaterOrEqual(t, l.ExportPatterns().Patterns[0].Confidence, 0.0)
}

func TestLearnFromRejection_CategorizesAndCounts(t *testing.T) {
	l := newLearner(t)
	ctx := context.Background()
	reviewCtx := annotation.Context{Species: "cardinal"}
	ann := annotation.Annotation{SpanishTerm: "el pico"}

	l.LearnFromRejection(ctx, ann, "[POOR_LOCALIZATION] box off", reviewCtx)
	l.LearnFromRejection(ctx, ann, "the box is misplaced", reviewCtx)
	l.LearnFromRejection(ctx, ann, "too blurry", reviewCtx)

	p := l.ExportPatterns().Patterns[0]
	assert.Equal(t, 2, p.RejectionCounts[RejectionPoorLocalization])
	assert.Equal(t, 1, p.RejectionCounts[RejectionLowQuality])
}

func TestLearnFromRejection_StreakArmsWarning(t *testing.T) {
	l := newLearner(t)
	ctx := context.Background()
	reviewCtx := annotation.Context{Species: "cardinal"}
	ann := annotation.Annotation{SpanishTerm: "el pico"}

	for i := 0; i < 3; i++ {
		l.LearnFromRejection(ctx, ann, "box is misplaced", reviewCtx)
	}

	p := l.ExportPatterns().Patterns[0]
	assert.Equal(t, RejectionPoorLocalization, p.ActiveWarning)
}

func TestLearnFromRejection_MixedCategoriesNoWarning(t *testing.T) {
	l := newLearner(t)
	ctx := context.Background()
	reviewCtx := annotation.Context{Species: "cardinal"}
	ann := annotation.Annotation{SpanishTerm: "el pico"}

	l.LearnFromRejection(ctx, ann, "box is misplaced", reviewCtx)
	l.LearnFromRejection(ctx, ann, "too blurry", reviewCtx)
	l.LearnFromRejection(ctx, ann, "box is misplaced", reviewCtx)

	assert.Empty(t, l.ExportPatterns().Patterns[0].ActiveWarning)
}

func TestLearnFromCorrection_NoOpWithoutBoxes(t *testing.T) {
	l := newLearner(t)
	ctx := context.Background()
	reviewCtx := annotation.Context{Species: "cardinal"}

	l.LearnFromCorrection(ctx,
		annotation.Annotation{SpanishTerm: "el pico"},
		annotation.Annotation{SpanishTerm: "el pico", BoundingBox: box(1, 2, 3, 4)},
		reviewCtx)
	l.LearnFromCorrection(ctx,
		annotation.Annotation{SpanishTerm: "el pico", BoundingBox: box(1, 2, 3, 4)},
		annotation.Annotation{SpanishTerm: "el pico"},
		reviewCtx)

	assert.Zero(t, l.Analytics().TotalPatterns)
}

func TestLearnFromCorrection_OutweighsPlainObservation(t *testing.T) {
	l := newLearner(t)
	ctx := context.Background()
	reviewCtx := annotation.Context{Species: "cardinal"}

	// One plain observation at x=100, then one correction at x=130.
	require.NoError(t, l.LearnFromAnnotations(ctx, []annotation.Annotation{
		{SpanishTerm: "el pico", Confidence: 0.9, BoundingBox: box(100, 100, 40, 30)},
	}, Metadata{Species: "cardinal"}))

	l.LearnFromCorrection(ctx,
		annotation.Annotation{SpanishTerm: "el pico", Confidence: 0.9, BoundingBox: box(100, 100, 40, 30)},
		annotation.Annotation{SpanishTerm: "el pico", Confidence: 0.9, BoundingBox: box(130, 100, 40, 30)},
		reviewCtx)

	adjusted := l.GetPositionAdjustedFeatures("cardinal", []string{"el pico"})
	require.Contains(t, adjusted, "el pico")

	// Correction weight 2 pulls the average past the midpoint of 115.
	assert.InDelta(t, 120.0, adjusted["el pico"].X, 1e-9)
}

func TestEnhancePrompt_UnchangedBelowMinObservations(t *testing.T) {
	l := newLearner(t)
	ctx := context.Background()

	// 4 observations: one short of the minimum.
	for i := 0; i < 4; i++ {
		require.NoError(t, l.LearnFromAnnotations(ctx, []annotation.Annotation{
			{SpanishTerm: "el pico", Confidence: 0.9},
		}, Metadata{Species: "cardinal"}))
	}

	base := "Annotate the bird's features."
	got := l.EnhancePrompt(base, PromptContext{Species: "cardinal", Features: []string{"el pico"}})
	assert.Equal(t, base, got)
}

func TestEnhancePrompt_UnknownSpeciesUnchanged(t *testing.T) {
	l := newLearner(t)
	base := "Annotate the bird's features."
	got := l.EnhancePrompt(base, PromptContext{Species: "dodo", Features: []string{"el pico"}})
	assert.Equal(t, base, got)
}

func TestEnhancePrompt_AppendsGuidance(t *testing.T) {
	l := newLearner(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.LearnFromAnnotations(ctx, []annotation.Annotation{
			{SpanishTerm: "el pico", Confidence: 0.9, BoundingBox: box(120, 80, 45, 30)},
		}, Metadata{Species: "cardinal", Prompt: "focus on the beak shape"}))
	}

	base := "Annotate the bird's features."
	got := l.EnhancePrompt(base, PromptContext{Species: "cardinal", Features: []string{"el pico"}})

	assert.Contains(t, got, base)
	assert.Contains(t, got, "focus on the beak shape")
	assert.Contains(t, got, "el pico")
}

func TestEnhancePrompt_IncludesRejectionWarning(t *testing.T) {
	l := newLearner(t)
	ctx := context.Background()
	reviewCtx := annotation.Context{Species: "cardinal"}
	ann := annotation.Annotation{SpanishTerm: "el pico", Confidence: 0.9}

	for i := 0; i < 5; i++ {
		require.NoError(t, l.LearnFromAnnotations(ctx, []annotation.Annotation{ann}, Metadata{Species: "cardinal"}))
	}
	for i := 0; i < 3; i++ {
		l.LearnFromRejection(ctx, ann, "box is misplaced", reviewCtx)
	}

	got := l.EnhancePrompt("Annotate.", PromptContext{Species: "cardinal", Features: []string{"el pico"}})
	assert.Contains(t, got, string(RejectionPoorLocalization))
}

func TestGetRecommendedFeatures(t *testing.T) {
	l := newLearner(t)
	ctx := context.Background()

	// "el pico" gets 3 observations, "la cola" 1, "las alas" 1 but with
	// lower confidence than "la cola".
	for i := 0; i < 3; i++ {
		require.NoError(t, l.LearnFromAnnotations(ctx, []annotation.Annotation{
			{SpanishTerm: "el pico", Confidence: 0.9},
		}, Metadata{Species: "cardinal"}))
	}
	require.NoError(t, l.LearnFromAnnotations(ctx, []annotation.Annotation{
		{SpanishTerm: "la cola", Confidence: 0.95},
		{SpanishTerm: "las alas", Confidence: 0.7},
	}, Metadata{Species: "cardinal"}))

	features := l.GetRecommendedFeatures("cardinal", 2)
	assert.Equal(t, []string{"el pico", "la cola"}, features)

	assert.Empty(t, l.GetRecommendedFeatures("unknown-species", 5))
}

func TestAnalytics_ReflectsLiveState(t *testing.T) {
	l := newLearner(t)
	ctx := context.Background()

	require.NoError(t, l.LearnFromAnnotations(ctx, []annotation.Annotation{
		{SpanishTerm: "el pico", Confidence: 0.9},
	}, Metadata{Species: "cardinal"}))

	assert.Equal(t, 1, l.Analytics().TotalPatterns)

	require.NoError(t, l.LearnFromAnnotations(ctx, []annotation.Annotation{
		{SpanishTerm: "las patas", Confidence: 0.8},
	}, Metadata{Species: "flamingo"}))

	report := l.Analytics()
	assert.Equal(t, 2, report.TotalPatterns)
	assert.Equal(t, 2, report.SpeciesCount)
	assert.Equal(t, 1, report.PerSpecies["flamingo"].Patterns)
}

func TestPersistence_RoundTrip(t *testing.T) {
	store := testutil.NewMemoryBlobStore()
	ctx := context.Background()

	l := newLearner(t, WithBlobStore(store))
	require.NoError(t, l.LearnFromAnnotations(ctx, []annotation.Annotation{
		{SpanishTerm: "el pico", Confidence: 0.9, BoundingBox: box(100, 50, 40, 30)},
	}, Metadata{Species: "cardinal"}))
	assert.Positive(t, store.Uploads())

	restored := newLearner(t, WithBlobStore(store))
	report := restored.Analytics()
	assert.Equal(t, 1, report.TotalPatterns)

	adjusted := restored.GetPositionAdjustedFeatures("cardinal", []string{"el pico"})
	assert.Contains(t, adjusted, "el pico")
}

func TestPersistence_StorageFailureDoesNotBlockLearning(t *testing.T) {
	store := testutil.NewMemoryBlobStore()
	store.UploadErr = fmt.Errorf("bucket unavailable")

	l := newLearner(t, WithBlobStore(store))
	err := l.LearnFromAnnotations(context.Background(), []annotation.Annotation{
		{SpanishTerm: "el pico", Confidence: 0.9},
	}, Metadata{Species: "cardinal"})

	require.NoError(t, err)
	assert.Equal(t, 1, l.Analytics().TotalPatterns)
}

func TestEnsureInitialized_CorruptSnapshotStartsEmpty(t *testing.T) {
	store := testutil.NewMemoryBlobStore()
	store.Put(defaultSnapshotKey, []byte("{not json"))

	l := NewPatternLearner(WithBlobStore(store))
	require.NoError(t, l.EnsureInitialized(context.Background()))
	assert.Zero(t, l.Analytics().TotalPatterns)
}

func TestEnsureInitialized_Idempotent(t *testing.T) {
	store := testutil.NewMemoryBlobStore()
	snapshot := Snapshot{Patterns: []LearnedPattern{
		{Species: "cardinal", Feature: "el pico", Confidence: 0.8, Observations: 7},
	}}
	data, err := json.Marshal(snapshot)
	require.NoError(t, err)
	store.Put(defaultSnapshotKey, data)

	l := NewPatternLearner(WithBlobStore(store))
	require.NoError(t, l.EnsureInitialized(context.Background()))
	require.NoError(t, l.EnsureInitialized(context.Background()))

	assert.Equal(t, 1, l.Analytics().TotalPatterns)
}

func TestObservationCountMonotonicallyIncreases(t *testing.T) {
	l := newLearner(t)
	ctx := context.Background()
	reviewCtx := annotation.Context{Species: "cardinal"}
	ann := annotation.Annotation{SpanishTerm: "el pico", Confidence: 0.9}

	var last int
	events := []func(){
		func() { _ = l.LearnFromAnnotations(ctx, []annotation.Annotation{ann}, Metadata{Species: "cardinal"}) },
		func() { l.LearnFromApproval(ctx, ann, reviewCtx) },
		func() { l.LearnFromRejection(ctx, ann, "blurry", reviewCtx) },
		func() {
			corrected := ann
			corrected.BoundingBox = box(10, 10, 5, 5)
			original := ann
			original.BoundingBox = box(12, 12, 5, 5)
			l.LearnFromCorrection(ctx, original, corrected, reviewCtx)
		},
	}

	for _, event := range events {
		event()
		obs := l.ExportPatterns().Patterns[0].Observations
		assert.Greater(t, obs, last)
		last = obs
	}
}
