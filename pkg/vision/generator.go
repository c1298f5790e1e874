package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/avelingo/avelingo-go/pkg/annotation"
	"github.com/avelingo/avelingo-go/pkg/batch"
	"github.com/avelingo/avelingo-go/pkg/cache"
	"github.com/avelingo/avelingo-go/pkg/costs"
	"github.com/avelingo/avelingo-go/pkg/errors"
	"github.com/avelingo/avelingo-go/pkg/feedback"
	"github.com/avelingo/avelingo-go/pkg/learning"
	"github.com/avelingo/avelingo-go/pkg/logging"
	"github.com/avelingo/avelingo-go/pkg/metrics"
)

// Learned positioning corrections below this confidence are ignored.
const adjustmentConfidenceFloor = 0.5

// PositionAdjuster supplies learned correction vectors for generated
// bounding boxes. *feedback.Engine satisfies it.
type PositionAdjuster interface {
	GetPositioningAdjustments(ctx context.Context, species, feature string) *feedback.PositioningAdjustment
}

// GenerateRequest asks for annotations on one image of one species.
type GenerateRequest struct {
	Species    string
	Features   []string
	ImageID    string
	ImageData  []byte
	MimeType   string
	BasePrompt string
	Difficulty int
	Priority   int
	MaxTokens  int
}

// GenerateResult is the outcome of one generation request.
type GenerateResult struct {
	ImageID     string
	Species     string
	Annotations []annotation.Annotation
	Usage       costs.TokenUsage
	Cost        float64
	Cached      bool
	Prompt      string
	Err         error
}

// Generator orchestrates the full annotation path: cache lookup, prompt
// enhancement, the vision call, learning, cost tracking and cache fill.
// Every collaborator besides the annotator is optional.
type Generator struct {
	annotator Annotator
	learner   *learning.PatternLearner
	cache     *cache.ExerciseCache
	keys      *cache.KeyGenerator
	estimator *costs.Estimator
	tracker   *metrics.PerformanceTracker
	adjuster  PositionAdjuster
	modelID   string
	logger    *logging.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithLearner wires prompt enhancement and annotation learning.
func WithLearner(l *learning.PatternLearner) GeneratorOption {
	return func(g *Generator) { g.learner = l }
}

// WithCache wires result caching keyed by the generator's KeyGenerator.
func WithCache(c *cache.ExerciseCache, keys *cache.KeyGenerator) GeneratorOption {
	return func(g *Generator) {
		g.cache = c
		g.keys = keys
	}
}

// WithEstimator wires per-call cost tracking under the given model ID.
func WithEstimator(e *costs.Estimator, modelID string) GeneratorOption {
	return func(g *Generator) {
		g.estimator = e
		g.modelID = modelID
	}
}

// WithTracker wires batch performance tracking.
func WithTracker(t *metrics.PerformanceTracker) GeneratorOption {
	return func(g *Generator) { g.tracker = t }
}

// WithPositionAdjuster applies learned correction vectors to generated
// bounding boxes.
func WithPositionAdjuster(a PositionAdjuster) GeneratorOption {
	return func(g *Generator) { g.adjuster = a }
}

// NewGenerator creates a generator around an annotator.
func NewGenerator(annotator Annotator, opts ...GeneratorOption) (*Generator, error) {
	if annotator == nil {
		return nil, errors.New(errors.InvalidInput, "annotator is required")
	}
	g := &Generator{
		annotator: annotator,
		logger:    logging.GetLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cache != nil && g.keys == nil {
		g.keys = cache.NewKeyGenerator("")
	}
	return g, nil
}

// Generate runs one request through the pipeline. Learning and cost
// tracking are best-effort side effects; only the vision call itself can
// fail the request.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.Species == "" {
		return nil, errors.New(errors.InvalidInput, "species is required")
	}

	var key string
	if g.cache != nil {
		key = g.keys.GenerateKey(cache.ExerciseRequest{
			Species:    req.Species,
			Features:   req.Features,
			ModelID:    g.modelID,
			Difficulty: req.Difficulty,
		})
		if cached, ok := g.cache.Get(key); ok {
			if result, ok := cached.(*GenerateResult); ok {
				g.logger.Debug(ctx, "cache hit for %s", req.Species)
				hit := *result
				hit.Cached = true
				return &hit, nil
			}
		}
	}

	prompt := req.BasePrompt
	if prompt == "" {
		prompt = buildPrompt(req.Species, req.Features)
	}
	if g.learner != nil {
		prompt = g.learner.EnhancePrompt(prompt, learning.PromptContext{
			Species:  req.Species,
			Features: req.Features,
		})
	}

	resp, err := g.annotator.Annotate(ctx, Request{
		Species:   req.Species,
		Features:  req.Features,
		ImageData: req.ImageData,
		MimeType:  req.MimeType,
		Prompt:    prompt,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	annotations := g.adjustPositions(ctx, req.Species, resp.Annotations)

	result := &GenerateResult{
		ImageID:     req.ImageID,
		Species:     req.Species,
		Annotations: annotations,
		Usage:       resp.Usage,
		Prompt:      prompt,
	}
	if g.estimator != nil {
		result.Cost = g.estimator.TrackUsage(g.modelID, resp.Usage)
	}

	if g.learner != nil {
		if err := g.learner.LearnFromAnnotations(ctx, annotations, learning.Metadata{
			Species: req.Species,
			ImageID: req.ImageID,
			Prompt:  prompt,
		}); err != nil {
			g.logger.Warn(ctx, "failed to learn from annotations: %v", err)
		}
	}

	if g.cache != nil {
		g.cache.Set(key, result)
	}
	return result, nil
}

// adjustPositions applies the feedback-derived correction vector to each
// box whose (species, feature) pair has a confident positioning model.
func (g *Generator) adjustPositions(ctx context.Context, species string, annotations []annotation.Annotation) []annotation.Annotation {
	if g.adjuster == nil {
		return annotations
	}

	out := make([]annotation.Annotation, len(annotations))
	copy(out, annotations)
	for i := range out {
		if out[i].BoundingBox == nil {
			continue
		}
		adj := g.adjuster.GetPositioningAdjustments(ctx, species, out[i].SpanishTerm)
		if adj == nil || adj.Confidence < adjustmentConfidenceFloor {
			continue
		}
		d := annotation.Delta{X: adj.DeltaX, Y: adj.DeltaY, Width: adj.DeltaWidth, Height: adj.DeltaHeight}
		shifted := d.Apply(*out[i].BoundingBox)
		out[i].BoundingBox = &shifted
		g.logger.Debug(ctx, "applied positioning adjustment to %s/%s", species, out[i].SpanishTerm)
	}
	return out
}

// GenerateBatch runs many requests through a bounded worker pool. Results
// come back in completion order; per-request failures are recorded on the
// result, not returned as a batch error.
func (g *Generator) GenerateBatch(ctx context.Context, reqs []GenerateRequest, cfg batch.Config) ([]GenerateResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	tasks := make([]batch.Task, len(reqs))
	for i, req := range reqs {
		tasks[i] = batch.NewTask(req, req.Priority)
	}

	if g.tracker != nil {
		g.tracker.StartBatch()
	}

	processor := batch.NewProcessor(cfg)
	results, err := processor.Run(ctx, tasks, func(ctx context.Context, data interface{}) (interface{}, error) {
		return g.Generate(ctx, data.(GenerateRequest))
	})
	if err != nil {
		return nil, err
	}

	out := make([]GenerateResult, 0, len(results))
	for _, r := range results {
		if g.tracker != nil {
			g.tracker.RecordTask(r.Duration, r.Retries, r.Error)
		}
		if r.Success {
			out = append(out, *r.Output.(*GenerateResult))
		} else {
			out = append(out, GenerateResult{Err: r.Error})
		}
	}
	return out, nil
}

func buildPrompt(species string, features []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this photo of a %s and annotate its visible anatomical features with Spanish vocabulary.\n", species)
	if len(features) > 0 {
		fmt.Fprintf(&b, "Focus on these features: %s.\n", strings.Join(features, ", "))
	}
	b.WriteString(`Respond with a JSON array only. Each element must have:
  "spanishTerm" (with article, e.g. "el pico"),
  "englishTerm",
  "pronunciation" (phonetic, e.g. "el PEE-koh"),
  "difficultyLevel" (1-5),
  "confidence" (0-1),
  "boundingBox" {"x", "y", "width", "height"} in pixel coordinates when the feature is visible.`)
	return b.String()
}
