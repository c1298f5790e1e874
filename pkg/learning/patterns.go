// Package learning implements the feedback-driven pattern learner of the
// AvesLingo pipeline. Every annotation the vision model produces, and every
// reviewer approval, rejection, and correction, updates a per
// (species, feature) statistical profile that later biases prompt
// construction and box placement.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avelingo/avelingo-go/pkg/annotation"
	"github.com/avelingo/avelingo-go/pkg/errors"
	"github.com/avelingo/avelingo-go/pkg/logging"
	"github.com/avelingo/avelingo-go/pkg/storage"
)

const (
	// ConfidenceThreshold is the minimum annotation confidence worth
	// learning from. Anything below is skipped entirely.
	ConfidenceThreshold = 0.7

	// MinObservations gates prompt enhancement: below this the pattern is
	// too thin to trust.
	MinObservations = 5

	approvalBoost    = 0.05
	rejectionPenalty = 0.1

	// A human correction carries the weight of this many plain
	// observations when folded into box averages.
	correctionWeight = 2

	// Same-category rejections in a row before a warning is armed.
	rejectionWarningStreak = 3

	maxPromptFragments = 10
	maxBoxPatterns     = 5

	// Boxes whose centers are within this many pixels fold into the same
	// averaged cluster; farther ones start a new cluster.
	boxClusterDistance = 50.0

	defaultSnapshotKey = "bird-patterns.json"
)

// PatternKey identifies a learned pattern. A dedicated key type keeps
// species and feature from ever colliding through string concatenation.
type PatternKey struct {
	Species string `json:"species"`
	Feature string `json:"feature"`
}

// BoundingBoxPattern is one averaged box cluster. SampleCount weights the
// incremental mean when the next observation folds in.
type BoundingBoxPattern struct {
	Box         annotation.BoundingBox `json:"box"`
	SampleCount int                    `json:"sample_count"`
}

// LearnedPattern is the statistical profile of one (species, feature) pair.
type LearnedPattern struct {
	Species         string                    `json:"species"`
	Feature         string                    `json:"feature"`
	PromptFragments []string                  `json:"prompt_fragments,omitempty"` // most recent first
	BoxPatterns     []BoundingBoxPattern      `json:"box_patterns,omitempty"`     // most recent first
	Confidence      float64                   `json:"confidence"`                 // [0,1]
	Observations    int                       `json:"observations"`
	LastUpdated     time.Time                 `json:"last_updated"`
	RejectionCounts map[RejectionCategory]int `json:"rejection_counts,omitempty"`
	Metadata        map[string]string         `json:"metadata,omitempty"`

	// Consecutive same-category rejection tracking.
	LastRejection   RejectionCategory `json:"last_rejection,omitempty"`
	RejectionStreak int               `json:"rejection_streak,omitempty"`
	ActiveWarning   RejectionCategory `json:"active_warning,omitempty"`
}

// Metadata accompanies a batch of freshly generated annotations.
type Metadata struct {
	Species string
	ImageID string
	// Prompt is the fragment that produced the batch; recorded against
	// every pattern it updates so EnhancePrompt can replay what worked.
	Prompt string
}

// PromptContext names the species and features a generation request is
// about to ask for.
type PromptContext struct {
	Species  string
	Features []string
}

// Snapshot is the serialized form of the whole pattern map.
type Snapshot struct {
	SavedAt  time.Time        `json:"saved_at"`
	Patterns []LearnedPattern `json:"patterns"`
}

// PatternLearner maintains the in-memory pattern map and persists it
// best-effort through a blob store. All methods are safe for concurrent
// use; learning never blocks or fails the caller on storage trouble.
type PatternLearner struct {
	mu          sync.RWMutex
	patterns    map[PatternKey]*LearnedPattern
	store       storage.BlobStore
	snapshotKey string
	initialized bool
}

// Option configures a PatternLearner.
type Option func(*PatternLearner)

// WithBlobStore enables snapshot persistence. Without it the learner is
// purely in-memory.
func WithBlobStore(store storage.BlobStore) Option {
	return func(l *PatternLearner) {
		l.store = store
	}
}

// WithSnapshotKey overrides the blob key snapshots are stored under.
func WithSnapshotKey(key string) Option {
	return func(l *PatternLearner) {
		if key != "" {
			l.snapshotKey = key
		}
	}
}

// NewPatternLearner creates a learner. Call EnsureInitialized before use.
func NewPatternLearner(opts ...Option) *PatternLearner {
	l := &PatternLearner{
		patterns:    make(map[PatternKey]*LearnedPattern),
		snapshotKey: defaultSnapshotKey,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// EnsureInitialized restores the previously persisted snapshot, if any.
// It is idempotent, and a missing or corrupt snapshot leaves the learner
// empty rather than failing: absence of history is not an error.
func (l *PatternLearner) EnsureInitialized(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.initialized {
		return nil
	}
	l.initialized = true

	if l.store == nil {
		return nil
	}

	logger := logging.GetLogger()

	data, err := l.store.Download(ctx, l.snapshotKey)
	if err != nil {
		logger.Debug(ctx, "No pattern snapshot to restore: %v", err)
		return nil
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		logger.Warn(ctx, "Pattern snapshot is corrupt, starting empty: %v", err)
		return nil
	}

	for i := range snapshot.Patterns {
		p := snapshot.Patterns[i]
		l.patterns[PatternKey{Species: p.Species, Feature: p.Feature}] = &p
	}

	logger.Info(ctx, "Restored %d learned patterns", len(snapshot.Patterns))
	return nil
}

// LearnFromAnnotations folds a batch of freshly generated annotations into
// the pattern map. Annotations below ConfidenceThreshold are skipped
// entirely. The snapshot persist that follows is best-effort.
func (l *PatternLearner) LearnFromAnnotations(ctx context.Context, annotations []annotation.Annotation, meta Metadata) error {
	if meta.Species == "" {
		return errors.New(errors.InvalidInput, "species is required to learn from annotations")
	}

	l.mu.Lock()
	for _, ann := range annotations {
		if ann.Confidence < ConfidenceThreshold {
			continue
		}

		p := l.pattern(meta.Species, ann.SpanishTerm)
		p.observe(ann.Confidence)
		if ann.BoundingBox != nil {
			p.foldBox(*ann.BoundingBox, 1)
		}
		if meta.Prompt != "" {
			p.recordFragment(meta.Prompt)
		}
	}
	l.mu.Unlock()

	l.persist(ctx)
	return nil
}

// LearnFromApproval treats a reviewer approval as a strong positive
// signal: the pattern is created if absent and its confidence is boosted
// beyond the plain weighted-average update.
func (l *PatternLearner) LearnFromApproval(ctx context.Context, ann annotation.Annotation, reviewCtx annotation.Context) {
	l.mu.Lock()
	p := l.pattern(reviewCtx.Species, ann.SpanishTerm)
	p.observe(ann.Confidence)
	p.Confidence = math.Min(1.0, p.Confidence+approvalBoost)
	if ann.BoundingBox != nil {
		p.foldBox(*ann.BoundingBox, 1)
	}
	// An approval breaks any rejection streak.
	p.RejectionStreak = 0
	p.LastRejection = ""
	l.mu.Unlock()

	l.persist(ctx)
}

// LearnFromRejection lowers the pattern's confidence, classifies the
// free-text reason into a category, and arms a prompt warning after three
// same-category rejections in a row.
func (l *PatternLearner) LearnFromRejection(ctx context.Context, ann annotation.Annotation, reason string, reviewCtx annotation.Context) {
	category := ExtractRejectionCategory(reason)

	l.mu.Lock()
	p := l.pattern(reviewCtx.Species, ann.SpanishTerm)
	p.Observations++
	p.Confidence = math.Max(0, p.Confidence-rejectionPenalty)
	p.LastUpdated = time.Now()

	if p.RejectionCounts == nil {
		p.RejectionCounts = make(map[RejectionCategory]int)
	}
	p.RejectionCounts[category]++

	if category == p.LastRejection {
		p.RejectionStreak++
	} else {
		p.LastRejection = category
		p.RejectionStreak = 1
	}
	if p.RejectionStreak >= rejectionWarningStreak {
		p.ActiveWarning = category
	}
	l.mu.Unlock()

	l.persist(ctx)
}

// LearnFromCorrection is the strongest-weighted signal: the reviewer told
// us where the box actually belongs. If either side lacks a box the event
// carries no positional information and is a deliberate no-op.
func (l *PatternLearner) LearnFromCorrection(ctx context.Context, original, corrected annotation.Annotation, reviewCtx annotation.Context) {
	if original.BoundingBox == nil || corrected.BoundingBox == nil {
		return
	}

	l.mu.Lock()
	p := l.pattern(reviewCtx.Species, original.SpanishTerm)
	p.observe(corrected.Confidence)
	p.foldBox(*corrected.BoundingBox, correctionWeight)
	p.Confidence = math.Min(1.0, p.Confidence+approvalBoost)
	l.mu.Unlock()

	l.persist(ctx)
}

// EnhancePrompt appends review-derived guidance to a base prompt. The base
// prompt comes back untouched when no requested feature has a mature
// pattern.
func (l *PatternLearner) EnhancePrompt(base string, pctx PromptContext) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var hints []string
	for _, feature := range pctx.Features {
		p, ok := l.patterns[PatternKey{Species: pctx.Species, Feature: feature}]
		if !ok || p.Observations < MinObservations {
			continue
		}

		for i, frag := range p.PromptFragments {
			if i >= 2 {
				break
			}
			hints = append(hints, frag)
		}

		if box := p.learnedBox(); box != nil {
			hints = append(hints, fmt.Sprintf(
				"%s is usually found near x=%.0f, y=%.0f (about %.0fx%.0f)",
				feature, box.X, box.Y, box.Width, box.Height))
		}

		if p.ActiveWarning != "" {
			hints = append(hints, fmt.Sprintf(
				"annotations for %s have been repeatedly rejected as %s; verify before boxing",
				feature, p.ActiveWarning))
		}
	}

	if len(hints) == 0 {
		return base
	}

	return base + "\n\nGuidance from prior reviews:\n- " + strings.Join(hints, "\n- ")
}

// GetRecommendedFeatures returns up to limit feature names for a species,
// most-observed first, breaking ties on confidence. Unknown species yield
// an empty slice.
func (l *PatternLearner) GetRecommendedFeatures(species string, limit int) []string {
	if limit <= 0 {
		limit = 10
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	type ranked struct {
		feature      string
		observations int
		confidence   float64
	}

	var candidates []ranked
	for key, p := range l.patterns {
		if key.Species != species {
			continue
		}
		candidates = append(candidates, ranked{key.Feature, p.Observations, p.Confidence})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].observations != candidates[j].observations {
			return candidates[i].observations > candidates[j].observations
		}
		return candidates[i].confidence > candidates[j].confidence
	})

	features := make([]string, 0, limit)
	for _, c := range candidates {
		if len(features) == limit {
			break
		}
		features = append(features, c.feature)
	}
	return features
}

// GetPositionAdjustedFeatures returns the learned averaged box per
// requested feature, for those that have one.
func (l *PatternLearner) GetPositionAdjustedFeatures(species string, features []string) map[string]annotation.BoundingBox {
	l.mu.RLock()
	defer l.mu.RUnlock()

	adjusted := make(map[string]annotation.BoundingBox)
	for _, feature := range features {
		p, ok := l.patterns[PatternKey{Species: species, Feature: feature}]
		if !ok {
			continue
		}
		if box := p.learnedBox(); box != nil {
			adjusted[feature] = *box
		}
	}
	return adjusted
}

// SpeciesStats summarizes all patterns of one species.
type SpeciesStats struct {
	Patterns      int     `json:"patterns"`
	Observations  int     `json:"observations"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// FeatureStat ranks one pattern for analytics.
type FeatureStat struct {
	Species      string  `json:"species"`
	Feature      string  `json:"feature"`
	Observations int     `json:"observations"`
	Confidence   float64 `json:"confidence"`
}

// AnalyticsReport is a read-only projection of the live pattern map.
type AnalyticsReport struct {
	TotalPatterns int                     `json:"total_patterns"`
	SpeciesCount  int                     `json:"species_count"`
	TopFeatures   []FeatureStat           `json:"top_features"`
	PerSpecies    map[string]SpeciesStats `json:"per_species"`
}

// Analytics reflects the current in-memory state exactly; nothing is
// cached between calls.
func (l *PatternLearner) Analytics() AnalyticsReport {
	l.mu.RLock()
	defer l.mu.RUnlock()

	report := AnalyticsReport{
		TotalPatterns: len(l.patterns),
		PerSpecies:    make(map[string]SpeciesStats),
	}

	confidenceSums := make(map[string]float64)
	for key, p := range l.patterns {
		stats := report.PerSpecies[key.Species]
		stats.Patterns++
		stats.Observations += p.Observations
		report.PerSpecies[key.Species] = stats
		confidenceSums[key.Species] += p.Confidence

		report.TopFeatures = append(report.TopFeatures, FeatureStat{
			Species:      key.Species,
			Feature:      key.Feature,
			Observations: p.Observations,
			Confidence:   p.Confidence,
		})
	}

	for species, stats := range report.PerSpecies {
		stats.AvgConfidence = confidenceSums[species] / float64(stats.Patterns)
		report.PerSpecies[species] = stats
	}
	report.SpeciesCount = len(report.PerSpecies)

	sort.Slice(report.TopFeatures, func(i, j int) bool {
		if report.TopFeatures[i].Observations != report.TopFeatures[j].Observations {
			return report.TopFeatures[i].Observations > report.TopFeatures[j].Observations
		}
		return report.TopFeatures[i].Confidence > report.TopFeatures[j].Confidence
	})
	if len(report.TopFeatures) > 10 {
		report.TopFeatures = report.TopFeatures[:10]
	}

	return report
}

// ExportPatterns returns a deep-copied snapshot of the pattern map,
// ordered by species then feature for stable output.
func (l *PatternLearner) ExportPatterns() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

// pattern returns the existing pattern for (species, feature) or creates
// an empty one. Caller must hold l.mu.
func (l *PatternLearner) pattern(species, feature string) *LearnedPattern {
	key := PatternKey{Species: species, Feature: feature}
	if p, ok := l.patterns[key]; ok {
		return p
	}
	p := &LearnedPattern{
		Species:     species,
		Feature:     feature,
		LastUpdated: time.Now(),
	}
	l.patterns[key] = p
	return p
}

// observe folds one confidence sample into the running weighted average.
func (p *LearnedPattern) observe(confidence float64) {
	confidence = math.Max(0, math.Min(1, confidence))
	p.Confidence = (p.Confidence*float64(p.Observations) + confidence) / float64(p.Observations+1)
	p.Observations++
	p.LastUpdated = time.Now()
}

// foldBox merges a box into the nearest averaged cluster, or starts a new
// cluster when every existing one is too far away. weight is the number of
// observations this sample counts as.
func (p *LearnedPattern) foldBox(box annotation.BoundingBox, weight int) {
	bestIdx := -1
	bestDist := math.MaxFloat64
	for i, cluster := range p.BoxPatterns {
		d := centerDistance(cluster.Box, box)
		if d < bestDist {
			bestDist = d
			bestIdx = i
		}
	}

	if bestIdx >= 0 && bestDist <= boxClusterDistance {
		cluster := p.BoxPatterns[bestIdx]
		total := float64(cluster.SampleCount + weight)
		w := float64(weight)
		cluster.Box.X = (cluster.Box.X*float64(cluster.SampleCount) + box.X*w) / total
		cluster.Box.Y = (cluster.Box.Y*float64(cluster.SampleCount) + box.Y*w) / total
		cluster.Box.Width = (cluster.Box.Width*float64(cluster.SampleCount) + box.Width*w) / total
		cluster.Box.Height = (cluster.Box.Height*float64(cluster.SampleCount) + box.Height*w) / total
		cluster.SampleCount += weight

		// Move the updated cluster to the front (most recent first).
		p.BoxPatterns = append(p.BoxPatterns[:bestIdx], p.BoxPatterns[bestIdx+1:]...)
		p.BoxPatterns = append([]BoundingBoxPattern{cluster}, p.BoxPatterns...)
		return
	}

	p.BoxPatterns = append([]BoundingBoxPattern{{Box: box, SampleCount: weight}}, p.BoxPatterns...)
	if len(p.BoxPatterns) > maxBoxPatterns {
		p.BoxPatterns = p.BoxPatterns[:maxBoxPatterns]
	}
}

// learnedBox returns the best-supported averaged box, or nil when no box
// has been observed yet.
func (p *LearnedPattern) learnedBox() *annotation.BoundingBox {
	var best *BoundingBoxPattern
	for i := range p.BoxPatterns {
		if best == nil || p.BoxPatterns[i].SampleCount > best.SampleCount {
			best = &p.BoxPatterns[i]
		}
	}
	if best == nil {
		return nil
	}
	box := best.Box
	return &box
}

// recordFragment prepends a prompt fragment, deduplicating and keeping the
// list bounded, most recent first.
func (p *LearnedPattern) recordFragment(fragment string) {
	for i, existing := range p.PromptFragments {
		if existing == fragment {
			p.PromptFragments = append(p.PromptFragments[:i], p.PromptFragments[i+1:]...)
			break
		}
	}
	p.PromptFragments = append([]string{fragment}, p.PromptFragments...)
	if len(p.PromptFragments) > maxPromptFragments {
		p.PromptFragments = p.PromptFragments[:maxPromptFragments]
	}
}

func centerDistance(a, b annotation.BoundingBox) float64 {
	ax, ay := a.X+a.Width/2, a.Y+a.Height/2
	bx, by := b.X+b.Width/2, b.Y+b.Height/2
	return math.Hypot(ax-bx, ay-by)
}

// snapshotLocked deep-copies the pattern map. Caller must hold l.mu.
func (l *PatternLearner) snapshotLocked() Snapshot {
	snapshot := Snapshot{
		SavedAt:  time.Now(),
		Patterns: make([]LearnedPattern, 0, len(l.patterns)),
	}
	for _, p := range l.patterns {
		cp := *p
		cp.PromptFragments = append([]string(nil), p.PromptFragments...)
		cp.BoxPatterns = append([]BoundingBoxPattern(nil), p.BoxPatterns...)
		if p.RejectionCounts != nil {
			cp.RejectionCounts = make(map[RejectionCategory]int, len(p.RejectionCounts))
			for k, v := range p.RejectionCounts {
				cp.RejectionCounts[k] = v
			}
		}
		if p.Metadata != nil {
			cp.Metadata = make(map[string]string, len(p.Metadata))
			for k, v := range p.Metadata {
				cp.Metadata[k] = v
			}
		}
		snapshot.Patterns = append(snapshot.Patterns, cp)
	}

	sort.Slice(snapshot.Patterns, func(i, j int) bool {
		if snapshot.Patterns[i].Species != snapshot.Patterns[j].Species {
			return snapshot.Patterns[i].Species < snapshot.Patterns[j].Species
		}
		return snapshot.Patterns[i].Feature < snapshot.Patterns[j].Feature
	})

	return snapshot
}

// persist uploads the full pattern map as one JSON blob. Failures are
// logged and swallowed: a storage outage must never block the review
// workflow that triggered the learning update.
func (l *PatternLearner) persist(ctx context.Context) {
	if l.store == nil {
		return
	}

	l.mu.RLock()
	snapshot := l.snapshotLocked()
	l.mu.RUnlock()

	logger := logging.GetLogger()

	data, err := json.Marshal(snapshot)
	if err != nil {
		logger.Error(ctx, "Failed to serialize pattern snapshot: %v", err)
		return
	}

	if err := l.store.Upload(ctx, l.snapshotKey, data); err != nil {
		logger.Warn(ctx, "Failed to persist pattern snapshot: %v", err)
	}
}
