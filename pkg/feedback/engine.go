// Package feedback persists reviewer decisions and maintains the
// positioning-correction model derived from them.
package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/avelingo/avelingo-go/pkg/annotation"
	"github.com/avelingo/avelingo-go/pkg/errors"
	"github.com/avelingo/avelingo-go/pkg/learning"
	"github.com/avelingo/avelingo-go/pkg/logging"
)

// EventType identifies the reviewer action behind a feedback event.
type EventType string

const (
	EventApprove     EventType = "approve"
	EventReject      EventType = "reject"
	EventPositionFix EventType = "position_fix"
)

// Event is one reviewer decision on one annotation. Original carries the
// AI-proposed annotation; Corrected is only set for position fixes.
type Event struct {
	Type         EventType
	AnnotationID string
	Species      string
	Feature      string
	ImageID      string
	Notes        string
	ReviewedBy   string
	Original     *annotation.Annotation
	Corrected    *annotation.Annotation
}

// PositioningAdjustment is the learned average correction vector for one
// (species, feature) pair. Confidence reaches 1.0 at ten samples.
type PositioningAdjustment struct {
	DeltaX      float64
	DeltaY      float64
	DeltaWidth  float64
	DeltaHeight float64
	Confidence  float64
	SampleCount int
}

// RejectionAggregate is one row of the rejection analytics breakdown.
type RejectionAggregate struct {
	Category      learning.RejectionCategory
	Species       string
	Feature       string
	Count         int
	AvgConfidence float64
}

const defaultAnalyticsWindow = 30 * 24 * time.Hour

// Engine writes the feedback audit trail to SQLite and keeps the
// positioning model updated online. All write-path database errors are
// logged and swallowed so a storage outage never blocks the review flow.
type Engine struct {
	db      *sql.DB
	learner *learning.PatternLearner
	logger  *logging.Logger
}

// NewEngine opens (creating if needed) the SQLite database at path and
// bootstraps the schema. The learner is optional; when set, every captured
// event is also forwarded to it.
func NewEngine(path string, learner *learning.PatternLearner) (*Engine, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to open feedback database"),
			errors.Fields{"path": path},
		)
	}

	e := &Engine{
		db:      db,
		learner: learner,
		logger:  logging.GetLogger(),
	}
	if err := e.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) initSchema() error {
	if _, err := e.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to enable WAL mode")
	}

	schema := `
    CREATE TABLE IF NOT EXISTS feedback_metrics (
        id TEXT PRIMARY KEY,
        event_type TEXT NOT NULL,
        annotation_id TEXT,
        species TEXT,
        feature TEXT,
        confidence REAL,
        metric_value REAL,
        reviewed_by TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS rejection_patterns (
        id TEXT PRIMARY KEY,
        category TEXT NOT NULL,
        species TEXT,
        feature TEXT,
        original_confidence REAL,
        notes TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_rejection_patterns_created_at
    ON rejection_patterns(created_at);

    CREATE TABLE IF NOT EXISTS annotation_corrections (
        id TEXT PRIMARY KEY,
        annotation_id TEXT,
        species TEXT,
        feature TEXT,
        delta_x REAL,
        delta_y REAL,
        delta_width REAL,
        delta_height REAL,
        magnitude REAL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS positioning_model (
        species TEXT NOT NULL,
        feature TEXT NOT NULL,
        avg_delta_x REAL NOT NULL,
        avg_delta_y REAL NOT NULL,
        avg_delta_width REAL NOT NULL,
        avg_delta_height REAL NOT NULL,
        confidence REAL NOT NULL,
        sample_count INTEGER NOT NULL,
        PRIMARY KEY (species, feature)
    );
    `
	if _, err := e.db.Exec(schema); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to initialize feedback schema")
	}
	return nil
}

// CaptureFeedback records a reviewer decision and forwards it to the
// pattern learner. It never returns an error: persistence failures are
// logged so the caller's approval flow is never blocked by storage.
func (e *Engine) CaptureFeedback(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventApprove:
		e.captureApproval(ctx, ev)
	case EventReject:
		e.captureRejection(ctx, ev)
	case EventPositionFix:
		e.capturePositionFix(ctx, ev)
	default:
		e.logger.Warn(ctx, "ignoring feedback event with unknown type %q", ev.Type)
	}
}

func (e *Engine) captureApproval(ctx context.Context, ev Event) {
	e.insertMetric(ctx, ev)

	if e.learner != nil && ev.Original != nil {
		e.learner.LearnFromApproval(ctx, *ev.Original, annotation.Context{
			Species: ev.Species,
			ImageID: ev.ImageID,
		})
	}
}

func (e *Engine) captureRejection(ctx context.Context, ev Event) {
	category := learning.ExtractRejectionCategory(ev.Notes)

	e.insertMetric(ctx, ev)

	_, err := e.db.ExecContext(ctx, `
        INSERT INTO rejection_patterns (id, category, species, feature, original_confidence, notes)
        VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), string(category), ev.Species, e.feature(ev), e.confidence(ev), ev.Notes)
	if err != nil {
		e.logger.Error(ctx, "failed to record rejection pattern: %v", err)
	}

	e.updateRejectionRate(ctx)

	if e.learner != nil && ev.Original != nil {
		e.learner.LearnFromRejection(ctx, *ev.Original, ev.Notes, annotation.Context{
			Species: ev.Species,
			ImageID: ev.ImageID,
		})
	}
}

func (e *Engine) capturePositionFix(ctx context.Context, ev Event) {
	// A correction without both boxes carries no positional signal.
	// Skipping it silently is deliberate, not an error.
	if ev.Original == nil || ev.Corrected == nil ||
		ev.Original.BoundingBox == nil || ev.Corrected.BoundingBox == nil {
		e.logger.Debug(ctx, "position fix without both bounding boxes, skipping")
		return
	}

	d := annotation.DeltaFrom(*ev.Original.BoundingBox, *ev.Corrected.BoundingBox)

	e.insertMetric(ctx, ev)

	_, err := e.db.ExecContext(ctx, `
        INSERT INTO annotation_corrections
            (id, annotation_id, species, feature, delta_x, delta_y, delta_width, delta_height, magnitude)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), ev.AnnotationID, ev.Species, e.feature(ev),
		d.X, d.Y, d.Width, d.Height, d.Magnitude())
	if err != nil {
		e.logger.Error(ctx, "failed to record annotation correction: %v", err)
	}

	// Online upsert: fold the new delta into the running average and bump
	// the model confidence toward its ten-sample cap.
	_, err = e.db.ExecContext(ctx, `
        INSERT INTO positioning_model
            (species, feature, avg_delta_x, avg_delta_y, avg_delta_width, avg_delta_height, confidence, sample_count)
        VALUES (?, ?, ?, ?, ?, ?, 0.1, 1)
        ON CONFLICT(species, feature) DO UPDATE SET
            avg_delta_x = (avg_delta_x * sample_count + excluded.avg_delta_x) / (sample_count + 1),
            avg_delta_y = (avg_delta_y * sample_count + excluded.avg_delta_y) / (sample_count + 1),
            avg_delta_width = (avg_delta_width * sample_count + excluded.avg_delta_width) / (sample_count + 1),
            avg_delta_height = (avg_delta_height * sample_count + excluded.avg_delta_height) / (sample_count + 1),
            confidence = min(1.0, (sample_count + 1) / 10.0),
            sample_count = sample_count + 1`,
		ev.Species, e.feature(ev), d.X, d.Y, d.Width, d.Height)
	if err != nil {
		e.logger.Error(ctx, "failed to update positioning model: %v", err)
	}

	if e.learner != nil {
		e.learner.LearnFromCorrection(ctx, *ev.Original, *ev.Corrected, annotation.Context{
			Species: ev.Species,
			ImageID: ev.ImageID,
		})
	}
}

func (e *Engine) insertMetric(ctx context.Context, ev Event) {
	_, err := e.db.ExecContext(ctx, `
        INSERT INTO feedback_metrics (id, event_type, annotation_id, species, feature, confidence, reviewed_by)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), string(ev.Type), ev.AnnotationID, ev.Species,
		e.feature(ev), e.confidence(ev), ev.ReviewedBy)
	if err != nil {
		e.logger.Error(ctx, "failed to record feedback metric: %v", err)
	}
}

func (e *Engine) updateRejectionRate(ctx context.Context) {
	var total, rejected int
	err := e.db.QueryRowContext(ctx, `
        SELECT COUNT(*), SUM(CASE WHEN event_type = ? THEN 1 ELSE 0 END)
        FROM feedback_metrics
        WHERE event_type IN (?, ?)`,
		string(EventReject), string(EventApprove), string(EventReject)).Scan(&total, &rejected)
	if err != nil || total == 0 {
		if err != nil {
			e.logger.Error(ctx, "failed to compute rejection rate: %v", err)
		}
		return
	}

	rate := float64(rejected) / float64(total)
	_, err = e.db.ExecContext(ctx, `
        INSERT INTO feedback_metrics (id, event_type, metric_value)
        VALUES ('rejection_rate', 'aggregate', ?)
        ON CONFLICT(id) DO UPDATE SET
            metric_value = excluded.metric_value,
            created_at = CURRENT_TIMESTAMP`,
		rate)
	if err != nil {
		e.logger.Error(ctx, "failed to store rejection rate: %v", err)
	}
}

// GetPositioningAdjustments returns the learned correction vector for a
// (species, feature) pair, or nil when no samples exist yet or the query
// fails. Callers treat nil as "no adjustment available".
func (e *Engine) GetPositioningAdjustments(ctx context.Context, species, feature string) *PositioningAdjustment {
	var adj PositioningAdjustment
	err := e.db.QueryRowContext(ctx, `
        SELECT avg_delta_x, avg_delta_y, avg_delta_width, avg_delta_height, confidence, sample_count
        FROM positioning_model
        WHERE species = ? AND feature = ?`,
		species, feature).Scan(
		&adj.DeltaX, &adj.DeltaY, &adj.DeltaWidth, &adj.DeltaHeight,
		&adj.Confidence, &adj.SampleCount)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		e.logger.Error(ctx, "failed to query positioning model: %v", err)
		return nil
	}
	return &adj
}

// GetRejectionAnalytics aggregates rejection patterns recorded within the
// window (30 days when zero), grouped by category, species and feature.
// Query failures yield an empty slice, never an error.
func (e *Engine) GetRejectionAnalytics(ctx context.Context, window time.Duration) []RejectionAggregate {
	if window <= 0 {
		window = defaultAnalyticsWindow
	}
	cutoff := fmt.Sprintf("-%d seconds", int(window.Seconds()))

	rows, err := e.db.QueryContext(ctx, `
        SELECT category, species, feature, COUNT(*) AS n, AVG(original_confidence)
        FROM rejection_patterns
        WHERE created_at >= datetime('now', ?)
        GROUP BY category, species, feature
        ORDER BY n DESC`,
		cutoff)
	if err != nil {
		e.logger.Error(ctx, "failed to query rejection analytics: %v", err)
		return []RejectionAggregate{}
	}
	defer rows.Close()

	var out []RejectionAggregate
	for rows.Next() {
		var agg RejectionAggregate
		var category string
		if err := rows.Scan(&category, &agg.Species, &agg.Feature, &agg.Count, &agg.AvgConfidence); err != nil {
			e.logger.Error(ctx, "failed to scan rejection analytics row: %v", err)
			return []RejectionAggregate{}
		}
		agg.Category = learning.RejectionCategory(category)
		out = append(out, agg)
	}
	if err := rows.Err(); err != nil {
		e.logger.Error(ctx, "error iterating rejection analytics rows: %v", err)
		return []RejectionAggregate{}
	}
	if out == nil {
		out = []RejectionAggregate{}
	}
	return out
}

// RejectionRate returns the stored approve/reject aggregate, or zero when
// no rejections have been captured yet.
func (e *Engine) RejectionRate(ctx context.Context) float64 {
	var rate float64
	err := e.db.QueryRowContext(ctx,
		`SELECT metric_value FROM feedback_metrics WHERE id = 'rejection_rate'`).Scan(&rate)
	if err != nil {
		if err != sql.ErrNoRows {
			e.logger.Error(ctx, "failed to read rejection rate: %v", err)
		}
		return 0
	}
	return rate
}

func (e *Engine) feature(ev Event) string {
	if ev.Feature != "" {
		return ev.Feature
	}
	if ev.Original != nil {
		return ev.Original.SpanishTerm
	}
	return ""
}

func (e *Engine) confidence(ev Event) float64 {
	if ev.Original != nil {
		return ev.Original.Confidence
	}
	return 0
}

// Close releases the underlying database handle.
func (e *Engine) Close() error {
	if err := e.db.Close(); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to close feedback database")
	}
	return nil
}
