// Package avelingo is the learning core of the AvesLingo Spanish bird
// vocabulary pipeline.
//
// AI vision models annotate bird photos with vocabulary terms ("el pico",
// "las alas", ...) and bounding boxes. Human reviewers approve, reject, or
// correct those annotations in an admin UI, and every review action feeds
// back into this module so that future generation calls produce better
// prompts and better-placed boxes.
//
// Key Components:
//
//   - learning: PatternLearner maintains a statistical profile per
//     (species, feature) pair: averaged bounding boxes, confidence,
//     rejection counts. It uses that profile to enhance prompts and score
//     incoming annotations.
//
//   - feedback: Engine persists every review event to SQLite and keeps an
//     online-updated positioning model of average deltas between AI-proposed
//     and human-corrected boxes.
//
//   - vision: Annotator wraps the Anthropic SDK for multimodal annotation
//     calls; Generator ties prompt enhancement, caching, cost tracking and
//     batching together for the orchestration layer.
//
//   - batch, cache, costs, metrics: the throughput and cost utilities the
//     generation layer runs on. A bounded worker pool with retry/backoff,
//     an LRU+TTL exercise cache, token cost estimation, and percentile
//     performance tracking.
//
// The module is a library: it has no HTTP surface and renders nothing. The
// admin UI and the primary review database live elsewhere; only the
// learning loop lives here.
package avelingo
