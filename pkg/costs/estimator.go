// Package costs tracks vision-API token spend for annotation generation.
package costs

import (
	"sync"
)

// TokenUsage is the token count of one vision-API call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// ModelPricing is the price of a model in dollars per million tokens.
type ModelPricing struct {
	InputPerMTok  float64 `json:"input_per_mtok" yaml:"input_per_mtok"`
	OutputPerMTok float64 `json:"output_per_mtok" yaml:"output_per_mtok"`
}

// Totals is the running accumulation across tracked calls.
type Totals struct {
	Calls        int64   `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Estimator computes per-call costs from a pricing table and accumulates
// running totals. A single mutex guards the accumulator; estimation itself
// is pure.
type Estimator struct {
	mu           sync.Mutex
	pricing      map[string]ModelPricing
	defaultModel string
	totals       Totals
}

// NewEstimator creates an estimator over the given pricing table. Requests
// for models missing from the table fall back to defaultModel's pricing.
func NewEstimator(pricing map[string]ModelPricing, defaultModel string) *Estimator {
	table := make(map[string]ModelPricing, len(pricing))
	for model, p := range pricing {
		table[model] = p
	}
	return &Estimator{
		pricing:      table,
		defaultModel: defaultModel,
	}
}

// Estimate returns the dollar cost of a single call.
func (e *Estimator) Estimate(model string, usage TokenUsage) float64 {
	p := e.pricingFor(model)
	return float64(usage.InputTokens)/1e6*p.InputPerMTok +
		float64(usage.OutputTokens)/1e6*p.OutputPerMTok
}

// TrackUsage estimates the cost of a call and folds it into the running
// totals, returning the per-call cost.
func (e *Estimator) TrackUsage(model string, usage TokenUsage) float64 {
	cost := e.Estimate(model, usage)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.totals.Calls++
	e.totals.InputTokens += int64(usage.InputTokens)
	e.totals.OutputTokens += int64(usage.OutputTokens)
	e.totals.Cost += cost

	return cost
}

// Totals returns a snapshot of the running totals.
func (e *Estimator) Totals() Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totals
}

// Reset zeroes the running totals. The pricing table is untouched.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totals = Totals{}
}

func (e *Estimator) pricingFor(model string) ModelPricing {
	if p, ok := e.pricing[model]; ok {
		return p
	}
	return e.pricing[e.defaultModel]
}
