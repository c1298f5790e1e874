// Package batch provides a bounded-concurrency executor for annotation
// generation work: a fixed pool of workers with per-task timeout, retry
// with exponential backoff, and a post-task rate-limit delay.
package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"gopkg.in/yaml.v3"

	"github.com/avelingo/avelingo-go/pkg/errors"
	"github.com/avelingo/avelingo-go/pkg/logging"
)

// Task is one unit of work. Higher Priority runs earlier; the queue is
// sorted once at the start of a run and never re-sorted.
type Task struct {
	ID       string
	Data     interface{}
	Priority int
}

// NewTask creates a task with a generated ID.
func NewTask(data interface{}, priority int) Task {
	return Task{ID: uuid.New().String(), Data: data, Priority: priority}
}

// Result is the terminal outcome of one task: either a success after zero
// or more retries, or a failure after exhausting all attempts.
type Result struct {
	TaskID   string
	Success  bool
	Output   interface{}
	Error    error
	Duration time.Duration
	Retries  int
}

// ProcessorFunc executes one task's payload.
type ProcessorFunc func(ctx context.Context, data interface{}) (interface{}, error)

// Config controls a processor run.
type Config struct {
	// Workers bounds concurrent task execution. Defaults to 4.
	Workers int `json:"workers" yaml:"workers"`

	// RetryAttempts is the number of retries after the first failure, so a
	// task is attempted RetryAttempts+1 times in total.
	RetryAttempts int `json:"retry_attempts" yaml:"retry_attempts"`

	// RetryDelay is the wait before the first retry.
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`

	// Backoff multiplies the delay between consecutive retries.
	// Values below 1 are treated as 1 (constant delay).
	Backoff float64 `json:"backoff" yaml:"backoff"`

	// TaskTimeout bounds a single attempt. A timed-out attempt counts as a
	// failure eligible for retry; the in-flight call is not killed. Zero
	// disables the timeout.
	TaskTimeout time.Duration `json:"task_timeout" yaml:"task_timeout"`

	// RateLimitDelay is inserted after each task completes before its
	// worker slot picks up the next one.
	RateLimitDelay time.Duration `json:"rate_limit_delay" yaml:"rate_limit_delay"`
}

// UnmarshalYAML accepts durations as strings like "30s" and only overwrites
// fields present in the document, so YAML layers on top of defaults.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Workers        *int     `yaml:"workers"`
		RetryAttempts  *int     `yaml:"retry_attempts"`
		RetryDelay     *string  `yaml:"retry_delay"`
		Backoff        *float64 `yaml:"backoff"`
		TaskTimeout    *string  `yaml:"task_timeout"`
		RateLimitDelay *string  `yaml:"rate_limit_delay"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Workers != nil {
		c.Workers = *raw.Workers
	}
	if raw.RetryAttempts != nil {
		c.RetryAttempts = *raw.RetryAttempts
	}
	if raw.Backoff != nil {
		c.Backoff = *raw.Backoff
	}
	for _, f := range []struct {
		src *string
		dst *time.Duration
	}{
		{raw.RetryDelay, &c.RetryDelay},
		{raw.TaskTimeout, &c.TaskTimeout},
		{raw.RateLimitDelay, &c.RateLimitDelay},
	} {
		if f.src == nil {
			continue
		}
		d, err := time.ParseDuration(*f.src)
		if err != nil {
			return err
		}
		*f.dst = d
	}
	return nil
}

// Metrics is a point-in-time snapshot of a run, derived from the results
// collected so far plus the pending/in-flight counts.
type Metrics struct {
	Pending   int `json:"pending"`
	InFlight  int `json:"in_flight"`
	Completed int `json:"completed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Retries   int `json:"retries"`
}

// Processor runs batches of tasks through a processing function. A
// Processor tracks one run at a time; Metrics may be called concurrently
// with Run.
type Processor struct {
	config Config

	mu       sync.Mutex
	results  []Result
	pending  int
	inFlight int
}

// NewProcessor creates a processor with the given configuration.
func NewProcessor(config Config) *Processor {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.Backoff < 1 {
		config.Backoff = 1
	}
	return &Processor{config: config}
}

// Run executes all tasks and returns their results in completion order,
// not submission order. Individual task failures are reported in results;
// Run itself only errors on an empty-contract violation.
func (p *Processor) Run(ctx context.Context, tasks []Task, fn ProcessorFunc) ([]Result, error) {
	if fn == nil {
		return nil, errors.New(errors.InvalidInput, "processor function is required")
	}

	logger := logging.GetLogger()

	// Priority-sort once up front; ties keep submission order.
	queue := make([]Task, len(tasks))
	copy(queue, tasks)
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].Priority > queue[j].Priority
	})

	p.mu.Lock()
	p.results = make([]Result, 0, len(queue))
	p.pending = len(queue)
	p.inFlight = 0
	p.mu.Unlock()

	logger.Debug(ctx, "Processing %d tasks with %d workers", len(queue), p.config.Workers)

	workers := pool.New().WithMaxGoroutines(p.config.Workers)
	for _, task := range queue {
		task := task
		workers.Go(func() {
			p.mu.Lock()
			p.pending--
			p.inFlight++
			p.mu.Unlock()

			result := p.runTask(ctx, task, fn)

			p.mu.Lock()
			p.inFlight--
			p.results = append(p.results, result)
			p.mu.Unlock()

			if p.config.RateLimitDelay > 0 {
				select {
				case <-time.After(p.config.RateLimitDelay):
				case <-ctx.Done():
				}
			}
		})
	}
	workers.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Result, len(p.results))
	copy(out, p.results)
	return out, nil
}

// Metrics returns a snapshot of the current (or last) run.
func (p *Processor) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := Metrics{
		Pending:   p.pending,
		InFlight:  p.inFlight,
		Completed: len(p.results),
	}
	for _, r := range p.results {
		if r.Success {
			m.Succeeded++
		} else {
			m.Failed++
		}
		m.Retries += r.Retries
	}
	return m
}

// runTask attempts a task up to RetryAttempts+1 times.
func (p *Processor) runTask(ctx context.Context, task Task, fn ProcessorFunc) Result {
	logger := logging.GetLogger()
	start := time.Now()
	delay := p.config.RetryDelay

	var lastErr error
	for attempt := 0; attempt <= p.config.RetryAttempts; attempt++ {
		output, err := p.attempt(ctx, task, fn)
		if err == nil {
			return Result{
				TaskID:   task.ID,
				Success:  true,
				Output:   output,
				Duration: time.Since(start),
				Retries:  attempt,
			}
		}
		lastErr = err

		if attempt == p.config.RetryAttempts {
			break
		}

		logger.Debug(ctx, "Task %s attempt %d failed, retrying: %v", task.ID, attempt+1, err)

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				// Context gone: no point in further attempts.
				return Result{
					TaskID:   task.ID,
					Error:    errors.Wrap(ctx.Err(), errors.Canceled, "batch run canceled"),
					Duration: time.Since(start),
					Retries:  attempt,
				}
			}
			delay = time.Duration(float64(delay) * p.config.Backoff)
		}
	}

	return Result{
		TaskID:   task.ID,
		Error:    lastErr,
		Duration: time.Since(start),
		Retries:  p.config.RetryAttempts,
	}
}

// attempt races one execution of fn against the task timeout. A timeout
// abandons the attempt but does not kill the in-flight call.
func (p *Processor) attempt(ctx context.Context, task Task, fn ProcessorFunc) (interface{}, error) {
	if p.config.TaskTimeout <= 0 {
		return fn(ctx, task.Data)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, p.config.TaskTimeout)
	defer cancel()

	type attemptResult struct {
		output interface{}
		err    error
	}
	resultChan := make(chan attemptResult, 1)

	go func() {
		output, err := fn(timeoutCtx, task.Data)
		resultChan <- attemptResult{output: output, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.output, res.err
	case <-timeoutCtx.Done():
		return nil, errors.WithFields(
			errors.New(errors.Timeout, "task attempt timed out"),
			errors.Fields{"task_id": task.ID, "timeout": p.config.TaskTimeout})
	}
}
