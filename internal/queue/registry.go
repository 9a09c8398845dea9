package queue

import (
	"time"

	"github.com/you/jobcore/internal/domain"
)

// Queue and job type names. Job types are queue-scoped.
const (
	QueueExports   = "exports"
	QueueAnalytics = "analytics"

	TypeExportGenerate = "export.generate"
	TypeAggregateDaily = "analytics.aggregate_daily"
)

// Options are the dispatch defaults a queue carries; per-call overrides
// are merged on top by the dispatcher.
type Options struct {
	MaxAttempts   int
	Backoff       domain.BackoffShape
	BackoffBase   time.Duration
	KeepSucceeded int
	KeepFailed    int
}

// Definition binds a queue name to its allowed job types and defaults.
type Definition struct {
	Name     string
	Types    []string
	Defaults Options
}

func (d Definition) allows(jobType string) bool {
	for _, t := range d.Types {
		if t == jobType {
			return true
		}
	}
	return false
}

// Registry is the static queue configuration. It holds no runtime state.
type Registry struct {
	defs map[string]Definition
}

func NewRegistry(defs ...Definition) *Registry {
	m := make(map[string]Definition, len(defs))
	for _, d := range defs {
		m[d.Name] = d
	}
	return &Registry{defs: m}
}

// Resolve validates the (queue, jobType) pair and returns the queue's
// definition. Fails with domain.ErrUnknownQueue or domain.ErrUnknownJobType.
func (r *Registry) Resolve(queue, jobType string) (Definition, error) {
	d, ok := r.defs[queue]
	if !ok {
		return Definition{}, domain.ErrUnknownQueue
	}
	if !d.allows(jobType) {
		return Definition{}, domain.ErrUnknownJobType
	}
	return d, nil
}

// Names returns every registered queue name.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.defs))
	for n := range r.defs {
		out = append(out, n)
	}
	return out
}

// Definition looks up one queue by name.
func (r *Registry) Definition(queue string) (Definition, bool) {
	d, ok := r.defs[queue]
	return d, ok
}

func defaultOptions() Options {
	return Options{
		MaxAttempts:   3,
		Backoff:       domain.BackoffExponential,
		BackoffBase:   2 * time.Second,
		KeepSucceeded: 100,
		KeepFailed:    200,
	}
}

// DefaultRegistry registers the platform queues.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Definition{
			Name:     QueueExports,
			Types:    []string{TypeExportGenerate},
			Defaults: defaultOptions(),
		},
		Definition{
			Name:     QueueAnalytics,
			Types:    []string{TypeAggregateDaily},
			Defaults: defaultOptions(),
		},
	)
}
