package diagnostics

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/a11y-bridge/api/schemas"
)

// Sink receives the full diagnostic set for one resource and replaces
// whatever it held for that resource. An empty set clears it.
type Sink interface {
	Publish(ctx context.Context, resource string, diags []schemas.Diagnostic) error
}

// Flusher is implemented by sinks that buffer a round of publishes.
type Flusher interface {
	Flush(ctx context.Context) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, resource string, diags []schemas.Diagnostic) error

func (f SinkFunc) Publish(ctx context.Context, resource string, diags []schemas.Diagnostic) error {
	return f(ctx, resource, diags)
}

// Publisher replace-publishes projections. Resources published in an
// earlier round that have no diagnostics now are cleared explicitly.
type Publisher struct {
	sinks  []Sink
	logger *zap.Logger

	mu        sync.Mutex
	published map[string]struct{}
}

func NewPublisher(logger *zap.Logger, sinks ...Sink) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		sinks:     sinks,
		logger:    logger.Named("publisher"),
		published: make(map[string]struct{}),
	}
}

// Publish sends every resource of proj to every sink, clears stale
// resources, and flushes sinks that buffer.
func (p *Publisher) Publish(ctx context.Context, proj *Projection) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := make(map[string]struct{}, len(proj.Diagnostics))
	var errs []error

	for _, resource := range proj.Resources() {
		current[resource] = struct{}{}
		errs = append(errs, p.send(ctx, resource, proj.Diagnostics[resource]))
	}

	var stale []string
	for resource := range p.published {
		if _, ok := current[resource]; !ok {
			stale = append(stale, resource)
		}
	}
	sort.Strings(stale)
	for _, resource := range stale {
		errs = append(errs, p.send(ctx, resource, nil))
	}

	for _, s := range p.sinks {
		if f, ok := s.(Flusher); ok {
			errs = append(errs, f.Flush(ctx))
		}
	}

	p.published = current
	p.logger.Debug("Published diagnostics.",
		zap.Int("resources", len(current)),
		zap.Int("cleared", len(stale)),
		zap.Int("diagnostics", proj.DiagnosticCount()))
	return errors.Join(errs...)
}

func (p *Publisher) send(ctx context.Context, resource string, diags []schemas.Diagnostic) error {
	var errs []error
	for _, s := range p.sinks {
		errs = append(errs, s.Publish(ctx, resource, diags))
	}
	return errors.Join(errs...)
}

// MemorySink keeps the latest diagnostics per resource.
type MemorySink struct {
	mu    sync.RWMutex
	byRes map[string][]schemas.Diagnostic
}

func NewMemorySink() *MemorySink {
	return &MemorySink{byRes: make(map[string][]schemas.Diagnostic)}
}

func (m *MemorySink) Publish(_ context.Context, resource string, diags []schemas.Diagnostic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(diags) == 0 {
		delete(m.byRes, resource)
		return nil
	}
	m.byRes[resource] = append([]schemas.Diagnostic(nil), diags...)
	return nil
}

// Get returns the diagnostics currently held for resource.
func (m *MemorySink) Get(resource string) []schemas.Diagnostic {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byRes[resource]
}

// Resources lists resources that currently hold diagnostics.
func (m *MemorySink) Resources() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.byRes))
	for r := range m.byRes {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
