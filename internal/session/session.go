// Package session owns one diagram's filter chain and regenerates its
// sequence model on demand.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/abramin/flowseq/internal/sequence"
)

var tracer = otel.Tracer("flowseq.session")

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// Result is one successfully generated diagram.
type Result struct {
	Model      *sequence.DiagramModel
	Text       string
	Generation uint64
	BuiltAt    time.Time

	// Changed is false when Text equals the previous diagram's text. Diff
	// is the unified diff from the previous text; empty on the first build.
	Changed bool
	Diff    string
}

// Option configures a Session.
type Option func(*Session)

// WithID sets the session identifier used in logs.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// Session is the sequence point for one diagram. Filter mutations and
// regenerations are serialized on its lock; a regeneration never blocks
// the lock while it traverses the code model.
type Session struct {
	id     string
	handle sequence.Handle
	params sequence.Params
	model  sequence.CodeModel
	logger *slog.Logger

	mu      sync.Mutex
	filters *sequence.FilterChain
	current *Result
	gen     uint64
	cancel  context.CancelFunc
	closed  bool
}

// New creates a session rooted at handle. The filter chain is copied; nil
// starts with an empty chain.
func New(handle sequence.Handle, params sequence.Params, filters *sequence.FilterChain, model sequence.CodeModel, opts ...Option) *Session {
	s := &Session{
		handle:  handle,
		params:  params,
		model:   model,
		filters: filters.Clone(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "session", "session_id", s.id)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Handle returns the root handle.
func (s *Session) Handle() sequence.Handle { return s.handle }

// Params returns the build parameters.
func (s *Session) Params() sequence.Params { return s.params }

// Regenerate builds the diagram from the current filter chain. A build
// started earlier and still running is cancelled. The current diagram is
// replaced only when this build succeeds and no newer build started in the
// meantime; a superseded build returns ErrCancelled.
func (s *Session) Regenerate(ctx context.Context) (*Result, error) {
	ctx, span := tracer.Start(ctx, "session.Regenerate",
		trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.String("session.handle", string(s.handle)),
		),
	)
	defer span.End()

	res, err := s.regenerate(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("session.generation", int64(res.Generation)),
		attribute.Bool("session.changed", res.Changed),
	)
	return res, nil
}

func (s *Session) regenerate(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	buildCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	filters := s.filters.Clone()
	var prev string
	if s.current != nil {
		prev = s.current.Text
	}
	s.mu.Unlock()
	defer cancel()

	start := time.Now()
	model, text, err := s.generate(buildCtx, filters)
	if err != nil {
		s.logger.Debug("regeneration failed",
			slog.Uint64("generation", gen),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	res := &Result{
		Model:      model,
		Text:       text,
		Generation: gen,
		BuiltAt:    time.Now(),
		Changed:    !sequence.Equal(prev, text),
	}
	if prev != "" && res.Changed {
		if res.Diff, err = sequence.Diff(prev, text); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.gen != gen {
		return nil, fmt.Errorf("%w: superseded by generation %d", sequence.ErrCancelled, s.gen)
	}
	s.current = res
	s.cancel = nil

	s.logger.Debug("diagram regenerated",
		slog.Uint64("generation", gen),
		slog.Bool("changed", res.Changed),
		slog.Int("links", len(model.Links)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (s *Session) generate(ctx context.Context, filters *sequence.FilterChain) (*sequence.DiagramModel, string, error) {
	if !s.model.IsStillValid(s.handle) {
		return nil, "", fmt.Errorf("%w: %s", sequence.ErrInvalidHandle, s.handle)
	}
	root, err := s.model.Resolve(ctx, s.handle)
	if err != nil {
		return nil, "", err
	}

	tree, err := sequence.Build(ctx, root, s.params, filters, s.model)
	if err != nil {
		return nil, "", err
	}
	sequence.Assign(tree)

	model, err := sequence.Flatten(tree)
	if err != nil {
		return nil, "", err
	}
	return model, sequence.Serialize(model), nil
}

// ExcludeType hides every method of o from later regenerations and cancels
// a build in progress.
func (s *Session) ExcludeType(o sequence.ObjectDescriptor) error {
	return s.AddFilter(sequence.ExcludeType(o.FullName()))
}

// ExcludeMethod hides the exact overload m from later regenerations and
// cancels a build in progress.
func (s *Session) ExcludeMethod(m sequence.MethodDescriptor) error {
	return s.AddFilter(sequence.ExcludeDescriptor(m))
}

// AddFilter appends r to the chain and cancels a build in progress. The
// caller is expected to call Regenerate afterwards.
func (s *Session) AddFilter(r sequence.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.filters.AddFilter(r); err != nil {
		return err
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	// A build past its last cancellation check must still fail to commit.
	s.gen++
	s.logger.Debug("filter added", slog.String("rule", r.String()))
	return nil
}

// Current returns the last successful result, or nil.
func (s *Session) Current() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Filters returns a copy of the filter rules in insertion order.
func (s *Session) Filters() []sequence.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.Rules()
}

// Title returns the diagram title, falling back to the handle before the
// first successful build.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return s.current.Model.Title
	}
	return string(s.handle)
}

// Close cancels any build in progress and discards the diagram.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.closed = true
	s.current = nil
}
