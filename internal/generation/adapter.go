// Package generation wraps the language model behind a fail-soft adapter.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"docrag/internal/domain"
)

// DefaultFallback is shown to the user whenever generation fails.
const DefaultFallback = "Sorry, I encountered an error processing your request."

// DefaultTimeout bounds a single completion call.
const DefaultTimeout = 60 * time.Second

// Factory builds the underlying generator. It is called until it succeeds
// and never again afterwards.
type Factory func(ctx context.Context) (domain.Generator, error)

// Unavailable returns a factory that always fails with reason, for
// deployments without a language model.
func Unavailable(reason string) Factory {
	return func(context.Context) (domain.Generator, error) {
		return nil, errors.New(reason)
	}
}

// Static returns a factory handing out an already constructed generator.
func Static(g domain.Generator) Factory {
	return func(context.Context) (domain.Generator, error) { return g, nil }
}

// Adapter owns one lazily created generator handle. Complete never returns
// an empty string: failures yield the fallback message plus an error
// wrapping domain.ErrGeneration.
type Adapter struct {
	mu      sync.Mutex
	factory Factory
	gen     domain.Generator

	timeout  time.Duration
	fallback string
	log      *zap.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout bounds each Complete call. Zero or negative disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.timeout = d }
}

// WithFallback replaces DefaultFallback. Blank messages are ignored.
func WithFallback(msg string) Option {
	return func(a *Adapter) {
		if strings.TrimSpace(msg) != "" {
			a.fallback = msg
		}
	}
}

// WithLogger sets the logger that receives generation failures.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.log = l
		}
	}
}

// NewAdapter creates an adapter; the generator is built on first use or Warm.
func NewAdapter(factory Factory, opts ...Option) *Adapter {
	a := &Adapter{
		factory:  factory,
		timeout:  DefaultTimeout,
		fallback: DefaultFallback,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Fallback returns the message substituted for failed answers.
func (a *Adapter) Fallback() string { return a.fallback }

// Warm builds the generator eagerly.
func (a *Adapter) Warm(ctx context.Context) error {
	_, err := a.client(ctx)
	return err
}

// Ready reports whether the generator has been built.
func (a *Adapter) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen != nil
}

func (a *Adapter) client(ctx context.Context) (domain.Generator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen != nil {
		return a.gen, nil
	}
	if a.factory == nil {
		return nil, errors.New("no generator configured")
	}
	g, err := a.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("init generator: %w", err)
	}
	if g == nil {
		return nil, errors.New("init generator: factory returned nil")
	}
	a.gen = g
	a.log.Info("generator initialized")
	return g, nil
}

// Complete sends prompt in a single attempt.
func (a *Adapter) Complete(ctx context.Context, prompt string) (string, error) {
	g, err := a.client(ctx)
	if err != nil {
		return a.fail(err)
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	answer, err := g.Complete(ctx, prompt)
	if err != nil {
		return a.fail(err)
	}
	if strings.TrimSpace(answer) == "" {
		return a.fail(errors.New("empty answer"))
	}
	return answer, nil
}

func (a *Adapter) fail(err error) (string, error) {
	a.log.Error("generation failed", zap.Error(err))
	return a.fallback, fmt.Errorf("%w: %v", domain.ErrGeneration, err)
}
