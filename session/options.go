package session

import (
	"log/slog"
	"time"

	"github.com/syssam/uow/keygen"
	"github.com/syssam/uow/privacy"
	"github.com/syssam/uow/tracker"
)

type (
	config struct {
		log       *slog.Logger
		metrics   *Metrics
		sequences keygen.Provider
		keys      *keygen.Generator
		block     int
		workers   int
		accessor  tracker.Accessor
		policy    privacy.Rule
		clock     func() time.Time
	}

	// Option configures a Scope.
	Option func(*config)
)

// WithLogger sets the logger of the scope. Commands are logged at debug
// level and conflicts at warn level.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithMetrics records save outcomes and durations.
func WithMetrics(m *Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithSequences sets the provider of store sequence values.
func WithSequences(p keygen.Provider) Option {
	return func(c *config) { c.sequences = p }
}

// WithKeyGenerator shares a key generator, and its pooled sequence values,
// between scopes. It takes precedence over WithSequences and WithBlockSize.
func WithKeyGenerator(g *keygen.Generator) Option {
	return func(c *config) { c.keys = g }
}

// WithBlockSize sets the minimal number of sequence values fetched per
// round trip.
func WithBlockSize(n int) Option {
	return func(c *config) { c.block = n }
}

// WithWorkers limits the number of sequences fetched concurrently.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithAccessor sets how tracked objects are read and written.
func WithAccessor(acc tracker.Accessor) Option {
	return func(c *config) { c.accessor = acc }
}

// WithClock sets the time source of save durations.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.clock = now }
}

// WithPolicy evaluates every command against rule before it executes. A
// denied command fails the save with an ExecutionError wrapping the
// decision.
func WithPolicy(rule privacy.Rule) Option {
	return func(c *config) { c.policy = rule }
}
