// Package store provides the event persistence backends: an in-memory store
// for tests and ephemeral runs, the filesystem store used in production, and
// a Postgres store for deployments that already run a database.
package store

import (
	"time"

	"go.uber.org/zap"
)

type settings struct {
	loc    *time.Location
	logger *zap.Logger
}

// Option customises a store backend.
type Option func(*settings)

// WithLogger attaches a logger for skip-and-log diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithLocation sets the timezone in which date filters are interpreted.
func WithLocation(loc *time.Location) Option {
	return func(s *settings) { s.loc = loc }
}

func applyOptions(opts []Option) settings {
	s := settings{loc: time.UTC, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
