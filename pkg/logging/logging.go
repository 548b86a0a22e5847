// Package logging builds the structured logger used throughout cryptexdb.
// Every subsystem takes a *zap.SugaredLogger as a constructor argument rather
// than reaching for a package-level global, matching the shape already used
// at the engine and storage boundaries.
package logging

import (
	"go.uber.org/zap"
)

// New builds a production-configured SugaredLogger tagged with the given
// service name. It mirrors the call shape `logger.New(service)` used by the
// public façade to obtain a logger for a database instance.
func New(service string) *zap.SugaredLogger {
	base, err := zap.NewProduction()
	if err != nil {
		// zap.NewProduction only fails on a broken encoder/sink configuration,
		// which cannot happen with the default config. Fall back rather than panic.
		base = zap.NewNop()
	}
	return base.Sugar().Named(service)
}

// NewDevelopment builds a development-configured SugaredLogger with
// human-readable console output and stack traces on warnings. Intended for
// the cryptexctl inspection CLI and local test runs.
func NewDevelopment(service string) *zap.SugaredLogger {
	base, err := zap.NewDevelopment()
	if err != nil {
		base = zap.NewNop()
	}
	return base.Sugar().Named(service)
}

// NewNop returns a logger that discards all output, for tests that do not
// want logging noise but still need to satisfy a *zap.SugaredLogger field.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
