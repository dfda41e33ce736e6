// Package logging configures the zap loggers used across the graph engine.
// Every component takes a *zap.Logger rather than a global, so controllers
// for different graphs can be given independently-scoped loggers.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	nopOnce sync.Once
	nop     *zap.Logger
)

// Nop returns a shared no-op logger for components constructed without an
// explicit logger (tests, quick scripts).
func Nop() *zap.Logger {
	nopOnce.Do(func() { nop = zap.NewNop() })
	return nop
}

// New builds a development-mode logger (human-readable, debug-enabled) if
// dev is true, otherwise a production JSON logger. Callers that need a
// graph-scoped logger should call Named/With on the result.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// ForGraph scopes a logger to a graph name and component, the way every
// controller/reducer/index log line in this package is expected to be
// attributable to "which graph, which subsystem".
func ForGraph(base *zap.Logger, graph, component string) *zap.Logger {
	if base == nil {
		base = Nop()
	}
	return base.Named(component).With(zap.String("graph", graph))
}
