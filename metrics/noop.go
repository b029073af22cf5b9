package metrics

import "context"

// Noop discards every event. It is the default recorder when telemetry
// is disabled.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (*Noop) Increment(Name, map[string]string) {}

func (*Noop) Shutdown(context.Context) error { return nil }
