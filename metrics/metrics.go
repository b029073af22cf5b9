package metrics

import "context"

// Name identifies a counter tracked by the service.
type Name string

const (
	DerivativeRequested Name = "thumbforge.derivative.requested"
	DerivativeQueued    Name = "thumbforge.derivative.queued"
	BuildStarted        Name = "thumbforge.build.started"
	BuildSucceeded      Name = "thumbforge.build.succeeded"
	BuildSourceError    Name = "thumbforge.build.source_error"
	BuildFailed         Name = "thumbforge.build.failed"
)

// Recorder counts domain events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Increment(metric Name, attrs map[string]string)
	Shutdown(ctx context.Context) error
}
