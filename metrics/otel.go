package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Otel records counters through the globally configured OpenTelemetry
// meter provider. Counters are created lazily on first use so that an
// unknown Name never panics.
type Otel struct {
	meter metric.Meter

	mu       sync.Mutex
	counters map[Name]metric.Int64Counter
}

func NewOtel() *Otel {
	return &Otel{
		meter:    otel.Meter("thumbforge"),
		counters: make(map[Name]metric.Int64Counter),
	}
}

func (o *Otel) Increment(name Name, attrs map[string]string) {
	counter, err := o.counter(name)
	if err != nil {
		return
	}

	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for key, value := range attrs {
		kvs = append(kvs, attribute.String(key, value))
	}
	counter.Add(context.Background(), 1,
		metric.WithAttributeSet(attribute.NewSet(kvs...)))
}

func (o *Otel) Shutdown(context.Context) error { return nil }

func (o *Otel) counter(name Name) (metric.Int64Counter, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if counter, ok := o.counters[name]; ok {
		return counter, nil
	}
	counter, err := o.meter.Int64Counter(string(name))
	if err != nil {
		return nil, err
	}
	o.counters[name] = counter
	return counter, nil
}
