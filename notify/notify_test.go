package notify

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestFuncAdapter(t *testing.T) {
	var got Event
	n := Func(func(_ context.Context, ev Event) { got = ev })

	want := Event{StorageID: "local", SourceName: "a.jpg", IDs: []uuid.UUID{uuid.New()}}
	n.QueuedDerivatives(context.Background(), want)

	if got.SourceName != want.SourceName || len(got.IDs) != 1 {
		t.Fatalf("adapter delivered %+v, want %+v", got, want)
	}
}

func TestChannelDelivers(t *testing.T) {
	c := NewChannel(2)
	c.QueuedDerivatives(context.Background(), Event{SourceName: "a.jpg"})
	c.QueuedDerivatives(context.Background(), Event{SourceName: "b.jpg"})
	c.Close()

	var names []string
	for ev := range c.C() {
		names = append(names, ev.SourceName)
	}
	if len(names) != 2 || names[0] != "a.jpg" || names[1] != "b.jpg" {
		t.Fatalf("received %v", names)
	}
}

func TestChannelDropsWhenFull(t *testing.T) {
	c := NewChannel(1)
	c.QueuedDerivatives(context.Background(), Event{SourceName: "kept.jpg"})
	// Buffer is full; this must drop instead of blocking.
	c.QueuedDerivatives(context.Background(), Event{SourceName: "dropped.jpg"})
	c.Close()

	var names []string
	for ev := range c.C() {
		names = append(names, ev.SourceName)
	}
	if len(names) != 1 || names[0] != "kept.jpg" {
		t.Fatalf("received %v", names)
	}
}
