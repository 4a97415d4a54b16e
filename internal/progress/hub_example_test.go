package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(Event{
		RunID: UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001")),
		TS:    time.Unix(0, 0),
		Stage: StageRunStart,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleGroupObserver shows throttled group progress reaching a custom sink.
func ExampleGroupObserver() {
	var last int64
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StageGroupsMerged {
				last = evt.Processed
			}
		}
		return nil
	})
	hub := NewHub(Config{BufferSize: 16, MaxBatchEvents: 1, MaxBatchWait: time.Second}, capture)

	obs := NewGroupObserver(hub, uuid.MustParse("00000000-0000-0000-0000-000000000002"), 2)
	for i := 1; i <= 5; i++ {
		obs.OnGroupProcessed(i, 5)
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("last reported group: %d\n", last)
	// Output:
	// last reported group: 5
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
