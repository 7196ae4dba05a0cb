package engine_test

import (
	"context"
	"testing"
	"time"

	"verity/pkg/engine"
	"verity/pkg/pmd"
)

func TestHubBroadcastsToAllSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := engine.NewHub()
	go hub.Run(ctx)

	a := hub.Subscribe()
	b := hub.Subscribe()

	record := engine.Record{
		Stream:     pmd.MeasurementACC,
		Samples:    []pmd.Sample{{TimestampUS: 1, Values: []int64{1, 2, 3}}},
		ReceivedAt: time.Now(),
	}
	hub.Publish(record)

	for name, ch := range map[string]chan engine.Record{"a": a, "b": b} {
		select {
		case got := <-ch:
			if got.Stream != pmd.MeasurementACC || len(got.Samples) != 1 {
				t.Fatalf("subscriber %s: unexpected record %+v", name, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s: timeout", name)
		}
	}
}

func TestHubDoesNotBlockOnSlowConsumer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := engine.NewHub(engine.WithBroadcastBuffer(1), engine.WithClientBuffer(1))
	go hub.Run(ctx)

	fast := hub.SubscribeWithBuffer(128)
	slow := hub.SubscribeWithBuffer(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			hub.Publish(engine.Record{Stream: pmd.MeasurementPPG})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("publish blocked on slow consumer")
	}

	received := 0
	timeout := time.After(1 * time.Second)
	for received < 50 {
		select {
		case <-fast:
			received++
		case <-timeout:
			t.Fatalf("fast consumer timeout after %d records", received)
		}
	}

	count := 0
	for {
		select {
		case <-slow:
			count++
		default:
			if count > 1 {
				t.Fatalf("slow consumer received %d records, expected at most 1", count)
			}
			return
		}
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := engine.NewHub()
	go hub.Run(ctx)

	ch := hub.Subscribe()
	hub.Unsubscribe(ch)

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed")
	}
}
