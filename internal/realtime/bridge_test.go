package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"promptdeck/api/internal/store"
)

type countingDeriver struct {
	mu     sync.Mutex
	calls  int
	counts store.EngagementCounts
	gate   chan struct{}
}

func (d *countingDeriver) DeriveCounts(_ context.Context, _ string) (store.EngagementCounts, error) {
	d.mu.Lock()
	d.calls++
	gate := d.gate
	counts := d.counts
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return counts, nil
}

func (d *countingDeriver) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func setupBridge(t *testing.T, deriver Deriver) (*redis.Client, *Bridge) {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, NewBridge(client, deriver)
}

func TestSubscribeDerivesCountsOnNotification(t *testing.T) {
	deriver := &countingDeriver{counts: store.EngagementCounts{LikeCount: 2, CommentCount: 1}}
	client, bridge := setupBridge(t, deriver)

	received := make(chan store.EngagementCounts, 1)
	stop, err := bridge.Subscribe(context.Background(), "pmt_1", func(counts store.EngagementCounts) {
		received <- counts
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	publisher := NewPublisher(client)
	if err := publisher.PublishEngagementChange(context.Background(), "pmt_1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case counts := <-received:
		if counts.LikeCount != 2 || counts.CommentCount != 1 {
			t.Fatalf("counts = %+v", counts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no derived counts received")
	}
}

func TestSubscribeCoalescesBursts(t *testing.T) {
	gate := make(chan struct{})
	deriver := &countingDeriver{gate: gate}
	client, bridge := setupBridge(t, deriver)

	received := make(chan store.EngagementCounts, 8)
	stop, err := bridge.Subscribe(context.Background(), "pmt_1", func(counts store.EngagementCounts) {
		received <- counts
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	publisher := NewPublisher(client)
	if err := publisher.PublishEngagementChange(context.Background(), "pmt_1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// Wait for the first derivation to start, then pile on notifications
	// while it is blocked.
	waitFor(t, func() bool { return deriver.callCount() == 1 })
	for i := 0; i < 4; i++ {
		if err := publisher.PublishEngagementChange(context.Background(), "pmt_1"); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	time.Sleep(100 * time.Millisecond)
	close(gate)

	// One derivation was in flight and the burst behind it collapses, so
	// five notifications settle in well under five derivations.
	waitFor(t, func() bool { return len(received) >= 2 })
	time.Sleep(200 * time.Millisecond)
	if calls := deriver.callCount(); calls > 3 {
		t.Fatalf("derivations = %d for 5 notifications, want coalesced burst", calls)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	deriver := &countingDeriver{}
	client, bridge := setupBridge(t, deriver)

	for i := 0; i < 3; i++ {
		stop, err := bridge.Subscribe(context.Background(), "pmt_1", func(store.EngagementCounts) {})
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		stop()
		stop()
		stop()
	}

	// A fresh subscription still works after repeated subscribe/stop cycles.
	received := make(chan store.EngagementCounts, 1)
	stop, err := bridge.Subscribe(context.Background(), "pmt_1", func(counts store.EngagementCounts) {
		received <- counts
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	if err := NewPublisher(client).PublishEngagementChange(context.Background(), "pmt_1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription after teardown cycles did not deliver")
	}
}

func TestStoppedSubscriptionStopsDelivering(t *testing.T) {
	deriver := &countingDeriver{}
	client, bridge := setupBridge(t, deriver)

	stop, err := bridge.Subscribe(context.Background(), "pmt_1", func(store.EngagementCounts) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	stop()
	time.Sleep(50 * time.Millisecond)

	before := deriver.callCount()
	if err := NewPublisher(client).PublishEngagementChange(context.Background(), "pmt_1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if deriver.callCount() != before {
		t.Fatal("stopped subscription still derived counts")
	}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
