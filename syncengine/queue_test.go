package syncengine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestJobsForSameIntegrationNeverOverlap(t *testing.T) {
	const (
		integrations = 3
		jobsPerLane  = 8
	)

	var mu sync.Mutex
	inFlight := map[uint]int{}
	maxInFlight := map[uint]int{}
	order := map[uint][]string{}
	done := 0

	o := NewOrchestrator(nil)
	o.Exec = func(ctx context.Context, job Job) {
		mu.Lock()
		inFlight[job.IntegrationId]++
		if inFlight[job.IntegrationId] > maxInFlight[job.IntegrationId] {
			maxInFlight[job.IntegrationId] = inFlight[job.IntegrationId]
		}
		order[job.IntegrationId] = append(order[job.IntegrationId], job.ExternalId)
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inFlight[job.IntegrationId]--
		done++
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx, 4)

	for j := 0; j < jobsPerLane; j++ {
		for i := uint(1); i <= integrations; i++ {
			o.Enqueue(Job{IntegrationId: i, PropertyId: "prop-1", ExternalId: fmt.Sprint(j)}, false)
		}
	}

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return done == integrations*jobsPerLane
	})
	o.Stop()

	for i := uint(1); i <= integrations; i++ {
		if maxInFlight[i] > 1 {
			t.Fatalf("integration %d had %d jobs running at once", i, maxInFlight[i])
		}
		for j := 0; j < jobsPerLane; j++ {
			if order[i][j] != fmt.Sprint(j) {
				t.Fatalf("integration %d ran jobs out of order: %v", i, order[i])
			}
		}
	}
}

func TestWebhookJobsJumpTheQueue(t *testing.T) {
	var mu sync.Mutex
	var order []string
	release := make(chan struct{})
	started := make(chan struct{})
	var startedOnce sync.Once

	o := NewOrchestrator(nil)
	o.Exec = func(ctx context.Context, job Job) {
		if job.ExternalId == "blocker" {
			startedOnce.Do(func() { close(started) })
			<-release
			return
		}
		mu.Lock()
		order = append(order, job.ExternalId)
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx, 1)

	o.Enqueue(Job{IntegrationId: 1, ExternalId: "blocker"}, false)
	<-started

	o.Enqueue(Job{IntegrationId: 1, ExternalId: "poll-1"}, false)
	o.Enqueue(Job{IntegrationId: 1, ExternalId: "poll-2"}, false)
	o.Enqueue(Job{IntegrationId: 1, ExternalId: "hook"}, true)
	close(release)

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})
	o.Stop()

	if order[0] != "hook" {
		t.Fatalf("execution order = %v, want the webhook job first", order)
	}
	if order[1] != "poll-1" || order[2] != "poll-2" {
		t.Fatalf("polling jobs ran out of order: %v", order)
	}
}

func TestDepthAndBusy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	o := NewOrchestrator(func(ctx context.Context, job Job) {
		once.Do(func() { close(started) })
		<-release
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx, 1)

	o.Enqueue(Job{IntegrationId: 7}, false)
	<-started
	o.Enqueue(Job{IntegrationId: 7}, false)

	if !o.Busy(7) {
		t.Fatal("integration 7 should be busy")
	}
	if depth := o.Depth(7); depth != 1 {
		t.Fatalf("depth = %d, want 1", depth)
	}
	if o.Busy(8) || o.Depth(8) != 0 {
		t.Fatal("integration 8 should be idle")
	}

	close(release)
	waitFor(t, 5*time.Second, func() bool { return o.Depth(7) == 0 && !o.Busy(7) })
	o.Stop()
}
