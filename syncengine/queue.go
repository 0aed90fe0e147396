package syncengine

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"
)

// Job is one unit of sync work for a single integration.
type Job struct {
	IntegrationId uint   `json:"integration_id"`
	PropertyId    string `json:"property_id"`
	SyncType      string `json:"sync_type"`
	TriggeredBy   string `json:"triggered_by"`
	EntityType    string `json:"entity_type,omitempty"`
	ExternalId    string `json:"external_id,omitempty"`
	// SyncLogId carries a log row created at enqueue time; zero means the
	// worker opens its own.
	SyncLogId uint `json:"sync_log_id,omitempty"`

	seq        uint64
	enqueuedAt time.Time
}

type lane struct {
	priority []Job
	normal   []Job
	running  bool
}

func (l *lane) pending() bool {
	return len(l.priority) > 0 || len(l.normal) > 0
}

func (l *lane) pop() Job {
	if len(l.priority) > 0 {
		job := l.priority[0]
		l.priority = l.priority[1:]
		return job
	}
	job := l.normal[0]
	l.normal = l.normal[1:]
	return job
}

func (l *lane) head() (Job, bool) {
	if len(l.priority) > 0 {
		return l.priority[0], true
	}
	if len(l.normal) > 0 {
		return l.normal[0], false
	}
	return Job{}, false
}

// Orchestrator runs sync jobs on a bounded worker pool while keeping jobs
// for the same integration strictly serialized. Webhook-triggered jobs
// jump the integration's queue but never interleave with a running job.
type Orchestrator struct {
	Exec func(ctx context.Context, job Job)

	mu      sync.Mutex
	cond    *sync.Cond
	lanes   map[uint]*lane
	seq     uint64
	stopped bool
	wg      sync.WaitGroup
}

func workerPoolSize() int {
	if raw := os.Getenv("SYNC_WORKER_POOL_SIZE"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 4
}

func NewOrchestrator(exec func(ctx context.Context, job Job)) *Orchestrator {
	o := &Orchestrator{
		Exec:  exec,
		lanes: make(map[uint]*lane),
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Start launches the worker pool. Workers drain until Stop is called.
func (o *Orchestrator) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = workerPoolSize()
	}
	for i := 0; i < workers; i++ {
		o.wg.Add(1)
		go o.workerLoop(ctx)
	}
	go func() {
		<-ctx.Done()
		o.Stop()
	}()
}

// Stop wakes every worker and waits for in-flight jobs to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	o.cond.Broadcast()
	o.mu.Unlock()
	o.wg.Wait()
}

// Enqueue adds a job to its integration's lane. Priority jobs go to the
// front lane; duplicates are the caller's concern.
func (o *Orchestrator) Enqueue(job Job, priority bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return
	}
	o.seq++
	job.seq = o.seq
	job.enqueuedAt = time.Now()

	l, ok := o.lanes[job.IntegrationId]
	if !ok {
		l = &lane{}
		o.lanes[job.IntegrationId] = l
	}
	if priority {
		l.priority = append(l.priority, job)
	} else {
		l.normal = append(l.normal, job)
	}
	o.cond.Signal()
}

// Depth reports queued (not running) jobs for an integration.
func (o *Orchestrator) Depth(integrationId uint) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.lanes[integrationId]
	if !ok {
		return 0
	}
	return len(l.priority) + len(l.normal)
}

// Busy reports whether a job for the integration is currently executing.
func (o *Orchestrator) Busy(integrationId uint) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.lanes[integrationId]
	return ok && l.running
}

func (o *Orchestrator) workerLoop(ctx context.Context) {
	defer o.wg.Done()
	for {
		o.mu.Lock()
		var (
			picked         *lane
			bestSeq        uint64
			bestIsPriority bool
			found          bool
		)
		for {
			if o.stopped {
				o.mu.Unlock()
				return
			}
			found = false
			for _, l := range o.lanes {
				if l.running || !l.pending() {
					continue
				}
				head, isPriority := l.head()
				// Priority lanes are drained before any normal work;
				// within a class the oldest job runs first.
				better := !found ||
					(isPriority && !bestIsPriority) ||
					(isPriority == bestIsPriority && head.seq < bestSeq)
				if better {
					picked = l
					bestSeq = head.seq
					bestIsPriority = isPriority
					found = true
				}
			}
			if found {
				break
			}
			o.cond.Wait()
		}

		job := picked.pop()
		picked.running = true
		o.mu.Unlock()

		if o.Exec != nil {
			o.Exec(ctx, job)
		}

		o.mu.Lock()
		picked.running = false
		if picked.pending() {
			o.cond.Signal()
		}
		o.mu.Unlock()
	}
}
