package job

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Flight is one pipeline execution that callers in either delivery mode can
// observe: buffered callers Wait, streaming callers Subscribe.
type Flight struct {
	Job *Job

	broker  *Broker
	done    chan struct{}
	result  *Result
	failure *Failure
}

// Subscribe attaches a streaming consumer to the flight's event sequence.
func (f *Flight) Subscribe() (<-chan Event, func()) {
	return f.broker.Subscribe()
}

// Terminal reports the outcome if the flight has already finished.
func (f *Flight) Terminal() (*Result, *Failure, bool) {
	select {
	case <-f.done:
		return f.result, f.failure, true
	default:
		return nil, nil, false
	}
}

// Wait blocks until the flight reaches a terminal state or the caller's
// context ends. A caller giving up does not abort the pipeline; the job runs
// to completion and is persisted regardless.
func (f *Flight) Wait(ctx context.Context) (*Result, *Failure, error) {
	select {
	case <-f.done:
		return f.result, f.failure, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// Manager enforces single-flight execution per (user, content) key and bounds
// pipeline concurrency. Jobs for distinct keys run fully in parallel.
type Manager struct {
	mu      sync.Mutex
	flights map[string]*Flight

	runner *Runner
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(runner *Runner, maxConcurrent int64) *Manager {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		flights: make(map[string]*Flight),
		runner:  runner,
		sem:     semaphore.NewWeighted(maxConcurrent),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// StartOrAttach returns the flight for this request, starting one if no
// identical request is in-flight. The second return value reports whether the
// caller attached to an existing execution.
func (m *Manager) StartOrAttach(req Request) (*Flight, bool) {
	key := req.FlightKey()

	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.flights[key]; ok {
		log.Printf("[job] attaching duplicate request to in-flight job %s", f.Job.ID)
		return f, true
	}

	f := &Flight{
		Job: &Job{
			ID:        uuid.New().String(),
			UserID:    req.UserID,
			Provider:  req.Provider,
			Stage:     StageQueued,
			CreatedAt: time.Now(),
		},
		broker: NewBroker(),
		done:   make(chan struct{}),
	}
	m.flights[key] = f

	go m.run(key, f, req)
	return f, false
}

// run executes the pipeline detached from any request context: a client
// disconnect only detaches its event consumer, never the work.
func (m *Manager) run(key string, f *Flight, req Request) {
	defer func() {
		m.mu.Lock()
		delete(m.flights, key)
		m.mu.Unlock()
		close(f.done)
	}()

	// The job stays Queued while waiting for a concurrency slot.
	if err := m.sem.Acquire(m.ctx, 1); err != nil {
		f.failure = &Failure{Kind: ErrInternal, Message: "server shutting down"}
		f.Job.Failure = f.failure
		f.Job.advance(StageFailed)
		f.broker.Publish(Event{Stage: StageFailed, Failure: f.failure})
		return
	}
	defer m.sem.Release(1)

	log.Printf("[job] %s starting (user=%d, provider=%s)", f.Job.ID, req.UserID, req.Provider)
	f.result, f.failure = m.runner.Run(m.ctx, f.Job, req, f.broker.Publish)
}

// InFlight reports the number of currently tracked executions.
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.flights)
}

// Stop prevents new work from acquiring slots and cancels running jobs.
func (m *Manager) Stop() {
	m.cancel()
}
