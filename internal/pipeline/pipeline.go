// Package pipeline runs admission-controlled generation jobs against the
// memory store. Dequeue is concurrent; mutation is serialized by the
// single-writer lock.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gyrelabs/gyre/internal/admission"
	"github.com/gyrelabs/gyre/internal/lock"
	"github.com/gyrelabs/gyre/internal/metrics"
	"github.com/gyrelabs/gyre/internal/spiral"
	"github.com/gyrelabs/gyre/internal/store"
)

// ErrQueueFull means the job queue is at capacity. The submitter should
// back off and retry.
var ErrQueueFull = errors.New("job queue full")

// Options tunes the pipeline. Zero values get defaults.
type Options struct {
	Workers      int
	QueueSize    int
	RequeueDelay time.Duration
	MaxAttempts  int
	JobTimeout   time.Duration
}

func (o *Options) defaults() {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.RequeueDelay <= 0 {
		o.RequeueDelay = 250 * time.Millisecond
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 30 * time.Second
	}
}

// Pipeline owns the queue, the worker pool, and every job's lifecycle.
// All background goroutines and requeue timers stop with Stop; nothing
// is fire-and-forget.
type Pipeline struct {
	db    *store.DB
	index *spiral.Index
	adm   *admission.Controller
	lk    *lock.WriterLock
	m     *metrics.Metrics
	opts  Options

	queue  chan *Job
	stopCh chan struct{}
	wg     sync.WaitGroup

	jobsMu sync.Mutex
	jobs   map[string]*Job
}

// New wires a pipeline. Call Start to begin processing.
func New(db *store.DB, index *spiral.Index, adm *admission.Controller, lk *lock.WriterLock, m *metrics.Metrics, opts Options) *Pipeline {
	opts.defaults()
	if m == nil {
		m = metrics.New()
	}
	return &Pipeline{
		db:     db,
		index:  index,
		adm:    adm,
		lk:     lk,
		m:      m,
		opts:   opts,
		queue:  make(chan *Job, opts.QueueSize),
		stopCh: make(chan struct{}),
		jobs:   make(map[string]*Job),
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start() {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop halts workers and pending requeue timers, then waits for in-flight
// jobs to finish their current step.
func (p *Pipeline) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// Submit validates the payload, runs the admission check, and enqueues a
// job. traceID is preserved when given, minted otherwise. Returns a
// snapshot of the queued job, or ErrValidation, ErrMemoryPressure, or
// ErrQueueFull.
func (p *Pipeline) Submit(payload Payload, traceID string) (Job, error) {
	if err := payload.Validate(); err != nil {
		p.m.JobsRejected.WithLabelValues(metrics.ReasonValidation).Inc()
		return Job{}, err
	}

	if err := p.adm.Admit(); err != nil {
		p.m.JobsRejected.WithLabelValues(metrics.ReasonMemoryPressure).Inc()
		log.Printf("pipeline: trace %s rejected: %v", traceID, err)
		return Job{}, err
	}

	if traceID == "" {
		traceID = uuid.NewString()
	}
	if payload.Kind == "generate" && payload.Generate.Seed == 0 {
		payload.Generate.Seed = time.Now().UnixNano()
	}

	job := &Job{
		ID:         p.db.NewID(),
		TraceID:    traceID,
		Payload:    payload,
		State:      StateQueued,
		EnqueuedAt: time.Now(),
	}

	select {
	case p.queue <- job:
	default:
		p.m.JobsRejected.WithLabelValues("queue_full").Inc()
		return Job{}, fmt.Errorf("%w: %d jobs pending", ErrQueueFull, len(p.queue))
	}

	p.jobsMu.Lock()
	p.jobs[job.ID] = job
	p.jobsMu.Unlock()

	log.Printf("pipeline: job %s trace %s queued", job.ID, job.TraceID)
	return p.snapshot(job), nil
}

// Job returns a snapshot of a submitted job's current state.
func (p *Pipeline) Job(id string) (Job, bool) {
	p.jobsMu.Lock()
	defer p.jobsMu.Unlock()
	j, ok := p.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Jobs returns a snapshot of every job the pipeline has accepted.
func (p *Pipeline) Jobs() []Job {
	p.jobsMu.Lock()
	defer p.jobsMu.Unlock()
	out := make([]Job, 0, len(p.jobs))
	for _, j := range p.jobs {
		out = append(out, *j)
	}
	return out
}

func (p *Pipeline) snapshot(job *Job) Job {
	p.jobsMu.Lock()
	defer p.jobsMu.Unlock()
	return *job
}

func (p *Pipeline) setState(job *Job, s State) {
	p.jobsMu.Lock()
	job.State = s
	p.jobsMu.Unlock()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case job := <-p.queue:
			p.process(job)
		}
	}
}

func (p *Pipeline) process(job *Job) {
	p.jobsMu.Lock()
	job.Attempts++
	attempts := job.Attempts
	p.jobsMu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.JobTimeout)
	defer cancel()

	err := p.lk.WithExclusiveAccess(ctx, func() error {
		p.setState(job, StateLocked)
		p.setState(job, StateExecuting)
		return p.execute(ctx, job)
	})

	duration := time.Since(start)

	switch {
	case err == nil:
		p.jobsMu.Lock()
		job.State = StateCommitted
		job.Duration = duration
		p.jobsMu.Unlock()
		p.m.JobsProcessed.WithLabelValues(string(StateCommitted)).Inc()
		p.m.JobDuration.Observe(duration.Seconds())
		log.Printf("pipeline: job %s trace %s committed in %s (attempt %d)",
			job.ID, job.TraceID, duration, attempts)

	case errors.Is(err, lock.ErrLockUnavailable):
		p.m.LockUnavailable.Inc()
		if attempts >= p.opts.MaxAttempts {
			p.fail(job, duration, fmt.Errorf("gave up after %d attempts: %w", attempts, err))
			return
		}
		p.requeue(job)

	default:
		p.fail(job, duration, err)
	}
}

// execute performs the mutating work under the writer lock: append each
// generated node, then fold it into the index, in order, all inside one
// transaction. A failure at any node rolls the whole job back, so the
// append-only log never holds a partial job.
func (p *Pipeline) execute(ctx context.Context, job *Job) error {
	nodes := buildNodes(job.Payload.Generate)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("job timed out before commit: %w", err)
	}

	err := p.db.Transact(func(tx *sql.Tx) error {
		for i := range nodes {
			if _, err := p.db.AppendNodeTx(tx, &nodes[i]); err != nil {
				return fmt.Errorf("append node %d: %w", i, err)
			}
			if err := p.index.ApplyIncrementalUpdateTx(tx, nodes[i]); err != nil {
				return fmt.Errorf("index node %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.m.NodesAppended.Add(float64(len(nodes)))
	return nil
}

// requeue puts the job back on the queue after the configured delay,
// preserving its identity and trace. The timer is owned by the pipeline
// and cancelled by Stop.
func (p *Pipeline) requeue(job *Job) {
	p.setState(job, StateRequeued)
	p.m.JobsRequeued.Inc()
	log.Printf("pipeline: job %s trace %s requeued (attempt %d)", job.ID, job.TraceID, job.Attempts)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case <-p.stopCh:
			return
		case <-time.After(p.opts.RequeueDelay):
		}

		p.setState(job, StateQueued)
		select {
		case p.queue <- job:
		case <-p.stopCh:
		}
	}()
}

func (p *Pipeline) fail(job *Job, duration time.Duration, err error) {
	p.jobsMu.Lock()
	job.State = StateFailed
	job.Duration = duration
	job.Error = err.Error()
	p.jobsMu.Unlock()
	p.m.JobsProcessed.WithLabelValues(string(StateFailed)).Inc()
	p.m.JobDuration.Observe(duration.Seconds())
	log.Printf("pipeline: job %s trace %s failed: %v", job.ID, job.TraceID, err)
}
