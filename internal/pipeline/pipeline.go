package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"traj2gps/internal/logging"
	"traj2gps/internal/metrics"
	"traj2gps/internal/storage"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("job queue is full")

// JobType enumerates supported job categories.
type JobType string

const (
	JobGeotag JobType = "geotag"
	JobScan   JobType = "scan"
	JobCheck  JobType = "check"
)

// Job represents a single request.
type Job struct {
	ID         string         `json:"id"`
	Type       JobType        `json:"type"`
	InputPath  string         `json:"input"`
	Trajectory string         `json:"trajectory,omitempty"`
	Options    map[string]any `json:"options,omitempty"`
}

// Result captures the outcome of a Job. Output holds the typed task result
// for in-process consumers; Meta is its flat summary.
type Result struct {
	Job    Job            `json:"job"`
	Error  error          `json:"-"`
	Meta   map[string]any `json:"meta"`
	Output any            `json:"-"`
}

// MarshalJSON renders the error as a string for stream consumers.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Job   Job            `json:"job"`
		Error string         `json:"error,omitempty"`
		Meta  map[string]any `json:"meta"`
	}{r.Job, errString(r.Error), r.Meta})
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Option tunes a Pipeline.
type Option func(*Pipeline)

// WithQueueSize sets the number of jobs that may wait for a worker.
func WithQueueSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithMetrics records job outcomes on m.
func WithMetrics(m *metrics.Manager) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline orchestrates job dispatch across workers.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	queueSize int
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	stopOnce  sync.Once
	store     *storage.Store
	metrics   *metrics.Manager
	mu        sync.Mutex
	subs      map[int]chan Result
	nextSubID int
}

// New starts concurrency workers feeding jobs to processor.
func New(ctx context.Context, concurrency int, logger *slog.Logger, store *storage.Store, processor Processor, opts ...Option) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		processor: processor,
		log:       logger,
		queueSize: concurrency * 2,
		cancel:    cancel,
		store:     store,
		subs:      make(map[int]chan Result),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.jobs = make(chan Job, p.queueSize)

	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	return p
}

// Submit adds a job to the queue without blocking.
func (p *Pipeline) Submit(job Job) error {
	optsJSON, _ := json.Marshal(job.Options)
	if err := p.store.RecordJobQueued(storage.JobRecord{
		ID:             job.ID,
		JobType:        string(job.Type),
		Status:         "queued",
		InputPath:      job.InputPath,
		TrajectoryPath: job.Trajectory,
		OptionsJSON:    string(optsJSON),
	}); err != nil {
		p.log.Warn("failed to record queued job", "job", job.ID, "error", err)
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		_ = p.store.RecordJobResult(job.ID, "rejected", nil, ErrQueueFull.Error())
		return ErrQueueFull
	}
}

// Stop signals workers to exit and waits for completion.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.broadcast(p.run(ctx, job))
		}
	}
}

func (p *Pipeline) run(ctx context.Context, job Job) Result {
	start := time.Now()
	logging.LogJobStart(p.log, string(job.Type), job.ID, job.InputPath, job.Options)
	_ = p.store.RecordJobStart(job.ID)

	res := p.processor.Process(ctx, job)
	res.Job = job
	duration := time.Since(start)
	p.metrics.JobDone(string(job.Type), res.Error)

	status := "completed"
	if res.Error != nil {
		status = "failed"
		logging.LogJobError(p.log, string(job.Type), job.ID, duration, res.Error, map[string]any{
			"input":      job.InputPath,
			"trajectory": job.Trajectory,
			"options":    job.Options,
		})
	} else {
		logging.LogJobComplete(p.log, string(job.Type), job.ID, duration, res.Meta)
	}
	if err := p.store.RecordJobResult(job.ID, status, res.Meta, errString(res.Error)); err != nil {
		p.log.Warn("failed to record job result", "job", job.ID, "error", err)
	}
	return res
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}
