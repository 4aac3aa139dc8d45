package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/strandlabs/strand/internal/catalog"
	"github.com/strandlabs/strand/internal/model"
	"github.com/strandlabs/strand/internal/runner"
	"github.com/strandlabs/strand/internal/spec"
	"github.com/strandlabs/strand/internal/store"
)

// DefaultTimeout applies when a submission carries no timeout of its own and
// no engine-level default is configured.
const DefaultTimeout = 10 * time.Minute

// ErrShuttingDown is returned for submissions that arrive after Shutdown began.
var ErrShuttingDown = errors.New("engine is shutting down")

// ErrNotCancellable is returned when cancelling a job already in a terminal state.
var ErrNotCancellable = errors.New("job is not cancellable")

// errAlreadyDispatched aborts the fail-fast cancel mutator once a worker owns the job.
var errAlreadyDispatched = errors.New("job already dispatched")

// Options tunes the engine's worker pool and timeout policy.
type Options struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
}

// Engine orchestrates asynchronous job execution over a bounded worker pool.
type Engine struct {
	store   store.Store
	builder *spec.Builder
	runner  runner.Runner
	logs    *Logs
	logger  *slog.Logger
	opts    Options

	queue chan string
	group errgroup.Group

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	draining bool
}

// NewEngine creates an engine. Start must be called before submissions are
// dispatched; Submit before Start still records jobs and queues them.
func NewEngine(s store.Store, b *spec.Builder, r runner.Runner, logs *Logs, logger *slog.Logger, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	return &Engine{
		store:   s,
		builder: b,
		runner:  r,
		logs:    logs,
		logger:  logger,
		opts:    opts,
		queue:   make(chan string, opts.QueueSize),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Logs exposes the engine's log artifacts for read access.
func (e *Engine) Logs() *Logs {
	return e.logs
}

// Start launches the worker pool.
func (e *Engine) Start() {
	for range e.opts.Workers {
		e.group.Go(func() error {
			for id := range e.queue {
				queueDepth.Dec()
				e.runJob(id)
			}
			return nil
		})
	}
}

// Shutdown stops accepting submissions, drains the queue, and blocks until
// all in-flight jobs resolve.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	close(e.queue)
	e.mu.Unlock()

	_ = e.group.Wait()
}

// Submit validates the request, creates the job record in the accepted state
// together with its log artifact, and hands execution to the worker pool
// without waiting for it. It returns as soon as the record exists; a caller
// can poll the returned id immediately.
//
// A caller-supplied id is taken verbatim; a duplicate wraps
// store.ErrAlreadyExists. Anything that goes wrong after the record is
// created resolves the job to a terminal state instead of losing it.
func (e *Engine) Submit(ctx context.Context, id string, req model.Request) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if id == "" {
		id = model.NewID()
	}

	job := &model.Job{
		ID:          id,
		Kind:        req.Kind,
		Status:      model.StatusAccepted,
		Target:      req.Target,
		Request:     req,
		LogPath:     e.logs.Path(id),
		SubmittedAt: time.Now().UTC(),
	}

	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return nil, ErrShuttingDown
	}
	e.mu.Unlock()

	if err := e.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	e.logger.Info("job accepted", "job_id", id, "kind", req.Kind, "target", req.Target)

	if _, err := e.logs.Create(id); err != nil {
		e.finish(id, model.StatusFailed, &model.Result{
			FailureKind:  model.FailureEngineFault,
			ErrorMessage: fmt.Sprintf("engine fault: create log artifact: %v", err),
		})
		return e.store.GetJob(ctx, id)
	}

	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		e.finish(id, model.StatusFailed, &model.Result{
			FailureKind:  model.FailureEngineFault,
			ErrorMessage: "engine fault: shutting down before dispatch",
		})
		return e.store.GetJob(ctx, id)
	}
	select {
	case e.queue <- id:
		queueDepth.Inc()
		e.mu.Unlock()
	default:
		e.mu.Unlock()
		e.finish(id, model.StatusFailed, &model.Result{
			FailureKind:  model.FailureEngineFault,
			ErrorMessage: "engine fault: job queue full",
		})
		return e.store.GetJob(ctx, id)
	}

	return job, nil
}

// Cancel cuts a job's execution context if it is in flight, or fails it fast
// if it never started. Cancelling a terminal job returns ErrNotCancellable.
func (e *Engine) Cancel(ctx context.Context, id string) (*model.Job, error) {
	if _, err := e.store.GetJob(ctx, id); err != nil {
		return nil, err
	}

	// In flight: cancelling the context makes the runner return and the
	// worker resolve the job to cancelled.
	if cancel := e.lookupCancel(id); cancel != nil {
		cancel()
	}

	// Not yet dispatched: resolve it here.
	now := time.Now().UTC()
	job, err := e.store.UpdateJob(ctx, id, func(j *model.Job) error {
		if j.Status != model.StatusAccepted {
			return errAlreadyDispatched
		}
		j.Status = model.StatusCancelled
		j.FinishedAt = &now
		j.Result = &model.Result{
			FailureKind:  model.FailureCancelled,
			ErrorMessage: "cancelled before execution started",
		}
		return nil
	})
	if err == nil {
		jobsFinished.WithLabelValues(job.Kind, job.Status).Inc()
		e.logger.Info("job cancelled before dispatch", "job_id", id)
		return job, nil
	}
	if !errors.Is(err, errAlreadyDispatched) {
		return nil, err
	}

	job, err = e.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if model.TerminalStatus(job.Status) && job.Status != model.StatusCancelled {
		return nil, fmt.Errorf("%w: job already %s", ErrNotCancellable, job.Status)
	}
	return job, nil
}

// runJob drives one job through running to a terminal state. Any fault in
// the body, including a panic, still resolves the job so it is never left
// in running forever.
func (e *Engine) runJob(id string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("worker panic", "job_id", id, "panic", r)
			e.finish(id, model.StatusFailed, &model.Result{
				FailureKind:  model.FailureEngineFault,
				ErrorMessage: fmt.Sprintf("engine fault: worker panic: %v", r),
			})
		}
	}()

	job, err := e.store.GetJob(context.Background(), id)
	if err != nil {
		e.logger.Error("load queued job", "job_id", id, "error", err)
		return
	}

	timeout := e.opts.DefaultTimeout
	if t := job.Request.TimeoutS; t != nil && *t > 0 {
		timeout = time.Duration(*t) * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	e.registerCancel(id, cancel)
	defer e.unregisterCancel(id)

	// Resolve and build before the running transition: a job with an unknown
	// target or an unbuildable spec fails fast and never reaches running.
	desc, err := e.builder.Build(job)
	if err != nil {
		kind := model.FailureEngineFault
		msg := "engine fault: " + err.Error()
		switch {
		case errors.Is(err, catalog.ErrTargetNotFound):
			kind, msg = model.FailureTargetNotFound, err.Error()
		case errors.Is(err, spec.ErrInvalidSpec):
			kind, msg = model.FailureInvalidSpec, err.Error()
		}
		e.finish(id, model.StatusFailed, &model.Result{
			FailureKind:  kind,
			ErrorMessage: msg,
		})
		return
	}

	start := time.Now().UTC()
	if _, err := e.store.UpdateJob(context.Background(), id, func(j *model.Job) error {
		j.Status = model.StatusRunning
		j.StartedAt = &start
		return nil
	}); err != nil {
		// Cancelled between enqueue and dispatch, or a store fault.
		if !errors.Is(err, store.ErrInvalidTransition) {
			e.logger.Error("transition to running", "job_id", id, "error", err)
		}
		return
	}

	jobsRunning.Inc()
	defer jobsRunning.Dec()

	logw, err := e.logs.OpenAppend(id)
	if err != nil {
		e.finish(id, model.StatusFailed, &model.Result{
			FailureKind:  model.FailureEngineFault,
			ErrorMessage: "engine fault: " + err.Error(),
			DurationMS:   int(time.Since(start).Milliseconds()),
		})
		return
	}
	defer logw.Close()

	result, err := e.runner.Run(ctx, desc, logw)
	durationMS := int(time.Since(start).Milliseconds())

	switch {
	case err == nil && result.ExitCode == 0:
		exitCode := 0
		e.finish(id, model.StatusCompleted, &model.Result{
			Stdout:     result.Stdout,
			Stderr:     result.Stderr,
			ExitCode:   &exitCode,
			DurationMS: durationMS,
		})
	case err == nil:
		exitCode := result.ExitCode
		e.finish(id, model.StatusFailed, &model.Result{
			Stdout:       result.Stdout,
			Stderr:       result.Stderr,
			ExitCode:     &exitCode,
			DurationMS:   durationMS,
			FailureKind:  model.FailureToolFailure,
			ErrorMessage: fmt.Sprintf("process exited with code %d", result.ExitCode),
		})
	case errors.Is(err, context.DeadlineExceeded):
		e.finish(id, model.StatusFailed, &model.Result{
			DurationMS:   durationMS,
			FailureKind:  model.FailureTimeout,
			ErrorMessage: fmt.Sprintf("timed out after %s", timeout),
		})
	case errors.Is(err, context.Canceled):
		e.finish(id, model.StatusCancelled, &model.Result{
			DurationMS:   durationMS,
			FailureKind:  model.FailureCancelled,
			ErrorMessage: "cancelled by caller",
		})
	default:
		e.finish(id, model.StatusFailed, &model.Result{
			DurationMS:   durationMS,
			FailureKind:  model.FailureEngineFault,
			ErrorMessage: "engine fault: " + err.Error(),
		})
	}
}

// finish writes the terminal record for a job. The store rejects the write if
// another path resolved the job first.
func (e *Engine) finish(id, status string, res *model.Result) {
	now := time.Now().UTC()
	job, err := e.store.UpdateJob(context.Background(), id, func(j *model.Job) error {
		j.Status = status
		j.FinishedAt = &now
		j.Result = res
		return nil
	})
	if err != nil {
		e.logger.Error("finish job", "job_id", id, "status", status, "error", err)
		return
	}

	jobsFinished.WithLabelValues(job.Kind, status).Inc()
	jobDuration.Observe(float64(res.DurationMS) / 1000)
	e.logger.Info("job finished",
		"job_id", id,
		"status", status,
		"failure_kind", res.FailureKind,
		"duration_ms", res.DurationMS,
	)
}

func (e *Engine) registerCancel(id string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels[id] = cancel
}

func (e *Engine) unregisterCancel(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancels, id)
}

func (e *Engine) lookupCancel(id string) context.CancelFunc {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancels[id]
}
