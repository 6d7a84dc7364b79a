// Package jobs provides an in-process background job queue with retry,
// exponential backoff and dead-letter retention. Job records live in memory
// behind an RWMutex; each enqueued job runs on its own supervised goroutine.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driveline/driveline/pkg/config"
	"github.com/driveline/driveline/pkg/logging"
	"github.com/driveline/driveline/pkg/metrics"
	"github.com/driveline/driveline/pkg/resilience"
)

// Status represents the lifecycle state of a job
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is the queue's record of one unit of background work
type Job struct {
	ID          string            `json:"id"`
	Status      Status            `json:"status"`
	Attempts    int               `json:"attempts"`
	MaxRetries  int               `json:"max_retries"`
	Context     map[string]string `json:"context,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	DeadLetter  bool              `json:"dead_letter"`
}

// Terminal reports whether the job has finished, successfully or not
func (j *Job) Terminal() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

// Task is the work a job performs. A returned error triggers a retry until
// the attempt budget runs out.
type Task func(ctx context.Context) error

// Options tunes a single enqueued job
type Options struct {
	// MaxRetries overrides the configured attempt budget when > 0
	MaxRetries int
	// Context is caller metadata kept on the job record for debugging
	Context map[string]string
}

// Metrics is an aggregate snapshot of the queue
type Metrics struct {
	Total       int     `json:"total"`
	Active      int     `json:"active"`
	Retrying    int     `json:"retrying"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	DeadLetter  int     `json:"dead_letter"`
	SuccessRate float64 `json:"success_rate"`
}

// Queue runs background jobs in-process
type Queue struct {
	mu   sync.RWMutex
	jobs map[string]*Job

	cfg     config.JobsConfig
	metrics *metrics.Metrics
	logger  *logging.Logger

	executor *resilience.Executor

	// onDeadLetter, when set, is called after a job is dead-lettered
	onDeadLetter func(jobID, lastError string)

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup
}

// NewQueue creates a job queue. Call Start to begin the retention sweep and
// Stop to drain on shutdown.
func NewQueue(cfg config.JobsConfig, m *metrics.Metrics) *Queue {
	return &Queue{
		jobs:    make(map[string]*Job),
		cfg:     cfg,
		metrics: m,
		logger:  logging.GetLogger().Component("jobs"),
		executor: resilience.NewExecutor(resilience.Options{
			Classify: func(error) resilience.FailureKind { return resilience.KindRetriable },
			Delay:    resilience.ExponentialDelay(cfg.RetryBaseDelay),
		}),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// SetDeadLetterHook installs a callback fired when a job is dead-lettered.
// Must be called before any Enqueue.
func (q *Queue) SetDeadLetterHook(fn func(jobID, lastError string)) {
	q.onDeadLetter = fn
}

// Start launches the periodic retention sweep
func (q *Queue) Start() {
	go func() {
		defer close(q.doneCh)
		ticker := time.NewTicker(q.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.sweep()
			case <-q.stopCh:
				return
			}
		}
	}()
}

// Stop halts the sweep loop and waits for running jobs to finish
func (q *Queue) Stop() {
	close(q.stopCh)
	<-q.doneCh
	q.wg.Wait()
}

// Enqueue registers a job and starts it on a supervised goroutine. It
// returns immediately with the job id. Enqueueing an id that already exists
// is a no-op returning the same id; the running job is not restarted.
func (q *Queue) Enqueue(jobID string, task Task, opts Options) string {
	if jobID == "" {
		jobID = uuid.New().String()
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = q.cfg.MaxRetries
	}

	q.mu.Lock()
	if _, exists := q.jobs[jobID]; exists {
		q.mu.Unlock()
		q.logger.Debug("Job already enqueued", "job_id", jobID)
		return jobID
	}

	job := &Job{
		ID:         jobID,
		Status:     StatusPending,
		MaxRetries: maxRetries,
		Context:    opts.Context,
		CreatedAt:  time.Now(),
	}
	q.jobs[jobID] = job
	q.mu.Unlock()

	q.logger.Info("Job enqueued", "job_id", jobID, "max_retries", maxRetries)

	q.wg.Add(1)
	go q.run(jobID, task, maxRetries)

	return jobID
}

// run supervises one job to a terminal status. Panics in the task become
// ordinary job failures.
func (q *Queue) run(jobID string, task Task, maxRetries int) {
	defer q.wg.Done()

	attempts := resilience.UniformAttempts(maxRetries, 0)

	wrapped := func(ctx context.Context, _ resilience.AttemptConfig) (out string, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()

		q.transition(jobID, StatusRunning, "")
		if err := task(ctx); err != nil {
			q.recordFailure(jobID, err)
			return "", err
		}
		return "", nil
	}

	_, err := q.executor.Execute(context.Background(), attempts, wrapped)
	if err != nil {
		q.markFailed(jobID, err)
		return
	}
	q.markSucceeded(jobID)
}

// Get returns a copy of the job record
func (q *Queue) Get(jobID string) (Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Metrics returns an aggregate snapshot of every retained job
func (q *Queue) Metrics() Metrics {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var m Metrics
	for _, job := range q.jobs {
		m.Total++
		switch job.Status {
		case StatusSucceeded:
			m.Succeeded++
		case StatusFailed:
			m.Failed++
		case StatusRetrying:
			m.Retrying++
		case StatusPending, StatusRunning:
			m.Active++
		}
		if job.DeadLetter {
			m.DeadLetter++
		}
	}
	if m.Total > 0 {
		m.SuccessRate = float64(m.Succeeded) / float64(m.Total)
	}
	return m
}

// transition moves a job between non-terminal statuses, bumping the attempt
// counter on each running transition
func (q *Queue) transition(jobID string, status Status, lastError string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return
	}
	job.Status = status
	if status == StatusRunning {
		job.Attempts++
	}
	if lastError != "" {
		job.LastError = lastError
	}
}

// recordFailure marks an attempt failure; the job shows retrying while the
// backoff sleep runs (the final failure is overwritten by markFailed)
func (q *Queue) recordFailure(jobID string, err error) {
	q.transition(jobID, StatusRetrying, err.Error())
	if q.metrics != nil {
		q.metrics.RecordJobRetry()
	}
	q.logger.Warn("Job attempt failed", "job_id", jobID, "error", err.Error())
}

func (q *Queue) markSucceeded(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return
	}
	now := time.Now()
	job.Status = StatusSucceeded
	job.CompletedAt = &now
	job.LastError = ""
	if q.metrics != nil {
		q.metrics.RecordJob(string(StatusSucceeded))
	}
	q.logger.Info("Job succeeded", "job_id", jobID, "attempts", job.Attempts)
}

func (q *Queue) markFailed(jobID string, err error) {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return
	}
	now := time.Now()
	job.Status = StatusFailed
	job.CompletedAt = &now
	job.DeadLetter = true
	if exErr, ok := err.(*resilience.ExhaustedError); ok && exErr.LastErr != nil {
		job.LastError = exErr.LastErr.Error()
	} else {
		job.LastError = err.Error()
	}
	attempts := job.Attempts
	lastError := job.LastError
	q.mu.Unlock()

	if q.onDeadLetter != nil {
		q.onDeadLetter(jobID, lastError)
	}
	if q.metrics != nil {
		q.metrics.RecordJob(string(StatusFailed))
		q.metrics.RecordDeadLetter()
	}
	q.logger.Error("Job exhausted retries, dead-lettered",
		"job_id", jobID,
		"attempts", attempts,
		"error", err.Error(),
	)
}

// sweep deletes completed non-dead-letter jobs older than the retention TTL
func (q *Queue) sweep() {
	cutoff := time.Now().Add(-q.cfg.Retention)

	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, job := range q.jobs {
		if job.CompletedAt == nil || job.DeadLetter {
			continue
		}
		if job.CompletedAt.Before(cutoff) {
			delete(q.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		q.logger.Debug("Swept completed jobs", "removed", removed)
	}
}
