package job

// manager.go implements the bounded-concurrency scheduler.
//
// Submission is non-blocking: CreateJob registers a pending job and starts
// it immediately when a slot is free, otherwise the job waits in the store
// until a running job finishes and the manager scans for the oldest
// pending one. Within one job chunk processing is strictly sequential;
// cancellation of a running job is cooperative and observed only at chunk
// boundaries via the job's context.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"geobatch/internal/metrics"
)

// DefaultMaxConcurrent is the global limit on concurrently running jobs.
const DefaultMaxConcurrent = 3

// ErrNotCancellable is returned when a cancel request arrives for a job
// that already reached a terminal state.
var ErrNotCancellable = errors.New("job is already in a terminal state")

// ErrUnknownJob is returned for operations on job IDs the manager does
// not know.
var ErrUnknownJob = errors.New("job not found")

// Tracker lets a runner report chunk completion. Progress is recomputed
// and persisted on every report, so polled percentages are monotonic.
type Tracker struct {
	manager *Manager
	jobID   string
}

// SetTotal records the total item count once it is known.
func (t *Tracker) SetTotal(total int) {
	_ = t.manager.store.Update(t.jobID, func(j *Job) {
		j.TotalItems = total
		j.Progress = ProgressOf(j.ProcessedItems, total)
	})
}

// Advance records a completed chunk: processed items, per-item outcomes,
// and any warnings produced while processing the chunk.
func (t *Tracker) Advance(processed, succeeded, failed int, warnings ...string) {
	_ = t.manager.store.Update(t.jobID, func(j *Job) {
		j.ProcessedItems += processed
		j.SuccessfulItems += succeeded
		j.FailedItems += failed
		j.Warnings = append(j.Warnings, warnings...)
		j.Progress = ProgressOf(j.ProcessedItems, j.TotalItems)
	})
}

// Warn appends warnings without advancing progress.
func (t *Tracker) Warn(warnings ...string) {
	if len(warnings) == 0 {
		return
	}
	_ = t.manager.store.Update(t.jobID, func(j *Job) {
		j.Warnings = append(j.Warnings, warnings...)
	})
}

// SetResults attaches the job's result payload.
func (t *Tracker) SetResults(results any) {
	_ = t.manager.store.Update(t.jobID, func(j *Job) {
		j.Results = results
	})
}

// Runner executes one job kind. Implementations must check ctx at chunk
// boundaries and return ctx.Err() to surface cooperative cancellation.
type Runner interface {
	Run(ctx context.Context, j Job, tracker *Tracker) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, j Job, tracker *Tracker) error

func (f RunnerFunc) Run(ctx context.Context, j Job, tracker *Tracker) error {
	return f(ctx, j, tracker)
}

// Manager owns the job table and the scheduler.
type Manager struct {
	store         Store
	maxConcurrent int

	mu      sync.Mutex
	running int
	cancels map[string]context.CancelFunc
	runners map[Type]Runner
	wg      sync.WaitGroup
}

// NewManager creates a scheduler over the given store with a bounded
// number of concurrently running jobs.
func NewManager(store Store, maxConcurrent int) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Manager{
		store:         store,
		maxConcurrent: maxConcurrent,
		cancels:       make(map[string]context.CancelFunc),
		runners:       make(map[Type]Runner),
	}
}

// Register installs the runner for a job type. Must be called before any
// job of that type is created.
func (m *Manager) Register(t Type, r Runner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runners[t] = r
}

// CreateJob registers a new job and returns its ID immediately. The job
// starts now if a slot is free, otherwise it waits in the pending queue.
func (m *Manager) CreateJob(t Type, metadata any) (string, error) {
	m.mu.Lock()
	_, ok := m.runners[t]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no runner registered for job type %q", t)
	}

	j := &Job{
		ID:        uuid.New().String(),
		Type:      t,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		Metadata:  metadata,
	}
	if err := m.store.Create(j); err != nil {
		return "", err
	}

	metrics.JobsCreated.WithLabelValues(string(t)).Inc()
	m.dispatch()
	return j.ID, nil
}

// GetJobStatus returns a snapshot of a job.
func (m *Manager) GetJobStatus(id string) (Job, error) {
	j, ok := m.store.Get(id)
	if !ok {
		return Job{}, ErrUnknownJob
	}
	return j, nil
}

// CancelJob cancels a job. A pending job transitions to cancelled
// immediately and never runs. For a processing job the cancellation is
// advisory: the worker observes it at the next chunk boundary, keeping
// whatever the last completed chunk produced.
func (m *Manager) CancelJob(id string) error {
	j, ok := m.store.Get(id)
	if !ok {
		return ErrUnknownJob
	}

	switch j.Status {
	case StatusPending:
		now := time.Now()
		return m.store.Update(id, func(j *Job) {
			// Re-check under the store lock; the scheduler may have just
			// started it.
			if j.Status != StatusPending {
				return
			}
			j.Status = StatusCancelled
			j.EndTime = &now
		})

	case StatusProcessing:
		m.mu.Lock()
		cancel, ok := m.cancels[id]
		m.mu.Unlock()
		if ok {
			cancel()
		}
		return nil

	default:
		return ErrNotCancellable
	}
}

// ListJobs returns snapshots of every job in the given status, oldest
// first.
func (m *Manager) ListJobs(status Status) []Job {
	return m.store.ListByStatus(status)
}

// RunningCount returns the number of jobs currently processing.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// dispatch starts pending jobs while slots are free.
func (m *Manager) dispatch() {
	for {
		m.mu.Lock()
		if m.running >= m.maxConcurrent {
			m.mu.Unlock()
			return
		}

		pending := m.store.ListByStatus(StatusPending)
		if len(pending) == 0 {
			m.mu.Unlock()
			return
		}
		next := pending[0]

		ctx, cancel := context.WithCancel(context.Background())
		m.running++
		m.cancels[next.ID] = cancel
		m.mu.Unlock()

		// Claim under the store lock; a concurrent cancel or dispatcher
		// loses the race and the mutator leaves the job untouched.
		started := time.Now()
		var claimed bool
		_ = m.store.Update(next.ID, func(j *Job) {
			if j.Status != StatusPending {
				return
			}
			j.Status = StatusProcessing
			j.StartTime = &started
			claimed = true
		})

		if !claimed {
			cancel()
			m.mu.Lock()
			m.running--
			delete(m.cancels, next.ID)
			m.mu.Unlock()
			continue
		}

		current, _ := m.store.Get(next.ID)
		m.wg.Add(1)
		go m.run(ctx, cancel, current)
	}
}

// run executes one claimed job and schedules the next pending one when it
// finishes, regardless of outcome.
func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, j Job) {
	defer m.wg.Done()

	log := slog.With("job_id", j.ID, "job_type", j.Type)
	log.Info("job started")

	m.mu.Lock()
	runner := m.runners[j.Type]
	m.mu.Unlock()

	err := runner.Run(ctx, j, &Tracker{manager: m, jobID: j.ID})

	now := time.Now()
	final := StatusCompleted
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		final = StatusCancelled
	default:
		final = StatusFailed
	}

	_ = m.store.Update(j.ID, func(j *Job) {
		j.Status = final
		j.EndTime = &now
		if final == StatusFailed {
			j.Error = err.Error()
		}
	})

	cancel()
	m.mu.Lock()
	m.running--
	delete(m.cancels, j.ID)
	m.mu.Unlock()

	metrics.JobsFinished.WithLabelValues(string(j.Type), string(final)).Inc()
	if final == StatusFailed {
		log.Error("job failed", "error", err)
	} else {
		log.Info("job finished", "status", final, "duration_ms", now.Sub(j.CreatedAt).Milliseconds())
	}

	m.dispatch()
}

// CleanupCompletedJobs removes terminal jobs whose end time is older than
// maxAge. This is the only garbage collection of the job table.
func (m *Manager) CleanupCompletedJobs(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, status := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		for _, j := range m.store.ListByStatus(status) {
			if j.EndTime != nil && j.EndTime.Before(cutoff) {
				m.store.Delete(j.ID)
				removed++
			}
		}
	}
	return removed
}

// StartCleanupScheduler runs CleanupCompletedJobs periodically until the
// context is cancelled.
func (m *Manager) StartCleanupScheduler(ctx context.Context, interval, maxAge time.Duration) {
	slog.Info("job cleanup scheduler started", "interval", interval, "max_age", maxAge)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("job cleanup scheduler stopped")
			return
		case <-ticker.C:
			if n := m.CleanupCompletedJobs(maxAge); n > 0 {
				slog.Info("removed completed jobs", "count", n)
			}
		}
	}
}

// WaitForDrain blocks until all running jobs finish or the context is
// cancelled. Used for graceful shutdown.
func (m *Manager) WaitForDrain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Chunks drives a sequential chunk loop: before each chunk it checks for
// cooperative cancellation, then processes [start, end) and reports. This
// is the shared driver every job kind uses.
func Chunks(ctx context.Context, total, chunkSize int, process func(start, end int) error) error {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	for start := 0; start < total; start += chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + chunkSize
		if end > total {
			end = total
		}
		if err := process(start, end); err != nil {
			return err
		}
	}
	return nil
}
