// Package job owns batch job lifecycle: a bounded-concurrency scheduler
// with a FIFO pending queue, per-chunk progress tracking, and cooperative
// cancellation checked at chunk boundaries. Jobs live in process memory
// behind a small Store interface so a durable backing store can be
// substituted without touching scheduling logic.
package job

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Type identifies what a job does.
type Type string

const (
	TypeImport         Type = "import"
	TypeExport         Type = "export"
	TypeValidation     Type = "validation"
	TypeTransformation Type = "transformation"
)

// Status is a job lifecycle state. Transitions are monotonic:
// pending -> processing -> {completed | failed | cancelled}, except that
// cancelled is reachable directly from pending.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether a status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ValidStatus reports whether s names a known lifecycle state.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is the unit of batch work. It is mutated only by the worker
// executing it (through Store.Update) and read concurrently by
// status-polling callers, which always receive snapshots.
type Job struct {
	ID              string     `json:"id"`
	Type            Type       `json:"type"`
	Status          Status     `json:"status"`
	Progress        int        `json:"progress"`
	TotalItems      int        `json:"totalItems"`
	ProcessedItems  int        `json:"processedItems"`
	SuccessfulItems int        `json:"successfulItems"`
	FailedItems     int        `json:"failedItems"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartTime       *time.Time `json:"startedAt,omitempty"`
	EndTime         *time.Time `json:"completedAt,omitempty"`
	Error           string     `json:"error,omitempty"`
	Warnings        []string   `json:"warnings,omitempty"`
	Metadata        any        `json:"-"`
	Results         any        `json:"results,omitempty"`
}

// Store is the persistence boundary for jobs. The in-memory implementation
// below is the only one shipped; jobs do not survive a restart.
type Store interface {
	Create(j *Job) error
	Get(id string) (Job, bool)
	Update(id string, mutate func(*Job)) error
	ListByStatus(status Status) []Job
	Delete(id string)
}

// memoryStore is a process-wide job table guarded by a RWMutex.
type memoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore returns an empty in-memory job store.
func NewMemoryStore() Store {
	return &memoryStore{jobs: make(map[string]*Job)}
}

func (s *memoryStore) Create(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[j.ID]; exists {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *memoryStore) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return snapshot(j), true
}

func (s *memoryStore) Update(id string, mutate func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	mutate(j)
	return nil
}

func (s *memoryStore) ListByStatus(status Status) []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Job
	for _, j := range s.jobs {
		if j.Status == status {
			out = append(out, snapshot(j))
		}
	}
	// FIFO by submission time so the scheduler picks the oldest pending job.
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}

func (s *memoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// snapshot copies a job, including its warnings slice, so readers never
// alias worker-owned state.
func snapshot(j *Job) Job {
	cp := *j
	if j.Warnings != nil {
		cp.Warnings = append([]string(nil), j.Warnings...)
	}
	return cp
}

// ProgressOf computes a 0-100 progress percentage.
func ProgressOf(processed, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(float64(processed)/float64(total)*100 + 0.5)
	if p > 100 {
		p = 100
	}
	return p
}
