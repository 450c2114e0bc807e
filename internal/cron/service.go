package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrJobNotFound is returned for lookups of unknown job ids.
var ErrJobNotFound = errors.New("cron job not found")

// OnJobFire runs a due job. The returned error is recorded in the job's
// state; it does not stop the dispatcher.
type OnJobFire func(ctx context.Context, job *Job) error

// Service owns the in-memory job list, mirrors every mutation to the
// store, and fires due jobs from its dispatcher loop.
type Service struct {
	store  *Store
	onFire OnJobFire
	tick   time.Duration

	mu     sync.Mutex
	jobs   map[string]*Job
	firing map[string]bool // job id → a firing is in flight

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService loads persisted jobs and prepares the dispatcher. The
// dispatcher does not run until Start.
func NewService(store *Store, onFire OnJobFire) (*Service, error) {
	jobs, err := store.Load()
	if err != nil {
		return nil, err
	}
	s := &Service{
		store:  store,
		onFire: onFire,
		tick:   time.Second,
		jobs:   make(map[string]*Job, len(jobs)),
		firing: make(map[string]bool),
	}
	for _, job := range jobs {
		s.jobs[job.ID] = job
	}
	return s, nil
}

// AddJob creates a job, computes its first fire time, and persists.
func (s *Service) AddJob(name string, schedule Schedule, payload Payload, deleteAfterRun bool) (*Job, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	next, err := schedule.NextRun(now)
	if err != nil {
		return nil, err
	}
	// One-shot jobs never survive their run.
	if schedule.Kind == KindAt {
		deleteAfterRun = true
	}
	job := &Job{
		ID:             uuid.NewString(),
		Name:           name,
		Enabled:        true,
		Schedule:       schedule,
		Payload:        payload,
		State:          JobState{NextRunAt: next},
		CreatedAt:      now,
		UpdatedAt:      now,
		DeleteAfterRun: deleteAfterRun,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	if err := s.persistLocked(); err != nil {
		delete(s.jobs, job.ID)
		return nil, err
	}
	slog.Info("cron job added", "id", job.ID, "name", name, "schedule", schedule.Describe(), "next", next)
	return cloneJob(job), nil
}

// RemoveJob deletes a job and persists.
func (s *Service) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	delete(s.jobs, id)
	return s.persistLocked()
}

// EnableJob toggles a job. Re-enabling recomputes the next fire time so
// a long-disabled job does not fire immediately.
func (s *Service) EnableJob(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if enabled && !job.Enabled {
		next, err := job.Schedule.NextRun(time.Now().UTC())
		if err != nil {
			return err
		}
		job.State.NextRunAt = next
	}
	job.Enabled = enabled
	job.UpdatedAt = time.Now().UTC()
	return s.persistLocked()
}

// ListJobs returns a snapshot sorted by next fire time.
func (s *Service) ListJobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].State.NextRunAt.Before(out[j].State.NextRunAt)
	})
	return out
}

// GetJob returns a snapshot of one job.
func (s *Service) GetJob(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return cloneJob(job), nil
}

// Start launches the dispatcher loop. Jobs whose fire time passed while
// the process was down fire once; missed runs are not backfilled.
func (s *Service) Start() {
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
	slog.Info("cron dispatcher started", "jobs", len(s.jobs))
}

// Stop halts the dispatcher and waits for it to exit. In-flight firings
// finish on their own.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.fireDue(ctx, now.UTC())
		}
	}
}

// fireDue launches one goroutine per due job. The firing map guarantees
// at most one concurrent firing per job id.
func (s *Service) fireDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*Job
	for _, job := range s.jobs {
		if job.Enabled && !s.firing[job.ID] && !job.State.NextRunAt.After(now) {
			s.firing[job.ID] = true
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		go s.fire(ctx, job.ID, now)
	}
}

func (s *Service) fire(ctx context.Context, id string, now time.Time) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		delete(s.firing, id)
		s.mu.Unlock()
		return
	}
	snapshot := cloneJob(job)
	s.mu.Unlock()

	slog.Info("cron job firing", "id", id, "name", snapshot.Name)
	err := s.onFire(ctx, snapshot)
	if err != nil {
		slog.Error("cron job failed", "id", id, "name", snapshot.Name, "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.firing, id)
	job, ok = s.jobs[id]
	if !ok {
		return
	}
	job.State.LastRunAt = now
	if err != nil {
		job.State.LastStatus = "error"
		job.State.LastError = err.Error()
	} else {
		job.State.LastStatus = "ok"
		job.State.LastError = ""
	}
	job.UpdatedAt = time.Now().UTC()

	if job.DeleteAfterRun && err == nil {
		delete(s.jobs, id)
	} else {
		next, nerr := job.Schedule.NextRun(time.Now().UTC())
		if nerr != nil {
			// One-shot jobs that failed keep their instant for a retry
			// decision by the user; anything else gets disabled.
			if job.Schedule.Kind != KindAt {
				slog.Error("cron job disabled, next run computation failed", "id", id, "error", nerr)
				job.Enabled = false
			}
		} else {
			job.State.NextRunAt = next
		}
	}
	if perr := s.persistLocked(); perr != nil {
		slog.Error("cron store persist failed", "error", perr)
	}
}

func (s *Service) persistLocked() error {
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return s.store.Save(jobs)
}

func cloneJob(job *Job) *Job {
	c := *job
	return &c
}
