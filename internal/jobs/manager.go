package jobs

import (
	"errors"
	"fmt"
	"sync"

	"audio-transcriber/internal/domain"
)

// ErrJobExists is returned when creating a job with a taken ID.
var ErrJobExists = errors.New("job already exists")

// ErrJobNotFound is returned for operations on unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// ErrJobNotRunning is returned when cancel is requested for a settled job.
var ErrJobNotRunning = errors.New("job is not running")

// Manager tracks concurrent transcription jobs and their transitions.
// Jobs are independent; each one advances through its own state machine.
type Manager struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

// NewManager creates an empty job registry.
func NewManager() *Manager {
	return &Manager{
		jobs: make(map[string]*domain.Job),
	}
}

// Create registers a new job in pending state.
func (m *Manager) Create(id, fileName string) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[id]; ok {
		return domain.Job{}, ErrJobExists
	}

	job := &domain.Job{
		ID:       id,
		FileName: fileName,
		Status:   domain.JobStatusPending,
	}
	m.jobs[id] = job
	return *job, nil
}

// Transition validates and applies a state transition for one job.
func (m *Manager) Transition(id string, status domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if status == job.Status {
		return nil
	}
	if !isValidTransition(job.Status, status) {
		return fmt.Errorf("invalid transition: %s -> %s", job.Status, status)
	}

	job.Status = status
	return nil
}

// SetProgress records segment counters for one running job.
func (m *Manager) SetProgress(id string, doneSegments, totalSegments int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.DoneSegments = doneSegments
	job.TotalSegments = totalSegments
	return nil
}

// SetResult stores the assembled transcript and its delivery fragments.
func (m *Manager) SetResult(id, transcript string, fragments []string, transcriptPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Transcript = transcript
	job.Fragments = fragments
	job.TranscriptPath = transcriptPath
	return nil
}

// SetError records the fatal failure cause for one job.
func (m *Manager) SetError(id, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Error = message
	return nil
}

// Get returns a snapshot of one job.
func (m *Manager) Get(id string) (domain.Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return *job, true
}

// IsRunning reports whether the job is in an active stage.
func (m *Manager) IsRunning(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	return ok && isRunning(job.Status)
}

// Cancel moves an active job to cancelled state.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if !isRunning(job.Status) {
		return ErrJobNotRunning
	}
	job.Status = domain.JobStatusCancelled
	return nil
}

// isRunning checks if a status represents active processing.
func isRunning(status domain.JobStatus) bool {
	switch status {
	case domain.JobStatusPending, domain.JobStatusSegmenting, domain.JobStatusTranscribing:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusPending:
		return to == domain.JobStatusSegmenting || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	case domain.JobStatusSegmenting:
		return to == domain.JobStatusTranscribing || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	case domain.JobStatusTranscribing:
		return to == domain.JobStatusDone || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	default:
		return false
	}
}
