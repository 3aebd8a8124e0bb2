package writer

import (
	"sync"
	"time"

	"github.com/starford/dossier/internal/models"
)

// RunState is the lifecycle state of a generation run.
type RunState string

const (
	RunRunning   RunState = "running"
	RunFinished  RunState = "finished"
	RunCancelled RunState = "cancelled"
	RunFailed    RunState = "failed"
)

// RunSummary is the externally visible status of a run.
type RunSummary struct {
	ID                string     `json:"run_id"`
	Title             string     `json:"title"`
	State             RunState   `json:"state"`
	TotalSections     int        `json:"total_sections"`
	CompletedSections int        `json:"completed_sections"`
	FailedSections    int        `json:"failed_sections"`
	Citations         int        `json:"citations"`
	Error             string     `json:"error,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

type run struct {
	id        string
	title     string
	total     int
	startedAt time.Time

	// refineMu serializes refinements of the run's document.
	refineMu sync.Mutex

	mu        sync.Mutex
	state     RunState
	completed int
	// doc is replaced, never modified, once the run has finished.
	doc        *models.Document
	err        string
	finishedAt time.Time
}

func (r *run) summary() RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaryLocked()
}

func (r *run) summaryLocked() RunSummary {
	s := RunSummary{
		ID:                r.id,
		Title:             r.title,
		State:             r.state,
		TotalSections:     r.total,
		CompletedSections: r.completed,
		Error:             r.err,
		StartedAt:         r.startedAt,
	}
	if r.doc != nil {
		s.FailedSections = r.doc.FailedSections
		s.Citations = len(r.doc.ReferenceTable)
	}
	if !r.finishedAt.IsZero() {
		t := r.finishedAt
		s.FinishedAt = &t
	}
	return s
}
