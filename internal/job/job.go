package job

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status accepts no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsActive reports whether a job in this status holds the render slot.
func (s Status) IsActive() bool {
	return s == StatusRunning || s == StatusPaused
}

// Target is one selected preview item. Warnings collects non-fatal issues
// found while preparing the target (missing artwork and the like).
type Target struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	MediaType string   `json:"media_type,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Job is the durable record of one preview run.
type Job struct {
	ID          string     `json:"job_id"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	Error       string     `json:"error,omitempty"`
	Targets     []Target   `json:"targets"`
	Warnings    []string   `json:"warnings"`
}

func New() *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Targets:   []Target{},
		Warnings:  []string{},
	}
}

// SetProgress updates the progress percentage. Progress is only meaningful
// while the job is running; calls in any other state are rejected.
func (j *Job) SetProgress(p int) error {
	if j.Status != StatusRunning {
		return fmt.Errorf("cannot update progress for job in %s state", j.Status)
	}
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	j.Progress = p
	return nil
}

// Clone returns a deep copy so callers never mutate a stored record.
func (j *Job) Clone() *Job {
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.ExitCode != nil {
		e := *j.ExitCode
		c.ExitCode = &e
	}
	c.Targets = make([]Target, len(j.Targets))
	for i, tgt := range j.Targets {
		c.Targets[i] = tgt
		c.Targets[i].Warnings = append([]string(nil), tgt.Warnings...)
	}
	c.Warnings = append([]string(nil), j.Warnings...)
	return &c
}
