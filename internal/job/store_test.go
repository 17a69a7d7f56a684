package job

import (
	"errors"
	"testing"
	"time"
)

func TestStore_Create(t *testing.T) {
	store := NewStore()

	j, err := store.Create("job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Status != StatusPending {
		t.Errorf("expected pending, got %s", j.Status)
	}
	if j.Progress != 0 {
		t.Errorf("expected progress 0, got %d", j.Progress)
	}
	if len(j.Targets) != 0 || len(j.Warnings) != 0 {
		t.Error("expected empty targets and warnings")
	}
}

func TestStore_CreateDuplicate(t *testing.T) {
	store := NewStore()
	store.Create("job-1")

	_, err := store.Create("job-1")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	store := NewStore()

	_, err := store.Get("nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_UpdateRefreshesUpdatedAt(t *testing.T) {
	store := NewStore()
	created, _ := store.Create("job-1")

	time.Sleep(5 * time.Millisecond)
	updated, err := store.Update("job-1", func(j *Job) error {
		return j.Transition(StatusRunning)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Error("expected updated_at to advance")
	}
	if updated.CompletedAt != nil {
		t.Error("running must not set completed_at")
	}
}

func TestStore_UpdateRejectsInvalidTransition(t *testing.T) {
	store := NewStore()
	store.Create("job-1")

	_, err := store.Update("job-1", func(j *Job) error {
		j.Status = StatusCompleted // bypass attempt
		return nil
	})
	var ite InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	j, _ := store.Get("job-1")
	if j.Status != StatusPending {
		t.Errorf("record mutated by rejected update: %s", j.Status)
	}
}

func TestStore_UpdateFailedMutatorLeavesRecord(t *testing.T) {
	store := NewStore()
	store.Create("job-1")

	_, err := store.Update("job-1", func(j *Job) error {
		j.Warnings = append(j.Warnings, "w")
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}

	j, _ := store.Get("job-1")
	if len(j.Warnings) != 0 {
		t.Error("failed mutator leaked changes into the store")
	}
}

func TestStore_TerminalSetsCompletedAtOnce(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		store := NewStore()
		store.Create("job-1")
		store.Update("job-1", func(j *Job) error { return j.Transition(StatusRunning) })

		j, err := store.Update("job-1", func(j *Job) error { return j.Transition(terminal) })
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", terminal, err)
		}
		if j.CompletedAt == nil {
			t.Errorf("%s: expected completed_at to be set", terminal)
		}
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	store := NewStore()
	store.Create("job-1")
	time.Sleep(2 * time.Millisecond)
	store.Create("job-2")
	time.Sleep(2 * time.Millisecond)
	store.Create("job-3")

	jobs, total := store.List(10, 0, "")
	if total != 3 {
		t.Fatalf("expected 3, got %d", total)
	}
	for i := 1; i < len(jobs); i++ {
		if jobs[i].CreatedAt.After(jobs[i-1].CreatedAt) {
			t.Errorf("jobs not ordered newest first at index %d", i)
		}
	}
	if jobs[0].ID != "job-3" {
		t.Errorf("expected job-3 first, got %s", jobs[0].ID)
	}
}

func TestStore_ListFilterAndPagination(t *testing.T) {
	store := NewStore()
	store.Create("job-1")
	store.Create("job-2")
	store.Update("job-2", func(j *Job) error { return j.Transition(StatusRunning) })

	jobs, total := store.List(10, 0, "pending")
	if total != 1 || len(jobs) != 1 || jobs[0].ID != "job-1" {
		t.Errorf("expected only job-1 pending, got %d jobs", len(jobs))
	}

	jobs, total = store.List(1, 1, "")
	if total != 2 {
		t.Errorf("expected total 2, got %d", total)
	}
	if len(jobs) != 1 {
		t.Errorf("expected 1 job on page, got %d", len(jobs))
	}

	jobs, _ = store.List(10, 5, "")
	if len(jobs) != 0 {
		t.Errorf("expected empty page past the end, got %d", len(jobs))
	}
}

func TestStore_GetActive(t *testing.T) {
	store := NewStore()

	j, err := store.GetActive()
	if err != nil || j != nil {
		t.Fatalf("expected no active job, got %v, %v", j, err)
	}

	store.Create("job-1")
	j, err = store.GetActive()
	if err != nil || j != nil {
		t.Error("pending job must not be active")
	}

	store.Update("job-1", func(rec *Job) error { return rec.Transition(StatusRunning) })
	j, err = store.GetActive()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j == nil || j.ID != "job-1" {
		t.Fatal("expected job-1 active")
	}

	store.Update("job-1", func(rec *Job) error { return rec.Transition(StatusPaused) })
	j, _ = store.GetActive()
	if j == nil {
		t.Error("paused job must count as active")
	}

	store.Update("job-1", func(rec *Job) error { return rec.Transition(StatusCancelled) })
	j, _ = store.GetActive()
	if j != nil {
		t.Error("terminal job must not be active")
	}
}

func TestStore_GetActiveConsistencyFailure(t *testing.T) {
	store := NewStore()
	store.Create("job-1")
	store.Create("job-2")
	store.Update("job-1", func(j *Job) error { return j.Transition(StatusRunning) })
	store.Update("job-2", func(j *Job) error { return j.Transition(StatusRunning) })

	_, err := store.GetActive()
	if !errors.Is(err, ErrMultipleActive) {
		t.Errorf("expected ErrMultipleActive, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	store := NewStore()
	store.Create("job-1")

	if err := store.Delete("job-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Get("job-1"); !errors.Is(err, ErrNotFound) {
		t.Error("expected record to be gone")
	}
	if err := store.Delete("job-1"); !errors.Is(err, ErrNotFound) {
		t.Error("expected ErrNotFound on second delete")
	}
}
