package preview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/overlayforge/orchestrator/internal/artifacts"
	"github.com/overlayforge/orchestrator/internal/events"
	"github.com/overlayforge/orchestrator/internal/job"
	"github.com/overlayforge/orchestrator/internal/renderer"
)

var (
	// ErrActiveJobExists rejects a new preview while another one holds
	// the render slot.
	ErrActiveJobExists = errors.New("a preview job is already running")

	// ErrNotCancellable rejects cancel on a job that isn't running or
	// paused.
	ErrNotCancellable = errors.New("job is not running or paused")
)

// Manager composes the repository, the process controller, and the event
// bus into the public preview operations. It is the sole owner of the
// active-job slot: the slot is acquired in StartPreview and released
// exactly once, either when the job reaches a terminal state or through
// ForceDelete.
type Manager struct {
	store *job.Store
	bus   *events.Bus
	files *artifacts.Store
	ctl   renderer.Controller

	mu       sync.Mutex
	activeID string
}

func NewManager(store *job.Store, bus *events.Bus, files *artifacts.Store) *Manager {
	return &Manager{store: store, bus: bus, files: files}
}

// Bind attaches the process controller. Split from the constructor
// because the controller needs the manager's hooks at construction time.
func (m *Manager) Bind(ctl renderer.Controller) {
	m.ctl = ctl
}

// Hooks returns the renderer callbacks wired to this manager.
func (m *Manager) Hooks() renderer.Hooks {
	return renderer.Hooks{
		OnLog:      m.handleLog,
		OnProgress: m.handleProgress,
		OnWarning:  m.handleWarning,
		OnExit:     m.handleExit,
	}
}

// StartPreview creates a job for the given overlay config and targets,
// spawns the renderer, and moves the job to running. Only one job may
// hold the render slot at a time.
func (m *Manager) StartPreview(ctx context.Context, overlay map[string]any, targets []job.Target) (string, error) {
	if len(targets) == 0 {
		return "", fmt.Errorf("at least one preview target is required")
	}

	m.mu.Lock()
	if m.activeID != "" {
		m.mu.Unlock()
		return "", ErrActiveJobExists
	}
	active, err := m.store.GetActive()
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	if active != nil {
		m.mu.Unlock()
		return "", ErrActiveJobExists
	}

	id := uuid.NewString()
	if _, err := m.store.Create(id); err != nil {
		m.mu.Unlock()
		return "", err
	}
	m.activeID = id
	m.mu.Unlock()

	if _, err := m.store.Update(id, func(j *job.Job) error {
		j.Targets = append([]job.Target(nil), targets...)
		return nil
	}); err != nil {
		m.releaseSlot(id)
		return "", err
	}

	spec := renderer.BuildSpec(id, overlay, targets)
	if err := m.ctl.Spawn(ctx, id, spec); err != nil {
		m.transition(id, job.StatusFailed, func(j *job.Job) {
			j.Error = err.Error()
		})
		m.releaseSlot(id)
		return "", err
	}

	if _, err := m.transition(id, job.StatusRunning, nil); err != nil {
		return "", err
	}
	m.bus.Publish(id, events.NewLog("Preview render started"))

	log.Printf("Preview job %s started with %d targets", id, len(targets))
	return id, nil
}

// Pause suspends the active render.
func (m *Manager) Pause(ctx context.Context, id string) error {
	if _, err := m.store.Get(id); err != nil {
		return err
	}
	if err := m.ctl.Pause(ctx, id); err != nil {
		return err
	}
	if _, err := m.transition(id, job.StatusPaused, nil); err != nil {
		return err
	}
	m.bus.Publish(id, events.NewLog("Job paused"))
	return nil
}

// Resume continues a paused render.
func (m *Manager) Resume(ctx context.Context, id string) error {
	if _, err := m.store.Get(id); err != nil {
		return err
	}
	if err := m.ctl.Resume(ctx, id); err != nil {
		return err
	}
	if _, err := m.transition(id, job.StatusRunning, nil); err != nil {
		return err
	}
	m.bus.Publish(id, events.NewLog("Job resumed"))
	return nil
}

// Cancel terminates a running or paused render. The record moves to
// cancelled before the process is signalled, so a racing exit report has
// no effect; progress keeps its last reported value.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	j, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if !j.Status.IsActive() {
		return fmt.Errorf("%w (status: %s)", ErrNotCancellable, j.Status)
	}

	updated, err := m.transition(id, job.StatusCancelled, nil)
	if err != nil {
		return err
	}
	m.bus.Publish(id, events.NewCancelled(updated.Progress))
	m.releaseSlot(id)

	if err := m.ctl.Cancel(ctx, id); err != nil {
		log.Printf("Cancel of job %s renderer reported: %v", id, err)
	}

	log.Printf("Preview job %s cancelled at %d%%", id, updated.Progress)
	return nil
}

// ForceDelete is the operator recovery path for a stuck job: it kills
// whatever process may remain, drops the event stream, removes the
// record and its work directory, and frees the slot. After the existence
// check it cannot fail.
func (m *Manager) ForceDelete(ctx context.Context, id string) error {
	if _, err := m.store.Get(id); err != nil {
		return err
	}

	m.ctl.ForceKill(ctx, id)
	m.bus.Drop(id)

	if err := m.store.Delete(id); err != nil {
		log.Printf("Force-delete of job %s record reported: %v", id, err)
	}
	if m.files != nil {
		if err := m.files.Remove(id); err != nil {
			log.Printf("Force-delete of job %s work dir reported: %v", id, err)
		}
	}
	m.releaseSlot(id)

	log.Printf("Preview job %s force-deleted", id)
	return nil
}

// Status returns the job record.
func (m *Manager) Status(id string) (*job.Job, error) {
	return m.store.Get(id)
}

// List returns jobs newest first with an optional status filter.
func (m *Manager) List(limit, offset int, status string) ([]*job.Job, int) {
	return m.store.List(limit, offset, status)
}

// Active returns the job currently holding the render slot, if any.
func (m *Manager) Active() (*job.Job, error) {
	return m.store.GetActive()
}

// Artifacts returns the derived before/after listing for a job.
func (m *Manager) Artifacts(id string) ([]artifacts.TargetArtifacts, error) {
	j, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	return m.files.ForJob(j), nil
}

// ArtifactFile resolves a single artifact image on disk.
func (m *Manager) ArtifactFile(id, name string) (string, error) {
	if _, err := m.store.Get(id); err != nil {
		return "", err
	}
	return m.files.FilePath(id, name)
}

// Stats returns job counts by status.
func (m *Manager) Stats() map[job.Status]int {
	return m.store.Stats()
}

// RecoverStale runs at boot: any persisted job still marked running or
// paused belonged to a previous process and its renderer is gone, so it
// is failed rather than left wedged.
func (m *Manager) RecoverStale() {
	jobs, _ := m.store.List(0, 0, "")
	for _, j := range jobs {
		if !j.Status.IsActive() {
			continue
		}
		if _, err := m.transition(j.ID, job.StatusFailed, func(rec *job.Job) {
			rec.Error = "orchestrator restarted during render"
		}); err != nil {
			log.Printf("Failed to recover stale job %s: %v", j.ID, err)
			continue
		}
		log.Printf("Recovered stale job %s (was %s)", j.ID, j.Status)
	}
}

// transition applies a validated status change and publishes the
// transition event followed by the status-named event before returning.
func (m *Manager) transition(id string, to job.Status, mutate func(*job.Job)) (*job.Job, error) {
	var from job.Status
	updated, err := m.store.Update(id, func(j *job.Job) error {
		from = j.Status
		if err := j.Transition(to); err != nil {
			return err
		}
		if mutate != nil {
			mutate(j)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.bus.Publish(id, events.NewTransition(string(from), string(to)))
	m.bus.Publish(id, events.NewStatus(string(to)))
	return updated, nil
}

func (m *Manager) releaseSlot(id string) {
	m.mu.Lock()
	if m.activeID == id {
		m.activeID = ""
	}
	m.mu.Unlock()
}

func (m *Manager) handleLog(id, line string) {
	m.bus.Publish(id, events.NewLog(line))
}

func (m *Manager) handleProgress(id string, pct int) {
	if _, err := m.store.Update(id, func(j *job.Job) error {
		return j.SetProgress(pct)
	}); err != nil {
		// Lost the race with a pause or cancel; the report is stale.
		return
	}
	m.bus.Publish(id, events.NewProgress(pct, fmt.Sprintf("Rendering: %d%%", pct)))
}

func (m *Manager) handleWarning(id, message string) {
	m.store.Update(id, func(j *job.Job) error {
		j.Warnings = append(j.Warnings, message)
		return nil
	})
	m.bus.Publish(id, events.NewWarning(message))
}

// handleExit records the renderer's exit. Exit code 0 completes the job
// at 100%; anything else fails it with the stderr tail as the
// diagnostic. If the record is already terminal (cancel or force-delete
// won the race) the report is ignored beyond slot cleanup.
func (m *Manager) handleExit(id string, exitCode int, stderrTail string) {
	j, err := m.store.Get(id)
	if err != nil {
		m.releaseSlot(id)
		return
	}
	if j.Status.IsTerminal() {
		m.releaseSlot(id)
		return
	}

	if exitCode == 0 {
		if _, err := m.transition(id, job.StatusCompleted, func(rec *job.Job) {
			rec.Progress = 100
			rec.ExitCode = &exitCode
		}); err != nil {
			log.Printf("Failed to complete job %s: %v", id, err)
		} else {
			m.bus.Publish(id, events.NewComplete(100, exitCode, "Preview render completed"))
			log.Printf("Preview job %s completed", id)
		}
		m.releaseSlot(id)
		return
	}

	errMsg := fmt.Sprintf("Renderer exited with code %d", exitCode)
	if stderrTail != "" {
		errMsg = fmt.Sprintf("%s (%s)", errMsg, stderrTail)
	}
	if _, err := m.transition(id, job.StatusFailed, func(rec *job.Job) {
		rec.Error = errMsg
		rec.ExitCode = &exitCode
	}); err != nil {
		log.Printf("Failed to fail job %s: %v", id, err)
	} else {
		m.bus.Publish(id, events.NewError(errMsg, "Preview render failed: "+errMsg))
		log.Printf("Preview job %s failed: %s", id, errMsg)
	}
	m.releaseSlot(id)
}
