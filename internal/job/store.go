package job

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/overlayforge/orchestrator/internal/db"
)

const keyPrefix = "jobs/"

// Store holds job records in memory with an optional durable badger
// backing. All mutations go through Update, which serializes concurrent
// writers and validates status changes against the transition table, so a
// progress report racing a cancel can never produce a lost update or an
// illegal state.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	kv   *db.Store
}

// NewStore returns a memory-only store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*Job)}
}

// NewPersistentStore returns a store backed by the given key-value store.
// All persisted records are loaded into the cache up front, which is how
// job state survives an orchestrator restart.
func NewPersistentStore(kv *db.Store) (*Store, error) {
	s := &Store{jobs: make(map[string]*Job), kv: kv}

	keys, err := kv.List(keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list persisted jobs: %w", err)
	}
	for _, key := range keys {
		data, err := kv.Get(key)
		if err != nil {
			continue
		}
		var j Job
		if err := json.Unmarshal(data, &j); err != nil {
			log.Printf("Skipping unreadable job record %s: %v", key, err)
			continue
		}
		s.jobs[j.ID] = &j
	}

	return s, nil
}

// Create writes a fresh pending record for the given id.
func (s *Store) Create(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}

	now := time.Now().UTC()
	j := &Job{
		ID:        id,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Targets:   []Target{},
		Warnings:  []string{},
	}

	if err := s.persist(j); err != nil {
		return nil, err
	}
	s.jobs[id] = j

	return j.Clone(), nil
}

func (s *Store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j.Clone(), nil
}

// Update applies the mutator to the record atomically with respect to
// other callers. It refreshes UpdatedAt, stamps CompletedAt on first
// entry into a terminal status, and rejects any status change the
// transition table does not allow, so no write path can bypass the state
// machine.
func (s *Store) Update(id string, mutate func(*Job) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next := j.Clone()
	prev := j.Status
	if err := mutate(next); err != nil {
		return nil, err
	}

	if next.Status != prev && !CanTransition(prev, next.Status) {
		return nil, InvalidTransitionError{From: prev, To: next.Status}
	}

	next.UpdatedAt = time.Now().UTC()
	if next.Status.IsTerminal() && next.CompletedAt == nil {
		t := next.UpdatedAt
		next.CompletedAt = &t
	}

	if err := s.persist(next); err != nil {
		return nil, err
	}
	s.jobs[id] = next

	return next.Clone(), nil
}

// Delete removes the record and its durable key. Used only by
// force-delete.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.jobs, id)

	if s.kv != nil {
		if err := s.kv.Delete(keyPrefix + id); err != nil {
			log.Printf("Failed to delete persisted job %s: %v", id, err)
		}
	}
	return nil
}

// List returns jobs ordered by creation time descending, optionally
// filtered by status, plus the total matching count.
func (s *Store) List(limit, offset int, status string) ([]*Job, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []*Job
	for _, j := range s.jobs {
		if status == "" || string(j.Status) == status {
			filtered = append(filtered, j.Clone())
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	total := len(filtered)
	if offset >= total {
		return []*Job{}, total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	return filtered[offset:end], total
}

// GetActive returns the single running or paused job, or nil if there is
// none. Finding more than one means the concurrency invariant was broken
// and is reported as an error rather than resolved silently.
func (s *Store) GetActive() (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active *Job
	for _, j := range s.jobs {
		if !j.Status.IsActive() {
			continue
		}
		if active != nil {
			return nil, ErrMultipleActive
		}
		active = j
	}

	if active == nil {
		return nil, nil
	}
	return active.Clone(), nil
}

// Stats returns job counts by status.
func (s *Store) Stats() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Status]int)
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts
}

func (s *Store) persist(j *Job) error {
	if s.kv == nil {
		return nil
	}
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.kv.Set(keyPrefix+j.ID, data); err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	return nil
}
