package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/overlayforge/orchestrator/internal/job"
)

// imageExts are checked in order when resolving a target's artwork.
var imageExts = []string{".jpg", ".jpeg", ".png", ".webp"}

// TargetArtifacts is the derived before/after view for one preview
// target. It is rebuilt from the renderer's output directory on every
// query and never persisted.
type TargetArtifacts struct {
	TargetID  string   `json:"target_id"`
	Title     string   `json:"title"`
	BeforeURL string   `json:"before_url,omitempty"`
	AfterURL  string   `json:"after_url,omitempty"`
	DraftURL  string   `json:"draft_url,omitempty"`
	Warnings  []string `json:"warnings"`
}

// Store reads rendered images out of per-job work directories.
type Store struct {
	workRoot string
}

func NewStore(workRoot string) (*Store, error) {
	if err := os.MkdirAll(workRoot, 0755); err != nil {
		return nil, fmt.Errorf("create work root: %w", err)
	}
	return &Store{workRoot: workRoot}, nil
}

func (s *Store) outputDir(jobID string) string {
	return filepath.Join(s.workRoot, jobID, "output")
}

// FilePath resolves an artifact file name within a job's output
// directory, rejecting path traversal.
func (s *Store) FilePath(jobID, name string) (string, error) {
	if strings.Contains(jobID, "..") || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid artifact path: %s", name)
	}

	dir := s.outputDir(jobID)
	fullPath := filepath.Join(dir, name)
	if !strings.HasPrefix(fullPath, dir) {
		return "", fmt.Errorf("path traversal detected: %s", name)
	}

	if _, err := os.Stat(fullPath); err != nil {
		return "", fmt.Errorf("artifact not found: %s", name)
	}
	return fullPath, nil
}

// ForJob builds the artifact listing for every target of the job. A
// missing image simply leaves its URL empty; targets carry their own
// warnings through unchanged.
func (s *Store) ForJob(j *job.Job) []TargetArtifacts {
	out := make([]TargetArtifacts, 0, len(j.Targets))
	for _, t := range j.Targets {
		ta := TargetArtifacts{
			TargetID: t.ID,
			Title:    t.Title,
			Warnings: t.Warnings,
		}
		if ta.Warnings == nil {
			ta.Warnings = []string{}
		}
		ta.BeforeURL = s.findImage(j.ID, t.ID+"_before")
		ta.AfterURL = s.findImage(j.ID, t.ID+"_after")
		ta.DraftURL = s.findImage(j.ID, t.ID+"_draft")
		out = append(out, ta)
	}
	return out
}

// Remove deletes a job's entire work directory. Used by force-delete.
func (s *Store) Remove(jobID string) error {
	if strings.Contains(jobID, "..") || jobID == "" {
		return fmt.Errorf("invalid job id: %s", jobID)
	}
	return os.RemoveAll(filepath.Join(s.workRoot, jobID))
}

func (s *Store) findImage(jobID, base string) string {
	for _, ext := range imageExts {
		name := base + ext
		if _, err := os.Stat(filepath.Join(s.outputDir(jobID), name)); err == nil {
			return fmt.Sprintf("/preview/artifacts/%s/%s", jobID, name)
		}
	}
	return ""
}
