package renderer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/overlayforge/orchestrator/internal/job"
)

// ContainerWorkDir is where the job's work directory is mounted inside
// the renderer container.
const ContainerWorkDir = "/preview"

const (
	SpecFileName  = "spec.yml"
	OutputDirName = "output"
)

// SpecTarget is one media item as the renderer consumes it.
type SpecTarget struct {
	ID        string `yaml:"id"`
	Title     string `yaml:"title"`
	MediaType string `yaml:"media_type,omitempty"`
}

// Spec is the renderable document handed to the renderer container. It
// combines the overlay configuration (opaque to the orchestrator) with
// the selected targets and tells the renderer where to write images.
type Spec struct {
	JobID     string         `yaml:"job_id"`
	Overlay   map[string]any `yaml:"overlay"`
	Targets   []SpecTarget   `yaml:"targets"`
	OutputDir string         `yaml:"output_dir"`
}

// BuildSpec assembles the render spec for a job.
func BuildSpec(jobID string, overlay map[string]any, targets []job.Target) *Spec {
	s := &Spec{
		JobID:     jobID,
		Overlay:   overlay,
		OutputDir: ContainerWorkDir + "/" + OutputDirName,
	}
	for _, t := range targets {
		s.Targets = append(s.Targets, SpecTarget{
			ID:        t.ID,
			Title:     t.Title,
			MediaType: t.MediaType,
		})
	}
	return s
}

// Write serializes the spec as YAML to the given path.
func (s *Spec) Write(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal render spec: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write render spec: %w", err)
	}
	return nil
}
