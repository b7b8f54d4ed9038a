// Package config loads the job file that drives a crucible run.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/crucible/internal/environment"
)

// Job is one build: where the descriptor lives, how to boot it and which steps
// to run against the machines.
type Job struct {
	DescriptorPath string `yaml:"descriptor_path,omitempty"` // Relative to the workspace; empty means the workspace root
	Provider       string `yaml:"provider,omitempty"`        // Default: "virtualbox"
	DisableDestroy bool   `yaml:"disable_destroy,omitempty"` // Leave machines running after the build
	LockPath       string `yaml:"lock_path,omitempty"`       // Default: $TMPDIR/.crucible-boot.lock
	Steps          []Step `yaml:"steps,omitempty"`
}

// Step is either a command or a provision request.
type Step struct {
	Name      string `yaml:"name,omitempty"`
	Command   string `yaml:"command,omitempty"`
	Elevate   bool   `yaml:"elevate,omitempty"`
	Provision bool   `yaml:"provision,omitempty"`
}

// StepKind names what a step does.
type StepKind string

const (
	StepCommand   StepKind = "command"
	StepProvision StepKind = "provision"
)

// Kind returns the step's kind. Valid only after Validate.
func (s *Step) Kind() StepKind {
	if s.Provision {
		return StepProvision
	}
	return StepCommand
}

// DisplayName returns the step name, or a name derived from its position.
func (s *Step) DisplayName(i int) string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("%s-%d", s.Kind(), i+1)
}

// Validate checks the job structure.
func (j *Job) Validate() error {
	if strings.HasPrefix(j.DescriptorPath, "/") {
		return fmt.Errorf("descriptor_path must be relative to the workspace, got %q", j.DescriptorPath)
	}
	for i := range j.Steps {
		if err := j.Steps[i].Validate(); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks that exactly one action is set.
func (s *Step) Validate() error {
	hasCommand := strings.TrimSpace(s.Command) != ""
	if hasCommand == s.Provision {
		return fmt.Errorf("exactly one of command or provision is required")
	}
	if s.Provision && s.Elevate {
		return fmt.Errorf("elevate only applies to command steps")
	}
	return nil
}

// Normalize applies defaults.
func (j *Job) Normalize() {
	j.Provider = environment.NormalizeProvider(strings.ToLower(strings.TrimSpace(j.Provider)))
	j.DescriptorPath = strings.TrimSpace(j.DescriptorPath)
}

// Parse decodes, normalizes and validates a job document.
func Parse(data []byte) (*Job, error) {
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	job.Normalize()

	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &job, nil
}

// LoadFromFile loads a job from a YAML file.
func LoadFromFile(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}
