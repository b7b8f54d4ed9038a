package build

import (
	"errors"
	"sync"

	"github.com/jbweber/crucible/internal/environment"
)

// ErrAlreadyPublished is returned when setup publishes twice in one run.
var ErrAlreadyPublished = errors.New("environment already published for this run")

// State is written once by setup and read by every later stage of the run.
type State struct {
	mu             sync.RWMutex
	env            *environment.Environment
	provider       string
	dirty          bool
	disableDestroy bool
}

// Publish stores the booted environment. The dirty flag starts false.
func (s *State) Publish(env *environment.Environment, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.env != nil {
		return ErrAlreadyPublished
	}
	s.env = env
	s.provider = provider
	s.dirty = false
	return nil
}

// Environment returns the published environment.
func (s *State) Environment() (*environment.Environment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.env, s.env != nil
}

// Provider returns the provider the environment was booted with.
func (s *State) Provider() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

// MarkDirty records that a stage changed the environment.
func (s *State) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
}

// Dirty reports whether any stage changed the environment.
func (s *State) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// SetDisableDestroy controls whether teardown keeps the environment.
func (s *State) SetDisableDestroy(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disableDestroy = v
}

// DestroyDisabled reports whether teardown must keep the environment.
func (s *State) DestroyDisabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disableDestroy
}
