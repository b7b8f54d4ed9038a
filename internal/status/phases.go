// Package status tracks the lifecycle phase of an environment within a run.
package status

import (
	"fmt"
	"sync"
	"time"
)

// Phase is a lifecycle phase of an environment.
type Phase string

const (
	PhaseUnconfigured Phase = "Unconfigured"
	PhaseBooting      Phase = "Booting"
	PhaseReady        Phase = "Ready"
	PhaseDestroying   Phase = "Destroying"
	PhaseDestroyed    Phase = "Destroyed"
	PhaseAborted      Phase = "Aborted"
)

// Transition records one phase change.
type Transition struct {
	From    Phase
	To      Phase
	Reason  string
	Message string
	At      time.Time
}

// Tracker holds the current phase and every transition taken.
type Tracker struct {
	mu      sync.Mutex
	phase   Phase
	forced  bool
	history []Transition
}

// NewTracker returns a Tracker in PhaseUnconfigured.
func NewTracker() *Tracker {
	return &Tracker{phase: PhaseUnconfigured}
}

// Phase returns the current phase.
func (t *Tracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Forced reports whether the current destroy was forced by a boot failure.
func (t *Tracker) Forced() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.forced
}

// History returns a copy of the transitions taken so far.
func (t *Tracker) History() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Transition, len(t.history))
	copy(out, t.history)
	return out
}

func (t *Tracker) move(to Phase, reason, message string, allowed ...Phase) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, from := range allowed {
		if t.phase == from {
			t.history = append(t.history, Transition{From: t.phase, To: to, Reason: reason, Message: message, At: time.Now()})
			t.phase = to
			return nil
		}
	}
	return fmt.Errorf("cannot transition to %s from phase %s", to, t.phase)
}

// TransitionToBooting is taken once the descriptor has been found.
func (t *Tracker) TransitionToBooting() error {
	return t.move(PhaseBooting, "DescriptorFound", "booting environment", PhaseUnconfigured)
}

// TransitionToReady is taken when boot succeeds.
func (t *Tracker) TransitionToReady() error {
	return t.move(PhaseReady, "Booted", "environment is online", PhaseBooting)
}

// TransitionToDestroying starts teardown of a ready environment, or the
// forced cleanup of a failed boot.
func (t *Tracker) TransitionToDestroying(reason string) error {
	if err := t.move(PhaseDestroying, reason, "destroying environment", PhaseReady, PhaseBooting); err != nil {
		return err
	}
	t.mu.Lock()
	t.forced = t.history[len(t.history)-1].From == PhaseBooting
	t.mu.Unlock()
	return nil
}

// TransitionToDestroyed completes a teardown. A forced destroy ends in
// PhaseAborted instead.
func (t *Tracker) TransitionToDestroyed() error {
	if t.Forced() {
		return fmt.Errorf("cannot transition to %s after a forced destroy", PhaseDestroyed)
	}
	return t.move(PhaseDestroyed, "Destroyed", "environment destroyed", PhaseDestroying)
}

// TransitionToAborted ends the run without a usable environment. It is
// legal before boot and after a forced destroy.
func (t *Tracker) TransitionToAborted(reason, message string) error {
	t.mu.Lock()
	forcedDestroy := t.phase == PhaseDestroying && t.forced
	t.mu.Unlock()
	if forcedDestroy {
		return t.move(PhaseAborted, reason, message, PhaseDestroying)
	}
	return t.move(PhaseAborted, reason, message, PhaseUnconfigured)
}

// IsTerminal returns true for phases no further transition leaves.
func IsTerminal(phase Phase) bool {
	return phase == PhaseDestroyed || phase == PhaseAborted
}

// IsUsable returns true when stages may run against the environment.
func IsUsable(phase Phase) bool {
	return phase == PhaseReady
}
