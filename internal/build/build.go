// Package build models one pipeline run: its workspace, its result and the
// state shared between its stages.
package build

import (
	"sync"

	"github.com/google/uuid"
)

// Result is the outcome recorded for a run.
type Result string

const (
	ResultSuccess  Result = "SUCCESS"
	ResultFailure  Result = "FAILURE"
	ResultNotBuilt Result = "NOT_BUILT"
	ResultAborted  Result = "ABORTED"
)

// severity orders results so a run can only get worse.
var severity = map[Result]int{
	ResultSuccess:  0,
	ResultFailure:  1,
	ResultNotBuilt: 2,
	ResultAborted:  3,
}

// ExitCode maps a result to a process exit code.
func (r Result) ExitCode() int {
	switch r {
	case ResultSuccess:
		return 0
	case ResultNotBuilt:
		return 2
	default:
		return 1
	}
}

// Build is a single pipeline run.
type Build struct {
	ID        string
	Workspace string
	Vars      map[string]string
	State     *State

	mu     sync.Mutex
	result Result
}

// New returns a Build rooted at workspace with a fresh run ID.
func New(workspace string) *Build {
	return &Build{
		ID:        uuid.NewString(),
		Workspace: workspace,
		Vars:      map[string]string{},
		State:     &State{},
	}
}

// SetResult records r unless a worse result is already recorded.
func (b *Build) SetResult(r Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.result == "" || severity[r] > severity[b.result] {
		b.result = r
	}
}

// Result returns the recorded result, or SUCCESS when none was set.
func (b *Build) Result() Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.result == "" {
		return ResultSuccess
	}
	return b.result
}
