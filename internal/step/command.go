// Package step implements the build stages that act on a booted
// environment: running shell commands and provisioning.
package step

import (
	"strings"
)

// Mode selects how a command runs on the machine.
type Mode int

const (
	// ModeExecute runs as the login user.
	ModeExecute Mode = iota
	// ModeSudo runs with administrative privileges.
	ModeSudo
)

func (m Mode) String() string {
	if m == ModeSudo {
		return "sudo"
	}
	return "execute"
}

// Command is an immutable request to run a script.
type Command struct {
	Script string
	Mode   Mode
}

// NewCommand builds a Command from a script and an elevation flag.
func NewCommand(script string, elevate bool) Command {
	mode := ModeExecute
	if elevate {
		mode = ModeSudo
	}
	return Command{Script: script, Mode: mode}
}

// Sudo reports whether the command runs elevated.
func (c Command) Sudo() bool { return c.Mode == ModeSudo }

// Lines returns the script split into lines, without a trailing empty line.
func (c Command) Lines() []string {
	script := strings.TrimRight(strings.ReplaceAll(c.Script, "\r\n", "\n"), "\n")
	if script == "" {
		return nil
	}
	return strings.Split(script, "\n")
}
