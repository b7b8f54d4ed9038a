// Package ui adapts the interactive output surface of a VM environment onto a
// build's append-only log.
//
// Builds run without a terminal. Messages are forwarded to a Listener,
// progress redraws are dropped, and prompts fail immediately with
// ErrUIExpectsTTY instead of blocking.
package ui

import (
	"errors"
	"fmt"
)

// ErrUIExpectsTTY is returned by Ask when no interactive terminal is attached.
var ErrUIExpectsTTY = errors.New("interactive prompt requires a TTY, none is attached to this build")

// Listener is the build log sink.
type Listener interface {
	Info(msg string)
	Error(msg string)
}

// UI is the output surface handed to an environment backend.
type UI interface {
	Info(msg string)
	Success(msg string)
	Warn(msg string)
	Error(msg string)
	Ask(prompt string) (string, error)
	ReportProgress(done, total int64)
	ClearLine()
	Scope(name string) UI
}

// Console routes UI events to a Listener.
type Console struct {
	listener Listener
	prefix   string
}

// NewConsole returns a Console writing to l.
func NewConsole(l Listener) *Console {
	return &Console{listener: l}
}

// Info forwards msg to the listener's info channel.
func (c *Console) Info(msg string) { c.listener.Info(c.prefix + msg) }

// Success forwards msg to the listener's info channel.
func (c *Console) Success(msg string) { c.listener.Info(c.prefix + msg) }

// Warn forwards msg to the listener's info channel.
func (c *Console) Warn(msg string) { c.listener.Info(c.prefix + msg) }

// Error forwards msg to the listener's error channel.
func (c *Console) Error(msg string) { c.listener.Error(c.prefix + msg) }

// Ask never reads input. The prompt is logged so the build shows what was asked.
func (c *Console) Ask(prompt string) (string, error) {
	c.listener.Error(c.prefix + prompt)
	return "", fmt.Errorf("cannot answer %q: %w", prompt, ErrUIExpectsTTY)
}

// ReportProgress is a no-op.
func (c *Console) ReportProgress(done, total int64) {}

// ClearLine is a no-op.
func (c *Console) ClearLine() {}

// Scope returns a Console that prefixes every message with "name: ".
func (c *Console) Scope(name string) UI {
	if name == "" {
		return c
	}
	return &Console{listener: c.listener, prefix: c.prefix + name + ": "}
}
