// Package uitest provides a recording Listener for tests.
package uitest

import (
	"strings"
	"sync"
)

// Channel identifies which listener method received a message.
type Channel string

const (
	Info  Channel = "info"
	Error Channel = "error"
)

// Entry is one recorded message.
type Entry struct {
	Channel Channel
	Msg     string
}

// Recorder is a ui.Listener that keeps every message in arrival order.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Info records msg on the info channel.
func (r *Recorder) Info(msg string) { r.add(Info, msg) }

// Error records msg on the error channel.
func (r *Recorder) Error(msg string) { r.add(Error, msg) }

func (r *Recorder) add(ch Channel, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Channel: ch, Msg: msg})
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Messages returns the messages recorded on ch.
func (r *Recorder) Messages(ch Channel) []string {
	var out []string
	for _, e := range r.Entries() {
		if e.Channel == ch {
			out = append(out, e.Msg)
		}
	}
	return out
}

// Contains reports whether any message on any channel contains substr.
func (r *Recorder) Contains(substr string) bool {
	for _, e := range r.Entries() {
		if strings.Contains(e.Msg, substr) {
			return true
		}
	}
	return false
}
