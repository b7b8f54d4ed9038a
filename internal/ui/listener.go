package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// StreamListener writes info messages to one writer and errors to another,
// one line per message.
type StreamListener struct {
	mu  sync.Mutex
	out io.Writer
	err io.Writer
}

// NewStreamListener returns a StreamListener over out and errOut.
func NewStreamListener(out, errOut io.Writer) *StreamListener {
	return &StreamListener{out: out, err: errOut}
}

// Info writes msg to the info writer.
func (s *StreamListener) Info(msg string) { s.write(s.out, msg) }

// Error writes msg to the error writer.
func (s *StreamListener) Error(msg string) { s.write(s.err, msg) }

func (s *StreamListener) write(w io.Writer, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintln(w, strings.TrimRight(msg, "\n"))
}
