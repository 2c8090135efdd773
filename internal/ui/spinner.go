// Package ui renders command-line feedback: spinners, tables and human
// readable sizes and times.
package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner shows progress of a long-running operation on a terminal. On
// other writers it prints the message once.
type Spinner struct {
	out     io.Writer
	tty     bool
	message string
	active  bool
	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
}

// NewSpinner creates a spinner writing to stderr.
func NewSpinner(message string) *Spinner {
	return NewSpinnerTo(os.Stderr, IsTerminal(os.Stderr) && ColorEnabled(), message)
}

// NewSpinnerTo creates a spinner writing to out. Animation is only drawn
// when tty is true.
func NewSpinnerTo(out io.Writer, tty bool, message string) *Spinner {
	return &Spinner{
		out:     out,
		tty:     tty,
		message: message,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins spinning, showing feedback within 100ms
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.mu.Unlock()

	if !s.tty {
		fmt.Fprintf(s.out, "%s...\n", s.message)
		close(s.stopped)
		return
	}

	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for i := 0; ; i = (i + 1) % len(spinnerFrames) {
			select {
			case <-s.done:
				fmt.Fprint(s.out, "\r\033[K")
				return
			case <-ticker.C:
				s.mu.Lock()
				fmt.Fprintf(s.out, "\r%s %s", spinnerFrames[i], s.message)
				s.mu.Unlock()
			}
		}
	}()
}

// Stop stops the spinner and prints finalMessage when it is not empty.
func (s *Spinner) Stop(finalMessage string) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.mu.Unlock()

	close(s.done)
	<-s.stopped

	if finalMessage != "" {
		fmt.Fprintln(s.out, finalMessage)
	}
}

// Update changes the spinner message while it's running
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// IsTerminal reports whether f is a character device.
func IsTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// ColorEnabled reports whether NO_COLOR is unset.
func ColorEnabled() bool {
	return os.Getenv("NO_COLOR") == ""
}

// ShowSpinner runs fn behind a spinner and reports its outcome.
func ShowSpinner(message string, fn func() error) error {
	spinner := NewSpinner(message)
	spinner.Start()
	err := fn()
	if err != nil {
		spinner.Stop(fmt.Sprintf("✗ %s: %v", message, err))
	} else {
		spinner.Stop(fmt.Sprintf("✓ %s", message))
	}
	return err
}
