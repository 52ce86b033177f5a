// Package spinner draws a one-line progress indicator for long CLI operations.
package spinner

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
)

var frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a message on a writer until stopped.
type Spinner struct {
	w        io.Writer
	mu       sync.Mutex
	message  string
	width    int
	done     chan struct{}
	cleared  chan struct{}
	stopOnce sync.Once
}

// Start displays an animated spinner with the given message on w.
// Call Stop to end the animation and clear the line.
func Start(w io.Writer, message string) *Spinner {
	s := &Spinner{
		w:       w,
		message: message,
		done:    make(chan struct{}),
		cleared: make(chan struct{}),
	}
	go s.run()
	return s
}

// Update replaces the message shown next to the spinner.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop ends the animation and clears the line. It is safe to call more than once.
func (s *Spinner) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	<-s.cleared
}

func (s *Spinner) run() {
	i := 0
	for {
		select {
		case <-s.done:
			fmt.Fprintf(s.w, "\r%s\r", strings.Repeat(" ", s.width)) //nolint:errcheck
			close(s.cleared)
			return
		case <-time.After(80 * time.Millisecond):
			s.mu.Lock()
			line := frames[i%len(frames)] + " " + s.message
			s.mu.Unlock()

			// Pad over whatever the previous, possibly longer, frame left behind.
			width := runewidth.StringWidth(line)
			pad := ""
			if width < s.width {
				pad = strings.Repeat(" ", s.width-width)
			} else {
				s.width = width
			}
			fmt.Fprintf(s.w, "\r%s%s", line, pad) //nolint:errcheck
			i++
		}
	}
}
