package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Spinner is a blocking line spinner for short CLI steps.
type Spinner struct {
	out      io.Writer
	message  string
	spinner  spinner.Spinner
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConnectionSpinner creates a spinner for network operations.
func NewConnectionSpinner(message string) *Spinner {
	return &Spinner{
		out:     os.Stdout,
		message: message,
		spinner: spinner.Globe,
		done:    make(chan struct{}),
	}
}

func (s *Spinner) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		frames := s.spinner.Frames
		ticker := time.NewTicker(s.spinner.FPS)
		defer ticker.Stop()
		for i := 0; ; i++ {
			fmt.Fprintf(s.out, "\r%s %s", SpinnerStyle.Render(frames[i%len(frames)]), s.message)
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop clears the line. It is safe to call more than once.
func (s *Spinner) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		fmt.Fprint(s.out, "\r\033[K")
	})
}

// RunConnectionSpinner starts a connection spinner and returns a stop function
func RunConnectionSpinner(message string) func() {
	sp := NewConnectionSpinner(message)
	sp.Start()
	return sp.Stop
}
