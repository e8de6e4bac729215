// Package ui provides the spinner used while waiting on plain REST calls.
package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	spinnerMu     sync.Mutex
	spinnerStop   chan struct{}
	spinnerDone   chan struct{}
	spinnerActive bool
)

// StartSpinner starts an animated spinner with a message. It does nothing
// in quiet mode or when stdout is not a terminal.
//
// Parameters:
//   - message: The message to display next to the spinner
func StartSpinner(message string) {
	if IsQuietMode() || !IsInteractive() {
		return
	}

	spinnerMu.Lock()
	defer spinnerMu.Unlock()
	if spinnerActive {
		return
	}
	spinnerActive = true
	spinnerStop = make(chan struct{})
	spinnerDone = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		w := Output()
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			frame := StatusRunningStyle.Render(spinnerFrames[i%len(spinnerFrames)])
			fmt.Fprintf(w, "\r%s %s", frame, message)
			select {
			case <-stop:
				fmt.Fprintf(w, "\r%s\r", strings.Repeat(" ", len(message)+4))
				return
			case <-ticker.C:
			}
		}
	}(spinnerStop, spinnerDone)
}

// StopSpinner stops the current spinner and waits for its line to clear.
func StopSpinner() {
	spinnerMu.Lock()
	defer spinnerMu.Unlock()
	if !spinnerActive {
		return
	}
	close(spinnerStop)
	<-spinnerDone
	spinnerActive = false
}
