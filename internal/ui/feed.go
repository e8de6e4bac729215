package ui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/finops/cli/internal/progress"
)

// FormatEvent renders one upload log entry as a single line.
//
// Parameters:
//   - ev: The log entry
//   - barWidth: Width of the percentage bar of step updates, 0 for none
//
// Returns:
//   - string: The styled line
func FormatEvent(ev progress.Event, barWidth int) string {
	text := ev.Message
	if text == "" {
		text = StepLabel(ev.Step)
	}
	if text == "" {
		text = string(ev.Type)
	}

	switch ev.Type {
	case progress.EventStepStart:
		return StatusRunningStyle.Render("▶") + " " + text
	case progress.EventStepComplete:
		return SuccessStyle.Render("✓") + " " + text
	case progress.EventComplete:
		return SuccessStyle.Render("✓ " + text)
	case progress.EventStepUpdate:
		line := DimStyle.Render("…") + " " + text
		if pct, ok := ev.Percentage(); ok && barWidth > 0 {
			line += " " + Bar(pct, barWidth)
		}
		if d := ev.Detail(); d != "" {
			line += " " + DimStyle.Render(d)
		}
		return line
	default:
		return DimStyle.Render("•") + " " + text
	}
}

// Bar renders a percentage as a fixed-width bar followed by the value.
// Values outside 0..100 are clamped.
func Bar(pct float64, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(pct / 100 * float64(width))
	var bar string
	if filled > 0 {
		bar = ProgressBarStyle.Render(strings.Repeat("█", filled))
	}
	if filled < width {
		bar += ProgressTrackStyle.Render(strings.Repeat("░", width-filled))
	}
	return bar + fmt.Sprintf(" %3d%%", int(pct))
}

// ActivityFeed prints the upload activity log line by line.
//
// A step_update that replaced the previous entry in the log is printed again
// only when its rendered line changed.
type ActivityFeed struct {
	mu       sync.Mutex
	printed  int
	lastLine string
	barWidth int
}

// NewActivityFeed creates a feed whose step updates carry a bar of the given
// width.
func NewActivityFeed(barWidth int) *ActivityFeed {
	return &ActivityFeed{barWidth: barWidth}
}

// Update prints the entries added or replaced since the previous snapshot.
func (f *ActivityFeed) Update(s progress.State) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(s.Steps) < f.printed {
		f.printed = 0
		f.lastLine = ""
	}
	if f.printed > 0 && f.printed <= len(s.Steps) {
		// The last printed entry may have been coalesced in place.
		if line := FormatEvent(s.Steps[f.printed-1], f.barWidth); line != f.lastLine {
			printLine(true, line)
			f.lastLine = line
		}
	}
	for _, ev := range s.Steps[f.printed:] {
		line := FormatEvent(ev, f.barWidth)
		printLine(true, line)
		f.lastLine = line
	}
	f.printed = len(s.Steps)
}
