package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/finops/cli/internal/progress"
)

// capture redirects output to a buffer for the duration of the test.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(prev)
		SetQuietMode(false)
	})
	return &buf
}

func lines(buf *bytes.Buffer) []string {
	s := strings.TrimRight(buf.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestStepLabel(t *testing.T) {
	tests := map[string]string{
		"lookup":   "Looking up counterparties",
		"done":     "Done",
		"fx_rates": "Fx rates",
		"post-gl":  "Post gl",
		"":         "",
	}
	for step, want := range tests {
		if got := StepLabel(step); got != want {
			t.Errorf("StepLabel(%q) = %q, want %q", step, got, want)
		}
	}
}

func TestStepTracker_PrintsEachCompletionOnce(t *testing.T) {
	buf := capture(t)
	tr := NewStepTracker(true)

	s := progress.NewState()
	s.Running = true
	s.CurrentStep = "lookup"
	tr.Update(s)
	tr.Update(s)

	s.CompletedSteps = []string{"lookup"}
	s.CurrentStep = "settle"
	tr.Update(s)

	s.CompletedSteps = []string{"lookup", "settle"}
	s.CurrentStep = progress.StepDone
	s.Result = []byte(`{}`)
	tr.Update(s)

	got := lines(buf)
	want := []string{
		"▶ Looking up counterparties",
		"✓ Looking up counterparties",
		"▶ Settling entries",
		"✓ Settling entries",
	}
	if len(got) != len(want) {
		t.Fatalf("got lines %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
	if labels := tr.GetCompletedSteps(s); len(labels) != 2 {
		t.Errorf("GetCompletedSteps() = %v", labels)
	}
}

func TestStepTracker_ResetsOnRestart(t *testing.T) {
	buf := capture(t)
	tr := NewStepTracker(false)

	s := progress.NewState()
	s.CompletedSteps = []string{"lookup", "settle"}
	tr.Update(s)
	tr.Update(progress.NewState())
	s.CompletedSteps = []string{"lookup"}
	tr.Update(s)

	if n := len(lines(buf)); n != 3 {
		t.Errorf("printed %d lines, want 3:\n%s", n, buf.String())
	}
}

func TestActivityFeed_CoalescedUpdates(t *testing.T) {
	buf := capture(t)
	feed := NewActivityFeed(0)

	s := progress.NewState()
	progress.ApplyUpload(&s, mustDecode(t, `{"type":"step_start","step":"parse","message":"Parsing hsbc.pdf"}`))
	progress.ApplyUpload(&s, mustDecode(t, `{"type":"step_update","step":"parse","message":"Page 1 of 3"}`))
	feed.Update(s)

	progress.ApplyUpload(&s, mustDecode(t, `{"type":"step_update","step":"parse","message":"Page 1 of 3"}`))
	feed.Update(s)

	progress.ApplyUpload(&s, mustDecode(t, `{"type":"step_update","step":"parse","message":"Page 2 of 3"}`))
	feed.Update(s)

	progress.ApplyUpload(&s, mustDecode(t, `{"type":"complete","message":"1 file parsed"}`))
	feed.Update(s)

	got := lines(buf)
	want := []string{
		"▶ Parsing hsbc.pdf",
		"… Page 1 of 3",
		"… Page 2 of 3",
		"✓ 1 file parsed",
	}
	if len(got) != len(want) {
		t.Fatalf("got lines %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFormatEvent_Bar(t *testing.T) {
	ev := mustDecode(t, `{"type":"step_update","step":"extract","percentage":50,"detail":"120 rows"}`)
	got := FormatEvent(ev, 10)
	if !strings.Contains(got, "Extracting transactions") || !strings.Contains(got, "█████░░░░░  50%") || !strings.HasSuffix(got, "120 rows") {
		t.Errorf("FormatEvent() = %q", got)
	}
	if got := Bar(140, 4); !strings.HasPrefix(got, "████") {
		t.Errorf("Bar(140) = %q, want clamped", got)
	}
}

func TestBar_Track(t *testing.T) {
	tests := []struct {
		pct   float64
		width int
		want  string
	}{
		{0, 3, "░░░   0%"},
		{-5, 2, "░░   0%"},
		{50, 4, "██░░  50%"},
		{100, 2, "██ 100%"},
	}
	for _, tt := range tests {
		if got := Bar(tt.pct, tt.width); got != tt.want {
			t.Errorf("Bar(%v, %d) = %q, want %q", tt.pct, tt.width, got, tt.want)
		}
	}
	if got := ProgressTrackStyle.GetForeground(); got != Gray {
		t.Errorf("track foreground = %v, want %v", got, Gray)
	}
}

func TestQuietMode(t *testing.T) {
	buf := capture(t)
	SetQuietMode(true)
	PrintInfo("hidden")
	PrintSuccess("hidden")
	PrintError("shown %d", 1)
	PrintRaw(`{"ok":true}` + "\n")

	got := lines(buf)
	if len(got) != 2 || got[0] != "✗ shown 1" || got[1] != `{"ok":true}` {
		t.Errorf("quiet output = %q", got)
	}
}

func TestPrintJobResult(t *testing.T) {
	buf := capture(t)

	s := progress.NewState()
	s.Error = "Lookup service unavailable"
	PrintJobResult("Settlement", "", s, progress.ModeWorkflow)
	if !strings.Contains(buf.String(), "Settlement failed") || !strings.Contains(buf.String(), "Lookup service unavailable") {
		t.Errorf("failed box = %q", buf.String())
	}

	buf.Reset()
	s = progress.NewState()
	s.Complete = true
	PrintJobResult("Upload", "2 files parsed", s, progress.ModeUpload)
	if !strings.Contains(buf.String(), "Upload complete") || !strings.Contains(buf.String(), "2 files parsed") {
		t.Errorf("success box = %q", buf.String())
	}
}

func TestTable_Render(t *testing.T) {
	buf := capture(t)
	tbl := NewTable("SESSION", "FILES")
	tbl.SetMaxWidth(0, 8)
	tbl.AddRow("4f1c2a9e-0000", "3")
	tbl.AddRow("short")
	tbl.Render()

	got := lines(buf)
	if len(got) != 4 {
		t.Fatalf("got %d lines: %q", len(got), got)
	}
	if got[0] != "SESSION   FILES" {
		t.Errorf("header = %q", got[0])
	}
	if got[2] != "4f1c2... 3" && got[2] != "4f1c2...  3" {
		t.Errorf("row = %q", got[2])
	}
	if got[3] != "short" {
		t.Errorf("row = %q", got[3])
	}
}

func mustDecode(t *testing.T, frame string) progress.Event {
	t.Helper()
	ev, err := progress.Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode(%s) error = %v", frame, err)
	}
	return ev
}
