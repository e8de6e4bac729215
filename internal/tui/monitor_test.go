package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/finops/cli/internal/progress"
)

func testModel(mode progress.Mode, job Job) monitorModel {
	ctx, cancel := context.WithCancel(context.Background())
	m := newMonitorModel(ctx, cancel, "Settlement", mode, func(progress.State) string { return "4 rows updated" }, job)
	m.width = 80
	return m
}

func workflowState(current string, completed ...string) progress.State {
	s := progress.NewState()
	s.Running = true
	s.CurrentStep = current
	s.CompletedSteps = completed
	return s
}

func TestMonitor_WorkflowSnapshots(t *testing.T) {
	m := testModel(progress.ModeWorkflow, nil)

	next, cmd := m.Update(SnapshotMsg{State: workflowState("settle", "lookup")})
	if cmd != nil {
		t.Fatalf("expected the nil NextCmd to be returned, got %v", cmd)
	}
	m = next.(monitorModel)

	view := m.View()
	if !strings.Contains(view, "✓  Looking up counterparties") {
		t.Errorf("view is missing the completed step:\n%s", view)
	}
	if !strings.Contains(view, "Settling entries") {
		t.Errorf("view is missing the current step:\n%s", view)
	}
	if !strings.Contains(view, "ctrl+c") {
		t.Errorf("view is missing the cancel hint:\n%s", view)
	}
}

func TestMonitor_DoneQuits(t *testing.T) {
	m := testModel(progress.ModeWorkflow, nil)

	final := workflowState(progress.StepDone, "lookup", "settle")
	final.Running = false
	final.Result = []byte(`{"rows_updated":4}`)

	next, cmd := m.Update(DoneMsg{State: final})
	if cmd == nil {
		t.Fatal("expected tea.Quit after DoneMsg")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected DoneMsg to quit the program")
	}
	m = next.(monitorModel)

	view := m.View()
	if !strings.Contains(view, "Settlement finished") || !strings.Contains(view, "4 rows updated") {
		t.Errorf("view is missing the result:\n%s", view)
	}
	if strings.Contains(view, "ctrl+c") {
		t.Errorf("finished view still shows the cancel hint:\n%s", view)
	}

	// Snapshots delivered after completion are ignored.
	next, _ = m.Update(SnapshotMsg{State: workflowState("lookup")})
	if got := next.(monitorModel).state.CurrentStep; got != progress.StepDone {
		t.Errorf("late snapshot applied: current step %q", got)
	}
}

func TestMonitor_FailureView(t *testing.T) {
	m := testModel(progress.ModeWorkflow, nil)
	s := progress.NewState()
	s.Error = "Lookup service unavailable"

	next, _ := m.Update(DoneMsg{State: s, Err: errors.New("HTTP 502")})
	view := next.(monitorModel).View()
	if !strings.Contains(view, "Settlement failed") || !strings.Contains(view, "Lookup service unavailable") {
		t.Errorf("view is missing the failure:\n%s", view)
	}
}

func TestMonitor_StreamLostNotice(t *testing.T) {
	m := testModel(progress.ModeWorkflow, nil)

	next, _ := m.Update(SnapshotMsg{State: workflowState("lookup")})
	dropped := workflowState("lookup")
	dropped.Running = false
	next, _ = next.(monitorModel).Update(SnapshotMsg{State: dropped})

	if view := next.(monitorModel).View(); !strings.Contains(view, "Progress stream lost") {
		t.Errorf("view is missing the stream-lost notice:\n%s", view)
	}
}

func TestMonitor_UploadActivityTail(t *testing.T) {
	m := testModel(progress.ModeUpload, nil)

	s := progress.NewState()
	s.Running = true
	for i := 0; i < maxActivityLines+3; i++ {
		s.Steps = append(s.Steps, progress.NewEvent(progress.EventStepStart, "parse", "Parsing file"))
	}
	next, _ := m.Update(SnapshotMsg{State: s})

	view := next.(monitorModel).View()
	if !strings.Contains(view, "3 earlier entries") {
		t.Errorf("view is missing the truncation line:\n%s", view)
	}
	if n := strings.Count(view, "Parsing file"); n != maxActivityLines {
		t.Errorf("rendered %d entries, want %d", n, maxActivityLines)
	}
}

func TestMonitor_CtrlCCancelsJob(t *testing.T) {
	m := testModel(progress.ModeWorkflow, nil)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd != nil {
		t.Fatal("ctrl+c before completion must wait for the job, not quit")
	}
	m = next.(monitorModel)
	if !m.cancelling {
		t.Fatal("expected cancelling to be set")
	}
	if m.ctx.Err() == nil {
		t.Fatal("expected the job context to be cancelled")
	}
	if !strings.Contains(m.View(), "Cancelling") {
		t.Errorf("view is missing the cancelling notice")
	}
}

func TestStartJobCmd_StreamsThenFinishes(t *testing.T) {
	job := func(ctx context.Context, observe func(progress.State)) (progress.State, error) {
		observe(workflowState("lookup"))
		final := workflowState(progress.StepDone, "lookup")
		final.Result = []byte(`{}`)
		return final, nil
	}

	msg := startJobCmd(context.Background(), job)()
	var sawSnapshot bool
	for {
		snap, ok := msg.(SnapshotMsg)
		if !ok {
			break
		}
		sawSnapshot = true
		if snap.NextCmd == nil {
			t.Fatal("snapshot without NextCmd")
		}
		msg = snap.NextCmd()
	}
	done, ok := msg.(DoneMsg)
	if !ok {
		t.Fatalf("unexpected message %T", msg)
	}
	if done.Err != nil || done.State.Result == nil {
		t.Fatalf("DoneMsg = %+v", done)
	}
	if !sawSnapshot {
		t.Error("expected the snapshot before DoneMsg")
	}
}
