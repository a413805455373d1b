package tui

import (
	"sync"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/jianglan89/rtp-llm/internal/procmgr"
)

type fakeSource struct {
	mu       sync.Mutex
	status   procmgr.Status
	requests int
	done     chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		status: procmgr.Status{
			Topology: "serving",
			State:    procmgr.StateMonitoring,
			Processes: []procmgr.ProcessStatus{
				{Name: "backend", Pid: 10, Alive: true},
				{Name: "frontend-0", Pid: 11, Alive: true},
				{Name: "frontend-1", Pid: 12, Alive: true},
			},
		},
		done: make(chan struct{}),
	}
}

func (s *fakeSource) Snapshot() procmgr.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeSource) GracefulShutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	s.status.ShutdownRequested = true
}

func (s *fakeSource) Done() <-chan struct{} { return s.done }

func (s *fakeSource) shutdownRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func newTestUI(t *testing.T, src *fakeSource) *UI {
	t.Helper()
	ui := New()
	ui.attach(src)
	return ui
}

func TestNewPopulatesTableFromSnapshot(t *testing.T) {
	ui := newTestUI(t, newFakeSource())

	if got := ui.table.GetRowCount(); got != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", got)
	}
	if got := ui.table.GetCell(1, 0).Text; got != "backend" {
		t.Fatalf("expected backend first, got %q", got)
	}
	if got := ui.table.GetCell(2, 1).Text; got != "11" {
		t.Fatalf("unexpected pid cell %q", got)
	}
}

func TestQuitKeysRequestShutdownWithoutStopping(t *testing.T) {
	src := newFakeSource()
	ui := newTestUI(t, src)

	q := tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)
	if res := ui.handleKey(q); res != nil {
		t.Fatal("expected q to be consumed")
	}
	ctrlC := tcell.NewEventKey(tcell.KeyCtrlC, 0, tcell.ModCtrl)
	if res := ui.handleKey(ctrlC); res != nil {
		t.Fatal("expected Ctrl-C to be consumed")
	}

	if got := src.shutdownRequests(); got != 2 {
		t.Fatalf("expected 2 shutdown requests, got %d", got)
	}
	select {
	case <-ui.Done():
		t.Fatal("the dashboard must stay open until the supervisor is done")
	default:
	}
}

func TestQuitBeforeAttachIsIgnored(t *testing.T) {
	ui := New()
	q := tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)
	if res := ui.handleKey(q); res != nil {
		t.Fatal("expected q to be consumed")
	}
}

func TestFilterShortcutOpensPrompt(t *testing.T) {
	ui := newTestUI(t, newFakeSource())
	ui.app.SetFocus(ui.table)

	slash := tcell.NewEventKey(tcell.KeyRune, '/', tcell.ModNone)
	if res := ui.handleKey(slash); res != nil {
		t.Fatalf("expected filter shortcut to be consumed")
	}
	if _, ok := ui.app.GetFocus().(*tview.InputField); !ok {
		t.Fatalf("expected filter input to have focus, got %T", ui.app.GetFocus())
	}

	runeEvent := tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)
	if res := ui.handleKey(runeEvent); res != runeEvent {
		t.Fatalf("expected unbound rune to pass through")
	}
}

func TestToggleFocus(t *testing.T) {
	ui := newTestUI(t, newFakeSource())
	ui.app.SetFocus(ui.table)

	ui.toggleFocus()
	if ui.app.GetFocus() != ui.logs || !ui.logsFocused {
		t.Fatalf("expected logs to have focus after toggle")
	}
	ui.toggleFocus()
	if ui.app.GetFocus() != ui.table || ui.logsFocused {
		t.Fatalf("expected table to have focus after second toggle")
	}
}

func TestFilterHidesRows(t *testing.T) {
	ui := newTestUI(t, newFakeSource())

	if err := ui.setFilter("^front"); err != nil {
		t.Fatalf("setFilter: %v", err)
	}
	ui.mu.Lock()
	ui.refreshLocked()
	ui.mu.Unlock()

	if got := ui.table.GetRowCount(); got != 3 {
		t.Fatalf("expected header plus 2 frontend rows, got %d", got)
	}
	if err := ui.setFilter("("); err == nil {
		t.Fatal("expected invalid regex to be rejected")
	}
}

func TestRecordEventUpdatesProcessState(t *testing.T) {
	ui := newTestUI(t, newFakeSource())
	ts := time.Now()

	ui.mu.Lock()
	ui.recordEventLocked(procmgr.Event{Timestamp: ts, Type: procmgr.EventTypeStateChanged, State: procmgr.StateTerminating})
	ui.recordEventLocked(procmgr.Event{Timestamp: ts, Type: procmgr.EventTypeExited, Process: "frontend-1", Pid: 12, Message: "process exited"})
	ui.recordEventLocked(procmgr.Event{Timestamp: ts, Type: procmgr.EventTypeTerminate, Process: "backend", Pid: 10, Message: "terminate sent"})
	ui.recordEventLocked(procmgr.Event{Timestamp: ts, Type: procmgr.EventTypeExited, Process: "late", Pid: 99})
	state := ui.status.State
	frontend := *ui.processes["frontend-1"]
	backend := *ui.processes["backend"]
	order := append([]string(nil), ui.order...)
	ui.mu.Unlock()

	if state != procmgr.StateTerminating {
		t.Fatalf("state not updated: %v", state)
	}
	if frontend.alive || frontend.lastEvent != procmgr.EventTypeExited {
		t.Fatalf("unexpected frontend state %+v", frontend)
	}
	if !backend.alive || backend.message != "terminate sent" {
		t.Fatalf("unexpected backend state %+v", backend)
	}
	if len(order) != 4 || order[3] != "late" {
		t.Fatalf("unexpected order %v", order)
	}
}
