package tui

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/jianglan89/rtp-llm/internal/procmgr"
)

const (
	tableTitle          = "Processes"
	logsTitle           = "Events"
	filterPageName      = "filter"
	defaultLogRetention = 500
	refreshInterval     = 500 * time.Millisecond
)

// Source is the supervisor the dashboard observes and controls.
type Source interface {
	Snapshot() procmgr.Status
	GracefulShutdown()
	Done() <-chan struct{}
}

// Option configures UI behaviour.
type Option func(*UI)

// WithEvents sets the channel the dashboard reads supervisor events from.
func WithEvents(events <-chan procmgr.Event) Option {
	return func(u *UI) {
		u.events = events
	}
}

// WithMaxLogs sets the number of lines kept in the event pane.
func WithMaxLogs(n int) Option {
	return func(u *UI) {
		if n > 0 {
			u.maxLogs = n
		}
	}
}

// UI is a tview dashboard listing supervised processes above an event log.
type UI struct {
	app    *tview.Application
	pages  *tview.Pages
	header *tview.TextView
	table  *tview.Table
	logs   *tview.TextView
	events <-chan procmgr.Event
	source Source

	status    procmgr.Status
	processes map[string]*processState
	order     []string

	visible     []string
	filter      string
	filterExpr  *regexp.Regexp
	logsFocused bool
	maxLogs     int

	mu sync.RWMutex

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

type processState struct {
	name      string
	pid       int
	alive     bool
	lastEvent procmgr.EventType
	lastSeen  time.Time
	message   string
}

// New constructs a UI. Log output can be routed to LogWriter before the
// supervisor exists; Run attaches the supervisor.
func New(opts ...Option) *UI {
	app := tview.NewApplication()
	header := tview.NewTextView().SetDynamicColors(true)
	table := tview.NewTable().SetFixed(1, 1).SetSelectable(true, false)
	table.SetBorder(true).SetTitle(tableTitle)

	logs := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	logs.SetBorder(true).SetTitle(logsTitle)
	logs.SetChangedFunc(func() {
		app.Draw()
	})

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, 1, 0, false).
		AddItem(table, 0, 2, true).
		AddItem(logs, 0, 3, false)

	pages := tview.NewPages().AddPage("main", flex, true, true)

	ui := &UI{
		app:       app,
		pages:     pages,
		header:    header,
		table:     table,
		logs:      logs,
		processes: make(map[string]*processState),
		maxLogs:   defaultLogRetention,
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(ui)
	}
	logs.SetMaxLines(ui.maxLogs)

	app.SetRoot(pages, true)
	app.SetInputCapture(ui.handleKey)

	ui.mu.Lock()
	ui.refreshLocked()
	ui.mu.Unlock()

	return ui
}

// LogWriter returns a writer that renders ANSI-coloured log output in the
// event pane.
func (u *UI) LogWriter() io.Writer {
	return tview.ANSIWriter(u.logs)
}

// Done returns a channel that is closed when the UI stops.
func (u *UI) Done() <-chan struct{} {
	return u.done
}

// Run attaches the supervisor and runs the tview application until the
// supervisor is done, Stop is invoked or the provided context is cancelled.
func (u *UI) Run(ctx context.Context, source Source) error {
	u.attach(source)
	ctx, cancel := context.WithCancel(ctx)

	u.cancelMu.Lock()
	u.cancel = cancel
	u.cancelMu.Unlock()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.consumeEvents(ctx)
	}()

	go func() {
		select {
		case <-ctx.Done():
		case <-u.source.Done():
		}
		u.Stop()
	}()

	err := u.app.Run()

	u.cancelMu.Lock()
	cancel = u.cancel
	u.cancel = nil
	u.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}

	u.wg.Wait()
	u.Stop()

	return err
}

func (u *UI) attach(source Source) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.source = source
	u.syncStatusLocked(source.Snapshot())
	u.refreshLocked()
}

func (u *UI) currentSource() Source {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.source
}

// Stop terminates the application loop and releases resources.
func (u *UI) Stop() {
	u.stopOnce.Do(func() {
		u.cancelMu.Lock()
		cancel := u.cancel
		u.cancel = nil
		u.cancelMu.Unlock()
		if cancel != nil {
			cancel()
		}
		u.app.Stop()
		close(u.done)
	})
}

func (u *UI) consumeEvents(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-u.events:
			u.applyEvent(evt)
		case <-ticker.C:
			st := u.currentSource().Snapshot()
			u.mu.Lock()
			u.syncStatusLocked(st)
			u.mu.Unlock()
			u.queueRefresh()
		}
	}
}

func (u *UI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyCtrlC:
		u.requestShutdown()
		return nil
	case tcell.KeyEnter:
		u.toggleFocus()
		return nil
	case tcell.KeyUp, tcell.KeyDown:
		return event
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			u.requestShutdown()
			return nil
		case '/':
			u.showFilterPrompt()
			return nil
		}
	}
	return event
}

// requestShutdown asks the supervisor to stop. The dashboard stays open until
// every process has been joined.
func (u *UI) requestShutdown() {
	source := u.currentSource()
	if source == nil {
		return
	}
	source.GracefulShutdown()
	fmt.Fprintf(u.logs, "[yellow]%s shutdown requested from dashboard[-]\n", time.Now().Format(time.TimeOnly))
}

func (u *UI) toggleFocus() {
	if u.logsFocused {
		u.app.SetFocus(u.table)
	} else {
		u.app.SetFocus(u.logs)
	}
	u.logsFocused = !u.logsFocused
}

func (u *UI) showFilterPrompt() {
	u.mu.RLock()
	current := u.filter
	u.mu.RUnlock()

	input := tview.NewInputField().
		SetLabel("Regex filter: ").
		SetText(current).
		SetFieldWidth(40)

	form := tview.NewForm().
		AddFormItem(input).
		AddButton("Apply", func() {
			u.applyFilter(input.GetText())
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		}).
		AddButton("Cancel", func() {
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		})

	form.SetBorder(true).SetTitle("Filter Processes")

	grid := tview.NewGrid().
		SetColumns(0, 60, 0).
		SetRows(0, 7, 0).
		AddItem(form, 1, 1, 1, 1, 0, 0, true)

	u.pages.AddPage(filterPageName, grid, true, true)
	u.app.SetFocus(input)
}

func (u *UI) applyFilter(expr string) {
	if err := u.setFilter(expr); err != nil {
		u.showErrorModal(fmt.Sprintf("Invalid filter: %v", err))
		return
	}
	u.queueRefresh()
}

func (u *UI) setFilter(expr string) error {
	expr = strings.TrimSpace(expr)
	var re *regexp.Regexp
	if expr != "" {
		var err error
		if re, err = regexp.Compile(expr); err != nil {
			return err
		}
	}
	u.mu.Lock()
	u.filter = expr
	u.filterExpr = re
	u.mu.Unlock()
	return nil
}

func (u *UI) showErrorModal(message string) {
	modal := tview.NewModal().
		SetText(message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		})

	u.pages.RemovePage(filterPageName)
	u.pages.AddPage(filterPageName, modal, true, true)
}

func (u *UI) applyEvent(evt procmgr.Event) {
	u.mu.Lock()
	u.recordEventLocked(evt)
	u.mu.Unlock()
	fmt.Fprintln(u.logs, formatEventLine(evt))
	u.queueRefresh()
}

func (u *UI) recordEventLocked(evt procmgr.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Type == procmgr.EventTypeStateChanged {
		u.status.State = evt.State
		return
	}
	if evt.Type == procmgr.EventTypeShutdownRequested {
		u.status.ShutdownRequested = true
		return
	}
	if evt.Process == "" {
		return
	}
	state := u.ensureProcessLocked(evt.Process)
	if evt.Pid != 0 {
		state.pid = evt.Pid
	}
	state.lastEvent = evt.Type
	state.lastSeen = evt.Timestamp
	state.message = formatEventMessage(evt)
	if evt.Type == procmgr.EventTypeExited {
		state.alive = false
	}
}

func (u *UI) syncStatusLocked(st procmgr.Status) {
	u.status = st
	for _, p := range st.Processes {
		state := u.ensureProcessLocked(p.Name)
		state.pid = p.Pid
		state.alive = p.Alive
	}
}

func (u *UI) ensureProcessLocked(name string) *processState {
	state := u.processes[name]
	if state == nil {
		state = &processState{name: name, alive: true}
		u.processes[name] = state
		u.order = append(u.order, name)
	}
	return state
}

func (u *UI) queueRefresh() {
	u.app.QueueUpdateDraw(func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.refreshLocked()
	})
}

func (u *UI) refreshLocked() {
	u.header.SetText(formatHeader(u.status))
	u.table.Clear()

	headers := []string{"PROCESS", "PID", "STATUS", "LAST EVENT", "SINCE", "MESSAGE"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold)
		u.table.SetCell(0, col, cell)
	}

	u.visible = u.visible[:0]
	for _, name := range u.order {
		if u.filterExpr != nil && !u.filterExpr.MatchString(name) {
			continue
		}
		u.visible = append(u.visible, name)
	}

	if u.filter != "" {
		u.table.SetTitle(fmt.Sprintf("%s /%s/", tableTitle, u.filter))
	} else {
		u.table.SetTitle(tableTitle)
	}

	for row, name := range u.visible {
		for col, value := range processRow(u.processes[name], time.Now()) {
			cell := tview.NewTableCell(value)
			if col == 0 {
				cell = cell.SetReference(name)
			}
			if col == 2 && value == "exited" {
				cell = cell.SetTextColor(tcell.ColorGray)
			}
			u.table.SetCell(row+1, col, cell)
		}
	}
}

func processRow(state *processState, now time.Time) []string {
	pid := "-"
	if state.pid > 0 {
		pid = fmt.Sprintf("%d", state.pid)
	}
	status := "running"
	if !state.alive {
		status = "exited"
	}
	last := "-"
	since := "-"
	if state.lastEvent != "" {
		last = string(state.lastEvent)
		since = now.Sub(state.lastSeen).Truncate(time.Second).String()
	}
	message := state.message
	if len(message) > 80 {
		message = message[:77] + "..."
	}
	return []string{state.name, pid, status, last, since, message}
}

func formatHeader(st procmgr.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[::b]%s[::-] state=%s alive=%d/%d", headerName(st.Topology), st.State, st.AliveCount(), len(st.Processes))
	if st.ShutdownRequested {
		b.WriteString(" [yellow]shutdown requested[-]")
	}
	if st.Reason != "" && st.Reason != procmgr.ReasonNone {
		fmt.Fprintf(&b, " reason=%s", st.Reason)
	}
	b.WriteString("  (q: shutdown, /: filter, enter: focus)")
	return b.String()
}

func headerName(topology string) string {
	if topology == "" {
		return "rtpsup"
	}
	return topology
}

func formatEventLine(evt procmgr.Event) string {
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	color := "white"
	switch evt.Type {
	case procmgr.EventTypeKill, procmgr.EventTypeJoinFailed:
		color = "red"
	case procmgr.EventTypeTerminate, procmgr.EventTypeShutdownRequested:
		color = "yellow"
	case procmgr.EventTypeExited:
		color = "gray"
	}
	subject := "supervisor"
	if evt.Process != "" {
		subject = evt.Process
	}
	return fmt.Sprintf("[%s]%s %-18s %s: %s[-]", color, ts.Format(time.TimeOnly), evt.Type, subject, tview.Escape(formatEventMessage(evt)))
}

func formatEventMessage(evt procmgr.Event) string {
	msg := evt.Message
	if evt.Err != nil {
		if msg != "" {
			msg = fmt.Sprintf("%s: %v", msg, evt.Err)
		} else {
			msg = evt.Err.Error()
		}
	}
	if evt.Reason != "" {
		if msg != "" {
			msg = fmt.Sprintf("%s (%s)", msg, evt.Reason)
		} else {
			msg = evt.Reason
		}
	}
	return msg
}
