package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/jask/focusguard/internal/config"
	"github.com/jask/focusguard/internal/database/repository"
	"github.com/jask/focusguard/internal/filter"
	"github.com/jask/focusguard/internal/policy"
	"github.com/jask/focusguard/internal/service"
	"github.com/jask/focusguard/internal/session"
)

const (
	pageSize       = 5
	maxSuggestions = 5
)

// App ties together views.
type App struct {
	ctx      context.Context
	cfg      config.Config
	services Services
	machine  *session.Machine
	identity service.Identity
	log      *zap.Logger

	state appState
	modal modalState

	input  textinput.Model
	secret textinput.Model

	events      chan service.Event
	unsubscribe func()
	tickGen     int

	query       string
	reason      string
	results     []filter.Result
	resultPage  int
	suggestions []string
	historyCur  int
	sessions    []repository.FocusSession
	searching   bool
	status      string
}

type Services struct {
	Search      *service.SearchService
	Profiles    *service.ProfileService
	Sessions    *service.SessionRecorder
	Maintenance *service.MaintenanceService
}

type appState string

const (
	viewSession appState = "session"
	viewSearch  appState = "search"
	viewHistory appState = "history"
)

type modalState string

const (
	modalNone         modalState = ""
	modalPause        modalState = "pause"
	modalConfirmReset modalState = "confirmReset"
)

func New(ctx context.Context, cfg config.Config, identity service.Identity, m *session.Machine, services Services, log *zap.Logger) *App {
	if log == nil {
		log = zap.NewNop()
	}
	in := textinput.New()
	in.Placeholder = "what do you need for this session?"
	in.CharLimit = 256
	in.Width = 60
	in.Prompt = "search: "

	sec := textinput.New()
	sec.Placeholder = "pause secret"
	sec.CharLimit = 128
	sec.Width = 30
	sec.Prompt = "secret: "
	sec.EchoMode = textinput.EchoPassword
	sec.EchoCharacter = '*'

	a := &App{
		ctx:      ctx,
		cfg:      cfg,
		services: services,
		machine:  m,
		identity: identity,
		log:      log,
		state:    viewSession,
		input:    in,
		secret:   sec,
		events:   make(chan service.Event, 32),
	}
	if services.Search != nil {
		a.unsubscribe = services.Search.Subscribe(a.forward)
	}
	return a
}

// forward hands search events to the bubbletea loop.
func (a *App) forward(ev service.Event) {
	select {
	case a.events <- ev:
	case <-a.ctx.Done():
	}
}

// Close drops the search subscription.
func (a *App) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.waitEvent(), a.loadSessions())
}

func (a *App) waitEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-a.events:
			return eventMsg(ev)
		case <-a.ctx.Done():
			return nil
		}
	}
}

func (a *App) loadSessions() tea.Cmd {
	return func() tea.Msg {
		if a.services.Sessions == nil {
			return sessionsMsg(nil)
		}
		list, err := a.services.Sessions.History(a.ctx, a.identity.Name, 5)
		if err != nil {
			return errMsg{err}
		}
		return sessionsMsg(list)
	}
}

func (a *App) tickCmd() tea.Cmd {
	gen := a.tickGen
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return tickMsg{gen: gen} })
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.KeyMsg:
		if m.String() == "ctrl+c" {
			return a, a.quit()
		}
		if a.modal != modalNone {
			return a.handleModalKey(m)
		}
		switch a.state {
		case viewSearch:
			return a.handleSearchKey(m)
		case viewHistory:
			return a.handleHistoryKey(m)
		default:
			return a.handleSessionKey(m)
		}
	case tickMsg:
		if m.gen != a.tickGen {
			return a, nil
		}
		if a.machine.Snapshot().State != session.StateLocked {
			return a, nil
		}
		snap, err := a.machine.Tick()
		if err != nil {
			return a, nil
		}
		if snap.State == session.StateEnded {
			a.status = "session complete"
			return a, a.loadSessions()
		}
		return a, a.tickCmd()
	case pauseDoneMsg:
		switch {
		case m.err == nil:
			a.status = "paused; [r] resume"
		case errors.Is(m.err, session.ErrCredentialRejected):
			a.status = "incorrect secret; session stays locked"
		case errors.Is(m.err, session.ErrInvalidTransition):
			a.status = "session is no longer running"
		default:
			a.status = "error: " + m.err.Error()
		}
		return a, nil
	case eventMsg:
		a.handleEvent(service.Event(m))
		return a, a.waitEvent()
	case searchDoneMsg:
		a.searching = false
		if m.err != nil && (errors.Is(m.err, service.ErrInvalidInput) || errors.Is(m.err, service.ErrNotLocked)) {
			a.status = m.err.Error()
		}
		return a, nil
	case roleSavedMsg:
		a.identity = m.identity
		a.status = "role set to " + a.identity.Role.String()
		return a, nil
	case sessionsMsg:
		a.sessions = []repository.FocusSession(m)
	case statusMsg:
		a.status = string(m)
	case errMsg:
		a.status = "error: " + m.Error()
	}
	return a, nil
}

func (a *App) handleEvent(ev service.Event) {
	switch ev.Kind {
	case service.EventStarted:
		a.searching = true
		a.status = fmt.Sprintf("checking %q...", ev.Query)
	case service.EventClassified:
		a.searching = false
		a.query = ev.Query
		a.results = ev.Results
		a.resultPage = 0
		a.reason = ""
		if cur, ok := a.services.Search.Current(); ok && cur.Seq == ev.Seq {
			a.reason = cur.Reason
		}
		a.suggestions = nil
		a.status = fmt.Sprintf("%d results, %d blocked", len(ev.Results), countBlocked(ev.Results))
	case service.EventFailed:
		a.searching = false
		var rej *service.RejectionError
		switch {
		case errors.As(ev.Err, &rej):
			a.status = "rejected: " + rej.Reason
		case errors.Is(ev.Err, service.ErrMalformedOracleResponse):
			a.status = "the oracle sent an unusable answer; previous results kept"
		case errors.Is(ev.Err, service.ErrOracleUnavailable):
			a.status = "oracle unavailable; try again"
		default:
			a.status = "error: " + ev.Err.Error()
		}
	}
}

func (a *App) handleSessionKey(m tea.KeyMsg) (tea.Model, tea.Cmd) {
	snap := a.machine.Snapshot()
	switch m.String() {
	case "q":
		if snap.State == session.StateLocked || snap.State == session.StatePaused {
			a.status = "end the session with [e] before quitting"
			return a, nil
		}
		return a, a.quit()
	case "s":
		if !a.identity.Role.Valid() {
			a.status = "choose a role first: [1] researcher [2] student [3] teacher"
			return a, nil
		}
		minutes := a.cfg.Session.DefaultMinutes
		if minutes <= 0 {
			minutes = 25
		}
		if _, err := a.machine.Start(minutes * 60); err != nil {
			a.status = "cannot start: " + err.Error()
			return a, nil
		}
		a.tickGen++
		a.status = fmt.Sprintf("locked for %d minutes", minutes)
		return a, a.tickCmd()
	case "p":
		if snap.State != session.StateLocked || snap.PausePending {
			return a, nil
		}
		a.modal = modalPause
		a.secret.SetValue("")
		return a, a.secret.Focus()
	case "r":
		if _, err := a.machine.Resume(); err != nil {
			return a, nil
		}
		a.tickGen++
		a.status = "resumed"
		return a, a.tickCmd()
	case "e":
		if _, err := a.machine.End(); err != nil {
			return a, nil
		}
		a.tickGen++
		a.status = "session ended"
		return a, a.loadSessions()
	case "n":
		if _, err := a.machine.Reset(); err == nil {
			a.status = ""
		}
	case "x":
		if snap.State == session.StateIdle || snap.State == session.StateEnded {
			a.modal = modalConfirmReset
		}
	case "/", "tab":
		a.state = viewSearch
		return a, a.input.Focus()
	case "h":
		a.state = viewHistory
		a.historyCur = 0
	case "1", "2", "3":
		if snap.State != session.StateIdle && snap.State != session.StateEnded {
			a.status = "role can only change between sessions"
			return a, nil
		}
		role := policy.Roles()[int(m.String()[0]-'1')]
		return a, a.saveRoleCmd(role)
	}
	return a, nil
}

func (a *App) handleSearchKey(m tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.String() {
	case "esc":
		a.input.Blur()
		a.state = viewSession
		return a, nil
	case "enter":
		q := a.input.Value()
		a.searching = true
		return a, a.searchCmd(q)
	case "tab":
		if len(a.suggestions) > 0 {
			a.input.SetValue(a.suggestions[0])
			a.input.CursorEnd()
		}
		return a, nil
	case "pgdown", "ctrl+n":
		if (a.resultPage+1)*pageSize < len(a.results) {
			a.resultPage++
		}
		return a, nil
	case "pgup", "ctrl+p":
		if a.resultPage > 0 {
			a.resultPage--
		}
		return a, nil
	}
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(m)
	if a.services.Search != nil && a.services.Search.History != nil {
		a.suggestions = a.services.Search.History.Suggest(a.input.Value(), maxSuggestions)
	}
	return a, cmd
}

func (a *App) handleHistoryKey(m tea.KeyMsg) (tea.Model, tea.Cmd) {
	entries := a.historyEntries()
	switch m.String() {
	case "esc", "q":
		a.state = viewSession
	case "up", "k":
		if a.historyCur > 0 {
			a.historyCur--
		}
	case "down", "j":
		if a.historyCur < len(entries)-1 {
			a.historyCur++
		}
	case "enter":
		if len(entries) == 0 {
			return a, nil
		}
		q := entries[a.historyCur]
		a.input.SetValue(q)
		a.state = viewSearch
		a.searching = true
		return a, tea.Batch(a.input.Focus(), a.searchCmd(q))
	case "x", "delete":
		if len(entries) == 0 {
			return a, nil
		}
		q := entries[a.historyCur]
		if a.historyCur > 0 && a.historyCur == len(entries)-1 {
			a.historyCur--
		}
		return a, a.historyCmd(func(l *service.Ledger) error { return l.Delete(a.ctx, q) }, "removed from history")
	case "X":
		a.historyCur = 0
		return a, a.historyCmd(func(l *service.Ledger) error { return l.Clear(a.ctx) }, "history cleared")
	}
	return a, nil
}

func (a *App) handleModalKey(m tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.modal {
	case modalPause:
		switch m.String() {
		case "esc":
			a.modal = modalNone
			a.secret.Blur()
			return a, nil
		case "enter":
			secret := a.secret.Value()
			a.secret.SetValue("")
			a.secret.Blur()
			a.modal = modalNone
			a.status = "verifying..."
			return a, a.pauseCmd(secret)
		}
		var cmd tea.Cmd
		a.secret, cmd = a.secret.Update(m)
		return a, cmd
	case modalConfirmReset:
		switch m.String() {
		case "y":
			a.modal = modalNone
			return a, a.resetCmd()
		case "n", "esc":
			a.modal = modalNone
		}
	}
	return a, nil
}

// quit ends a running session so it lands in the session log.
func (a *App) quit() tea.Cmd {
	if st := a.machine.Snapshot().State; st == session.StateLocked || st == session.StatePaused {
		_, _ = a.machine.End()
	}
	a.Close()
	return tea.Quit
}

// commands
func (a *App) searchCmd(q string) tea.Cmd {
	return func() tea.Msg {
		if a.services.Search == nil {
			return errMsg{errors.New("search not configured")}
		}
		_, err := a.services.Search.Search(a.ctx, q, a.identity.Role)
		return searchDoneMsg{query: q, err: err}
	}
}

func (a *App) pauseCmd(secret string) tea.Cmd {
	return func() tea.Msg {
		snap, err := a.machine.RequestPause(a.ctx, secret)
		if err != nil {
			a.log.Info("pause refused", zap.Error(err))
		}
		return pauseDoneMsg{snap: snap, err: err}
	}
}

func (a *App) saveRoleCmd(role policy.Role) tea.Cmd {
	return func() tea.Msg {
		if a.services.Profiles == nil {
			id := a.identity
			id.Role = role
			return roleSavedMsg{identity: id}
		}
		id, err := a.services.Profiles.Save(a.ctx, a.identity.Name, a.identity.DisplayName, role)
		if err != nil {
			return errMsg{err}
		}
		return roleSavedMsg{identity: id}
	}
}

func (a *App) historyCmd(fn func(*service.Ledger) error, done string) tea.Cmd {
	return func() tea.Msg {
		if a.services.Search == nil || a.services.Search.History == nil {
			return errMsg{errors.New("history not configured")}
		}
		if err := fn(a.services.Search.History); err != nil {
			return errMsg{err}
		}
		return statusMsg(done)
	}
}

func (a *App) resetCmd() tea.Cmd {
	return tea.Batch(
		func() tea.Msg {
			if a.services.Maintenance == nil {
				return errMsg{errors.New("maintenance not configured")}
			}
			if err := a.services.Maintenance.Reset(a.ctx); err != nil {
				return errMsg{err}
			}
			if a.services.Search != nil && a.services.Search.History != nil {
				if err := a.services.Search.History.Load(a.ctx); err != nil {
					return errMsg{err}
				}
			}
			return statusMsg("all data cleared")
		},
		a.loadSessions(),
	)
}

func (a *App) historyEntries() []string {
	if a.services.Search == nil || a.services.Search.History == nil {
		return nil
	}
	return a.services.Search.History.Entries()
}

type tickMsg struct{ gen int }

type eventMsg service.Event

type searchDoneMsg struct {
	query string
	err   error
}

type pauseDoneMsg struct {
	snap session.Snapshot
	err  error
}

type roleSavedMsg struct{ identity service.Identity }

type sessionsMsg []repository.FocusSession

type statusMsg string

type errMsg struct{ error }

func countBlocked(rs []filter.Result) int {
	n := 0
	for _, r := range rs {
		if r.Blocked {
			n++
		}
	}
	return n
}
