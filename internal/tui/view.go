package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jask/focusguard/internal/session"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
	timerStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1).Border(lipgloss.RoundedBorder())
	mutedStyle   = lipgloss.NewStyle().Faint(true)
	trustedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	blockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Strikethrough(true)
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func (a *App) View() string {
	var body string
	switch a.state {
	case viewSearch:
		body = a.renderSearch()
	case viewHistory:
		body = a.renderHistory()
	default:
		body = a.renderSession()
	}
	if a.modal != modalNone {
		body += "\n\n" + a.renderModal()
	}
	if a.status != "" {
		body += "\n" + statusStyle.Render(a.status)
	}
	return body
}

func (a *App) renderSession() string {
	snap := a.machine.Snapshot()
	who := a.identity.Name
	if a.identity.DisplayName != "" {
		who = a.identity.DisplayName
	}
	out := titleStyle.Render("Focus session") + "\n"
	out += fmt.Sprintf("%s  role: %s\n\n", who, a.identity.Role)

	clock := formatClock(snap.Remaining)
	if snap.State == session.StateIdle {
		clock = formatClock(a.cfg.Session.DefaultMinutes * 60)
	}
	state := string(snap.State)
	if snap.PausePending {
		state += " (verifying pause)"
	}
	out += timerStyle.Render(clock) + "  " + state + "\n\n"

	if len(a.sessions) > 0 {
		out += "Recent sessions\n"
		for _, s := range a.sessions {
			out += mutedStyle.Render(fmt.Sprintf("  %s  %s of %s  %s",
				s.StartedAt.Local().Format("Jan 02 15:04"), formatClock(s.CompletedSeconds), formatClock(s.TotalSeconds), s.EndReason)) + "\n"
		}
		out += "\n"
	}

	switch snap.State {
	case session.StateIdle:
		out += "[s] Start  [1/2/3] Role  [h] History  [x] Reset data  [q] Quit"
	case session.StateLocked:
		out += "[/] Search  [p] Pause  [e] End  [h] History"
	case session.StatePaused:
		out += "[r] Resume  [e] End  [h] History"
	case session.StateEnded:
		out += "[n] New session  [1/2/3] Role  [h] History  [x] Reset data  [q] Quit"
	}
	return out
}

func (a *App) renderSearch() string {
	out := titleStyle.Render("Search") + "  " + mutedStyle.Render(formatClock(a.machine.Snapshot().Remaining)) + "\n"
	out += a.input.View() + "\n"
	if len(a.suggestions) > 0 && a.input.Value() != "" {
		out += mutedStyle.Render("recent: "+strings.Join(a.suggestions, " | ")) + "\n"
	}
	out += "\n"

	if a.query != "" {
		out += fmt.Sprintf("Results for %q", a.query)
		if a.reason != "" {
			out += ": " + a.reason
		}
		out += "\n"
	}
	start := a.resultPage * pageSize
	end := start + pageSize
	if end > len(a.results) {
		end = len(a.results)
	}
	for i := start; i < end; i++ {
		r := a.results[i]
		switch {
		case r.Blocked:
			out += blockedStyle.Render(fmt.Sprintf("%d. %s", i+1, r.Title)) + "  " + mutedStyle.Render(r.BlockReason) + "\n"
		case r.Trusted:
			out += trustedStyle.Render(fmt.Sprintf("%d. %s [trusted]", i+1, r.Title)) + "\n   " + r.URL + "\n"
		default:
			out += fmt.Sprintf("%d. %s\n   %s\n", i+1, r.Title, r.URL)
		}
		if !r.Blocked && r.Snippet != "" {
			out += mutedStyle.Render("   "+r.Snippet) + "\n"
		}
	}
	if len(a.results) > pageSize {
		pages := (len(a.results) + pageSize - 1) / pageSize
		out += mutedStyle.Render(fmt.Sprintf("page %d/%d", a.resultPage+1, pages)) + "\n"
	}
	out += "[enter] Search  [tab] Use suggestion  [pgup/pgdn] Page  [esc] Back"
	return out
}

func (a *App) renderHistory() string {
	out := titleStyle.Render("Search history") + "\n"
	entries := a.historyEntries()
	if len(entries) == 0 {
		out += "  (nothing searched yet)\n"
	}
	for i, q := range entries {
		marker := " "
		if i == a.historyCur {
			marker = "▶"
		}
		out += fmt.Sprintf("%s %s\n", marker, q)
	}
	out += "[enter] Search again  [x] Remove  [X] Clear all  [esc] Back"
	return out
}

func (a *App) renderModal() string {
	switch a.modal {
	case modalPause:
		return titleStyle.Render("Pause session") + "\n" + a.secret.View() + "\n[enter] Verify  [esc] Cancel"
	case modalConfirmReset:
		return titleStyle.Render("Reset all data?") + "\nProfiles, history and the session log will be deleted.\n[y] Yes  [n] No"
	default:
		return ""
	}
}

func formatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
