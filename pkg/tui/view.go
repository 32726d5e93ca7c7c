package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dotsetup/dotsetup/pkg/engine"
	"github.com/dotsetup/dotsetup/pkg/session"
)

// styleFunc is a single-string styling function.
type styleFunc func(string) string

// sf wraps a lipgloss.Style into a styleFunc.
func sf(s lipgloss.Style) styleFunc {
	return func(str string) string { return s.Render(str) }
}

func renderView(m Model) string {
	var b strings.Builder

	state := m.session.State()
	renderHeader(&b, m, state)

	switch s := state.(type) {
	case session.Selection:
		renderSelection(&b, m)
	case session.Confirm:
		renderConfirm(&b, s)
	case session.GettingPassword:
		renderPassword(&b, m, s)
	case session.Running:
		renderSteps(&b, m)
		renderLog(&b, m, "Installation Log")
	case session.Done:
		renderResult(&b, s)
		renderSteps(&b, m)
		renderLog(&b, m, "Logs")
	}

	if m.Err != nil {
		b.WriteString(failedStyle.Render("  Error: " + m.Err.Error()))
		b.WriteString("\n")
	}
	renderFooter(&b, state, m.Cancelling)

	return b.String()
}

func renderHeader(b *strings.Builder, m Model, state session.State) {
	b.WriteString(titleStyle.Render("dot-setup"))
	if m.ConfigPath != "" {
		b.WriteString(dimStyle.Render("  " + m.ConfigPath))
	}

	status := " "
	switch s := state.(type) {
	case session.Running:
		status += m.spinner.View() + warningStyle.Render("Installing")
	case session.Done:
		text, style := runStatusLabel(s.Result.Status)
		status += style(text)
	}
	b.WriteString(status)
	b.WriteString("\n")
}

func renderSelection(b *strings.Builder, m Model) {
	b.WriteString(sectionStyle.Render("  Select tasks"))
	b.WriteString("\n")

	cursor := m.session.Cursor()
	for i, t := range m.session.Tasks() {
		pointer := "  "
		name := t.Name
		if i == cursor {
			pointer = cursorStyle.Render("> ")
			name = cursorStyle.Render(name)
		}
		box := unselectedBox
		if t.Enabled {
			box = readyStyle.Render(selectedBox)
		}
		suffix := ""
		if t.RequiresPrivilege {
			suffix = dimStyle.Render(" (sudo)")
		}
		fmt.Fprintf(b, "  %s%s %s%s\n", pointer, box, name, suffix)
	}
}

func renderConfirm(b *strings.Builder, s session.Confirm) {
	b.WriteString(sectionStyle.Render(fmt.Sprintf("  Run %d task(s)?", len(s.Tasks))))
	b.WriteString("\n")

	privileged := false
	for _, t := range s.Tasks {
		fmt.Fprintf(b, "    %s %s\n", pendingMark, t.Name)
		privileged = privileged || t.RequiresPrivilege
	}
	if privileged {
		b.WriteString(warningStyle.Render("  Some tasks run with sudo."))
		b.WriteString("\n")
	}
}

func renderPassword(b *strings.Builder, m Model, s session.GettingPassword) {
	b.WriteString(sectionStyle.Render("  Enter sudo password:"))
	b.WriteString("\n")
	b.WriteString("  " + m.password.View())
	b.WriteString("\n")
	if s.Retry {
		b.WriteString(failedStyle.Render("  Password cannot be empty"))
		b.WriteString("\n")
	}
}

func renderSteps(b *strings.Builder, m Model) {
	if len(m.Steps) == 0 {
		return
	}
	b.WriteString(sectionStyle.Render("  Steps"))
	b.WriteString("\n")
	for _, step := range m.Steps {
		icon, style := stepIcon(step.Status)
		fmt.Fprintf(b, "    %s %s\n", style(icon), step.Name)
	}
}

func renderLog(b *strings.Builder, m Model, title string) {
	b.WriteString(sectionStyle.Render("  " + title))
	b.WriteString("\n")
	b.WriteString(logStyle.Render(m.logView.View()))
	b.WriteString("\n")
}

func renderResult(b *strings.Builder, s session.Done) {
	r := s.Result
	if r.RunID == "" {
		b.WriteString(dimStyle.Render("  No run yet"))
		b.WriteString("\n")
		return
	}
	fmt.Fprintf(b, "  %d completed, %d failed, %d pending in %s\n",
		r.Completed, r.Failed, r.Pending, formatDuration(r.Duration))
}

func renderFooter(b *strings.Builder, state session.State, cancelling bool) {
	var help string
	switch state.Kind() {
	case session.KindSelection:
		help = "↑↓ navigate  |  space toggle  |  a all  |  n none  |  enter run  |  l logs  |  q quit"
	case session.KindConfirm:
		help = "y/enter confirm  |  n/esc back"
	case session.KindGettingPassword:
		help = "Type password  |  enter submit  |  esc cancel"
	case session.KindRunning:
		help = "↑↓ scroll  |  esc cancel after current step"
		if cancelling {
			help = "↑↓ scroll  |  cancelling after current step..."
		}
	case session.KindDone:
		help = "↑↓ scroll  |  esc back  |  q quit"
	}
	b.WriteString(footerStyle.Render("  " + help))
	b.WriteString("\n")
}

func stepIcon(status engine.StepStatus) (string, styleFunc) {
	switch status {
	case engine.StepStatusCompleted:
		return checkMark, sf(readyStyle)
	case engine.StepStatusFailed:
		return crossMark, sf(failedStyle)
	case engine.StepStatusRunning:
		return runningMark, sf(warningStyle)
	default:
		return pendingMark, sf(dimStyle)
	}
}

func runStatusLabel(status engine.RunStatus) (string, styleFunc) {
	switch status {
	case engine.RunStatusSucceeded:
		return "Complete", sf(readyStyle)
	case engine.RunStatusPartial:
		return "Completed with failures", sf(warningStyle)
	case engine.RunStatusFailed:
		return "Failed", sf(failedStyle)
	case engine.RunStatusCancelled:
		return "Cancelled", sf(warningStyle)
	default:
		return "Logs", sf(dimStyle)
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
