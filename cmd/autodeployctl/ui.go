package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
)

var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")
)

var (
	accentStyle  = lipgloss.NewStyle().Foreground(purple)
	successStyle = lipgloss.NewStyle().Foreground(green)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
	warnStyle    = lipgloss.NewStyle().Foreground(yellow)
	mutedStyle   = lipgloss.NewStyle().Foreground(dim)
	boldStyle    = lipgloss.NewStyle().Bold(true)
	codeStyle    = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(faint).
			PaddingLeft(1)
)

func muted(s string) string { return mutedStyle.Render(s) }

func successMsg(format string, a ...any) string {
	return successStyle.Render("✓") + " " + fmt.Sprintf(format, a...)
}

func warnMsg(format string, a ...any) string {
	return warnStyle.Render("!") + " " + fmt.Sprintf(format, a...)
}

func errorMsg(format string, a ...any) string {
	return errorStyle.Render("✗") + " " + fmt.Sprintf(format, a...)
}

func infoMsg(format string, a ...any) string {
	return accentStyle.Render("●") + " " + fmt.Sprintf(format, a...)
}

// stepMarker is the tracker glyph for a step status.
func stepMarker(status models.StepStatus) string {
	switch status {
	case models.StepActive:
		return accentStyle.Render("●")
	case models.StepCompleted:
		return successStyle.Render("✓")
	case models.StepFailed:
		return errorStyle.Render("✗")
	default:
		return mutedStyle.Render("○")
	}
}

// renderSteps draws the step tracker, one line per step.
func renderSteps(steps []models.Step) string {
	var sb strings.Builder
	for _, s := range steps {
		label := s.Label
		switch s.Status {
		case models.StepActive:
			label = boldStyle.Render(label)
		case models.StepPending:
			label = muted(label)
		}
		fmt.Fprintf(&sb, "  %s %s\n", stepMarker(s.Status), label)
	}
	return sb.String()
}

// runStatus colours a run status.
func runStatus(s models.RunStatus) string {
	switch s {
	case models.RunSucceeded:
		return successStyle.Render(string(s))
	case models.RunFailed:
		return errorStyle.Render(string(s))
	case models.RunCancelled:
		return warnStyle.Render(string(s))
	case models.RunRunning:
		return accentStyle.Render(string(s))
	default:
		return muted(string(s))
	}
}

// renderEntry formats one timeline entry for the terminal.
func renderEntry(origin models.Origin, kind models.ContentKind, content string) string {
	switch {
	case origin == models.OriginUser:
		return boldStyle.Render("you") + "  " + content
	case kind == models.KindCode:
		return codeStyle.Render(content)
	case kind == models.KindStatus:
		return infoMsg("%s", content)
	default:
		return accentStyle.Render("agent") + " " + content
	}
}

func renderTable(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().Foreground(purple).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	oddStyle := cellStyle.Foreground(dim)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return cellStyle
			default:
				return oddStyle
			}
		}).
		Headers(headers...).
		Rows(rows...)
	return t.Render()
}
