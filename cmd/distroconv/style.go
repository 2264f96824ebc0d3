package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/lyndonlyu/distroconv/internal/conversion"
	"github.com/lyndonlyu/distroconv/internal/specialcases"
)

var (
	styleBanner  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	stylePrompt  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	stylePhase   = map[conversion.Phase]lipgloss.Style{
		conversion.PhaseCommitted:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		conversion.PhaseRolledBack:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		conversion.PhaseInhibited:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		conversion.PhaseRollbackPartial: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
	}
)

func renderPhase(p conversion.Phase) string {
	if s, ok := stylePhase[p]; ok {
		return s.Render(p.String())
	}
	return p.String()
}

func renderOutcome(o specialcases.Outcome) string {
	tag := "[" + o.String() + "]"
	switch o {
	case specialcases.OutcomeApplied:
		return styleSuccess.Render(tag)
	case specialcases.OutcomeSkipped:
		return styleDim.Render(tag)
	default:
		return styleError.Render(tag)
	}
}
