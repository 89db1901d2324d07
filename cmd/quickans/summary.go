package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/quickans/internal/pipeline"
	"github.com/nhle/quickans/internal/theme"
)

// renderSummary formats a run report for the terminal.
func renderSummary(r *pipeline.Report, runErr error) string {
	var lines []string

	title := "QuickAns run"
	if r.DryRun {
		title += " (dry run)"
	}
	lines = append(lines, theme.HeaderStyle.Render(title))

	kv := func(label string, value any) {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			theme.LabelStyle.Render(label), fmt.Sprint(value)))
	}
	kv("Run", r.RunID)
	if r.Recipient != "" {
		kv("Recipient", r.Recipient)
	}
	kv("Fetched", r.Fetched)
	kv("Irrelevant", r.Irrelevant)
	kv("Already answered", r.AlreadyAnswered)
	if r.Duplicates > 0 {
		kv("Duplicate ids", r.Duplicates)
	}
	if r.Remaining > 0 {
		kv("Left for later", r.Remaining)
	}
	kv("Duration", r.Duration().Round(time.Millisecond))

	for _, a := range r.Answered {
		lines = append(lines, outcome("answered", string(a.ID), a.Heading))
	}
	for _, u := range r.Unrecorded {
		lines = append(lines, outcome("unrecorded", string(u.ID), u.Heading))
	}
	for _, d := range r.Drafted {
		lines = append(lines, outcome("drafted", d.Recipient, d.Subject))
	}
	for _, d := range r.Deferred {
		lines = append(lines, outcome("deferred", string(d.ID), d.Kind+": "+d.Reason))
	}
	for _, s := range r.Skipped {
		lines = append(lines, outcome("skipped", string(s.ID), s.Reason))
	}

	if len(r.Answered)+len(r.Unrecorded)+len(r.Drafted)+len(r.Deferred)+len(r.Skipped) == 0 {
		lines = append(lines, theme.HelpStyle.Render("No new questions."))
	}
	if runErr != nil {
		lines = append(lines, outcome("failed", "", runErr.Error()))
	}

	return theme.PanelStyle.Render(strings.Join(lines, "\n"))
}

func outcome(kind, id, detail string) string {
	label := theme.OutcomeStyle(kind).Render(fmt.Sprintf("%-10s", kind))
	if id == "" {
		return label + " " + detail
	}
	return label + " " + id + "  " + detail
}
