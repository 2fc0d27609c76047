// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/rtfmri-foundation/rtfmri/session"
	"github.com/rtfmri-foundation/rtfmri/wire"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle   = lipgloss.NewStyle().Width(10).Foreground(lipgloss.Color("8"))
	eventStyle   = lipgloss.NewStyle().Width(16)
	faintStyle   = lipgloss.NewStyle().Faint(true)
	resultStyles = map[wire.Result]lipgloss.Style{
		wire.ResultSuccess: lipgloss.NewStyle().Width(8).Foreground(lipgloss.Color("10")),
		wire.ResultWarning: lipgloss.NewStyle().Width(8).Foreground(lipgloss.Color("11")),
		wire.ResultError:   lipgloss.NewStyle().Width(8).Foreground(lipgloss.Color("9")).Bold(true),
	}
)

// renderReport prints a session summary followed by one row per reply.
func renderReport(w io.Writer, report *session.Report, sessionErr error) {
	var builder strings.Builder

	builder.WriteString(headerStyle.Render("Session") + "\n")
	outcome := "completed"
	if sessionErr != nil {
		outcome = "aborted: " + sessionErr.Error()
	}
	field(&builder, "outcome", outcome)
	field(&builder, "model", report.Model)
	field(&builder, "duration", report.Finished.Sub(report.Started).Round(time.Millisecond).String())
	field(&builder, "trials", fmt.Sprint(countEvent(report, wire.EventTRData)))
	field(&builder, "misses", fmt.Sprint(report.Misses))
	field(&builder, "clock", fmt.Sprintf("skew %s, rtt %s..%s",
		report.Estimate.Skew, report.Estimate.MinRTT, report.Estimate.MaxRTT))

	if len(report.Replies) > 0 {
		builder.WriteString("\n" + headerStyle.Render("Replies") + "\n")
		for _, reply := range report.Replies {
			builder.WriteString(replyRow(reply) + "\n")
		}
	}

	if len(report.Files) > 0 {
		builder.WriteString("\n" + headerStyle.Render("Files") + "\n")
		for _, name := range slices.Sorted(maps.Keys(report.Files)) {
			builder.WriteString(fmt.Sprintf("  %s %s\n", name,
				faintStyle.Render(humanize.IBytes(uint64(len(report.Files[name]))))))
		}
	}

	if len(report.Deferred) > 0 {
		builder.WriteString("\n" + headerStyle.Render("Late results") + "\n")
		for _, handle := range slices.Sorted(maps.Keys(report.Deferred)) {
			builder.WriteString(fmt.Sprintf("  %s %s\n", handle, prediction(report.Deferred[handle])))
		}
	}

	io.WriteString(w, builder.String())
}

func field(builder *strings.Builder, label, value string) {
	builder.WriteString("  " + labelStyle.Render(label) + value + "\n")
}

func replyRow(reply session.ReplyRecord) string {
	style, ok := resultStyles[reply.Result]
	if !ok {
		style = lipgloss.NewStyle().Width(8)
	}
	row := "  " + eventStyle.Render(reply.Event.String()) + style.Render(reply.Result.String()) +
		faintStyle.Render(reply.Path.String())

	var details []string
	if reply.Prediction != nil {
		details = append(details, prediction(reply.Prediction))
	}
	if reply.MissedDeadline {
		details = append(details, "missed deadline")
	}
	if reply.RecoveryHandle != "" {
		details = append(details, "handle "+reply.RecoveryHandle)
	}
	if reply.Text != "" {
		details = append(details, reply.Text)
	}
	if len(reply.Lines) > 0 {
		details = append(details, strings.Join(reply.Lines, "; "))
	}
	if len(details) > 0 {
		row += " " + strings.Join(details, ", ")
	}
	return row
}

func prediction(p *wire.Prediction) string {
	if p == nil {
		return "pending"
	}
	return fmt.Sprintf("vol %d catsep %.4f", p.Volume, p.CatSep)
}

func countEvent(report *session.Report, event wire.Event) int {
	count := 0
	for _, reply := range report.Replies {
		if reply.Event == event {
			count++
		}
	}
	return count
}
