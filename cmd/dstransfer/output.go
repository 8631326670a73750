package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"dstransfer/pkg/types"
	"dstransfer/pkg/utils"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Style definitions
var (
	primaryColor   = lipgloss.Color("#FF79C6") // Pink
	secondaryColor = lipgloss.Color("#8BE9FD") // Cyan
	accentColor    = lipgloss.Color("#50FA7B") // Green
	warningColor   = lipgloss.Color("#FFB86C") // Orange
	dangerColor    = lipgloss.Color("#FF5555") // Red
	mutedColor     = lipgloss.Color("#6272A4") // Comment
	bgLightColor   = lipgloss.Color("#44475A") // Current Line
	fgColor        = lipgloss.Color("#F8F8F2") // Foreground

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2).
			MarginBottom(1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(18)

	valueStyle = lipgloss.NewStyle().
			Foreground(fgColor).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor).
			Background(bgLightColor).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 1)

	iconStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true).
			MarginRight(1)
)

func createPanel(title, icon, content string, width int) string {
	panel := panelStyle
	if width > 0 {
		panel = panel.Width(width)
	}
	titleLine := iconStyle.Render(icon) + titleStyle.Render(title)
	return panel.Render(lipgloss.JoinVertical(lipgloss.Left, titleLine, content))
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(bgLightColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return rowStyle.Foreground(fgColor)
		}).
		Headers(headers...)
}

func outcomeColor(o types.Outcome) lipgloss.Color {
	switch o {
	case types.OutcomeSuccess:
		return accentColor
	case types.OutcomeChecksumMismatch:
		return dangerColor
	default:
		return warningColor
	}
}

func outcomeStyle(o types.Outcome) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(outcomeColor(o)).Bold(true)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(res *types.TransferResult) error {
	if outputFormat == "json" {
		return printJSON(res)
	}

	subject := res.RemotePath
	if res.Address.PID != "" {
		subject = res.Address.String()
	}

	rows := []struct {
		label string
		value string
		style lipgloss.Style
	}{
		{"Outcome", string(res.Outcome), outcomeStyle(res.Outcome)},
		{"Direction", string(res.Direction), valueStyle},
		{"Remote", subject, valueStyle},
		{"Local", res.LocalPath, valueStyle},
		{"Transferred", utils.FormatDataSize(res.BytesTransferred), valueStyle},
		{"Elapsed", fmt.Sprintf("%d ms", res.ElapsedMillis()), valueStyle},
		{"Rate", utils.FormatRate(res.BytesTransferred, res.Elapsed), valueStyle},
		{"Checksum type", res.ChecksumType, valueStyle},
		{"Local checksum", res.LocalChecksum, valueStyle},
		{"Remote checksum", res.RemoteChecksum, valueStyle},
	}

	var content strings.Builder
	for _, r := range rows {
		if r.value == "" {
			continue
		}
		content.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render(r.label+":"), r.style.Render(r.value)))
	}
	if res.Error != "" {
		content.WriteString("\n" + lipgloss.NewStyle().Foreground(dangerColor).Render(res.Error) + "\n")
	}
	content.WriteString("\n" + mutedStyle.Render(res.ID))

	icon := "✔"
	if !res.Succeeded() {
		icon = "✘"
	}
	fmt.Println(createPanel("TRANSFER "+strings.ToUpper(string(res.Direction)), icon, content.String(), 0))
	return nil
}

func printChecksums(rows []checksumRow) error {
	if outputFormat == "json" {
		return printJSON(rows)
	}

	t := newTable("FILE", "ALGORITHM", "CHECKSUM", "MATCH")
	for _, r := range rows {
		match := mutedStyle.Render("-")
		if r.Match != nil {
			if *r.Match {
				match = outcomeStyle(types.OutcomeSuccess).Render("yes")
			} else {
				match = outcomeStyle(types.OutcomeChecksumMismatch).Render("NO")
			}
		}
		t.Row(r.Path, r.Algorithm, r.Checksum, match)
	}
	fmt.Println(t)
	return nil
}

func printManifest(rows []manifestRow) error {
	if outputFormat == "json" {
		return printJSON(rows)
	}

	t := newTable("PID", "FILE", "CONTROL", "MIME", "DOCUMENT")
	for _, r := range rows {
		t.Row(r.PID, r.File, r.ControlGroup, r.MIMEType, r.Output)
	}
	fmt.Println(t)
	return nil
}

func printHistory(results []*types.TransferResult, counts map[types.Outcome]int) error {
	if outputFormat == "json" {
		return printJSON(struct {
			Results []*types.TransferResult `json:"results"`
			Summary map[types.Outcome]int   `json:"summary"`
		}{results, counts})
	}

	if len(results) == 0 {
		fmt.Println(mutedStyle.Render("No transfers recorded"))
		return nil
	}

	t := newTable("COMPLETED", "DIRECTION", "TARGET", "SIZE", "OUTCOME", "ID")
	for _, r := range results {
		target := r.RemotePath
		if r.Address.PID != "" {
			target = r.Address.String()
		}
		t.Row(
			r.CompletedAt.Local().Format(time.DateTime),
			string(r.Direction),
			target,
			utils.FormatDataSize(r.BytesTransferred),
			outcomeStyle(r.Outcome).Render(string(r.Outcome)),
			r.ID,
		)
	}
	fmt.Println(t)

	outcomes := make([]string, 0, len(counts))
	for o := range counts {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)

	var summary strings.Builder
	for _, o := range outcomes {
		summary.WriteString(fmt.Sprintf("%s %s\n",
			labelStyle.Render(o+":"),
			outcomeStyle(types.Outcome(o)).Render(fmt.Sprintf("%d", counts[types.Outcome(o)]))))
	}
	fmt.Println(createPanel("JOURNAL SUMMARY", "≡", strings.TrimSpace(summary.String()), 0))
	return nil
}
