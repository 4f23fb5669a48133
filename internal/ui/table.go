package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"wasmkey/internal/extract"
	"wasmkey/internal/history"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	okStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)

	borderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// RenderResult formats an extraction result for the terminal.
func RenderResult(res *extract.Result) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(res.Embed.Xrax))
	b.WriteString("\n")

	rows := [][]string{{"embed", res.Embed.URL}}
	if tok := res.Token; tok != nil {
		rows = append(rows,
			[]string{"run", tok.RunID},
			[]string{"pid", tok.PID},
			[]string{"kversion", tok.KVersion},
			[]string{"kid", tok.KID},
		)
	}
	if s := res.Stream; s != nil {
		rows = append(rows, []string{"stream", s.URL})
		if s.Quality != "" {
			rows = append(rows, []string{"quality", s.Quality})
		}
		for _, src := range s.Sources {
			rows = append(rows, []string{"source", src.File})
		}
		for _, sub := range s.Subtitles {
			label := sub.Language
			if sub.Default {
				label += " (default)"
			}
			rows = append(rows, []string{"subtitle", label + "  " + sub.URL})
		}
		if s.Intro.Valid() {
			rows = append(rows, []string{"intro", fmt.Sprintf("%d-%d", s.Intro.Start, s.Intro.End)})
		}
		if s.Outro.Valid() {
			rows = append(rows, []string{"outro", fmt.Sprintf("%d-%d", s.Outro.Start, s.Outro.End)})
		}
	}

	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return keyStyle
			}
			return lipgloss.NewStyle()
		})
	b.WriteString(t.Render())
	return b.String()
}

// RenderHistory formats history entries as a table, newest first.
func RenderHistory(entries []history.Entry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		status := "ok"
		if e.Failed() {
			status = "failed"
		}
		rows = append(rows, []string{
			e.CreatedAt.Format("2006-01-02 15:04"),
			e.Xrax,
			status,
			e.Quality,
			e.Duration.Round(time.Millisecond).String(),
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers("WHEN", "SOURCE", "STATUS", "QUALITY", "TOOK").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row >= 0 && row < len(rows) && col == 2 && rows[row][2] == "failed":
				return errorStyle.Padding(0, 1)
			case col == 2:
				return okStyle.Padding(0, 1)
			}
			return cellStyle
		}).
		Render()
}

// RenderError formats an error line.
func RenderError(err error) string {
	return errorStyle.Render("error: " + err.Error())
}
