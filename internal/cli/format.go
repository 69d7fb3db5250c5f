package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/danieljhkim/agentpm/internal/engine"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
	labelColor   = color.New(color.FgWhite, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
)

// initColors turns color off for JSON output. fatih/color handles TTY and
// NO_COLOR detection itself.
func initColors() {
	if jsonOutput {
		color.NoColor = true
	}
}

// printer writes the human-readable output of a command.
type printer struct {
	out io.Writer
	err io.Writer
}

func newPrinter(cmd *cobra.Command) *printer {
	initColors()
	return &printer{out: cmd.OutOrStdout(), err: cmd.ErrOrStderr()}
}

func (p *printer) success(format string, args ...any) {
	_, _ = successColor.Fprintf(p.out, "✓ "+format+"\n", args...)
}

func (p *printer) warn(format string, args ...any) {
	_, _ = warningColor.Fprintf(p.out, "⚠ "+format+"\n", args...)
}

func (p *printer) fail(format string, args ...any) {
	_, _ = errorColor.Fprintf(p.err, "✗ "+format+"\n", args...)
}

func (p *printer) info(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) section(title string) {
	_, _ = headerColor.Fprintf(p.out, "\n▸ %s\n\n", title)
}

// field prints an indented "label: value" line.
func (p *printer) field(label, value string, clr *color.Color) {
	_, _ = labelColor.Fprintf(p.out, "  %s: ", label)
	if clr == nil {
		clr = dimColor
	}
	_, _ = clr.Fprintln(p.out, value)
}

// paths prints a titled bullet list of workspace paths. Nothing is printed
// for an empty list.
func (p *printer) paths(title string, items []string) {
	if len(items) == 0 {
		return
	}
	_, _ = infoColor.Fprintf(p.out, "  %s\n", title)
	for _, item := range items {
		_, _ = infoColor.Fprintf(p.out, "    • %s\n", item)
	}
}

func (p *printer) empty(msg string) {
	_, _ = dimColor.Fprintf(p.out, "  %s\n", msg)
}

// table prints rows under headers in padded columns.
func (p *printer) table(headers []string, rows [][]string) {
	if len(headers) == 0 || len(rows) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	line := func(cells []string, clr *color.Color) {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
		}
		_, _ = clr.Fprintf(p.out, "  %s\n", strings.TrimRight(strings.Join(parts, "  "), " "))
	}

	line(headers, headerColor)
	rule := make([]string, len(widths))
	for i, w := range widths {
		rule[i] = strings.Repeat("-", w)
	}
	line(rule, dimColor)
	for _, row := range rows {
		line(row, color.New(color.Reset))
	}
}

// installSummary prints one package's install outcome.
func (p *printer) installSummary(pr *engine.PackageResult) {
	for _, rerr := range pr.ResourceErrors {
		p.warn("%v", rerr)
	}
	if pr.Err != nil {
		p.fail("%s: %v", pr.Name, pr.Err)
		return
	}

	p.success("Installed %s (%s)", pr.Name, fileCounts(pr))
	if pr.Namespaced {
		p.field("Namespace", pr.Namespace, warningColor)
	}
	if len(pr.RelocatedFiles) > 0 {
		moved := make([]string, len(pr.RelocatedFiles))
		for i, r := range pr.RelocatedFiles {
			moved[i] = fmt.Sprintf("%s → %s", r.From, r.To)
		}
		p.paths("Relocated:", moved)
	}
	p.paths("Notes:", pr.Notes)
	for _, w := range pr.Warnings {
		p.warn("%s", w)
	}
}

// fileCounts renders "2 installed, 1 updated, 3 unchanged", leaving out
// zero counts.
func fileCounts(pr *engine.PackageResult) string {
	var parts []string
	for _, c := range []struct {
		n    int
		verb string
	}{
		{len(pr.InstalledFiles), "installed"},
		{len(pr.UpdatedFiles), "updated"},
		{len(pr.UnchangedFiles), "unchanged"},
	} {
		if c.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c.n, c.verb))
		}
	}
	if len(parts) == 0 {
		return "nothing written"
	}
	return strings.Join(parts, ", ")
}

// saveLine prints one save path result. Parity and unchanged paths are
// silent; it reports whether the path was at parity.
func (p *printer) saveLine(r engine.PathResult) bool {
	switch r.Status {
	case engine.SaveWritten:
		p.success("%s ← %s", r.SourcePath, strings.Join(r.From, ", "))
	case engine.SaveSkipped:
		p.warn("%s skipped: %s", r.SourcePath, r.Note)
	case engine.SaveFailed:
		p.fail("%s: %v", r.SourcePath, r.Err)
	case engine.SaveParity, engine.SaveUnchanged:
		return true
	}
	return false
}

// countOf formats a count with the singular or plural noun.
func countOf(count int, singular, plural string) string {
	if count == 1 {
		return fmt.Sprintf("%d %s", count, singular)
	}
	return fmt.Sprintf("%d %s", count, plural)
}

// PrintError prints a command failure to stderr.
func PrintError(msg string) {
	initColors()
	_, _ = errorColor.Fprintf(os.Stderr, "✗ %s\n", msg)
}
