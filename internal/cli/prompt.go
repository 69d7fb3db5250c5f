package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/danieljhkim/agentpm/internal/engine"
	"github.com/danieljhkim/agentpm/internal/planner"
)

// prompter asks the user to settle install conflicts and diverging save
// candidates on the terminal.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

func (p *prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	return strings.TrimSpace(strings.ToLower(line)), nil
}

// Choose implements planner.Chooser.
func (p *prompter) Choose(ctx context.Context, c planner.Conflict) (planner.Strategy, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		_, _ = warningColor.Fprintf(p.out, "⚠ %s is owned by %s\n", c.Target.TargetRel, c.Owner.Package)
		_, _ = fmt.Fprint(p.out, "  [o]verwrite, [s]kip, [k]eep both (default k): ")

		answer, err := p.readLine()
		if err != nil {
			return "", err
		}
		switch answer {
		case "", "k", "keep", "keep-both":
			return planner.StrategyKeepBoth, nil
		case "o", "overwrite":
			return planner.StrategyOverwrite, nil
		case "s", "skip":
			return planner.StrategySkip, nil
		}
		_, _ = fmt.Fprintf(p.out, "  unrecognised answer %q\n", answer)
	}
}

// Select implements engine.Selector.
func (p *prompter) Select(ctx context.Context, key string, cands []engine.SaveCandidate) (engine.Selection, error) {
	sel := engine.Selection{Universal: -1}
	if err := ctx.Err(); err != nil {
		return sel, err
	}

	_, _ = headerColor.Fprintf(p.out, "▸ %s has %d diverging versions\n", key, len(cands))
	for i, c := range cands {
		_, _ = fmt.Fprintf(p.out, "  %d. %s (%s)\n", i+1, c.Path, c.Platform)
		_, _ = dimColor.Fprintf(p.out, "     %s\n", preview(c.Content))
	}

	_, _ = fmt.Fprintf(p.out, "  Universal version [1-%d, blank keeps the source]: ", len(cands))
	answer, err := p.readLine()
	if err != nil {
		return sel, err
	}
	if answer != "" {
		n, err := choiceIndex(answer, len(cands))
		if err != nil {
			return sel, err
		}
		sel.Universal = n
	}

	_, _ = fmt.Fprint(p.out, "  Save as platform-specific variants [comma-separated, blank for none]: ")
	answer, err = p.readLine()
	if err != nil {
		return sel, err
	}
	for _, part := range strings.Split(answer, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		n, err := choiceIndex(part, len(cands))
		if err != nil {
			return sel, err
		}
		sel.PlatformSpecific = append(sel.PlatformSpecific, n)
	}
	return sel, nil
}

// choiceIndex converts a 1-based answer to an index.
func choiceIndex(answer string, n int) (int, error) {
	i, err := strconv.Atoi(answer)
	if err != nil || i < 1 || i > n {
		return 0, fmt.Errorf("invalid choice %q: want a number from 1 to %d", answer, n)
	}
	return i - 1, nil
}

// preview returns the first non-empty line of content, shortened.
func preview(content []byte) string {
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "---" {
			continue
		}
		if len(line) > 60 {
			line = line[:57] + "..."
		}
		return line
	}
	return "(empty)"
}
