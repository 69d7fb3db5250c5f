package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/agentpm/internal/engine"
)

var (
	savePlatforms   []string
	saveInteractive bool
)

var saveCmd = &cobra.Command{
	Use:   "save <package>",
	Short: "Save workspace edits back into a package source",
	Long: `Copy edits made to installed files back into the package's source tree.

Platform-specific renames are reversed, and only the package's own keys or
section are taken from files shared with other packages. Files still at parity
with the source are left untouched. When platforms hold different edits of the
same file, --interactive lets you pick the universal version and which copies
to keep as platform-specific variants; otherwise the file is skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}

		req := &engine.SaveRequest{
			Package:   args[0],
			Platforms: s.platformsFlag(savePlatforms),
		}
		if saveInteractive {
			req.Selector = newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
		}

		result, err := s.eng.Save(context.Background(), req)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), saveJSON(result))
		}
		printSaveResult(newPrinter(cmd), result)
		return nil
	},
}

func printSaveResult(out *printer, result *engine.SaveResult) {
	var parity int
	for _, p := range result.Paths {
		if out.saveLine(p) {
			parity++
		}
	}
	for _, w := range result.Warnings {
		out.warn("%s", w)
	}

	if result.Written() == 0 {
		out.info("Nothing to save for %s (%s at parity)", result.Package, countOf(parity, "file", "files"))
		return
	}
	out.info("Saved %s to %s", countOf(result.Written(), "file", "files"), result.Package)
}

type savePathJSON struct {
	Key    string   `json:"key"`
	Source string   `json:"source"`
	From   []string `json:"from"`
	Status string   `json:"status"`
	Note   string   `json:"note,omitempty"`
	Error  string   `json:"error,omitempty"`
}

func saveJSON(result *engine.SaveResult) map[string]any {
	paths := make([]savePathJSON, len(result.Paths))
	for i, p := range result.Paths {
		paths[i] = savePathJSON{
			Key:    p.Key,
			Source: p.SourcePath,
			From:   p.From,
			Status: string(p.Status),
			Note:   p.Note,
			Error:  errorString(p.Err),
		}
	}
	return map[string]any{
		"package":  result.Package,
		"written":  result.Written(),
		"paths":    paths,
		"warnings": result.Warnings,
	}
}

func init() {
	saveCmd.Flags().StringSliceVarP(&savePlatforms, "platform", "p", nil, "Platforms to read edits from (default: all)")
	saveCmd.Flags().BoolVarP(&saveInteractive, "interactive", "i", false, "Prompt when platforms hold diverging edits")
}
