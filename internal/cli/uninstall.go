package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/agentpm/internal/engine"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <package>",
	Short: "Remove an installed package from the workspace",
	Long: `Remove the files a package installed and drop it from the ownership index.

Files and directories only this package owns are deleted. The package's keys
or section are stripped from files shared with other packages, and a shared
file left empty is deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}

		result, err := s.eng.Uninstall(context.Background(), &engine.UninstallRequest{Package: args[0]})
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), map[string]any{
				"package":  args[0],
				"removed":  result.Removed,
				"stripped": result.Stripped,
				"notes":    result.Notes,
			})
		}

		out := newPrinter(cmd)
		out.success("Uninstalled %s", args[0])
		out.paths("Removed:", result.Removed)
		out.paths("Stripped from shared files:", result.Stripped)
		for _, n := range result.Notes {
			out.warn("%s", n)
		}
		return nil
	},
}
