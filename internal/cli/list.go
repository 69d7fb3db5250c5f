package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var listVerbose bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed packages",
	Long:  `Display the packages recorded in the workspace's ownership index.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}

		infos, err := s.eng.List(context.Background())
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), infos)
		}

		out := newPrinter(cmd)
		if len(infos) == 0 {
			out.empty("No packages installed")
			return nil
		}

		rows := make([][]string, len(infos))
		for i, info := range infos {
			ns := info.Namespace
			if ns == "" {
				ns = "-"
			}
			rows[i] = []string{info.Name, info.Version, ns, countOf(len(info.Paths), "path", "paths")}
		}
		out.table([]string{"NAME", "VERSION", "NAMESPACE", "INSTALLED"}, rows)

		if listVerbose {
			for _, info := range infos {
				out.section(fmt.Sprintf("%s (%s)", info.Name, info.Path))
				out.paths("Paths:", info.Paths)
			}
		}
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVarP(&listVerbose, "verbose", "v", false, "Show every installed path")
}
