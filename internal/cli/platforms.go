package cli

import (
	"github.com/spf13/cobra"
)

type platformJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RootDir  string `json:"rootDir"`
	Detected bool   `json:"detected"`
	Flows    int    `json:"flows"`
}

var platformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "List known platforms",
	Long: `Display the built-in platforms plus any defined in .agentpm/platforms.jsonc
or .agentpm/platforms.yaml, and whether each is detected in the workspace.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}

		detected := map[string]bool{}
		for _, p := range s.platforms.Detect(s.fs, s.paths.Workspace) {
			detected[p.ID] = true
		}

		var out []platformJSON
		for _, id := range s.platforms.IDs() {
			p, err := s.platforms.Get(id)
			if err != nil {
				return err
			}
			out = append(out, platformJSON{
				ID:       id,
				Name:     p.Name,
				RootDir:  p.RootDir,
				Detected: detected[id],
				Flows:    len(s.platforms.Flows(p)),
			})
		}

		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), out)
		}

		rows := make([][]string, len(out))
		for i, p := range out {
			mark := ""
			if p.Detected {
				mark = "✓"
			}
			rows[i] = []string{p.ID, p.Name, p.RootDir, mark}
		}
		newPrinter(cmd).table([]string{"ID", "NAME", "ROOT", "DETECTED"}, rows)
		return nil
	},
}
