package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/agentpm/internal/engine"
	"github.com/danieljhkim/agentpm/internal/planner"
	"github.com/danieljhkim/agentpm/internal/source"
)

var (
	installPlatforms []string
	installResources []string
	installStrategy  string
	installThreshold float64
)

var installCmd = &cobra.Command{
	Use:   "install <package-dir>...",
	Short: "Install packages into the workspace",
	Long: `Install one or more packages into the workspace for the selected platforms.

Packages are installed in the order given. A package that fails is reported and
the rest of the batch continues. Files owned by another package are handled
with the conflict strategy:

  keep-both  install under a namespace derived from the package identity
  overwrite  take over the file
  skip       leave the other package's file alone
  ask        prompt for every conflict`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(installResources) > 0 && len(args) > 1 {
			return fmt.Errorf("--resource can only be used with a single package")
		}

		s, err := newSession()
		if err != nil {
			return err
		}

		strategyName := s.settings.ConflictStrategy
		if cmd.Flags().Changed("strategy") {
			strategyName = installStrategy
		}
		strategy, err := planner.ParseStrategy(strategyName)
		if err != nil {
			return err
		}
		threshold := s.settings.NamespaceThreshold
		if cmd.Flags().Changed("namespace-threshold") {
			threshold = installThreshold
		}

		ctx := context.Background()
		refs := make([]source.Ref, len(args))
		for i, arg := range args {
			refs[i] = source.Ref{Location: arg, Resources: installResources}
		}
		pkgs, err := source.NewLocalResolver(s.fs, s.paths.Workspace).Resolve(ctx, refs)
		if err != nil {
			return err
		}

		req := &engine.InstallRequest{
			Packages:           pkgs,
			Platforms:          s.platformsFlag(installPlatforms),
			Strategy:           strategy,
			NamespaceThreshold: threshold,
		}
		if strategy == planner.StrategyAsk {
			req.Chooser = newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
		}

		result, err := s.eng.Install(ctx, req)
		if result == nil {
			return err
		}

		if jsonOutput {
			if jerr := outputJSON(cmd.OutOrStdout(), installJSON(result)); jerr != nil {
				return jerr
			}
			return err
		}

		out := newPrinter(cmd)
		for _, pr := range result.Packages {
			out.installSummary(pr)
		}
		if errors.Is(err, engine.ErrPackageFailed) {
			return fmt.Errorf("%s failed", countOf(len(result.Failed()), "package", "packages"))
		}
		return err
	},
}

type installPackageJSON struct {
	Name           string               `json:"name"`
	Installed      []string             `json:"installed"`
	Updated        []string             `json:"updated"`
	Unchanged      []string             `json:"unchanged"`
	Namespace      string               `json:"namespace,omitempty"`
	Relocated      []planner.Relocation `json:"relocated,omitempty"`
	Notes          []string             `json:"notes,omitempty"`
	Warnings       []string             `json:"warnings,omitempty"`
	ResourceErrors []string             `json:"resourceErrors,omitempty"`
	Error          string               `json:"error,omitempty"`
}

func installJSON(result *engine.InstallResult) map[string]any {
	pkgs := make([]installPackageJSON, len(result.Packages))
	for i, pr := range result.Packages {
		pkgs[i] = installPackageJSON{
			Name:           pr.Name,
			Installed:      pr.InstalledFiles,
			Updated:        pr.UpdatedFiles,
			Unchanged:      pr.UnchangedFiles,
			Relocated:      pr.RelocatedFiles,
			Notes:          pr.Notes,
			Warnings:       pr.Warnings,
			ResourceErrors: errorStrings(pr.ResourceErrors),
			Error:          errorString(pr.Err),
		}
		if pr.Namespaced {
			pkgs[i].Namespace = pr.Namespace
		}
	}
	return map[string]any{
		"success":  len(result.Failed()) == 0,
		"packages": pkgs,
	}
}

func init() {
	installCmd.Flags().StringSliceVarP(&installPlatforms, "platform", "p", nil, "Target platforms (default: $AGENTPM_PLATFORMS or detected)")
	installCmd.Flags().StringSliceVarP(&installResources, "resource", "r", nil, "Install only these package-relative files or directories")
	installCmd.Flags().StringVar(&installStrategy, "strategy", "keep-both", "Conflict strategy: keep-both, overwrite, skip or ask")
	installCmd.Flags().Float64Var(&installThreshold, "namespace-threshold", 0.5, "Share of colliding files that namespaces the whole package under keep-both")
}
