package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPreviewCommand() *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "preview <scenario-id>",
		Short: "Preview the resources a scenario would create",
		Long: `Resolve a scenario against the given parameters and report the resources
that would be created, without calling either remote system.

Validation failures surface exactly as they would on a real launch.`,
		Example: `  # Preview with parameters
  stagehand preview retail-demo --param customer=acme --param region=eu`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.close()

			sc, err := rt.scenarios.Get(args[0])
			if err != nil {
				return err
			}

			paramMap, err := parseParams(params)
			if err != nil {
				return err
			}

			pipeline := rt.buildPreviewPipeline()
			preview, err := pipeline.Preview(cmd.Context(), sc, runOptions(paramMap, nil, "", 0))
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(preview)
			}

			fmt.Printf("Scenario %s would create:\n", preview.ScenarioID)
			for _, repo := range preview.Repositories {
				fmt.Printf("  repository   %s (from %s)\n", repo.Name, repo.Template)
			}
			for _, name := range preview.Components {
				fmt.Printf("  component    %s\n", name)
			}
			for _, name := range preview.Environments {
				fmt.Printf("  environment  %s\n", name)
			}
			for _, name := range preview.Applications {
				fmt.Printf("  application  %s\n", name)
			}
			for _, name := range preview.Flags {
				fmt.Printf("  flag         %s\n", name)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "scenario parameter as key=value (repeatable)")

	return cmd
}
