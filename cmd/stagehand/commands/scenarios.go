package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newScenariosCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "List available scenarios",
		Long: `List the scenario templates loaded from the scenario directory.

Each scenario describes the repositories, components, environments,
applications, and feature flags one launch creates. With --watch the
directory is reloaded whenever a scenario file changes.`,
		Example: `  # List scenarios from the default directory
  stagehand scenarios

  # List scenarios from a custom directory
  stagehand scenarios --scenarios ./my-scenarios

  # Keep running and reload on file changes
  stagehand scenarios --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.close()

			if err := printScenarios(rt); err != nil {
				return err
			}

			if !watch {
				return nil
			}
			if err := rt.scenarios.Watch(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("Watching %s for changes, press Ctrl-C to stop.\n", scenariosDir)
			<-cmd.Context().Done()
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and reload scenarios on file changes")

	return cmd
}

func printScenarios(rt *runtime) error {
	list := rt.scenarios.List()
	if jsonOutput {
		return printJSON(list)
	}

	if len(list) == 0 {
		fmt.Println("No scenarios found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSUMMARY")
	for _, sc := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", sc.ID, sc.Name, sc.Summary)
	}
	return w.Flush()
}
