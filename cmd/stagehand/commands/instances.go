package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newInstancesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "List tracked instances",
		Long: `List every instance in the store, with its scenario, creation time, and
expiry. Expired instances are eligible for 'cleanup --expired'.`,
		Example: `  # List instances
  stagehand instances

  # Machine-readable output
  stagehand instances --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.close()

			instances, err := rt.store.List(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(instances)
			}

			if len(instances) == 0 {
				fmt.Println("No instances tracked.")
				return nil
			}

			now := time.Now()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSCENARIO\tCREATED\tEXPIRES")
			for _, instance := range instances {
				expires := "never"
				if instance.ExpiresAt != nil {
					expires = instance.ExpiresAt.Format(time.RFC3339)
					if instance.Expired(now) {
						expires += " (expired)"
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					instance.ID,
					instance.Name,
					instance.ScenarioID,
					instance.CreatedAt.Format(time.RFC3339),
					expires,
				)
			}
			return w.Flush()
		},
	}

	return cmd
}
