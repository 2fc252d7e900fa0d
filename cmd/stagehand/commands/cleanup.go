package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagehand/stagehand/pkg/engine"
)

func newCleanupCommand() *cobra.Command {
	var (
		expired bool
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup [instance-id]",
		Short: "Tear down an instance's resources",
		Long: `Delete an instance's resources in reverse creation order: applications,
then environments, then components, then repositories. Feature flags and
shared applications are never deleted.

A resource that is already gone counts as cleaned. Failed deletions are
collected and reported; the instance record is only removed after every
resource was deleted or skipped.`,
		Example: `  # Clean up one instance
  stagehand cleanup 3f2a9c1e

  # Show what cleanup would do
  stagehand cleanup 3f2a9c1e --dry-run

  # Clean up everything past its expiry
  stagehand cleanup --expired`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if expired == (len(args) == 1) {
				return fmt.Errorf("provide either an instance id or --expired")
			}

			rt, err := newRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.close()

			cleaner, err := rt.buildCleaner()
			if err != nil {
				return err
			}

			if expired {
				reports, err := cleaner.CleanupExpired(cmd.Context(), time.Now(), dryRun)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(reports)
				}
				if len(reports) == 0 {
					fmt.Println("No expired instances.")
					return nil
				}
				for _, report := range reports {
					printReport(report)
				}
				return nil
			}

			report, err := cleaner.Cleanup(cmd.Context(), args[0], dryRun)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(report)
			}
			printReport(report)
			if len(report.Errors) > 0 {
				return fmt.Errorf("cleanup finished with %d errors", len(report.Errors))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&expired, "expired", false, "clean up every instance past its expiry")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted without remote calls")

	return cmd
}

func printReport(report *engine.CleanupReport) {
	verb := "Cleaned"
	if report.DryRun {
		verb = "Would clean"
	}
	fmt.Printf("%s instance %s:\n", verb, report.InstanceID)
	for _, r := range report.Cleaned {
		fmt.Printf("  deleted  %-12s %s\n", r.Kind, r.Name)
	}
	for _, r := range report.Skipped {
		fmt.Printf("  skipped  %-12s %s (%s)\n", r.Kind, r.Name, r.Reason)
	}
	for _, r := range report.Errors {
		fmt.Printf("  failed   %-12s %s: %s\n", r.Kind, r.Name, r.Message)
	}
}
