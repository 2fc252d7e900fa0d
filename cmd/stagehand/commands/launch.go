package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagehand/stagehand/pkg/clients/platform"
	"github.com/stagehand/stagehand/pkg/credentials"
	"github.com/stagehand/stagehand/pkg/telemetry"
)

func newLaunchCommand() *cobra.Command {
	var (
		params []string
		name   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "launch <scenario-id>",
		Short: "Launch a scenario",
		Long: `Execute a scenario end to end: provision its repositories, create its
platform objects in dependency order, and persist the resulting instance.

Progress is reported per step. A failed run still records whatever was
created, so cleanup can be targeted at the partial instance.`,
		Example: `  # Launch with parameters and a 24h expiry
  stagehand launch retail-demo --param customer=acme --ttl 24h

  # Launch a permanent instance with a custom name
  stagehand launch retail-demo --param customer=acme --name acme-keep`,
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

			pipeline, err := rt.buildPipeline()
			if err != nil {
				return err
			}

			envProps, err := rt.tenantProperties(cmd.Context())
			if err != nil {
				return err
			}

			events, unsubscribe := rt.events.Subscribe()
			defer unsubscribe()
			done := make(chan struct{})
			go func() {
				defer close(done)
				for event := range events {
					printProgress(event)
				}
			}()

			instance, runErr := pipeline.Run(cmd.Context(), sc, runOptions(paramMap, envProps, name, ttl))

			unsubscribe()
			<-done

			if runErr != nil {
				if instance != nil && len(instance.Repositories)+len(instance.Components)+
					len(instance.Environments)+len(instance.Applications)+len(instance.Flags) > 0 {
					fmt.Printf("\nRun failed after creating resources. Clean them up with:\n")
					fmt.Printf("  stagehand cleanup %s\n", instance.ID)
				}
				return runErr
			}

			if jsonOutput {
				return printJSON(instance)
			}

			fmt.Printf("\nInstance %s launched (%s)\n", instance.Name, instance.ID)
			if instance.ExpiresAt != nil {
				fmt.Printf("Expires at %s\n", instance.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "scenario parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&name, "name", "", "instance display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "instance lifetime before automatic cleanup (0 = never expires)")

	return cmd
}

// tenantProperties fetches the target organization's properties; they back
// ${env.X} references in scenario templates.
func (rt *runtime) tenantProperties(ctx context.Context) (map[string]string, error) {
	platCreds, err := rt.creds.Get(credentials.SystemPlatform)
	if err != nil {
		return nil, err
	}

	client := platform.NewClient(platCreds.BaseURL, platCreds.Token)
	props, err := client.ListProperties(ctx, platCreds.Organization)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tenant properties: %w", err)
	}

	out := make(map[string]string, len(props))
	for _, p := range props {
		out[p.Name] = p.Value
	}
	return out, nil
}

func printProgress(event telemetry.ProgressEvent) {
	switch event.Type {
	case telemetry.EventTypeStepStarted:
		fmt.Printf("  → %s\n", event.Step)
	case telemetry.EventTypeStepCompleted:
		fmt.Printf("  ✓ %s\n", event.Step)
	case telemetry.EventTypeStepFailed:
		fmt.Printf("  ✗ %s: %s\n", event.Step, event.Message)
	case telemetry.EventTypeStepSkipped:
		fmt.Printf("  - %s (%s)\n", event.Step, event.Message)
	case telemetry.EventTypeResource:
		fmt.Printf("      %s\n", event.Message)
	}
}
