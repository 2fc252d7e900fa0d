package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stagehand/stagehand/pkg/credentials"
)

func newCredentialsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage remote system credentials",
		Long: `Store and inspect the bearer tokens and tenant identifiers used to talk
to the two remote systems ("forge" for source hosting, "platform" for the
deployment platform).

Tokens can also be supplied through STAGEHAND_FORGE_TOKEN and
STAGEHAND_PLATFORM_TOKEN, which override the credential file.`,
	}

	cmd.AddCommand(newCredentialsSetCommand())
	cmd.AddCommand(newCredentialsListCommand())

	return cmd
}

func newCredentialsSetCommand() *cobra.Command {
	var (
		token        string
		organization string
		collaborator string
		baseURL      string
	)

	cmd := &cobra.Command{
		Use:   "set <system>",
		Short: "Store credentials for a remote system",
		Example: `  # Configure the source-hosting system
  stagehand credentials set forge --token ghp_xxx --organization demo-org

  # Configure the deployment platform
  stagehand credentials set platform --token xxx --organization org-123 \
    --base-url https://platform.example.com/api`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			system := credentials.System(args[0])
			if system != credentials.SystemForge && system != credentials.SystemPlatform {
				return fmt.Errorf("unknown system %q (expected forge or platform)", args[0])
			}

			path := credsFile
			if path == "" {
				path = credentials.DefaultPath()
			}
			manager, err := credentials.NewManager(path)
			if err != nil {
				return err
			}

			existing, _ := manager.Get(system)
			creds := &credentials.Credentials{}
			if existing != nil {
				*creds = *existing
			}
			if token != "" {
				creds.Token = token
			}
			if organization != "" {
				creds.Organization = organization
			}
			if collaborator != "" {
				creds.Collaborator = collaborator
			}
			if baseURL != "" {
				creds.BaseURL = baseURL
			}

			if err := manager.Set(system, creds); err != nil {
				return err
			}
			fmt.Printf("Credentials for %s saved to %s\n", system, path)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "bearer token")
	cmd.Flags().StringVar(&organization, "organization", "", "target organization or tenant id")
	cmd.Flags().StringVar(&collaborator, "collaborator", "", "username invited to created repositories (forge only)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "API base URL")

	return cmd
}

func newCredentialsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured remote systems",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := credsFile
			if path == "" {
				path = credentials.DefaultPath()
			}
			manager, err := credentials.NewManager(path)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SYSTEM\tTOKEN\tORGANIZATION\tBASE URL")
			for _, system := range []credentials.System{credentials.SystemForge, credentials.SystemPlatform} {
				creds, err := manager.Get(system)
				if err != nil {
					fmt.Fprintf(w, "%s\t(not configured)\t\t\n", system)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", system, maskToken(creds.Token), creds.Organization, creds.BaseURL)
			}
			return w.Flush()
		},
	}

	return cmd
}

func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}
