package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aviary-labs/voxadmin/config"
	"github.com/aviary-labs/voxadmin/registry"
	"github.com/aviary-labs/voxadmin/toolcfg"
)

// NewToolsCmd creates the "tools" command group.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool registry",
	}
	cmd.PersistentFlags().String("registry-url", "", "Tool registry base URL")
	cmd.PersistentFlags().String("user", "", "Registry user id")
	cmd.PersistentFlags().String("token-env", config.DefaultTokenEnv, "Environment variable holding the bearer token")

	cmd.AddCommand(newToolsListCmd())
	cmd.AddCommand(newToolsInspectCmd())

	return cmd
}

func newToolsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registry tools for a user",
		Args:  cobra.NoArgs,
		RunE:  runToolsList,
	}
}

func runToolsList(cmd *cobra.Command, _ []string) error {
	gateway, userID, err := resolveGateway(cmd)
	if err != nil {
		return err
	}

	summaries, err := gateway.ListTools(cmd.Context(), userID)
	if err != nil {
		return exitError(exitGateway, "listing tools: %v", err)
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "TOOL ID\tCREATED")
	for _, summary := range summaries {
		fmt.Fprintf(writer, "%s\t%s\n", summary.ToolID, summary.CreatedAt)
	}
	return writer.Flush()
}

func newToolsInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <tool-id>",
		Short: "Show a registry tool document",
		Args:  cobra.ExactArgs(1),
		RunE:  runToolsInspect,
	}
}

func runToolsInspect(cmd *cobra.Command, args []string) error {
	gateway, userID, err := resolveGateway(cmd)
	if err != nil {
		return err
	}

	doc, err := gateway.GetTool(cmd.Context(), userID, args[0])
	if err != nil {
		if errors.Is(err, toolcfg.ErrToolNotFound) {
			return exitError(exitFileNotFound, "tool not found: %s", args[0])
		}
		return exitError(exitGateway, "fetching tool: %v", err)
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding tool document: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func resolveGateway(cmd *cobra.Command) (toolcfg.Gateway, string, error) {
	baseURL, _ := cmd.Flags().GetString("registry-url")
	userID, _ := cmd.Flags().GetString("user")
	tokenEnv, _ := cmd.Flags().GetString("token-env")

	if strings.TrimSpace(baseURL) == "" {
		return nil, "", exitError(exitValidation, "--registry-url is required")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, "", exitError(exitValidation, "--user is required")
	}
	token := strings.TrimSpace(os.Getenv(tokenEnv))
	if token == "" {
		return nil, "", exitError(exitValidation, "registry token env %s is empty", tokenEnv)
	}

	client, err := registry.NewClient(registry.ClientConfig{
		BaseURL: baseURL,
		Tokens:  registry.StaticTokenSource(token),
	})
	if err != nil {
		return nil, "", exitError(exitValidation, "%v", err)
	}
	return client, userID, nil
}
