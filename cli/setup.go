package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Oudwins/clawd/internals/core"
	"github.com/spf13/cobra"
)

func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Store the agent API key and provision the backend",
		Long: `setup saves the agent's API key (from --api-key or GEMINI_API_KEY) so later
runs can pass it to the agent, then creates and starts the backend and waits
for it to become ready.`,
		Args: noArgs,
		RunE: runSetup,
	}
	cmd.Flags().String("api-key", "", "API key to store (default: $GEMINI_API_KEY)")
	cmd.Flags().Bool("skip-backend", false, "Only store credentials")
	return cmd
}

func runSetup(cmd *cobra.Command, args []string) error {
	apiKey, _ := cmd.Flags().GetString("api-key")
	skipBackend, _ := cmd.Flags().GetBool("skip-backend")
	out := cmd.OutOrStdout()

	return withBase(cmd, nil, func(base *core.BaseServer) error {
		ctx := cmd.Context()
		apiKey = strings.TrimSpace(apiKey)
		if apiKey == "" {
			apiKey = base.Env.GEMINI_API_KEY
		}
		if apiKey != "" {
			if err := base.Store.SetValue(ctx, core.GeminiAPIKey, apiKey); err != nil {
				return err
			}
			fmt.Fprintln(out, "API key stored.")
		} else {
			base.Logger.Warn("no API key given; the agent must find credentials on its own")
		}

		if skipBackend {
			return nil
		}
		state, err := base.Controller.EnsureReady(ctx)
		fmt.Fprintf(out, "Backend %s: %s\n", base.Config.Backend.Name, state)
		if err != nil {
			base.Logger.Error("backend provisioning failed", slog.String("error", err.Error()))
			return err
		}
		return nil
	})
}
