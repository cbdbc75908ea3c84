package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Oudwins/clawd/internals/core"
	"github.com/Oudwins/clawd/internals/schemas"
	"github.com/spf13/cobra"

	z "github.com/Oudwins/zog"
)

// ErrRunFailed is returned when a run does not succeed. It wraps the backend
// error when there is one.
var ErrRunFailed = errors.New("run failed")

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Send one prompt to the agent and print the transcript",
		Args:  noArgs,
		RunE:  runRun,
	}
	cmd.Flags().StringP("prompt", "p", "", "Prompt to send (required)")
	cmd.Flags().StringP("target", "t", "", "Workspace directory the agent runs in (default: agent.default_target)")
	cmd.Flags().Bool("json", false, "Print the result as JSON")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	prompt, _ := flags.GetString("prompt")
	target, _ := flags.GetString("target")
	asJSON, _ := flags.GetBool("json")

	return withBase(cmd, nil, func(base *core.BaseServer) error {
		req := schemas.RunRequest{Prompt: prompt, Target: target}
		if req.Target == "" {
			req.Target = base.Config.Agent.DefaultTarget
		}
		if issues := schemas.RunRequestSchema.Validate(&req); len(issues) > 0 {
			return fmt.Errorf("%w: %s", ErrUsage, z.Issues.Prettify(issues))
		}

		result, execErr := base.Controller.Execute(cmd.Context(), schemas.NewInteractiveRequest(req.Prompt, req.Target, true))
		out := cmd.OutOrStdout()
		if asJSON {
			encoder := json.NewEncoder(out)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(result); err != nil {
				return err
			}
		} else if result.OK() {
			fmt.Fprintln(out, result.Transcript)
		}
		if execErr != nil {
			return fmt.Errorf("%w: %w", ErrRunFailed, execErr)
		}
		if !result.OK() {
			return fmt.Errorf("%w: %s", ErrRunFailed, result.Error)
		}
		return nil
	})
}
