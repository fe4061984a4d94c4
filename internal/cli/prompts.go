package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-audit/internal/agent"
)

var promptsAgent string

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Print the fixed system prompt of each agent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		printed := 0
		for _, at := range agent.Types() {
			if promptsAgent != "" && !strings.EqualFold(promptsAgent, at.String()) {
				continue
			}
			if printed > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "===== %s =====\n%s\n", at, agent.SystemPrompt(at))
			printed++
		}
		if printed == 0 {
			return fmt.Errorf("unknown agent %q (want parser, extractor or classifier)", promptsAgent)
		}
		return nil
	},
}

func init() {
	promptsCmd.Flags().StringVar(&promptsAgent, "agent", "", "print only this agent's prompt")
}
