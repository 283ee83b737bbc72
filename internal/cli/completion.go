package cli

import (
	"strings"

	"gosyncprogress/internal/progress"

	"github.com/spf13/cobra"
)

// ActionCompletion provides shell completion for the enqueue action argument
func ActionCompletion() func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) >= 1 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		var completions []string
		for _, action := range progress.AllActions() {
			if strings.HasPrefix(string(action), strings.ToLower(toComplete)) {
				completions = append(completions, string(action))
			}
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	}
}

// PriorityCompletion completes the --priority flag
func PriorityCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var completions []string
	for _, p := range []progress.Priority{progress.PriorityLow, progress.PriorityNormal, progress.PriorityHigh} {
		if strings.HasPrefix(p.String(), strings.ToLower(toComplete)) {
			completions = append(completions, p.String())
		}
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}
