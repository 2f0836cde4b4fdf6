package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func controlCommand(use, short, action string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(); err != nil {
				return err
			}
			body := map[string]string{"action": action}
			if err := newClient().do("POST", "/v1/jobs/"+args[0]+"/control", body, nil); err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", action, args[0])
			return nil
		},
	}
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove old completed/failed/cancelled jobs from history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireToken(); err != nil {
			return err
		}
		var out map[string]int
		if err := newClient().do("POST", "/v1/jobs/cleanup", nil, &out); err != nil {
			return err
		}
		fmt.Printf("removed %d jobs\n", out["removed"])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(
		controlCommand("pause", "Pause a downloading job", "pause"),
		controlCommand("resume", "Resume a paused job", "resume"),
		controlCommand("cancel", "Cancel a job permanently", "cancel"),
		controlCommand("remove", "Remove a terminal job's history entry", "remove"),
		cleanupCmd,
	)
}
