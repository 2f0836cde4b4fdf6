package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	addFilename    string
	addConnections int
	addPriority    int
	addAdaptive    bool
	addDestDir     string
)

var addCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Queue a new download",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireToken(); err != nil {
			return err
		}

		req := map[string]any{
			"url":         args[0],
			"filename":    addFilename,
			"connections": addConnections,
			"priority":    addPriority,
			"adaptive":    addAdaptive,
			"dest_dir":    addDestDir,
		}
		var out map[string]string
		if err := newClient().do("POST", "/v1/jobs", req, &out); err != nil {
			return err
		}

		fmt.Println(out["id"])
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&addFilename, "filename", "", "override the destination filename")
	addCmd.Flags().IntVar(&addConnections, "connections", 4, "number of parallel connections")
	addCmd.Flags().IntVar(&addPriority, "priority", 1, "bandwidth priority: 0=low, 1=normal, 2=high")
	addCmd.Flags().BoolVar(&addAdaptive, "adaptive", false, "enable adaptive connection scaling")
	addCmd.Flags().StringVar(&addDestDir, "dest", ".", "destination directory")
	rootCmd.AddCommand(addCmd)
}
