package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"project-tachyon/internal/orchestrator"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every known job",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireToken(); err != nil {
			return err
		}

		var jobs []orchestrator.JobSummary
		if err := newClient().do("GET", "/v1/jobs", nil, &jobs); err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tFILENAME\tRECEIVED/TOTAL\tSPEED")
		for _, j := range jobs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%.0f B/s\n",
				j.ID, j.Status, j.Filename, j.ReceivedBytes, j.TotalBytes, j.SpeedBPS)
		}
		return tw.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show one job's full detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireToken(); err != nil {
			return err
		}

		var job orchestrator.JobSummary
		if err := newClient().do("GET", "/v1/jobs/"+args[0], nil, &job); err != nil {
			return err
		}

		fmt.Printf("%+v\n", job)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd, getCmd)
}
