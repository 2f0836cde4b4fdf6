// Package cli implements tachyonctl's cobra command tree. Every verb
// but "serve" is a thin HTTP client over internal/api's control-plane
// surface, since list/pause/resume/cancel all need to reach a job a
// previous invocation started — exactly the "external HTTP adapter"
// boundary SPEC_FULL.md draws around internal/api.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
	apiToken   string
)

var rootCmd = &cobra.Command{
	Use:   "tachyonctl",
	Short: "Control Project Tachyon's download queue from the command line",
	Long: `tachyonctl drives a running Project Tachyon control-plane server.

Start the server once with 'tachyonctl serve', then queue, inspect, and
control downloads from any number of separate tachyonctl invocations:

  tachyonctl serve &
  tachyonctl --token <token> add https://example.com/file.bin
  tachyonctl --token <token> list
  tachyonctl --token <token> watch <job-id>
  tachyonctl --token <token> pause <job-id>

'tachyonctl serve' prints the token when it starts.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://127.0.0.1:4444", "control-plane server address")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "control-plane API token (required for all commands but serve)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func requireToken() error {
	if apiToken == "" {
		return fmt.Errorf("--token is required (tachyonctl serve prints it when it starts)")
	}
	return nil
}
