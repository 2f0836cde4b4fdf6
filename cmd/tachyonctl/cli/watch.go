package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"project-tachyon/internal/logger"
	"project-tachyon/internal/orchestrator"
)

var watchCmd = &cobra.Command{
	Use:   "watch [job-id]",
	Short: "Stream live progress events; filters to one job if an id is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireToken(); err != nil {
			return err
		}

		var filterID string
		if len(args) == 1 {
			filterID = args[0]
		}

		req, err := http.NewRequest(http.MethodGet, serverAddr+"/v1/events", nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-Tachyon-Token", apiToken)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to connect to event stream: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned %d while opening event stream", resp.StatusCode)
		}

		scanner := bufio.NewScanner(resp.Body)
		var eventType string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if eventType == "log" {
					var logEv logger.LogEvent
					if err := json.Unmarshal([]byte(payload), &logEv); err == nil {
						fmt.Printf("[log] %s %s\n", logEv.Level, logEv.Message)
					}
					continue
				}
				var job orchestrator.JobSummary
				if err := json.Unmarshal([]byte(payload), &job); err != nil {
					continue
				}
				if filterID != "" && job.ID != filterID {
					continue
				}
				fmt.Printf("[%s] %s %s %d/%d %.0f B/s\n",
					eventType, job.ID, job.Status, job.ReceivedBytes, job.TotalBytes, job.SpeedBPS)
			}
		}
		return scanner.Err()
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
