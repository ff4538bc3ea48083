package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// deviceStatus mirrors the GET /v1/status response body.
type deviceStatus struct {
	DeviceID        string `json:"deviceId"`
	TeamID          string `json:"teamId"`
	OrchestratorURL string `json:"orchestratorUrl"`
	ConnectionState string `json:"connectionState"`
	Queue           struct {
		CachedSize    int    `json:"cachedSize"`
		FileLineCount int    `json:"fileLineCount"`
		FileSizeBytes int64  `json:"fileSizeBytes"`
		FreeBytes     uint64 `json:"freeBytes"`
	} `json:"queue"`
	Sync struct {
		LastProbeAt      string `json:"lastProbeAt"`
		LastProbeOK      bool   `json:"lastProbeOk"`
		LastDrainBatches int    `json:"lastDrainBatches"`
		LastDrainError   string `json:"lastDrainError"`
	} `json:"sync"`
	Time string `json:"time"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "status",
		Short:        "Show connection state and queue depth",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status deviceStatus
			if err := rootOpts.getJSON("/v1/status", &status); err != nil {
				return err
			}
			if rootOpts.JSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(status)
			}
			printStatus(cmd, status)
			return nil
		},
	}
}

func printStatus(cmd *cobra.Command, status deviceStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "device:       %s\n", status.DeviceID)
	if status.TeamID != "" {
		fmt.Fprintf(out, "team:         %s\n", status.TeamID)
	}
	fmt.Fprintf(out, "orchestrator: %s\n", status.OrchestratorURL)
	fmt.Fprintf(out, "connection:   %s\n", status.ConnectionState)
	fmt.Fprintf(out, "queued scans: %d (file lines %d, %d bytes, %d free)\n",
		status.Queue.CachedSize, status.Queue.FileLineCount,
		status.Queue.FileSizeBytes, status.Queue.FreeBytes)
	if status.Sync.LastProbeAt != "" {
		fmt.Fprintf(out, "last probe:   ok=%v at %s\n", status.Sync.LastProbeOK, status.Sync.LastProbeAt)
	}
	if status.Sync.LastDrainError != "" {
		fmt.Fprintf(out, "last drain:   %d batches, error: %s\n",
			status.Sync.LastDrainBatches, status.Sync.LastDrainError)
	}
}
