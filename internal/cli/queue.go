package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage the on-device scan queue",
	}
	cmd.AddCommand(newQueueClearCommand(rootOpts))
	return cmd
}

func newQueueClearCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:          "clear",
		Short:        "Drop every queued scan (destructive)",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear the queue without --yes")
			}
			body := bytes.NewReader([]byte(`{"confirm":true}`))
			resp, err := rootOpts.httpClient().Post(rootOpts.Addr+"/v1/queue/clear", "application/json", body)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			payload, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return apiError(resp.StatusCode, payload)
			}
			var result struct {
				Cleared int `json:"cleared"`
			}
			if err := json.Unmarshal(payload, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d queued scans\n", result.Cleared)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the destructive clear")
	return cmd
}
