package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// NewWatchCommand creates the watch command, a live view over the status
// WebSocket stream.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "watch",
		Short:        "Follow live status updates",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			wsURL := strings.Replace(rootOpts.Addr, "http", "ws", 1) + "/v1/status/stream"
			ctx := cmd.Context()

			conn, _, err := websocket.Dial(ctx, wsURL, nil)
			if err != nil {
				return fmt.Errorf("connecting to %s: %w", wsURL, err)
			}
			defer conn.Close(websocket.StatusNormalClosure, "watch done")

			for {
				var status deviceStatus
				if err := wsjson.Read(ctx, conn, &status); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				if rootOpts.JSON {
					if err := json.NewEncoder(cmd.OutOrStdout()).Encode(status); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  state=%s queued=%d probeOk=%v\n",
					status.Time, status.ConnectionState,
					status.Queue.CachedSize, status.Sync.LastProbeOK)
			}
		},
	}
}
