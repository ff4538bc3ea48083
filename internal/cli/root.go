// Package cli implements the uplinkctl commands. uplinkctl talks to the
// diagnostics API of a running uplinkd, typically over the device's local
// network.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by every command.
type RootOptions struct {
	Addr    string
	Timeout time.Duration
	JSON    bool
}

// NewRootCommand creates the root command for uplinkctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "uplinkctl",
		Short: "Inspect and manage a running uplinkd",
	}

	cmd.PersistentFlags().StringVar(&opts.Addr, "addr", "http://127.0.0.1:9180", "diagnostics API address")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "request timeout")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print raw JSON responses")

	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

func (o *RootOptions) httpClient() *http.Client {
	return &http.Client{Timeout: o.Timeout}
}

// getJSON fetches one API resource and decodes it into out.
func (o *RootOptions) getJSON(path string, out any) error {
	resp, err := o.httpClient().Get(o.Addr + path)
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
	return json.Unmarshal(payload, out)
}

func apiError(status int, payload []byte) error {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Message != "" {
		return fmt.Errorf("http %d %s: %s", status, body.Code, body.Message)
	}
	return fmt.Errorf("http %d", status)
}
