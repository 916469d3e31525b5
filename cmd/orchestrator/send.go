package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-orchestrator/internal/api"
)

const (
	defaultAPIAddr     = "http://127.0.0.1:8090"
	defaultSendTimeout = 15 * time.Second
)

func newSendCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send <device> <command> [args...]",
		Short: "Send command text to a running device",
		Long: `Send one line of command text to a device through a node's API and
print the device's reply.

Examples:
  orchestrator send station CLAIM
  orchestrator send station SCHEDULE station-night
  orchestrator send dish1 RELEASE`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resp, err := sendCommand(ctx, http.DefaultClient, addr, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", resp.Device, resp.Command, resp.Result)
			if !resp.OK {
				return fmt.Errorf("device answered %s", resp.Result)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "api", defaultAPIAddr, "base URL of the node's API")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultSendTimeout, "how long to wait for the reply")
	return cmd
}

// sendCommand posts text to the device's command endpoint.
//
// Returns:
//   - *api.CommandResponse: The device's reply, including refusals
//   - error: Transport failures and non-protocol HTTP errors (404, 5xx)
func sendCommand(ctx context.Context, client *http.Client, base, device, text string) (*api.CommandResponse, error) {
	body, err := json.Marshal(api.CommandRequest{Command: text})
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(base, "/") + "/api/v1/devices/" + url.PathEscape(device) + "/commands"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending command: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading reply: %w", err)
	}

	var out api.CommandResponse
	if err := json.Unmarshal(data, &out); err == nil && out.Device != "" {
		return &out, nil
	}

	var apiErr api.Error
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Message != "" {
		return nil, fmt.Errorf("%s (%d %s)", apiErr.Message, resp.StatusCode, apiErr.Code)
	}
	return nil, fmt.Errorf("unexpected reply: %s", resp.Status)
}
