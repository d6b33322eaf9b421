package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// The status and queue commands talk to a running daemon over its local
// control API.

func controlClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

func statusCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync engine status and queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return controlGet(cmd, addr, "/api/v1/sync/status")
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "daemon control address")
	return cmd
}

func queueCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the pending operation queue",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:8787", "daemon control address")

	var failed bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List pending (or failed) operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/queue/pending"
			if failed {
				path = "/api/v1/queue/failed"
			}
			return controlGet(cmd, addr, path)
		},
	}
	listCmd.Flags().BoolVar(&failed, "failed", false, "list terminally failed operations")

	retryCmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Requeue a failed operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return controlDo(cmd, addr, http.MethodPost, "/api/v1/queue/"+args[0]+"/retry")
		},
	}

	discardCmd := &cobra.Command{
		Use:   "discard <id>",
		Short: "Permanently discard an operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return controlDo(cmd, addr, http.MethodDelete, "/api/v1/queue/"+args[0])
		},
	}

	cmd.AddCommand(listCmd, retryCmd, discardCmd)
	return cmd
}

func controlGet(cmd *cobra.Command, addr, path string) error {
	return controlDo(cmd, addr, http.MethodGet, path)
}

func controlDo(cmd *cobra.Command, addr, method, path string) error {
	url := "http://" + strings.TrimPrefix(addr, "http://") + path

	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return err
	}

	resp, err := controlClient().Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
	return nil
}
