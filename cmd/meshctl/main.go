// cmd/meshctl is the CLI client for an eventmesh node, built with Cobra.
//
// Usage:
//
//	meshctl event create '{"type":"message_posted","roomId":"r1","author":"alice","body":"hi"}' --server http://localhost:8080
//	meshctl event list                --server http://localhost:8080
//	meshctl clock show                --server http://localhost:8080
//	meshctl projection show room_timeline --server http://localhost:8080
//
// Grounded on the teacher's cmd/client/main.go: a Cobra root command with a
// persistent --server/--timeout flag pair, one subcommand tree per resource,
// and a shared prettyPrint JSON helper.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"eventmesh/internal/meshclient"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "meshctl",
		Short: "CLI client for an eventmesh node",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "eventmesh node address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(eventCmd(), clockCmd(), projectionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── event ──────────────────────────────────────────────────────────────────

func eventCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Create and inspect events",
	}
	cmd.AddCommand(eventCreateCmd(), eventListCmd())
	return cmd
}

func eventCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <payload-json>",
		Short: "Create a new event from a JSON payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload map[string]any
			if err := json.Unmarshal([]byte(args[0]), &payload); err != nil {
				return fmt.Errorf("invalid payload JSON: %w", err)
			}
			c := meshclient.New(serverAddr, timeout)
			resp, err := c.CreateEvent(context.Background(), payload)
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func eventListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every event known to the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := meshclient.New(serverAddr, timeout)
			resp, err := c.ListEvents(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── clock ──────────────────────────────────────────────────────────────────

func clockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clock",
		Short: "Inspect the node's vector clock",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the node's current watermark map",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := meshclient.New(serverAddr, timeout)
			resp, err := c.GetClock(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	})
	return cmd
}

// ─── projection ─────────────────────────────────────────────────────────────

func projectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projection",
		Short: "Inspect and snapshot projections",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <type>",
		Short: "Print a projection's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := meshclient.New(serverAddr, timeout)
			resp, err := c.GetProjection(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(resp)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "save",
		Short: "Force every registered projection to snapshot now",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := meshclient.New(serverAddr, timeout)
			if err := c.SaveProjections(context.Background()); err != nil {
				return err
			}
			fmt.Println("saved")
			return nil
		},
	})

	return cmd
}

// ─── helpers ────────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
