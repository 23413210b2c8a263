package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"shardnode/peer"
)

func newHealthCmd() *cobra.Command {
	var endpoint string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe a node's liveness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			link := peer.NewLink(peer.LinkConfig{
				PeerID:      endpoint,
				Endpoint:    endpoint,
				CallTimeout: timeout,
			})
			defer link.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			healthy, err := link.HealthCheck(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "healthy: %v\n", healthy)
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "tcp://127.0.0.1:52415", "Node service endpoint to probe")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Probe timeout")
	return cmd
}
