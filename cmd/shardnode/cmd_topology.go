package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"shardnode/peer"
	"shardnode/wire"
)

func newTopologyCmd() *cobra.Command {
	var endpoint string
	var depth int
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Collect and print the cluster topology as seen from a node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			link := peer.NewLink(peer.LinkConfig{
				PeerID:      endpoint,
				Endpoint:    endpoint,
				CallTimeout: timeout,
			})
			defer link.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			topo, err := link.CollectTopology(ctx, wire.TopologyRequest{MaxDepth: depth})
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(topo, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "tcp://127.0.0.1:52415", "Node service endpoint to query")
	cmd.Flags().IntVar(&depth, "depth", 4, "Maximum discovery depth")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Overall call timeout")
	return cmd
}
