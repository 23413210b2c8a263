package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"shardnode/registry"
	"shardnode/shard"
)

func newAssignCmd() *cobra.Command {
	var etcdEndpoint, prefix, modelID, nodeID string
	var startLayer, endLayer, nLayers int
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Record a shard assignment in the registry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sh := shard.Shard{
				ModelID:    modelID,
				StartLayer: startLayer,
				EndLayer:   endLayer,
				NLayers:    nLayers,
			}
			if err := sh.Validate(); err != nil {
				return err
			}
			reg, err := registry.New(etcdEndpoint, prefix)
			if err != nil {
				return err
			}
			defer reg.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := reg.PutAssignment(ctx, nodeID, sh); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "assigned %s to %s\n", sh.String(), nodeID)
			return nil
		},
	}
	cmd.Flags().StringVar(&etcdEndpoint, "etcd", "http://127.0.0.1:2379", "etcd endpoint")
	cmd.Flags().StringVar(&prefix, "prefix", defaultRegistryPrefix, "Registry key prefix")
	cmd.Flags().StringVar(&modelID, "model", "", "Model id")
	cmd.Flags().StringVar(&nodeID, "node", "", "Node id")
	cmd.Flags().IntVar(&startLayer, "start-layer", 0, "First layer of the shard")
	cmd.Flags().IntVar(&endLayer, "end-layer", 0, "Last layer of the shard")
	cmd.Flags().IntVar(&nLayers, "n-layers", 0, "Total layers in the model")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("node")
	_ = cmd.MarkFlagRequired("n-layers")
	return cmd
}
