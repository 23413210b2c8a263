package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"shardnode/common"
	"shardnode/node"
	"shardnode/peer"
	"shardnode/registry"
	"shardnode/shard"
	"shardnode/topology"
)

var defaultConfigPath = common.LoadEnv("SHARDNODE_CONFIG_PATH", "/etc/shardnode/config.json")

type configStruct struct {
	NodeID         string             `json:"node_id"`
	ListenEndpoint string             `json:"listen_endpoint"`
	Shard          shard.Shard        `json:"shard"`
	Peers          map[string]peerRaw `json:"peers"`
	EtcdEndpoint   string             `json:"etcd_endpoint"`
	RegistryPrefix string             `json:"registry_prefix"`
	Device         deviceRaw          `json:"device"`
	RequestTTLSec  int                `json:"request_ttl_seconds"`
}

type peerRaw struct {
	Endpoint    string `json:"endpoint"`
	Description string `json:"description"`
	// Shard is optional; deployments without a registry declare peer
	// assignments statically here.
	Shard *shard.Shard `json:"shard,omitempty"`
}

type deviceRaw struct {
	Model  string  `json:"model"`
	Chip   string  `json:"chip"`
	Memory int64   `json:"memory"`
	FP32   float64 `json:"fp32"`
	FP16   float64 `json:"fp16"`
	Int8   float64 `json:"int8"`
}

const defaultRegistryPrefix = "/shardnode/assignments/"

func parseConfig(path string) (*configStruct, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var cfg configStruct
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config: %w", err)
	}
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("config: node_id is required")
	}
	if cfg.ListenEndpoint == "" {
		return nil, fmt.Errorf("config: listen_endpoint is required")
	}
	if err := cfg.Shard.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.RegistryPrefix == "" {
		cfg.RegistryPrefix = defaultRegistryPrefix
	}
	for id, p := range cfg.Peers {
		if _, _, err := common.ParseEndpoint(p.Endpoint); err != nil {
			return nil, fmt.Errorf("config: peer %s: %w", id, err)
		}
	}
	cfg.RequestTTLSec = common.LoadIntEnv("SHARDNODE_REQUEST_TTL", cfg.RequestTTLSec)
	return &cfg, nil
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cluster node service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
				if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
					slog.Warn("sentry init failed", "error", err)
				} else {
					defer sentry.Flush(2 * time.Second)
				}
			}
			if err := serve(configPath); err != nil {
				sentry.CaptureException(err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "Path to the node config file")
	return cmd
}

func serve(configPath string) error {
	cfg, err := parseConfig(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting cluster node service", "node_id", cfg.NodeID, "shard", cfg.Shard.String())

	store := topology.NewStore()

	n := node.New(node.Config{
		ID: cfg.NodeID,
		Capabilities: topology.DeviceCapabilities{
			Model:  cfg.Device.Model,
			Chip:   cfg.Device.Chip,
			Memory: cfg.Device.Memory,
			Flops: topology.DeviceFlops{
				FP32: cfg.Device.FP32,
				FP16: cfg.Device.FP16,
				Int8: cfg.Device.Int8,
			},
		},
		Shard:      cfg.Shard,
		Engine:     node.DummyEngine{},
		Store:      store,
		RequestTTL: time.Duration(cfg.RequestTTLSec) * time.Second,
	})

	if cfg.EtcdEndpoint != "" {
		reg, err := registry.New(cfg.EtcdEndpoint, cfg.RegistryPrefix)
		if err != nil {
			return fmt.Errorf("failed to connect to registry: %w", err)
		}
		defer reg.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := reg.PutAssignment(ctx, cfg.NodeID, cfg.Shard); err != nil {
			return fmt.Errorf("failed to register shard assignment: %w", err)
		}
		count, err := reg.Seed(ctx, cfg.Shard.ModelID, store)
		if err != nil {
			return fmt.Errorf("failed to seed assignments: %w", err)
		}
		slog.Info("seeded shard assignments from registry", "model", cfg.Shard.ModelID, "count", count)
	}

	server := peer.NewServer(peer.ServerConfig{Endpoint: cfg.ListenEndpoint}, n)
	if err := server.Start(); err != nil {
		return err
	}
	defer server.Stop()

	n.Start()
	defer n.Stop()

	for id, raw := range cfg.Peers {
		link := peer.NewLink(peer.LinkConfig{
			LocalID:     cfg.NodeID,
			PeerID:      id,
			Endpoint:    raw.Endpoint,
			Description: raw.Description,
		})
		if err := link.Connect(); err != nil {
			slog.Warn("failed to connect peer link, will retry on use", "peer", id, "error", err)
		}
		n.AddPeer(link)
		if raw.Shard != nil {
			if err := raw.Shard.Validate(); err != nil {
				return fmt.Errorf("config: peer %s: %w", id, err)
			}
			store.SetAssignment(id, *raw.Shard)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("node is running, press Ctrl+C to stop")
	<-sigChan

	slog.Info("shutting down")
	return nil
}
