package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

const validConfig = `{
  "node_id": "n1",
  "listen_endpoint": "tcp://*:52415",
  "shard": {"model_id": "m", "start_layer": 0, "end_layer": 3, "n_layers": 12},
  "peers": {
    "n2": {"endpoint": "tcp://10.0.0.2:52415", "description": "lan"}
  },
  "request_ttl_seconds": 120
}`

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if cfg.RegistryPrefix != defaultRegistryPrefix {
		t.Errorf("RegistryPrefix = %q, want the default %q", cfg.RegistryPrefix, defaultRegistryPrefix)
	}
	if cfg.RequestTTLSec != 120 {
		t.Errorf("RequestTTLSec = %d, want 120", cfg.RequestTTLSec)
	}
}

func TestParseConfigTTLEnvOverride(t *testing.T) {
	t.Setenv("SHARDNODE_REQUEST_TTL", "30")
	cfg, err := parseConfig(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if cfg.RequestTTLSec != 30 {
		t.Errorf("RequestTTLSec = %d, want the env override 30", cfg.RequestTTLSec)
	}
}

func TestParseConfigRejectsBadPeerEndpoint(t *testing.T) {
	bad := `{
  "node_id": "n1",
  "listen_endpoint": "tcp://*:52415",
  "shard": {"model_id": "m", "start_layer": 0, "end_layer": 3, "n_layers": 12},
  "peers": {"n2": {"endpoint": "10.0.0.2:52415"}}
}`
	if _, err := parseConfig(writeConfig(t, bad)); err == nil {
		t.Fatalf("Expected a peer endpoint without a scheme to be rejected")
	}
}

func TestParseConfigRequiredFields(t *testing.T) {
	for name, body := range map[string]string{
		"missing node_id":  `{"listen_endpoint": "tcp://*:1", "shard": {"model_id": "m", "start_layer": 0, "end_layer": 0, "n_layers": 1}}`,
		"missing endpoint": `{"node_id": "n1", "shard": {"model_id": "m", "start_layer": 0, "end_layer": 0, "n_layers": 1}}`,
		"invalid shard":    `{"node_id": "n1", "listen_endpoint": "tcp://*:1", "shard": {"model_id": "m", "start_layer": 3, "end_layer": 0, "n_layers": 1}}`,
	} {
		if _, err := parseConfig(writeConfig(t, body)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}
