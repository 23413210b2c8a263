// Package registry seeds the topology store with shard assignments kept
// in etcd. Assignment of shard ranges to nodes is made by an external
// planner; this package only reads and writes the records.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"shardnode/shard"
	"shardnode/topology"
)

// key = <prefix><model_id>/<node_id>
// value = JSON shard descriptor

type Assignment struct {
	NodeID string      `json:"node_id"`
	Shard  shard.Shard `json:"shard"`
}

type Registry struct {
	etcdClient *clientv3.Client
	keyPrefix  string
}

func New(connString string, keyPrefix string) (*Registry, error) {
	etcdClient, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{connString},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &Registry{etcdClient: etcdClient, keyPrefix: keyPrefix}, nil
}

func (r *Registry) Close() error {
	return r.etcdClient.Close()
}

func (r *Registry) key(modelID, nodeID string) string {
	return r.keyPrefix + modelID + "/" + nodeID
}

// PutAssignment records which node owns a shard range. Overwrites any
// previous assignment for the same node and model.
func (r *Registry) PutAssignment(ctx context.Context, nodeID string, sh shard.Shard) error {
	if err := sh.Validate(); err != nil {
		return err
	}
	jsonData, err := json.Marshal(sh)
	if err != nil {
		return err
	}
	_, err = r.etcdClient.Put(ctx, r.key(sh.ModelID, nodeID), string(jsonData))
	return err
}

func (r *Registry) GetAssignment(ctx context.Context, modelID, nodeID string) (shard.Shard, bool, error) {
	response, err := r.etcdClient.Get(ctx, r.key(modelID, nodeID))
	if err != nil {
		return shard.Shard{}, false, err
	}
	if len(response.Kvs) == 0 {
		return shard.Shard{}, false, nil
	}
	var sh shard.Shard
	if err := json.Unmarshal(response.Kvs[0].Value, &sh); err != nil {
		return shard.Shard{}, false, err
	}
	return sh, true, nil
}

func (r *Registry) DeleteAssignment(ctx context.Context, modelID, nodeID string) error {
	_, err := r.etcdClient.Delete(ctx, r.key(modelID, nodeID))
	return err
}

// ListAssignments returns every recorded assignment for a model.
func (r *Registry) ListAssignments(ctx context.Context, modelID string) ([]Assignment, error) {
	startRange := r.keyPrefix + modelID + "/"
	stopRange := startRange + string([]byte{0xFF})
	response, err := r.etcdClient.Get(ctx, startRange, clientv3.WithRange(stopRange))
	if err != nil {
		return nil, err
	}
	assignments := make([]Assignment, 0, len(response.Kvs))
	for _, record := range response.Kvs {
		nodeID := string(record.Key[len(startRange):])
		var sh shard.Shard
		if err := json.Unmarshal(record.Value, &sh); err != nil {
			return nil, fmt.Errorf("malformed assignment for %s: %w", nodeID, err)
		}
		assignments = append(assignments, Assignment{NodeID: nodeID, Shard: sh})
	}
	return assignments, nil
}

// Seed loads every assignment for a model into the topology store,
// returning the number loaded.
func (r *Registry) Seed(ctx context.Context, modelID string, store *topology.Store) (int, error) {
	assignments, err := r.ListAssignments(ctx, modelID)
	if err != nil {
		return 0, err
	}
	for _, a := range assignments {
		store.SetAssignment(a.NodeID, a.Shard)
	}
	return len(assignments), nil
}
