package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	cluster "github.com/AnishMulay/tfs/internal/cluster_service"
	"github.com/AnishMulay/tfs/internal/log_service"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	EtcdDialTimeout = 5 * time.Second
	DefaultLeaseTTL = 10 // seconds
	DefaultPrefix   = "/tfs/"

	nodesDir  = "nodes/"
	leasesDir = "leases/"
)

type Options struct {
	Endpoints []string
	// LeaseTTL is in seconds.
	LeaseTTL int64
	Prefix   string
}

type EtcdClusterService struct {
	mu     sync.RWMutex
	client *clientv3.Client
	opts   Options
	ls     log_service.LogService

	// Local identity
	selfNode cluster.ClusterNode
	leaseID  clientv3.LeaseID

	// Local Cache
	configCache map[string]cluster.ClusterNode
	// Map of NodeID -> NodeLiveness (Dynamic State)
	livenessCache map[string]cluster.NodeLiveness

	// Callbacks
	watchCallbacks []func()

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewEtcdClusterService(opts Options, ls log_service.LogService) *EtcdClusterService {
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	return &EtcdClusterService{
		opts:          opts,
		ls:            ls,
		configCache:   make(map[string]cluster.ClusterNode),
		livenessCache: make(map[string]cluster.NodeLiveness),
		stopCh:        make(chan struct{}),
	}
}

func (s *EtcdClusterService) nodeKey(id string) string  { return s.opts.Prefix + nodesDir + id }
func (s *EtcdClusterService) leaseKey(id string) string { return s.opts.Prefix + leasesDir + id }

func (s *EtcdClusterService) Start(ctx context.Context) error {
	s.ls.Info(log_service.LogEvent{Message: "Starting EtcdClusterService", Metadata: map[string]any{"endpoints": s.opts.Endpoints}})

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   s.opts.Endpoints,
		DialTimeout: EtcdDialTimeout,
		Context:     ctx,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to etcd: %w", err)
	}
	s.client = cli

	if err := s.syncState(ctx); err != nil {
		_ = cli.Close()
		return err
	}

	s.wg.Add(1)
	go s.watchLoop()

	return nil
}

func (s *EtcdClusterService) Stop(ctx context.Context) error {
	s.ls.Info(log_service.LogEvent{Message: "Stopping EtcdClusterService"})
	if s.client == nil {
		return nil
	}

	var err error
	s.stopOnce.Do(func() {
		close(s.stopCh)

		s.mu.RLock()
		leaseID := s.leaseID
		s.mu.RUnlock()

		// Revoking drops the liveness key at once instead of after the TTL.
		if leaseID != 0 {
			if _, rerr := s.client.Revoke(ctx, leaseID); rerr != nil {
				s.ls.Warn(log_service.LogEvent{Message: "Failed to revoke lease during shutdown", Metadata: map[string]any{"error": rerr.Error()}})
			}
		}

		err = s.client.Close()
		s.wg.Wait()
	})
	return err
}

func (s *EtcdClusterService) RegisterNode(ctx context.Context, node cluster.ClusterNode) error {
	if err := node.Validate(); err != nil {
		return err
	}
	if s.client == nil {
		return cluster.ErrNotStarted
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.configCache[node.ID]; ok && existing.Address != node.Address {
		s.ls.Warn(log_service.LogEvent{
			Message:  "Node re-registering with a new address",
			Metadata: map[string]any{"id": node.ID, "old": existing.Address, "new": node.Address},
		})
	}

	s.selfNode = node

	cfg, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to encode node: %w", err)
	}
	if _, err := s.client.Put(ctx, s.nodeKey(node.ID), string(cfg)); err != nil {
		return fmt.Errorf("failed to put node key: %w", err)
	}

	resp, err := s.client.Grant(ctx, s.opts.LeaseTTL)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}
	s.leaseID = resp.ID

	liveness := cluster.NodeLiveness{
		NodeID:        node.ID,
		Status:        cluster.NodeStatusAlive,
		LeaseID:       int64(s.leaseID),
		LastRenewedAt: time.Now(),
	}
	val, err := json.Marshal(liveness)
	if err != nil {
		return fmt.Errorf("failed to encode liveness: %w", err)
	}

	if _, err := s.client.Put(ctx, s.leaseKey(node.ID), string(val), clientv3.WithLease(s.leaseID)); err != nil {
		return fmt.Errorf("failed to put liveness key: %w", err)
	}

	s.ls.Info(log_service.LogEvent{
		Message:  "Node Registered in Cluster",
		Metadata: map[string]any{"id": node.ID, "leaseID": int64(s.leaseID), "ttl": s.opts.LeaseTTL},
	})

	s.wg.Add(1)
	go s.heartbeatLoop(s.leaseID)

	return nil
}

func (s *EtcdClusterService) heartbeatLoop(leaseID clientv3.LeaseID) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.client.KeepAlive(ctx, leaseID)
	if err != nil {
		s.ls.Error(log_service.LogEvent{Message: "Failed to start keepalive channel", Metadata: map[string]any{"error": err.Error()}})
		return
	}

	for {
		select {
		case <-s.stopCh:
			return
		case _, ok := <-ch:
			if !ok {
				select {
				case <-s.stopCh:
				default:
					s.ls.Error(log_service.LogEvent{Message: "Etcd keepalive channel closed unexpectedly"})
				}
				return
			}
		}
	}
}

func (s *EtcdClusterService) syncState(ctx context.Context) error {
	respCfg, err := s.client.Get(ctx, s.opts.Prefix+nodesDir, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}
	respLease, err := s.client.Get(ctx, s.opts.Prefix+leasesDir, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("failed to list leases: %w", err)
	}

	for _, kv := range respCfg.Kvs {
		s.apply(clientv3.EventTypePut, string(kv.Key), kv.Value)
	}
	for _, kv := range respLease.Kvs {
		s.apply(clientv3.EventTypePut, string(kv.Key), kv.Value)
	}
	return nil
}

func (s *EtcdClusterService) watchLoop() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchCh := s.client.Watch(ctx, s.opts.Prefix, clientv3.WithPrefix())

	for {
		select {
		case <-s.stopCh:
			return
		case resp, ok := <-watchCh:
			if !ok {
				return
			}
			for _, ev := range resp.Events {
				s.apply(ev.Type, string(ev.Kv.Key), ev.Kv.Value)
			}
			if len(resp.Events) > 0 {
				s.notifyWatchers()
			}
		}
	}
}

// apply folds one key change into the caches.
func (s *EtcdClusterService) apply(typ mvccpb.Event_EventType, key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := strings.CutPrefix(key, s.opts.Prefix+nodesDir); ok && id != "" {
		switch typ {
		case clientv3.EventTypePut:
			var n cluster.ClusterNode
			if err := json.Unmarshal(value, &n); err == nil {
				s.configCache[n.ID] = n
			}
		case clientv3.EventTypeDelete:
			delete(s.configCache, id)
		}
		return
	}

	if id, ok := strings.CutPrefix(key, s.opts.Prefix+leasesDir); ok && id != "" {
		switch typ {
		case clientv3.EventTypePut:
			var l cluster.NodeLiveness
			if err := json.Unmarshal(value, &l); err == nil {
				s.livenessCache[l.NodeID] = l
			}
		case clientv3.EventTypeDelete:
			if entry, ok := s.livenessCache[id]; ok {
				entry.Status = cluster.NodeStatusDown
				s.livenessCache[id] = entry
			}
		}
	}
}

func (s *EtcdClusterService) notifyWatchers() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cb := range s.watchCallbacks {
		go cb()
	}
}

func (s *EtcdClusterService) Watch(callback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchCallbacks = append(s.watchCallbacks, callback)
}

func (s *EtcdClusterService) GetHealthyNodes() ([]cluster.SafeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var nodes []cluster.SafeNode
	for id, cfg := range s.configCache {
		liveness, hasLease := s.livenessCache[id]
		if hasLease && liveness.Status == cluster.NodeStatusAlive {
			nodes = append(nodes, safeNode(cfg, cluster.NodeStatusAlive))
		}
	}
	cluster.SortNodes(nodes)
	return nodes, nil
}

func (s *EtcdClusterService) GetAllNodes() ([]cluster.SafeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]cluster.SafeNode, 0, len(s.configCache))
	for id, cfg := range s.configCache {
		status := cluster.NodeStatusDown
		if l, ok := s.livenessCache[id]; ok {
			status = l.Status
		}
		nodes = append(nodes, safeNode(cfg, status))
	}
	cluster.SortNodes(nodes)
	return nodes, nil
}

func safeNode(cfg cluster.ClusterNode, status cluster.NodeStatus) cluster.SafeNode {
	return cluster.SafeNode{
		ID:        cfg.ID,
		Address:   cfg.Address,
		Transport: cfg.Transport,
		Status:    status,
		Metadata:  cfg.Metadata,
	}
}

var _ cluster.ClusterService = (*EtcdClusterService)(nil)
