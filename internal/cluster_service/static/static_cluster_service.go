package static

import (
	"context"
	"fmt"
	"strings"
	"sync"

	cluster "github.com/AnishMulay/tfs/internal/cluster_service"
	"github.com/AnishMulay/tfs/internal/log_service"
)

// StaticClusterService serves membership from a fixed peer list. Peers are
// trusted to be alive; the only dynamic member is the local node.
type StaticClusterService struct {
	mu    sync.RWMutex
	peers []string
	ls    log_service.LogService

	nodes          map[string]cluster.SafeNode
	selfID         string
	started        bool
	watchCallbacks []func()
}

func NewStaticClusterService(peers []string, ls log_service.LogService) *StaticClusterService {
	return &StaticClusterService{
		peers: peers,
		ls:    ls,
		nodes: make(map[string]cluster.SafeNode),
	}
}

// ParsePeer splits "id=address". A bare address is its own id.
func ParsePeer(peer string) (cluster.ClusterNode, error) {
	peer = strings.TrimSpace(peer)
	id, addr, found := strings.Cut(peer, "=")
	if !found {
		addr = id
	}
	node := cluster.ClusterNode{ID: strings.TrimSpace(id), Address: strings.TrimSpace(addr)}
	if err := node.Validate(); err != nil {
		return cluster.ClusterNode{}, fmt.Errorf("%w: %q", cluster.ErrBadPeer, peer)
	}
	return node, nil
}

func (s *StaticClusterService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.peers {
		node, err := ParsePeer(p)
		if err != nil {
			return err
		}
		if _, ok := s.nodes[node.ID]; ok {
			return fmt.Errorf("%w: %s", cluster.ErrNodeAlreadyExists, node.ID)
		}
		s.nodes[node.ID] = cluster.SafeNode{
			ID:      node.ID,
			Address: node.Address,
			Status:  cluster.NodeStatusAlive,
		}
	}
	s.started = true

	s.ls.Info(log_service.LogEvent{
		Message:  "Static cluster service started",
		Metadata: map[string]any{"peers": len(s.nodes)},
	})
	return nil
}

func (s *StaticClusterService) Stop(ctx context.Context) error {
	s.mu.Lock()
	if self, ok := s.nodes[s.selfID]; ok {
		self.Status = cluster.NodeStatusDown
		s.nodes[s.selfID] = self
	}
	s.started = false
	s.mu.Unlock()

	s.notifyWatchers()
	return nil
}

func (s *StaticClusterService) RegisterNode(ctx context.Context, node cluster.ClusterNode) error {
	if err := node.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return cluster.ErrNotStarted
	}
	if existing, ok := s.nodes[node.ID]; ok && existing.Address != node.Address {
		s.mu.Unlock()
		s.ls.Error(log_service.LogEvent{
			Message:  "Node already exists",
			Metadata: map[string]any{"nodeID": node.ID, "address": existing.Address},
		})
		return fmt.Errorf("%w: %s at %s", cluster.ErrNodeAlreadyExists, node.ID, existing.Address)
	}
	s.nodes[node.ID] = cluster.SafeNode{
		ID:        node.ID,
		Address:   node.Address,
		Transport: node.Transport,
		Status:    cluster.NodeStatusAlive,
		Metadata:  node.Metadata,
	}
	s.selfID = node.ID
	total := len(s.nodes)
	s.mu.Unlock()

	s.ls.Info(log_service.LogEvent{
		Message:  "Node registered successfully",
		Metadata: map[string]any{"nodeID": node.ID, "totalNodes": total},
	})
	s.notifyWatchers()
	return nil
}

func (s *StaticClusterService) GetHealthyNodes() ([]cluster.SafeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var nodes []cluster.SafeNode
	for _, n := range s.nodes {
		if n.Status == cluster.NodeStatusAlive {
			nodes = append(nodes, n)
		}
	}
	cluster.SortNodes(nodes)
	return nodes, nil
}

func (s *StaticClusterService) GetAllNodes() ([]cluster.SafeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]cluster.SafeNode, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	cluster.SortNodes(nodes)
	return nodes, nil
}

func (s *StaticClusterService) Watch(callback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchCallbacks = append(s.watchCallbacks, callback)
}

func (s *StaticClusterService) notifyWatchers() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cb := range s.watchCallbacks {
		go cb()
	}
}

var _ cluster.ClusterService = (*StaticClusterService)(nil)
