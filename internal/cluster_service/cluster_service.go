package cluster_service

import (
	"context"
	"time"
)

// NodeStatus represents the liveness state of a node.
type NodeStatus int

const (
	NodeStatusUnknown NodeStatus = iota
	NodeStatusAlive
	NodeStatusSuspect
	NodeStatusDown
)

func (s NodeStatus) String() string {
	switch s {
	case NodeStatusAlive:
		return "Alive"
	case NodeStatusSuspect:
		return "Suspect"
	case NodeStatusDown:
		return "Down"
	default:
		return "Unknown"
	}
}

// ClusterNode is the advertised identity of a file server.
// It outlives the process that registered it.
type ClusterNode struct {
	ID        string            `json:"id"`
	Address   string            `json:"address"`
	Transport string            `json:"transport"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NodeLiveness is the ephemeral runtime state of a node.
type NodeLiveness struct {
	NodeID        string     `json:"nodeId"`
	Status        NodeStatus `json:"status"`
	LeaseID       int64      `json:"leaseId"`
	LastRenewedAt time.Time  `json:"lastRenewedAt"`
}

type SafeNode struct {
	ID        string
	Address   string
	Transport string
	Status    NodeStatus
	Metadata  map[string]string
}

type ClusterService interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// RegisterNode advertises node as alive until Stop.
	RegisterNode(ctx context.Context, node ClusterNode) error

	// GetHealthyNodes returns the nodes that are currently Alive.
	GetHealthyNodes() ([]SafeNode, error)

	// GetAllNodes returns every known node regardless of status.
	GetAllNodes() ([]SafeNode, error)

	// Watch subscribes to membership changes.
	Watch(callback func())
}
