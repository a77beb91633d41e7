package cluster_service

import (
	"errors"
	"fmt"

	fserr "github.com/AnishMulay/tfs/internal/fs_errors"
)

var (
	ErrInvalidNodeID      = fmt.Errorf("invalid node ID: %w", fserr.ErrInvalidArgument)
	ErrInvalidNodeAddress = fmt.Errorf("invalid node address: %w", fserr.ErrInvalidArgument)
	ErrNodeAlreadyExists  = fmt.Errorf("node already exists: %w", fserr.ErrAlreadyExists)
	ErrBadPeer            = fmt.Errorf("peer must be id=address: %w", fserr.ErrInvalidArgument)
	ErrNotStarted         = errors.New("cluster service not started")
	ErrNoHealthyNodes     = fmt.Errorf("no healthy nodes: %w", fserr.ErrNotFound)
)

// Validate checks the fields every backend requires.
func (n ClusterNode) Validate() error {
	if n.ID == "" {
		return ErrInvalidNodeID
	}
	if n.Address == "" {
		return fmt.Errorf("%w: node %s", ErrInvalidNodeAddress, n.ID)
	}
	return nil
}
