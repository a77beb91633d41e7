package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/AnishMulay/tfs/internal/cluster_service"
	clusteretcd "github.com/AnishMulay/tfs/internal/cluster_service/etcd"
	clusterstatic "github.com/AnishMulay/tfs/internal/cluster_service/static"
	"github.com/AnishMulay/tfs/internal/communication"
	grpccomm "github.com/AnishMulay/tfs/internal/communication/grpc"
	httpcomm "github.com/AnishMulay/tfs/internal/communication/http"
	"github.com/AnishMulay/tfs/internal/config"
	fileservice "github.com/AnishMulay/tfs/internal/file_service/simple"
	logservice "github.com/AnishMulay/tfs/internal/log_service"
	locallog "github.com/AnishMulay/tfs/internal/log_service/localdisc"
	"github.com/AnishMulay/tfs/internal/log_service/zaplog"
	simpleserver "github.com/AnishMulay/tfs/internal/server/simple"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Config config.Config
	// LogService replaces the configured log backend when set.
	LogService logservice.LogService
}

// Node is one file server process: the engine behind a request layer,
// advertised through a cluster service.
type Node struct {
	cfg     config.Config
	ls      logservice.LogService
	server  *simpleserver.SimpleServer
	cluster cluster_service.ClusterService

	ready   chan struct{}
	closers []func() error
}

func Build(opts Options) (*Node, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := &Node{cfg: cfg, ready: make(chan struct{})}

	// 1. Logging
	ls := opts.LogService
	if ls == nil {
		var err error
		if ls, err = n.buildLogService(); err != nil {
			return nil, err
		}
	}
	n.ls = ls

	// 2. Communication
	comm := NewCommunicator(cfg.Transport, cfg.Listen, ls)

	// 3. Cluster Service (The Phonebook)
	n.cluster = NewClusterService(cfg.Cluster, ls)

	// 4. File Service (The Engine)
	fs := fileservice.NewSimpleFileService(fileservice.OptionsFromConfig(cfg.FS), ls)

	// 5. Server (The Gateway)
	srv, err := simpleserver.NewSimpleServer(comm, fs, ls, simpleserver.Options{
		MaxSessions: cfg.Server.MaxSessions,
		Workers:     cfg.Server.Workers,
		ExportDir:   cfg.ExportDir(),
		ExportCodec: cfg.Export.Codec,
	})
	if err != nil {
		_ = n.close()
		return nil, err
	}
	n.server = srv

	return n, nil
}

func (n *Node) buildLogService() (logservice.LogService, error) {
	switch n.cfg.Log.Backend {
	case config.LogBackendLocalDisc:
		ls, err := locallog.NewLocalDiscLogService(n.cfg.LogDir(), n.cfg.Node, n.cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		n.closers = append(n.closers, ls.Close)
		return ls, nil
	default:
		logger, err := zaplog.NewLogger(n.cfg.Log.Level, n.cfg.Log.JSON)
		if err != nil {
			return nil, err
		}
		zs := zaplog.NewZapLogService(logger, n.cfg.Node)
		// Sync on a console fd fails on some platforms; nothing to report.
		n.closers = append(n.closers, func() error { _ = zs.Sync(); return nil })
		return zs, nil
	}
}

// NewCommunicator builds the transport named by a config value.
func NewCommunicator(transport, addr string, ls logservice.LogService) communication.Communicator {
	if transport == config.TransportHTTP {
		return httpcomm.NewHTTPCommunicator(addr, ls)
	}
	return grpccomm.NewGRPCCommunicator(addr, ls)
}

// NewClusterService builds the discovery backend named by a config value.
func NewClusterService(cfg config.ClusterConfig, ls logservice.LogService) cluster_service.ClusterService {
	if cfg.Backend == config.ClusterEtcd {
		return clusteretcd.NewEtcdClusterService(clusteretcd.Options{
			Endpoints: cfg.Endpoints,
			LeaseTTL:  cfg.TTLSeconds,
		}, ls)
	}
	return clusterstatic.NewStaticClusterService(cfg.Peers, ls)
}

// Address is the bound listen address once Ready is closed.
func (n *Node) Address() string {
	return n.server.Address()
}

// Ready is closed once the node serves requests and is registered.
func (n *Node) Ready() <-chan struct{} {
	return n.ready
}

func (n *Node) Cluster() cluster_service.ClusterService {
	return n.cluster
}

// Run serves until ctx is cancelled or a client asks for shutdown.
func (n *Node) Run(ctx context.Context) error {
	if err := n.server.Start(); err != nil {
		_ = n.close()
		return err
	}
	if err := n.cluster.Start(ctx); err != nil {
		_ = n.server.Stop()
		_ = n.close()
		return fmt.Errorf("start cluster service: %w", err)
	}
	if err := n.cluster.RegisterNode(ctx, cluster_service.ClusterNode{
		ID:        n.cfg.Node,
		Address:   n.server.Address(),
		Transport: n.cfg.Transport,
	}); err != nil {
		return errors.Join(err, n.stop())
	}

	n.ls.Info(logservice.LogEvent{
		Message:  "Node running",
		Metadata: map[string]any{"node": n.cfg.Node, "address": n.server.Address(), "transport": n.cfg.Transport},
	})
	close(n.ready)

	select {
	case <-ctx.Done():
		n.ls.Info(logservice.LogEvent{Message: "Node interrupted"})
	case <-n.server.Done():
		n.ls.Info(logservice.LogEvent{Message: "Node shut down by client"})
	}

	return n.stop()
}

// stop withdraws the node from discovery while the server drains.
func (n *Node) stop() error {
	var g errgroup.Group
	g.Go(func() error { return n.cluster.Stop(context.Background()) })
	g.Go(n.server.Stop)
	err := g.Wait()
	return errors.Join(err, n.close())
}

func (n *Node) close() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		errs = append(errs, n.closers[i]())
	}
	n.closers = nil
	return errors.Join(errs...)
}
