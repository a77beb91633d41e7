// tfs runs one tiny file system node.
//
// Usage:
//
//	tfs [--config tfs.yaml] [--listen :8080] [--transport grpc|http] ...
//
// Flags override the config file. A missing config file is created with
// defaults.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/AnishMulay/tfs/internal/config"
	"github.com/AnishMulay/tfs/servers/node"
	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, errOut io.Writer) error {
	cfg, err := parseFlags(args, errOut)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	n, err := node.Build(node.Options{Config: cfg})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return n.Run(ctx)
}

func parseFlags(args []string, errOut io.Writer) (config.Config, error) {
	flagSet := flag.NewFlagSet("tfs", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.StringP("config", "c", "", "Config file (.yaml or .jsonc); created with defaults if missing")
	nodeID := flagSet.String("node", "", "Node ID")
	listen := flagSet.StringP("listen", "l", "", "Listen address")
	transport := flagSet.String("transport", "", "Transport (grpc or http)")
	dataDir := flagSet.String("data-dir", "", "Directory for logs and exports")
	logLevel := flagSet.String("log-level", "", "Log level (debug, info, warn, error)")
	logBackend := flagSet.String("log-backend", "", "Log backend (zap or localdisc)")
	logJSON := flagSet.Bool("log-json", false, "Log JSON lines instead of console output")
	cluster := flagSet.String("cluster", "", "Discovery backend (static or etcd)")
	endpoints := flagSet.StringSlice("etcd-endpoints", nil, "etcd endpoints")
	peers := flagSet.StringSlice("peers", nil, "Static peers as id=address")
	codec := flagSet.String("export-codec", "", "Codec for exported files (direct, snappy, zstd)")
	blockSize := flagSet.Int("block-size", 0, "Block size in bytes")
	blocks := flagSet.Int("data-blocks", 0, "Number of data blocks")
	inodes := flagSet.Int("inodes", 0, "Number of inodes")
	openFiles := flagSet.Int("open-files", 0, "Open file table size")
	sessions := flagSet.Int("max-sessions", 0, "Maximum mounted clients")

	if err := flagSet.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadOrInit(*configPath); err != nil {
			return config.Config{}, err
		}
	}

	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}

	setString(&cfg.Node, *nodeID)
	setString(&cfg.Listen, *listen)
	setString(&cfg.Transport, *transport)
	setString(&cfg.DataDir, *dataDir)
	setString(&cfg.Log.Level, *logLevel)
	setString(&cfg.Log.Backend, *logBackend)
	setString(&cfg.Cluster.Backend, *cluster)
	setString(&cfg.Export.Codec, *codec)
	if flagSet.Changed("log-json") {
		cfg.Log.JSON = *logJSON
	}
	if len(*endpoints) > 0 {
		cfg.Cluster.Endpoints = *endpoints
	}
	if len(*peers) > 0 {
		cfg.Cluster.Peers = *peers
	}
	setInt(&cfg.FS.BlockSize, *blockSize)
	setInt(&cfg.FS.DataBlocks, *blocks)
	setInt(&cfg.FS.Inodes, *inodes)
	setInt(&cfg.FS.OpenFiles, *openFiles)
	setInt(&cfg.Server.MaxSessions, *sessions)

	return cfg, cfg.Validate()
}
