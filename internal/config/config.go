package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/AnishMulay/tfs/internal/compress"
	"github.com/AnishMulay/tfs/internal/log_service"
	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

var (
	ErrConfigInvalid  = errors.New("invalid config")
	ErrConfigFormat   = errors.New("unsupported config format")
	ErrConfigNotFound = errors.New("config file not found")
)

const (
	TransportGRPC = "grpc"
	TransportHTTP = "http"

	LogBackendZap       = "zap"
	LogBackendLocalDisc = "localdisc"

	ClusterStatic = "static"
	ClusterEtcd   = "etcd"
)

type Config struct {
	Node      string        `yaml:"node" json:"node"`
	Transport string        `yaml:"transport" json:"transport"`
	Listen    string        `yaml:"listen" json:"listen"`
	DataDir   string        `yaml:"data_dir" json:"data_dir"`
	Log       LogConfig     `yaml:"log" json:"log"`
	FS        FSConfig      `yaml:"fs" json:"fs"`
	Server    ServerConfig  `yaml:"server" json:"server"`
	Cluster   ClusterConfig `yaml:"cluster" json:"cluster"`
	Export    ExportConfig  `yaml:"export" json:"export"`
}

type LogConfig struct {
	Level   string `yaml:"level" json:"level"`
	Backend string `yaml:"backend" json:"backend"`
	JSON    bool   `yaml:"json" json:"json"`
}

// FSConfig sizes the engine's fixed tables.
type FSConfig struct {
	BlockSize   int `yaml:"block_size" json:"block_size"`
	DataBlocks  int `yaml:"data_blocks" json:"data_blocks"`
	Inodes      int `yaml:"inodes" json:"inodes"`
	OpenFiles   int `yaml:"open_files" json:"open_files"`
	MaxFileName int `yaml:"max_file_name" json:"max_file_name"`
	DirectRefs  int `yaml:"direct_refs" json:"direct_refs"`
	// DelayMicros is slept on every table access, zero disables it.
	DelayMicros int `yaml:"delay_micros" json:"delay_micros"`
}

type ServerConfig struct {
	MaxSessions int `yaml:"max_sessions" json:"max_sessions"`
	Workers     int `yaml:"workers" json:"workers"`
}

type ClusterConfig struct {
	Backend    string   `yaml:"backend" json:"backend"`
	Endpoints  []string `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
	Peers      []string `yaml:"peers,omitempty" json:"peers,omitempty"`
	TTLSeconds int64    `yaml:"ttl_seconds" json:"ttl_seconds"`
}

type ExportConfig struct {
	Codec string `yaml:"codec" json:"codec"`
	Dir   string `yaml:"dir" json:"dir"`
}

func Default() Config {
	return Config{
		Node:      "tfs-1",
		Transport: TransportGRPC,
		Listen:    "localhost:8080",
		DataDir:   "run/tfs",
		Log: LogConfig{
			Level:   log_service.InfoLevel,
			Backend: LogBackendZap,
		},
		FS: FSConfig{
			BlockSize:   1024,
			DataBlocks:  1024,
			Inodes:      50,
			OpenFiles:   20,
			MaxFileName: 40,
			DirectRefs:  10,
		},
		Server: ServerConfig{
			MaxSessions: 10,
			Workers:     10,
		},
		Cluster: ClusterConfig{
			Backend:    ClusterStatic,
			TTLSeconds: 10,
		},
		Export: ExportConfig{
			Codec: compress.Direct,
		},
	}
}

// Load reads a YAML (.yaml, .yml) or JSON-with-comments (.json, .jsonc,
// .hujson) file over Default and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrInit loads path, writing Default to it first when it does not exist.
func LoadOrInit(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := Write(path, cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	return Load(path)
}

func Parse(data []byte, ext string) (Config, error) {
	cfg := Default()

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
		}
	case ".json", ".jsonc", ".hujson":
		standardized, err := hujson.Standardize(data)
		if err != nil {
			return Config{}, fmt.Errorf("%w: invalid JSONC: %w", ErrConfigInvalid, err)
		}
		dec := json.NewDecoder(bytes.NewReader(standardized))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
		}
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrConfigFormat, ext)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Write stores cfg atomically, as YAML or JSON depending on the extension.
func Write(path string, cfg Config) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	case ".json", ".jsonc", ".hujson":
		data, err = json.MarshalIndent(cfg, "", "  ")
	default:
		return fmt.Errorf("%w: %q", ErrConfigFormat, filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Node != "", "node must not be empty")
	check(c.Transport == TransportGRPC || c.Transport == TransportHTTP, "transport %q must be grpc or http", c.Transport)
	check(c.Listen != "", "listen must not be empty")

	check(log_service.ValidLevel(c.Log.Level), "log.level %q is not a level", c.Log.Level)
	check(c.Log.Backend == LogBackendZap || c.Log.Backend == LogBackendLocalDisc,
		"log.backend %q must be zap or localdisc", c.Log.Backend)

	fs := c.FS
	check(fs.BlockSize > 0 && fs.BlockSize%4 == 0, "fs.block_size %d must be a positive multiple of 4", fs.BlockSize)
	check(fs.DataBlocks > 0, "fs.data_blocks must be positive")
	check(fs.Inodes > 0, "fs.inodes must be positive")
	check(fs.OpenFiles > 0, "fs.open_files must be positive")
	check(fs.MaxFileName > 1, "fs.max_file_name must be at least 2")
	check(fs.DirectRefs > 0, "fs.direct_refs must be positive")
	check(fs.DelayMicros >= 0, "fs.delay_micros must not be negative")
	check(fs.MaxFileName+4 <= fs.BlockSize, "fs.block_size %d cannot hold one directory entry", fs.BlockSize)

	check(c.Server.MaxSessions > 0, "server.max_sessions must be positive")
	check(c.Server.Workers > 0, "server.workers must be positive")

	switch c.Cluster.Backend {
	case ClusterStatic:
	case ClusterEtcd:
		check(len(c.Cluster.Endpoints) > 0, "cluster.endpoints required for etcd")
		check(c.Cluster.TTLSeconds > 0, "cluster.ttl_seconds must be positive")
	default:
		errs = append(errs, fmt.Errorf("cluster.backend %q must be static or etcd", c.Cluster.Backend))
	}

	if _, err := compress.NewCompressor(c.Export.Codec); err != nil {
		errs = append(errs, fmt.Errorf("export.codec: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(errs...))
	}
	return nil
}

// ExportDir is where exported files land when no explicit directory is set.
func (c Config) ExportDir() string {
	if c.Export.Dir != "" {
		return c.Export.Dir
	}
	return filepath.Join(c.DataDir, "export")
}

func (c Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}
