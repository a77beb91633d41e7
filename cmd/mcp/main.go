package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	tfslib "github.com/AnishMulay/tfs/clients/library"
	"github.com/AnishMulay/tfs/internal/communication"
	fs "github.com/AnishMulay/tfs/internal/file_service"
	"github.com/AnishMulay/tfs/internal/log_service"
	"github.com/AnishMulay/tfs/internal/log_service/zaplog"
	"github.com/AnishMulay/tfs/servers/node"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type ServerEntry struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

type MCPConfig struct {
	Communicator struct {
		Type string `yaml:"type"`
	} `yaml:"communicator"`
	Servers       []ServerEntry `yaml:"servers"`
	DefaultServer string        `yaml:"default_server"`
}

// ServerRegistry keeps one mounted client per server.
type ServerRegistry struct {
	Servers       map[string]string
	DefaultServer string
	Communicator  communication.Communicator
	LogServer     log_service.LogService

	mu      sync.Mutex
	clients map[string]*tfslib.TFSClient
}

func LoadConfig(path string) (*MCPConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		defaultConfig := &MCPConfig{}
		defaultConfig.Communicator.Type = "grpc"
		defaultConfig.DefaultServer = "tfs-1"
		defaultConfig.Servers = []ServerEntry{
			{ID: "tfs-1", Address: "localhost:8080"},
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}

		data, err := yaml.Marshal(defaultConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}

		return defaultConfig, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := MCPConfig{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(config.Servers) == 0 {
		return nil, errors.New("config lists no servers")
	}
	if config.DefaultServer == "" {
		config.DefaultServer = config.Servers[0].ID
	}

	return &config, nil
}

func NewServerRegistry(cfg *MCPConfig, comm communication.Communicator, ls log_service.LogService) *ServerRegistry {
	servers := make(map[string]string, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers[s.ID] = s.Address
	}
	return &ServerRegistry{
		Servers:       servers,
		DefaultServer: cfg.DefaultServer,
		Communicator:  comm,
		LogServer:     ls,
		clients:       make(map[string]*tfslib.TFSClient),
	}
}

// client returns a mounted client for serverID, or the default server.
func (r *ServerRegistry) client(ctx context.Context, serverID string) (*tfslib.TFSClient, error) {
	if serverID == "" {
		serverID = r.DefaultServer
	}
	addr, ok := r.Servers[serverID]
	if !ok {
		return nil, fmt.Errorf("server %s not found", serverID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[serverID]; ok && c.SessionID() != "" {
		return c, nil
	}
	c := tfslib.NewTFSClient(addr, r.Communicator, "mcp-server")
	if err := c.Mount(ctx); err != nil {
		return nil, err
	}
	r.clients[serverID] = c
	return c, nil
}

// Close unmounts every client.
func (r *ServerRegistry) Close(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		if err := c.Unmount(ctx); err != nil {
			r.LogServer.Warn(log_service.LogEvent{
				Message:  "Failed to unmount",
				Metadata: map[string]any{"server": id, "error": err.Error()},
			})
		}
	}
	r.clients = make(map[string]*tfslib.TFSClient)
}

func serverArg() mcp.ToolOption {
	return mcp.WithString("server", mcp.Description("Server ID; the default server when omitted"))
}

func addTools(s *server.MCPServer, registry *ServerRegistry) {
	s.AddTool(mcp.NewTool("list_servers",
		mcp.WithDescription("List all available servers"),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleListServers(registry), nil
	})

	s.AddTool(mcp.NewTool("list_files",
		mcp.WithDescription("List the files in a server's root directory"),
		serverArg(),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleListFiles(ctx, request, registry), nil
	})

	s.AddTool(mcp.NewTool("write_file",
		mcp.WithDescription("Create or replace a file"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path such as /notes")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Text to store")),
		mcp.WithBoolean("append", mcp.Description("Append instead of replacing")),
		serverArg(),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleWriteFile(ctx, request, registry), nil
	})

	s.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read a whole file"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path such as /notes")),
		serverArg(),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleReadFile(ctx, request, registry), nil
	})

	s.AddTool(mcp.NewTool("stat_file",
		mcp.WithDescription("Show a file's inode, size and block count"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path such as /notes")),
		serverArg(),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleStatFile(ctx, request, registry), nil
	})

	s.AddTool(mcp.NewTool("fs_stats",
		mcp.WithDescription("Show block, inode and handle usage"),
		serverArg(),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleFsStats(ctx, request, registry), nil
	})

	s.AddTool(mcp.NewTool("export_file",
		mcp.WithDescription("Export a file into the server's export directory"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path such as /notes")),
		mcp.WithString("codec", mcp.Description("direct, snappy or zstd")),
		serverArg(),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleExportFile(ctx, request, registry), nil
	})
}

func handleListServers(registry *ServerRegistry) *mcp.CallToolResult {
	ids := make([]string, 0, len(registry.Servers))
	for id := range registry.Servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("Available servers:\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "- %s: %s\n", id, registry.Servers[id])
	}
	fmt.Fprintf(&b, "Default server: %s\n", registry.DefaultServer)
	return mcp.NewToolResultText(b.String())
}

func handleListFiles(ctx context.Context, request mcp.CallToolRequest, registry *ServerRegistry) *mcp.CallToolResult {
	c, err := registry.client(ctx, request.GetString("server", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	entries, err := c.ReadDir(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list files: %v", err))
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("No files")
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "/%s (%d bytes, inode %d)\n", e.Name, e.Size, e.Inumber)
	}
	return mcp.NewToolResultText(b.String())
}

func handleWriteFile(ctx context.Context, request mcp.CallToolRequest, registry *ServerRegistry) *mcp.CallToolResult {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	c, err := registry.client(ctx, request.GetString("server", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}

	flags := fs.OpenCreate | fs.OpenTrunc
	if request.GetBool("append", false) {
		flags = fs.OpenCreate | fs.OpenAppend
	}
	fd, err := c.Open(ctx, path, flags)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to open file: %v", err))
	}
	n, werr := c.Write(ctx, fd, []byte(content))
	if err := errors.Join(werr, c.Close(ctx, fd)); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to write file after %d bytes: %v", n, err))
	}
	if n < len(content) {
		return mcp.NewToolResultText(fmt.Sprintf("File truncated at its maximum size: stored %d of %d bytes", n, len(content)))
	}
	return mcp.NewToolResultText(fmt.Sprintf("File stored successfully, %d bytes", n))
}

func handleReadFile(ctx context.Context, request mcp.CallToolRequest, registry *ServerRegistry) *mcp.CallToolResult {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	c, err := registry.client(ctx, request.GetString("server", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}

	fd, err := c.Open(ctx, path, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read file: %v", err))
	}
	data, rerr := c.ReadAll(ctx, fd, 64*1024)
	if err := errors.Join(rerr, c.Close(ctx, fd)); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read file: %v", err))
	}
	return mcp.NewToolResultText(fmt.Sprintf("File content: %s", string(data)))
}

func handleStatFile(ctx context.Context, request mcp.CallToolRequest, registry *ServerRegistry) *mcp.CallToolResult {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	c, err := registry.client(ctx, request.GetString("server", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	info, err := c.Stat(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to stat file: %v", err))
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s: %s, inode %d, %d bytes in %d block(s)", info.Path, info.Type, info.Inumber, info.Size, info.Blocks))
}

func handleFsStats(ctx context.Context, request mcp.CallToolRequest, registry *ServerRegistry) *mcp.CallToolResult {
	c, err := registry.client(ctx, request.GetString("server", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	st, err := c.FsStat(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read stats: %v", err))
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"blocks %d/%d free, inodes %d/%d used, files %d/%d, handles %d/%d open, max file %d bytes",
		st.FreeBlocks, st.TotalBlocks, st.UsedInodes, st.TotalInodes,
		st.DirEntries, st.MaxDirEntries, st.OpenFiles, st.MaxOpenFiles, st.MaxFileSize,
	))
}

func handleExportFile(ctx context.Context, request mcp.CallToolRequest, registry *ServerRegistry) *mcp.CallToolResult {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	c, err := registry.client(ctx, request.GetString("server", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	out, err := c.Export(ctx, path, request.GetString("codec", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to export file: %v", err))
	}
	return mcp.NewToolResultText(fmt.Sprintf("Exported %d bytes to %s", out.Bytes, out.File))
}

func main() {
	configPath := flag.String("config", "mcp/config.yaml", "MCP config file, created with defaults if missing")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the MCP protocol, so logs stay quiet.
	ls := zaplog.NewZapLogService(zap.NewNop(), "mcp-server")
	comm := node.NewCommunicator(cfg.Communicator.Type, "127.0.0.1:0", ls)
	defer func() { _ = comm.Stop() }()

	registry := NewServerRegistry(cfg, comm, ls)
	defer registry.Close(context.Background())

	s := server.NewMCPServer(
		"tfs",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	addTools(s, registry)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
	}
}
