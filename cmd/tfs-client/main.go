// tfs-client is an interactive shell for a tfs node.
//
// Usage:
//
//	tfs-client [--server localhost:8080] [--transport grpc|http]
//	tfs-client --discover 127.0.0.1:2379 [--prefer node-1]
//
// Commands (in REPL):
//
//	ls                          List the root directory
//	stat <path>                 Show one file
//	lookup <path>               Print a file's inode number
//	df                          Show table usage
//	open <path> [create|trunc|append]...
//	close <fd>
//	write <fd> <text>           Write text at the cursor
//	read <fd> <n>               Read n bytes and advance
//	seek <fd> <offset> [start|cur|end]
//	put <path> <text>           Create or truncate path and write text
//	cat <path>                  Print a whole file
//	export <path> [codec]       Export on the server (direct, snappy, zstd)
//	shutdown                    Stop the server once all files are closed
//	help                        Show this help
//	exit / quit / q             Unmount and exit
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tfslib "github.com/AnishMulay/tfs/clients/library"
	cluster "github.com/AnishMulay/tfs/internal/cluster_service"
	clusteretcd "github.com/AnishMulay/tfs/internal/cluster_service/etcd"
	"github.com/AnishMulay/tfs/internal/config"
	fs "github.com/AnishMulay/tfs/internal/file_service"
	"github.com/AnishMulay/tfs/internal/log_service/zaplog"
	"github.com/AnishMulay/tfs/servers/node"
	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
)

const requestTimeout = 30 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := flag.NewFlagSet("tfs-client", flag.ContinueOnError)
	server := flagSet.StringP("server", "s", "localhost:8080", "Server address")
	transport := flagSet.StringP("transport", "t", config.TransportGRPC, "Transport (grpc or http)")
	name := flagSet.String("name", "tfs-client", "Client name reported on mount")
	discover := flagSet.StringSlice("discover", nil, "etcd endpoints used to find a healthy node")
	prefer := flagSet.String("prefer", "", "Preferred node ID when discovering")
	logLevel := flagSet.String("log-level", "warn", "Client log level")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	logger, err := zaplog.NewLogger(*logLevel, false)
	if err != nil {
		return err
	}
	ls := zaplog.NewZapLogService(logger, *name)
	defer func() { _ = ls.Sync() }()

	addr := *server
	if len(*discover) > 0 {
		picked, err := discoverNode(*discover, *prefer, ls)
		if err != nil {
			return err
		}
		addr = picked.Address
		if picked.Transport != "" {
			*transport = picked.Transport
		}
		fmt.Printf("discovered node %s at %s (%s)\n", picked.ID, addr, *transport)
	}

	comm := node.NewCommunicator(*transport, "127.0.0.1:0", ls)
	defer func() { _ = comm.Stop() }()

	client := tfslib.NewTFSClient(addr, comm, *name)
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	err = client.Mount(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("mount %s: %w", addr, err)
	}

	r := &REPL{client: client, addr: addr}
	return r.Run()
}

func discoverNode(endpoints []string, prefer string, ls *zaplog.ZapLogService) (cluster.SafeNode, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	cs := clusteretcd.NewEtcdClusterService(clusteretcd.Options{Endpoints: endpoints}, ls)
	if err := cs.Start(ctx); err != nil {
		return cluster.SafeNode{}, err
	}
	defer func() { _ = cs.Stop(context.Background()) }()

	return cluster.PickNode(cs, prefer)
}

// REPL is the interactive command loop.
type REPL struct {
	client *tfslib.TFSClient
	addr   string
	liner  *liner.State
	out    io.Writer
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".tfs_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()
	if r.out == nil {
		r.out = os.Stdout
	}

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(completer)

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = r.liner.ReadHistory(f)
		f.Close()
	}
	defer r.saveHistory()

	fmt.Fprintf(r.out, "tfs-client connected to %s (session %s)\n", r.addr, r.client.SessionID())
	fmt.Fprintln(r.out, "Type 'help' for available commands.")

	for {
		line, err := r.liner.Prompt("tfs> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out, "\nBye!")
				return r.unmount()
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		done, err := r.Exec(line)
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if done {
			return nil
		}
	}
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			_, _ = r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) unmount() error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if r.client.SessionID() == "" {
		return nil
	}
	return r.client.Unmount(ctx)
}

var commands = []string{
	"ls", "stat", "lookup", "df", "open", "close", "write", "read", "seek",
	"put", "cat", "export", "shutdown", "help", "exit", "quit",
}

func completer(line string) []string {
	var out []string
	for _, c := range commands {
		if strings.HasPrefix(c, strings.ToLower(line)) {
			out = append(out, c)
		}
	}
	return out
}

// Exec runs one command line. done reports that the session ended.
func (r *REPL) Exec(line string) (done bool, err error) {
	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch cmd {
	case "exit", "quit", "q":
		fmt.Fprintln(r.out, "Bye!")
		return true, r.unmount()
	case "help", "?":
		r.printHelp()
	case "ls":
		return false, r.cmdLs(ctx)
	case "stat":
		return false, r.cmdStat(ctx, args)
	case "lookup":
		return false, r.cmdLookup(ctx, args)
	case "df":
		return false, r.cmdDf(ctx)
	case "open":
		return false, r.cmdOpen(ctx, args)
	case "close":
		return false, r.cmdClose(ctx, args)
	case "write":
		return false, r.cmdWrite(ctx, line, args)
	case "read":
		return false, r.cmdRead(ctx, args)
	case "seek":
		return false, r.cmdSeek(ctx, args)
	case "put":
		return false, r.cmdPut(ctx, line, args)
	case "cat":
		return false, r.cmdCat(ctx, args)
	case "export":
		return false, r.cmdExport(ctx, args)
	case "shutdown":
		// Shutdown waits for every other client.
		if err := r.client.Shutdown(context.Background()); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "server shut down")
		return true, nil
	default:
		fmt.Fprintf(r.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false, nil
}

func (r *REPL) printHelp() {
	fmt.Fprint(r.out, `Commands:
  ls                                 list files
  stat <path>                        show one file
  lookup <path>                      print inode number
  df                                 show table usage
  open <path> [create|trunc|append]  open a file, prints fd
  close <fd>                         close a file
  write <fd> <text>                  write at the cursor
  read <fd> <n>                      read n bytes
  seek <fd> <offset> [start|cur|end] move the cursor
  put <path> <text>                  replace a file's content
  cat <path>                         print a file
  export <path> [codec]              export on the server
  shutdown                           stop the server
  exit                               unmount and quit
`)
}

func need(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

func atoi(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return v, nil
}

// rest returns the text after the first n fields of line.
func rest(line string, n int) string {
	s := strings.TrimSpace(line)
	for i := 0; i < n; i++ {
		idx := strings.IndexFunc(s, func(r rune) bool { return r == ' ' || r == '\t' })
		if idx < 0 {
			return ""
		}
		s = strings.TrimLeft(s[idx:], " \t")
	}
	return s
}

func parseFlags(words []string) (fs.OpenFlag, error) {
	var flags fs.OpenFlag
	for _, w := range words {
		switch strings.ToLower(w) {
		case "create", "c":
			flags |= fs.OpenCreate
		case "trunc", "t":
			flags |= fs.OpenTrunc
		case "append", "a":
			flags |= fs.OpenAppend
		default:
			return 0, fmt.Errorf("unknown open flag %q", w)
		}
	}
	return flags, nil
}

func parseWhence(s string) (int, error) {
	switch strings.ToLower(s) {
	case "", "start", "set":
		return io.SeekStart, nil
	case "cur", "current":
		return io.SeekCurrent, nil
	case "end":
		return io.SeekEnd, nil
	}
	return 0, fmt.Errorf("unknown whence %q", s)
}

func (r *REPL) cmdLs(ctx context.Context) error {
	entries, err := r.client.ReadDir(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(r.out, "%6d  %8d  %s\n", e.Inumber, e.Size, e.Name)
	}
	fmt.Fprintf(r.out, "%d file(s)\n", len(entries))
	return nil
}

func (r *REPL) cmdStat(ctx context.Context, args []string) error {
	if err := need(args, 1, "stat <path>"); err != nil {
		return err
	}
	info, err := r.client.Stat(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "path=%s inode=%d type=%s size=%d blocks=%d\n", info.Path, info.Inumber, info.Type, info.Size, info.Blocks)
	return nil
}

func (r *REPL) cmdLookup(ctx context.Context, args []string) error {
	if err := need(args, 1, "lookup <path>"); err != nil {
		return err
	}
	inum, err := r.client.Lookup(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, inum)
	return nil
}

func (r *REPL) cmdDf(ctx context.Context) error {
	st, err := r.client.FsStat(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "blocks   %d/%d free (block size %d)\n", st.FreeBlocks, st.TotalBlocks, st.BlockSize)
	fmt.Fprintf(r.out, "inodes   %d/%d used\n", st.UsedInodes, st.TotalInodes)
	fmt.Fprintf(r.out, "entries  %d/%d used\n", st.DirEntries, st.MaxDirEntries)
	fmt.Fprintf(r.out, "handles  %d/%d open\n", st.OpenFiles, st.MaxOpenFiles)
	fmt.Fprintf(r.out, "max file %d bytes, max name %d\n", st.MaxFileSize, st.MaxNameLen)
	return nil
}

func (r *REPL) cmdOpen(ctx context.Context, args []string) error {
	if err := need(args, 1, "open <path> [create|trunc|append]..."); err != nil {
		return err
	}
	flags, err := parseFlags(args[1:])
	if err != nil {
		return err
	}
	fd, err := r.client.Open(ctx, args[0], flags)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "fd %d\n", fd)
	return nil
}

func (r *REPL) cmdClose(ctx context.Context, args []string) error {
	if err := need(args, 1, "close <fd>"); err != nil {
		return err
	}
	fd, err := atoi(args[0])
	if err != nil {
		return err
	}
	return r.client.Close(ctx, fd)
}

func (r *REPL) cmdWrite(ctx context.Context, line string, args []string) error {
	if err := need(args, 2, "write <fd> <text>"); err != nil {
		return err
	}
	fd, err := atoi(args[0])
	if err != nil {
		return err
	}
	n, err := r.client.Write(ctx, fd, []byte(rest(line, 2)))
	fmt.Fprintf(r.out, "wrote %d byte(s)\n", n)
	return err
}

func (r *REPL) cmdRead(ctx context.Context, args []string) error {
	if err := need(args, 2, "read <fd> <n>"); err != nil {
		return err
	}
	fd, err := atoi(args[0])
	if err != nil {
		return err
	}
	n, err := atoi(args[1])
	if err != nil {
		return err
	}
	data, err := r.client.Read(ctx, fd, n)
	if errors.Is(err, io.EOF) {
		fmt.Fprintln(r.out, "(eof)")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%q\n", data)
	return nil
}

func (r *REPL) cmdSeek(ctx context.Context, args []string) error {
	if err := need(args, 2, "seek <fd> <offset> [start|cur|end]"); err != nil {
		return err
	}
	fd, err := atoi(args[0])
	if err != nil {
		return err
	}
	off, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", args[1])
	}
	whence := ""
	if len(args) > 2 {
		whence = args[2]
	}
	w, err := parseWhence(whence)
	if err != nil {
		return err
	}
	pos, err := r.client.Seek(ctx, fd, off, w)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "offset %d\n", pos)
	return nil
}

func (r *REPL) cmdPut(ctx context.Context, line string, args []string) error {
	if err := need(args, 1, "put <path> <text>"); err != nil {
		return err
	}
	fd, err := r.client.Open(ctx, args[0], fs.OpenCreate|fs.OpenTrunc)
	if err != nil {
		return err
	}
	n, werr := r.client.Write(ctx, fd, []byte(rest(line, 2)))
	cerr := r.client.Close(ctx, fd)
	if err := errors.Join(werr, cerr); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "wrote %d byte(s)\n", n)
	return nil
}

func (r *REPL) cmdCat(ctx context.Context, args []string) error {
	if err := need(args, 1, "cat <path>"); err != nil {
		return err
	}
	fd, err := r.client.Open(ctx, args[0], 0)
	if err != nil {
		return err
	}
	data, rerr := r.client.ReadAll(ctx, fd, 4096)
	cerr := r.client.Close(ctx, fd)
	if err := errors.Join(rerr, cerr); err != nil {
		return err
	}
	fmt.Fprintln(r.out, string(data))
	return nil
}

func (r *REPL) cmdExport(ctx context.Context, args []string) error {
	if err := need(args, 1, "export <path> [codec]"); err != nil {
		return err
	}
	codec := ""
	if len(args) > 1 {
		codec = args[1]
	}
	out, err := r.client.Export(ctx, args[0], codec)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "exported %d byte(s) to %s\n", out.Bytes, out.File)
	return nil
}
