package main

import (
	"bytes"
	"io"
	"testing"

	tfslib "github.com/AnishMulay/tfs/clients/library"
	grpccomm "github.com/AnishMulay/tfs/internal/communication/grpc"
	fs "github.com/AnishMulay/tfs/internal/file_service"
	fssimple "github.com/AnishMulay/tfs/internal/file_service/simple"
	"github.com/AnishMulay/tfs/internal/log_service/zaplog"
	srvsimple "github.com/AnishMulay/tfs/internal/server/simple"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRest(t *testing.T) {
	assert.Equal(t, "hello  world", rest("write 3 hello  world", 2))
	assert.Equal(t, "", rest("write 3", 2))
	assert.Equal(t, "x", rest("  put\t/a   x", 2))
}

func TestParseOpenFlags(t *testing.T) {
	flags, err := parseFlags([]string{"create", "t", "APPEND"})
	require.NoError(t, err)
	assert.Equal(t, fs.OpenCreate|fs.OpenTrunc|fs.OpenAppend, flags)

	_, err = parseFlags([]string{"exclusive"})
	assert.Error(t, err)
}

func TestParseWhence(t *testing.T) {
	for in, want := range map[string]int{"": io.SeekStart, "cur": io.SeekCurrent, "end": io.SeekEnd} {
		got, err := parseWhence(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := parseWhence("middle")
	assert.Error(t, err)
}

func TestCompleter(t *testing.T) {
	assert.Equal(t, []string{"seek", "shutdown"}, completer("s")[1:])
	assert.Empty(t, completer("zz"))
}

func newREPL(t *testing.T) (*REPL, *bytes.Buffer) {
	t.Helper()
	ls := zaplog.NewZapLogService(zap.NewNop(), "test")
	fsvc := fssimple.NewSimpleFileService(fssimple.Options{
		BlockSize:   64,
		DataBlocks:  32,
		Inodes:      8,
		OpenFiles:   4,
		MaxFileName: 12,
		DirectRefs:  2,
	}, ls)
	server, err := srvsimple.NewSimpleServer(grpccomm.NewGRPCCommunicator("127.0.0.1:0", ls), fsvc, ls, srvsimple.Options{
		MaxSessions: 2,
		Workers:     2,
		ExportDir:   t.TempDir(),
	})
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })

	comm := grpccomm.NewGRPCCommunicator("127.0.0.1:0", ls)
	t.Cleanup(func() { _ = comm.Stop() })
	client := tfslib.NewTFSClient(server.Address(), comm, "repl")

	var out bytes.Buffer
	r := &REPL{client: client, addr: server.Address(), out: &out}
	require.NoError(t, client.Mount(t.Context()))
	return r, &out
}

func exec(t *testing.T, r *REPL, out *bytes.Buffer, line string) string {
	t.Helper()
	out.Reset()
	done, err := r.Exec(line)
	require.NoError(t, err, line)
	require.False(t, done)
	return out.String()
}

func TestREPL_Commands(t *testing.T) {
	r, out := newREPL(t)

	assert.Equal(t, "wrote 11 byte(s)\n", exec(t, r, out, "put /greet hello world"))
	assert.Equal(t, "hello world\n", exec(t, r, out, "cat /greet"))
	assert.Contains(t, exec(t, r, out, "ls"), "greet")
	assert.Equal(t, "1\n", exec(t, r, out, "lookup /greet"))
	assert.Contains(t, exec(t, r, out, "stat /greet"), "size=11")
	assert.Contains(t, exec(t, r, out, "df"), "handles  0/4 open")

	assert.Equal(t, "fd 0\n", exec(t, r, out, "open /greet"))
	assert.Equal(t, "offset 6\n", exec(t, r, out, "seek 0 6"))
	assert.Equal(t, "\"world\"\n", exec(t, r, out, "read 0 10"))
	assert.Equal(t, "(eof)\n", exec(t, r, out, "read 0 10"))
	exec(t, r, out, "close 0")

	assert.Contains(t, exec(t, r, out, "export /greet zstd"), "greet.zst")
	assert.Contains(t, exec(t, r, out, "frobnicate"), "Unknown command")

	_, err := r.Exec("cat /missing")
	assert.Error(t, err)
	_, err = r.Exec("read x 1")
	assert.Error(t, err)

	done, err := r.Exec("exit")
	require.NoError(t, err)
	assert.True(t, done)
	assert.Empty(t, r.client.SessionID())
}
