package simple

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/AnishMulay/tfs/internal/communication"
	"github.com/AnishMulay/tfs/internal/compress"
	fs "github.com/AnishMulay/tfs/internal/file_service"
	fssimple "github.com/AnishMulay/tfs/internal/file_service/simple"
	"github.com/AnishMulay/tfs/internal/log_service/zaplog"
	ps "github.com/AnishMulay/tfs/internal/server"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// loopback hands messages straight to the registered handler.
type loopback struct {
	mu      sync.Mutex
	handler communication.MessageHandler
	types   map[string]reflect.Type
	stopped bool
}

func (l *loopback) Start(h communication.MessageHandler) error {
	l.handler = h
	return nil
}

func (l *loopback) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	return nil
}

func (l *loopback) Address() string { return "loopback" }

func (l *loopback) RegisterPayloadType(msgType string, t reflect.Type) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.types == nil {
		l.types = make(map[string]reflect.Type)
	}
	l.types[msgType] = t
}

func (l *loopback) Send(ctx context.Context, to string, msg communication.Message) (*communication.Response, error) {
	return l.handler(ctx, msg)
}

type harness struct {
	t      *testing.T
	comm   *loopback
	server *SimpleServer
}

func newHarness(t *testing.T, opts Options, fsOpts fssimple.Options) *harness {
	t.Helper()
	ls := zaplog.NewZapLogService(zap.NewNop(), "test")
	comm := &loopback{}
	server, err := NewSimpleServer(comm, fssimple.NewSimpleFileService(fsOpts, ls), ls, opts)
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })
	return &harness{t: t, comm: comm, server: server}
}

func defaultHarness(t *testing.T) *harness {
	return newHarness(t, Options{MaxSessions: 2, Workers: 4}, fssimple.Options{
		BlockSize:   64,
		DataBlocks:  64,
		Inodes:      8,
		OpenFiles:   4,
		MaxFileName: 12,
		DirectRefs:  2,
	})
}

func (h *harness) send(msgType string, payload any) *communication.Response {
	h.t.Helper()
	resp, err := h.comm.Send(context.Background(), "loopback", communication.Message{From: "test", Type: msgType, Payload: payload})
	require.NoError(h.t, err)
	require.NotNil(h.t, resp)
	return resp
}

func decode[T any](t *testing.T, resp *communication.Response) T {
	t.Helper()
	require.Equal(t, communication.CodeOK, resp.Code, string(resp.Body))
	var out T
	require.NoError(t, json.Unmarshal(resp.Body, &out))
	return out
}

func (h *harness) mount() string {
	h.t.Helper()
	return decode[ps.MountResponse](h.t, h.send(ps.MsgMount, ps.MountRequest{Client: "test"})).SessionID
}

func (h *harness) open(sid, path string, flags fs.OpenFlag) int {
	h.t.Helper()
	return decode[ps.OpenResponse](h.t, h.send(ps.MsgOpen, ps.OpenRequest{SessionID: sid, Path: path, Flags: flags})).Handle
}

func TestSimpleServer_RegistersEveryPayload(t *testing.T) {
	h := defaultHarness(t)
	for _, msgType := range []string{
		ps.MsgMount, ps.MsgUnmount, ps.MsgShutdown, ps.MsgOpen, ps.MsgClose, ps.MsgWrite,
		ps.MsgRead, ps.MsgSeek, ps.MsgLookup, ps.MsgStat, ps.MsgReadDir, ps.MsgFsStat, ps.MsgExport,
	} {
		assert.Contains(t, h.comm.types, msgType)
	}
}

func TestSimpleServer_FileRoundTrip(t *testing.T) {
	h := defaultHarness(t)
	sid := h.mount()
	_, err := uuid.Parse(sid)
	require.NoError(t, err)

	fd := h.open(sid, "/a", fs.OpenCreate)

	w := decode[ps.WriteResponse](t, h.send(ps.MsgWrite, ps.WriteRequest{SessionID: sid, Handle: fd, Data: []byte("hello world")}))
	assert.Equal(t, 11, w.Written)

	off := decode[ps.SeekResponse](t, h.send(ps.MsgSeek, ps.SeekRequest{SessionID: sid, Handle: fd, Offset: 6, Whence: io.SeekStart}))
	assert.EqualValues(t, 6, off.Offset)

	r := decode[ps.ReadResponse](t, h.send(ps.MsgRead, ps.ReadRequest{SessionID: sid, Handle: fd, Length: 100}))
	assert.Equal(t, "world", string(r.Data))

	l := decode[ps.LookupResponse](t, h.send(ps.MsgLookup, ps.LookupRequest{SessionID: sid, Path: "/a"}))
	assert.Equal(t, 1, l.Inumber)

	info := decode[fs.FileInfo](t, h.send(ps.MsgStat, ps.StatRequest{SessionID: sid, Path: "/a"}))
	assert.EqualValues(t, 11, info.Size)

	entries := decode[[]fs.DirEntry](t, h.send(ps.MsgReadDir, ps.ReadDirRequest{SessionID: sid}))
	assert.Equal(t, []fs.DirEntry{{Name: "a", Inumber: 1, Size: 11}}, entries)

	resp := h.send(ps.MsgClose, ps.CloseRequest{SessionID: sid, Handle: fd})
	assert.Equal(t, communication.CodeOK, resp.Code)

	stats := decode[fs.FsStats](t, h.send(ps.MsgFsStat, ps.FsStatRequest{SessionID: sid}))
	assert.Equal(t, 0, stats.OpenFiles)
}

func TestSimpleServer_ErrorCodes(t *testing.T) {
	h := defaultHarness(t)
	sid := h.mount()
	fd := h.open(sid, "/x", fs.OpenCreate)

	tests := []struct {
		name    string
		msgType string
		payload any
		want    communication.SandCode
	}{
		{name: "missing file", msgType: ps.MsgOpen, payload: ps.OpenRequest{SessionID: sid, Path: "/nope"}, want: communication.CodeNotFound},
		{name: "bad path", msgType: ps.MsgOpen, payload: ps.OpenRequest{SessionID: sid, Path: "a/b"}, want: communication.CodeBadRequest},
		{name: "unknown session", msgType: ps.MsgLookup, payload: ps.LookupRequest{SessionID: "nope", Path: "/x"}, want: communication.CodeInvalidHandle},
		{name: "unowned handle", msgType: ps.MsgRead, payload: ps.ReadRequest{SessionID: sid, Handle: fd + 1, Length: 1}, want: communication.CodeInvalidHandle},
		{name: "wrong payload type", msgType: ps.MsgWrite, payload: ps.ReadRequest{SessionID: sid}, want: communication.CodeBadRequest},
		{name: "missing payload", msgType: ps.MsgClose, payload: nil, want: communication.CodeBadRequest},
		{name: "negative read", msgType: ps.MsgRead, payload: ps.ReadRequest{SessionID: sid, Handle: fd, Length: -1}, want: communication.CodeBadRequest},
		{name: "bad whence", msgType: ps.MsgSeek, payload: ps.SeekRequest{SessionID: sid, Handle: fd, Whence: 9}, want: communication.CodeBadRequest},
		{name: "unknown operation", msgType: "rename", payload: nil, want: communication.CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.send(tt.msgType, tt.payload)
			assert.Equal(t, tt.want, resp.Code, string(resp.Body))
		})
	}
}

func TestSimpleServer_Export(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, Options{MaxSessions: 1, Workers: 2, ExportDir: dir, ExportCodec: compress.Direct}, fssimple.Options{
		BlockSize:   64,
		DataBlocks:  16,
		Inodes:      4,
		OpenFiles:   2,
		MaxFileName: 12,
		DirectRefs:  2,
	})
	sid := h.mount()
	fd := h.open(sid, "/doc", fs.OpenCreate)
	content := bytes.Repeat([]byte("export me "), 20)
	decode[ps.WriteResponse](t, h.send(ps.MsgWrite, ps.WriteRequest{SessionID: sid, Handle: fd, Data: content}))

	out := decode[ps.ExportResponse](t, h.send(ps.MsgExport, ps.ExportRequest{SessionID: sid, Path: "/doc"}))
	assert.Equal(t, filepath.Join(dir, "doc"), out.File)
	assert.EqualValues(t, len(content), out.Bytes)
	got, err := os.ReadFile(out.File)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	out = decode[ps.ExportResponse](t, h.send(ps.MsgExport, ps.ExportRequest{SessionID: sid, Path: "/doc", Codec: compress.Zstd}))
	assert.Equal(t, filepath.Join(dir, "doc.zst"), out.File)
	raw, err := os.ReadFile(out.File)
	require.NoError(t, err)
	c, err := compress.NewCompressor(compress.Zstd)
	require.NoError(t, err)
	got, err = c.Decode(nil, raw)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	resp := h.send(ps.MsgExport, ps.ExportRequest{SessionID: sid, Path: "/doc", Codec: "lz4"})
	assert.Equal(t, communication.CodeBadRequest, resp.Code)
	resp = h.send(ps.MsgExport, ps.ExportRequest{SessionID: sid, Path: "/none"})
	assert.Equal(t, communication.CodeNotFound, resp.Code)
}

func TestSimpleServer_ExportDisabled(t *testing.T) {
	h := defaultHarness(t)
	sid := h.mount()
	h.open(sid, "/doc", fs.OpenCreate)
	resp := h.send(ps.MsgExport, ps.ExportRequest{SessionID: sid, Path: "/doc"})
	assert.Equal(t, communication.CodeBadRequest, resp.Code)
}

// lockProbe records whether the session lock is held while it is marshalled.
type lockProbe struct {
	sess *session
	held bool
}

func (p *lockProbe) MarshalJSON() ([]byte, error) {
	if p.sess.mu.TryLock() {
		p.sess.mu.Unlock()
	} else {
		p.held = true
	}
	return []byte(`{}`), nil
}

func TestSimpleServer_ReplyBuiltUnderSessionLock(t *testing.T) {
	h := defaultHarness(t)
	sid := h.mount()
	sess, err := h.server.session(sid)
	require.NoError(t, err)

	out := &lockProbe{sess: sess}
	resp, err := h.server.inSession(context.Background(), sid, func(*session) (any, error) {
		return out, nil
	})
	require.NoError(t, err)
	assert.Equal(t, communication.CodeOK, resp.Code)
	assert.True(t, out.held, "the reply must exist before the next request of the session can run")
}

func TestSimpleServer_MountNeedsPayload(t *testing.T) {
	h := defaultHarness(t)
	resp := h.send(ps.MsgMount, nil)
	assert.Equal(t, communication.CodeBadRequest, resp.Code)

	resp = h.send(ps.MsgMount, ps.MountRequest{})
	assert.Equal(t, communication.CodeOK, resp.Code, "an empty client name is allowed")
}

func TestSimpleServer_SessionLimit(t *testing.T) {
	h := defaultHarness(t)
	first := h.mount()
	h.mount()

	resp := h.send(ps.MsgMount, ps.MountRequest{})
	assert.Equal(t, communication.CodeTableFull, resp.Code)

	resp = h.send(ps.MsgUnmount, ps.UnmountRequest{SessionID: first})
	require.Equal(t, communication.CodeOK, resp.Code)
	h.mount()

	resp = h.send(ps.MsgLookup, ps.LookupRequest{SessionID: first, Path: "/x"})
	assert.Equal(t, communication.CodeInvalidHandle, resp.Code, "an unmounted session is gone")
}

func TestSimpleServer_HandlesBelongToTheirSession(t *testing.T) {
	h := defaultHarness(t)
	a := h.mount()
	b := h.mount()

	fd := h.open(a, "/shared", fs.OpenCreate)

	resp := h.send(ps.MsgWrite, ps.WriteRequest{SessionID: b, Handle: fd, Data: []byte("x")})
	assert.Equal(t, communication.CodeInvalidHandle, resp.Code)
	resp = h.send(ps.MsgClose, ps.CloseRequest{SessionID: b, Handle: fd})
	assert.Equal(t, communication.CodeInvalidHandle, resp.Code)

	// Both sessions may open the same path.
	fdB := h.open(b, "/shared", 0)
	assert.NotEqual(t, fd, fdB)
}

func TestSimpleServer_UnmountClosesHandles(t *testing.T) {
	h := defaultHarness(t)
	a := h.mount()
	h.open(a, "/f1", fs.OpenCreate)
	h.open(a, "/f2", fs.OpenCreate)

	b := h.mount()
	stats := decode[fs.FsStats](t, h.send(ps.MsgFsStat, ps.FsStatRequest{SessionID: b}))
	require.Equal(t, 2, stats.OpenFiles)

	require.Equal(t, communication.CodeOK, h.send(ps.MsgUnmount, ps.UnmountRequest{SessionID: a}).Code)

	stats = decode[fs.FsStats](t, h.send(ps.MsgFsStat, ps.FsStatRequest{SessionID: b}))
	assert.Equal(t, 0, stats.OpenFiles)
}

func TestSimpleServer_PartialWriteReportsCount(t *testing.T) {
	h := newHarness(t, Options{MaxSessions: 1, Workers: 2}, fssimple.Options{
		BlockSize:   64,
		DataBlocks:  4,
		Inodes:      4,
		OpenFiles:   2,
		MaxFileName: 12,
		DirectRefs:  2,
	})
	sid := h.mount()
	fd := h.open(sid, "/big", fs.OpenCreate)

	// root and the two direct blocks of /big leave one block free
	resp := h.send(ps.MsgWrite, ps.WriteRequest{SessionID: sid, Handle: fd, Data: make([]byte, 500)})
	assert.Equal(t, communication.CodeTableFull, resp.Code)
	assert.Equal(t, "192", resp.Headers["written"])
}

// try is send plus decode without assertions, for use off the test goroutine.
func try[T any](h *harness, msgType string, payload any) (T, error) {
	var out T
	resp, err := h.comm.Send(context.Background(), "loopback", communication.Message{Type: msgType, Payload: payload})
	if err != nil {
		return out, err
	}
	if resp.Code != communication.CodeOK {
		return out, fmt.Errorf("%s: %s: %s", msgType, resp.Code, resp.Body)
	}
	if len(resp.Body) > 0 {
		err = json.Unmarshal(resp.Body, &out)
	}
	return out, err
}

func TestSimpleServer_ConcurrentSessions(t *testing.T) {
	h := newHarness(t, Options{MaxSessions: 4, Workers: 2}, fssimple.Options{
		BlockSize:   64,
		DataBlocks:  128,
		Inodes:      8,
		OpenFiles:   8,
		MaxFileName: 12,
		DirectRefs:  2,
	})

	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			mount, err := try[ps.MountResponse](h, ps.MsgMount, ps.MountRequest{})
			if err != nil {
				return err
			}
			sid := mount.SessionID
			path := fmt.Sprintf("/s%d", i)
			open, err := try[ps.OpenResponse](h, ps.MsgOpen, ps.OpenRequest{SessionID: sid, Path: path, Flags: fs.OpenCreate})
			if err != nil {
				return err
			}
			for r := 0; r < 10; r++ {
				req := ps.WriteRequest{SessionID: sid, Handle: open.Handle, Data: []byte{byte('a' + i)}}
				if _, err := try[ps.WriteResponse](h, ps.MsgWrite, req); err != nil {
					return fmt.Errorf("session %d write %d: %w", i, r, err)
				}
			}
			info, err := try[fs.FileInfo](h, ps.MsgStat, ps.StatRequest{SessionID: sid, Path: path})
			if err != nil {
				return err
			}
			if info.Size != 10 {
				return fmt.Errorf("session %d: size %d", i, info.Size)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestSimpleServer_ShutdownWaitsForOpenHandles(t *testing.T) {
	h := defaultHarness(t)
	a := h.mount()
	b := h.mount()

	fdA := h.open(a, "/held", fs.OpenCreate)
	h.open(b, "/own", fs.OpenCreate)

	replied := make(chan *communication.Response, 1)
	go func() {
		resp, _ := h.comm.Send(context.Background(), "loopback", communication.Message{
			Type:    ps.MsgShutdown,
			Payload: ps.ShutdownRequest{SessionID: b},
		})
		replied <- resp
	}()

	select {
	case <-replied:
		t.Fatal("shutdown returned while session a still had a handle open")
	case <-time.After(50 * time.Millisecond):
	}

	require.Equal(t, communication.CodeOK, h.send(ps.MsgClose, ps.CloseRequest{SessionID: a, Handle: fdA}).Code)

	select {
	case resp := <-replied:
		require.NotNil(t, resp)
		assert.Equal(t, communication.CodeOK, resp.Code)
	case <-time.After(time.Second):
		t.Fatal("shutdown did not complete")
	}

	select {
	case <-h.server.Done():
	default:
		t.Fatal("Done not closed after shutdown")
	}

	resp := h.send(ps.MsgLookup, ps.LookupRequest{SessionID: a, Path: "/held"})
	assert.Equal(t, communication.CodeUnavailable, resp.Code)
}
