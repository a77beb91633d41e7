package simple

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AnishMulay/tfs/internal/compress"
	"github.com/AnishMulay/tfs/internal/config"
	fs "github.com/AnishMulay/tfs/internal/file_service"
	fserr "github.com/AnishMulay/tfs/internal/fs_errors"
	"github.com/AnishMulay/tfs/internal/inode_table"
	"github.com/AnishMulay/tfs/internal/latency"
	"github.com/AnishMulay/tfs/internal/log_service/zaplog"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	testBlockSize  = 64
	testDirectRefs = 2
	// 2 direct blocks plus 64/4 indirect ones.
	testMaxFileSize = (testDirectRefs + testBlockSize/4) * testBlockSize
)

func testOptions() Options {
	return Options{
		BlockSize:   testBlockSize,
		DataBlocks:  64,
		Inodes:      8,
		OpenFiles:   4,
		MaxFileName: 12,
		DirectRefs:  testDirectRefs,
	}
}

func newTestService(t *testing.T, opts Options) *SimpleFileService {
	t.Helper()
	s := NewSimpleFileService(opts, zaplog.NewZapLogService(zap.NewNop(), "test"))
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { _ = s.Destroy(context.Background()) })
	return s
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i%251)
	}
	return b
}

func readAll(t *testing.T, s *SimpleFileService, handle int) []byte {
	t.Helper()
	ctx := context.Background()
	_, err := s.Seek(ctx, handle, 0, io.SeekStart)
	require.NoError(t, err)

	var out []byte
	buf := make([]byte, 100)
	for {
		n, err := s.Read(ctx, handle, buf)
		require.NoError(t, err)
		if n == 0 {
			return out
		}
		out = append(out, buf[:n]...)
		_, err = s.Seek(ctx, handle, int64(n), io.SeekCurrent)
		require.NoError(t, err)
	}
}

func TestSimpleFileService_ConcreteScenario(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, testOptions())

	h0, err := s.Open(ctx, "/a", fs.OpenCreate)
	require.NoError(t, err)
	n, err := s.Write(ctx, h0, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, s.Close(ctx, h0))

	h1, err := s.Open(ctx, "/a", 0)
	require.NoError(t, err)
	buf := make([]byte, 5)
	n, err = s.Read(ctx, h1, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	_, err = s.Lookup(ctx, "/missing")
	assert.ErrorIs(t, err, fserr.ErrNotFound)
}

func TestSimpleFileService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewSimpleFileService(testOptions(), zaplog.NewZapLogService(zap.NewNop(), "test"))

	_, err := s.Open(ctx, "/f", fs.OpenCreate)
	require.ErrorIs(t, err, fserr.ErrNotInitialized)

	require.NoError(t, s.Init(ctx))
	assert.ErrorIs(t, s.Init(ctx), fs.ErrAlreadyInitialized)

	h, err := s.Open(ctx, "/f", fs.OpenCreate)
	require.NoError(t, err)
	_, err = s.Write(ctx, h, pattern(300, 1))
	require.NoError(t, err)

	require.NoError(t, s.Destroy(ctx))
	require.NoError(t, s.Destroy(ctx), "destroy is idempotent")

	_, err = s.Read(ctx, h, make([]byte, 1))
	assert.ErrorIs(t, err, fserr.ErrNotInitialized)
	_, err = s.FsStat(ctx)
	assert.ErrorIs(t, err, fserr.ErrNotInitialized)

	require.NoError(t, s.Init(ctx))
	_, err = s.Lookup(ctx, "/f")
	assert.ErrorIs(t, err, fserr.ErrNotFound, "a fresh init starts empty")
	require.NoError(t, s.Destroy(ctx))
}

func TestSimpleFileService_DestroyUnlinksEveryFile(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, testOptions())

	for _, path := range []string{"/a", "/b"} {
		h, err := s.Open(ctx, path, fs.OpenCreate)
		require.NoError(t, err)
		require.NoError(t, s.Close(ctx, h))
	}
	require.NoError(t, s.Destroy(ctx))

	// A live file with no directory entry means the tables disagree.
	require.NoError(t, s.Init(ctx))
	_, err := s.t.inodes.Create(inode_table.TypeFile)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Destroy(ctx), fserr.ErrNotFound)
}

func TestSimpleFileService_InitRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{name: "block size not a multiple of 4", modify: func(o *Options) { o.BlockSize = 30 }},
		{name: "no inodes", modify: func(o *Options) { o.Inodes = 0 }},
		{name: "entry larger than a block", modify: func(o *Options) { o.MaxFileName = 61 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.modify(&opts)
			s := NewSimpleFileService(opts, zaplog.NewZapLogService(zap.NewNop(), "test"))
			assert.ErrorIs(t, s.Init(context.Background()), fs.ErrBadOptions)
		})
	}
}

func TestSimpleFileService_RoundTrip(t *testing.T) {
	sizes := []struct {
		name string
		size int
	}{
		{name: "one byte", size: 1},
		{name: "less than a block", size: testBlockSize - 1},
		{name: "exactly a block", size: testBlockSize},
		{name: "direct range", size: testDirectRefs * testBlockSize},
		{name: "spanning into indirect", size: testDirectRefs*testBlockSize + 1},
		{name: "several indirect blocks", size: 500},
		{name: "maximum file size", size: testMaxFileSize},
	}
	for _, tt := range sizes {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newTestService(t, testOptions())

			data := pattern(tt.size, 7)
			h, err := s.Open(ctx, "/f", fs.OpenCreate)
			require.NoError(t, err)

			n, err := s.Write(ctx, h, data)
			require.NoError(t, err)
			require.Equal(t, tt.size, n)

			if diff := cmp.Diff(data, readAll(t, s, h)); diff != "" {
				t.Errorf("content mismatch (-want +got):\n%s", diff)
			}

			info, err := s.Stat(ctx, "/f")
			require.NoError(t, err)
			assert.EqualValues(t, tt.size, info.Size)
			assert.Equal(t, max(testDirectRefs, (tt.size+testBlockSize-1)/testBlockSize), info.Blocks)
		})
	}
}

func TestSimpleFileService_WriteClampsAtMaxSize(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, testOptions())

	h, err := s.Open(ctx, "/big", fs.OpenCreate)
	require.NoError(t, err)

	n, err := s.Write(ctx, h, pattern(testMaxFileSize+100, 3))
	require.NoError(t, err)
	assert.Equal(t, testMaxFileSize, n)

	n, err = s.Write(ctx, h, []byte("more"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	info, err := s.Stat(ctx, "/big")
	require.NoError(t, err)
	assert.EqualValues(t, testMaxFileSize, info.Size)
}

func TestSimpleFileService_TruncateReleasesIndirectBlocks(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, testOptions())

	h, err := s.Open(ctx, "/t", fs.OpenCreate)
	require.NoError(t, err)
	_, err = s.Write(ctx, h, pattern(5*testBlockSize, 9))
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx, h))

	before, err := s.FsStat(ctx)
	require.NoError(t, err)

	h, err = s.Open(ctx, "/t", fs.OpenTrunc)
	require.NoError(t, err)

	after, err := s.FsStat(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.FreeBlocks+3, after.FreeBlocks)

	n, err := s.Read(ctx, h, make([]byte, 10))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	info, err := s.Stat(ctx, "/t")
	require.NoError(t, err)
	assert.EqualValues(t, 0, info.Size)
	assert.Equal(t, testDirectRefs, info.Blocks)
}

func TestSimpleFileService_Append(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, testOptions())

	h, err := s.Open(ctx, "/log", fs.OpenCreate)
	require.NoError(t, err)
	_, err = s.Write(ctx, h, []byte("abc"))
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx, h))

	h, err = s.Open(ctx, "/log", fs.OpenAppend)
	require.NoError(t, err)
	_, err = s.Write(ctx, h, []byte("def"))
	require.NoError(t, err)

	assert.Equal(t, "abcdef", string(readAll(t, s, h)))
}

func TestSimpleFileService_ReadDoesNotMoveCursor(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, testOptions())

	h, err := s.Open(ctx, "/r", fs.OpenCreate)
	require.NoError(t, err)
	_, err = s.Write(ctx, h, []byte("0123456789"))
	require.NoError(t, err)
	_, err = s.Seek(ctx, h, 2, io.SeekStart)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		buf := make([]byte, 4)
		n, err := s.Read(ctx, h, buf)
		require.NoError(t, err)
		assert.Equal(t, "2345", string(buf[:n]))
	}

	// Writes still advance it.
	_, err = s.Write(ctx, h, []byte("ab"))
	require.NoError(t, err)
	buf := make([]byte, 10)
	n, err := s.Read(ctx, h, buf)
	require.NoError(t, err)
	assert.Equal(t, "456789", string(buf[:n]))
}

func TestSimpleFileService_WritePastEndFillsZeroes(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, testOptions())

	h, err := s.Open(ctx, "/sparse", fs.OpenCreate)
	require.NoError(t, err)
	pos, err := s.Seek(ctx, h, 200, io.SeekStart)
	require.NoError(t, err)
	require.EqualValues(t, 200, pos)

	_, err = s.Write(ctx, h, []byte("x"))
	require.NoError(t, err)

	want := append(make([]byte, 200), 'x')
	assert.Equal(t, want, readAll(t, s, h))

	info, err := s.Stat(ctx, "/sparse")
	require.NoError(t, err)
	assert.Equal(t, 4, info.Blocks)
}

func TestSimpleFileService_Seek(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, testOptions())

	h, err := s.Open(ctx, "/s", fs.OpenCreate)
	require.NoError(t, err)
	_, err = s.Write(ctx, h, []byte("0123456789"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		offset  int64
		whence  int
		want    int64
		wantErr error
	}{
		{name: "start", offset: 3, whence: io.SeekStart, want: 3},
		{name: "current", offset: 2, whence: io.SeekCurrent, want: 5},
		{name: "end", offset: -1, whence: io.SeekEnd, want: 9},
		{name: "negative", offset: -20, whence: io.SeekCurrent, wantErr: fs.ErrSeekRange},
		{name: "past max size", offset: testMaxFileSize + 1, whence: io.SeekStart, wantErr: fs.ErrSeekRange},
		{name: "bad whence", offset: 0, whence: 7, wantErr: fs.ErrBadWhence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Seek(ctx, h, tt.offset, tt.whence)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, fserr.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSimpleFileService_HandleStates(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, testOptions())

	_, err := s.Write(ctx, 0, []byte("x"))
	assert.ErrorIs(t, err, fserr.ErrInvalidHandle, "never opened")

	h, err := s.Open(ctx, "/h", fs.OpenCreate)
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx, h))

	_, err = s.Write(ctx, h, []byte("x"))
	assert.ErrorIs(t, err, fserr.ErrInvalidHandle)
	_, err = s.Read(ctx, h, make([]byte, 1))
	assert.ErrorIs(t, err, fserr.ErrInvalidHandle)
	assert.ErrorIs(t, s.Close(ctx, h), fserr.ErrInvalidHandle)
	_, err = s.Write(ctx, -1, nil)
	assert.ErrorIs(t, err, fserr.ErrInvalidHandle)
}

func TestSimpleFileService_Paths(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, testOptions())

	tests := []struct {
		path string
		want error
	}{
		{path: "noslash", want: fserr.ErrInvalidPath},
		{path: "/", want: fserr.ErrInvalidPath},
		{path: "/a/b", want: fserr.ErrInvalidPath},
		{path: "/name-too-long", want: fserr.ErrInvalidPath},
		{path: "/missing", want: fserr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := s.Open(ctx, tt.path, 0)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := s.Open(ctx, "/elevenchars", fs.OpenCreate)
	assert.NoError(t, err, "names up to max_file_name-1 bytes are accepted")
}

func TestSimpleFileService_Exhaustion(t *testing.T) {
	ctx := context.Background()

	t.Run("open handles", func(t *testing.T) {
		s := newTestService(t, testOptions())
		var handles []int
		for i := 0; i < 4; i++ {
			h, err := s.Open(ctx, "/f", fs.OpenCreate)
			require.NoError(t, err)
			handles = append(handles, h)
		}
		_, err := s.Open(ctx, "/f", 0)
		require.ErrorIs(t, err, fserr.ErrTableFull)

		require.NoError(t, s.Close(ctx, handles[2]))
		h, err := s.Open(ctx, "/f", 0)
		require.NoError(t, err)
		assert.Equal(t, handles[2], h)
	})

	t.Run("directory entries", func(t *testing.T) {
		s := newTestService(t, testOptions())
		limit := testBlockSize / (12 + 4)
		for i := 0; i < limit; i++ {
			h, err := s.Open(ctx, fmt.Sprintf("/f%d", i), fs.OpenCreate)
			require.NoError(t, err)
			require.NoError(t, s.Close(ctx, h))
		}
		_, err := s.Open(ctx, "/extra", fs.OpenCreate)
		require.ErrorIs(t, err, fserr.ErrTableFull)

		stats, err := s.FsStat(ctx)
		require.NoError(t, err)
		assert.Equal(t, limit+1, stats.UsedInodes, "the unlinked inode is released")
		assert.Equal(t, limit, stats.DirEntries)
	})

	t.Run("inodes", func(t *testing.T) {
		opts := testOptions()
		opts.Inodes = 3
		s := newTestService(t, opts)
		for _, p := range []string{"/a", "/b"} {
			h, err := s.Open(ctx, p, fs.OpenCreate)
			require.NoError(t, err)
			require.NoError(t, s.Close(ctx, h))
		}
		_, err := s.Open(ctx, "/c", fs.OpenCreate)
		assert.ErrorIs(t, err, fserr.ErrTableFull)
	})

	t.Run("data blocks", func(t *testing.T) {
		opts := testOptions()
		opts.DataBlocks = 8
		s := newTestService(t, opts)

		h, err := s.Open(ctx, "/a", fs.OpenCreate)
		require.NoError(t, err)

		// root takes one block and /a two, leaving five for the indirect range.
		room := (testDirectRefs + 5) * testBlockSize
		n, err := s.Write(ctx, h, pattern(1000, 5))
		require.ErrorIs(t, err, fserr.ErrTableFull)
		assert.Equal(t, room, n, "bytes copied before the failure stay written")
		assert.Equal(t, pattern(room, 5), readAll(t, s, h))

		_, err = s.Open(ctx, "/b", fs.OpenCreate)
		require.ErrorIs(t, err, fserr.ErrTableFull)

		require.NoError(t, s.Close(ctx, h))
		_, err = s.Open(ctx, "/a", fs.OpenTrunc)
		require.NoError(t, err)
		_, err = s.Open(ctx, "/b", fs.OpenCreate)
		assert.NoError(t, err)
	})
}

func TestSimpleFileService_ConcurrentWritersAreIsolated(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.DataBlocks = 128
	opts.Delay = latency.Sleep(time.Microsecond)
	s := newTestService(t, opts)

	const writers = 4
	const chunk = 37
	const rounds = 8

	handles := make([]int, writers)
	for i := range handles {
		h, err := s.Open(ctx, fmt.Sprintf("/w%d", i), fs.OpenCreate)
		require.NoError(t, err)
		handles[i] = h
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, h := range handles {
		g.Go(func() error {
			data := bytes.Repeat([]byte{byte('a' + i)}, chunk)
			for r := 0; r < rounds; r++ {
				n, err := s.Write(gctx, h, data)
				if err != nil {
					return err
				}
				if n != chunk {
					return fmt.Errorf("writer %d: short write %d", i, n)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i, h := range handles {
		want := bytes.Repeat([]byte{byte('a' + i)}, chunk*rounds)
		assert.Equal(t, want, readAll(t, s, h), "file %d", i)
	}
}

func TestSimpleFileService_ConcurrentCreateOfSamePath(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.OpenFiles = 8
	opts.Inodes = 16
	opts.Delay = latency.Sleep(50 * time.Microsecond)
	s := newTestService(t, opts)

	const openers = 8
	var (
		mu      sync.Mutex
		handles []int
	)
	var g errgroup.Group
	for i := 0; i < openers; i++ {
		g.Go(func() error {
			h, err := s.Open(ctx, "/same", fs.OpenCreate)
			if err != nil {
				return err
			}
			mu.Lock()
			handles = append(handles, h)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, handles, openers)

	entries, err := s.ReadDir(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "same", entries[0].Name)

	stats, err := s.FsStat(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.UsedInodes, "root plus exactly one file")
	assert.Equal(t, 1+testDirectRefs, stats.TotalBlocks-stats.FreeBlocks)
}

func TestSimpleFileService_ReadDirAndStat(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, testOptions())

	for i, p := range []string{"/x", "/y"} {
		h, err := s.Open(ctx, p, fs.OpenCreate)
		require.NoError(t, err)
		_, err = s.Write(ctx, h, pattern(10*(i+1), 0))
		require.NoError(t, err)
		require.NoError(t, s.Close(ctx, h))
	}

	entries, err := s.ReadDir(ctx)
	require.NoError(t, err)
	want := []fs.DirEntry{
		{Name: "x", Inumber: 1, Size: 10},
		{Name: "y", Inumber: 2, Size: 20},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("ReadDir mismatch (-want +got):\n%s", diff)
	}

	root, err := s.Stat(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, fs.RootInumber, root.Inumber)
	assert.Equal(t, "directory", root.Type)

	stats, err := s.FsStat(ctx)
	require.NoError(t, err)
	assert.Equal(t, &fs.FsStats{
		BlockSize:     testBlockSize,
		TotalBlocks:   64,
		FreeBlocks:    64 - 1 - 2*testDirectRefs,
		TotalInodes:   8,
		UsedInodes:    3,
		OpenFiles:     0,
		MaxOpenFiles:  4,
		DirEntries:    2,
		MaxDirEntries: 4,
		MaxFileSize:   testMaxFileSize,
		MaxNameLen:    11,
	}, stats)
}

func TestSimpleFileService_Export(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, testOptions())

	data := pattern(700, 11)
	h, err := s.Open(ctx, "/e", fs.OpenCreate)
	require.NoError(t, err)
	_, err = s.Write(ctx, h, data)
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx, h))

	var buf bytes.Buffer
	n, err := s.Export(ctx, "/e", &buf)
	require.NoError(t, err)
	assert.EqualValues(t, len(data), n)
	assert.Equal(t, data, buf.Bytes())

	stats, err := s.FsStat(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.OpenFiles, "export closes its handle")

	_, err = s.Export(ctx, "/nope", &buf)
	assert.ErrorIs(t, err, fserr.ErrNotFound)

	for _, codec := range []string{compress.Direct, compress.Snappy, compress.Zstd} {
		t.Run(codec, func(t *testing.T) {
			dest := filepath.Join(t.TempDir(), "out", "e"+compress.Extension(codec))
			n, err := s.ExportToFile(ctx, "/e", dest, codec)
			require.NoError(t, err)
			assert.EqualValues(t, len(data), n)

			stored, err := os.ReadFile(dest)
			require.NoError(t, err)
			c, err := compress.NewCompressor(codec)
			require.NoError(t, err)
			decoded, err := c.Decode(nil, stored)
			require.NoError(t, err)
			assert.Equal(t, data, decoded)
		})
	}

	_, err = s.ExportToFile(ctx, "/e", filepath.Join(t.TempDir(), "x"), "lz4")
	assert.ErrorIs(t, err, fserr.ErrInvalidArgument)
}

func TestSimpleFileService_DestroyAfterAllClosed(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, testOptions())

	h, err := s.Open(ctx, "/busy", fs.OpenCreate)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.DestroyAfterAllClosed(ctx) }()

	require.Eventually(t, func() bool {
		probe, err := s.Open(ctx, "/busy", 0)
		if err == nil {
			_ = s.Close(ctx, probe)
			return false
		}
		return errors.Is(err, fs.ErrShuttingDown)
	}, time.Second, time.Millisecond)

	select {
	case <-done:
		t.Fatal("destroyed while a handle was open")
	default:
	}

	require.NoError(t, s.Close(ctx, h))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("DestroyAfterAllClosed did not return")
	}

	_, err = s.Lookup(ctx, "/busy")
	assert.ErrorIs(t, err, fserr.ErrNotInitialized)
}

func TestSimpleFileService_DestroyAfterAllClosedHonoursContext(t *testing.T) {
	s := newTestService(t, testOptions())
	ctx := context.Background()

	_, err := s.Open(ctx, "/busy", fs.OpenCreate)
	require.NoError(t, err)

	wctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.DestroyAfterAllClosed(wctx), context.DeadlineExceeded)

	_, err = s.Open(ctx, "/again", fs.OpenCreate)
	assert.NoError(t, err, "a cancelled shutdown reopens the file system")
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default().FS
	opts := OptionsFromConfig(cfg)
	assert.Equal(t, 1024, opts.BlockSize)
	assert.Equal(t, 10, opts.DirectRefs)
	assert.Nil(t, opts.Delay)

	cfg.DelayMicros = 5
	assert.NotNil(t, OptionsFromConfig(cfg).Delay)
}
