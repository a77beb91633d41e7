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
	"time"

	"github.com/AnishMulay/tfs/internal/block_pool"
	"github.com/AnishMulay/tfs/internal/compress"
	"github.com/AnishMulay/tfs/internal/config"
	"github.com/AnishMulay/tfs/internal/directory"
	fs "github.com/AnishMulay/tfs/internal/file_service"
	fserr "github.com/AnishMulay/tfs/internal/fs_errors"
	"github.com/AnishMulay/tfs/internal/inode_table"
	"github.com/AnishMulay/tfs/internal/latency"
	"github.com/AnishMulay/tfs/internal/log_service"
	"github.com/AnishMulay/tfs/internal/open_file_table"
	"github.com/natefinch/atomic"
)

type Options struct {
	BlockSize   int
	DataBlocks  int
	Inodes      int
	OpenFiles   int
	MaxFileName int
	DirectRefs  int
	// Delay runs on every table access.
	Delay latency.Injector
}

func OptionsFromConfig(c config.FSConfig) Options {
	return Options{
		BlockSize:   c.BlockSize,
		DataBlocks:  c.DataBlocks,
		Inodes:      c.Inodes,
		OpenFiles:   c.OpenFiles,
		MaxFileName: c.MaxFileName,
		DirectRefs:  c.DirectRefs,
		Delay:       latency.Sleep(time.Duration(c.DelayMicros) * time.Microsecond),
	}
}

func (o Options) validate() error {
	switch {
	case o.BlockSize <= 0 || o.BlockSize%inode_table.BlockIndexSize != 0:
		return fmt.Errorf("%w: block size %d", fs.ErrBadOptions, o.BlockSize)
	case o.DataBlocks <= 0 || o.Inodes <= 0 || o.OpenFiles <= 0 || o.DirectRefs <= 0:
		return fmt.Errorf("%w: table sizes must be positive", fs.ErrBadOptions)
	case o.MaxFileName < 2 || o.MaxFileName+4 > o.BlockSize:
		return fmt.Errorf("%w: max file name %d", fs.ErrBadOptions, o.MaxFileName)
	}
	return nil
}

// tables is the state built by Init and dropped by Destroy.
type tables struct {
	pool   *block_pool.BlockPool
	inodes *inode_table.InodeTable
	dir    *directory.Directory
	files  *open_file_table.OpenFileTable
}

type SimpleFileService struct {
	mu      sync.RWMutex
	t       *tables
	closing bool

	opts Options
	ls   log_service.LogService
}

func NewSimpleFileService(opts Options, ls log_service.LogService) *SimpleFileService {
	return &SimpleFileService{opts: opts, ls: ls}
}

// --- Lifecycle ---

func (s *SimpleFileService) Init(ctx context.Context) error {
	if err := s.opts.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.t != nil {
		return fs.ErrAlreadyInitialized
	}

	o := s.opts
	pool := block_pool.NewBlockPool(o.BlockSize, o.DataBlocks, o.Delay)
	inodes := inode_table.NewInodeTable(pool, inode_table.Options{
		Inodes:     o.Inodes,
		DirectRefs: o.DirectRefs,
		Delay:      o.Delay,
		FormatDir:  directory.Format(o.MaxFileName),
	})

	root, err := inodes.Create(inode_table.TypeDirectory)
	if err != nil {
		return fmt.Errorf("create root directory: %w", err)
	}
	if root != fs.RootInumber {
		panic(fmt.Sprintf("simple: root directory created at inode %d", root))
	}

	s.t = &tables{
		pool:   pool,
		inodes: inodes,
		dir:    directory.NewDirectory(inodes, pool, o.MaxFileName, o.Delay),
		files:  open_file_table.NewOpenFileTable(o.OpenFiles),
	}
	s.closing = false

	s.ls.Info(log_service.LogEvent{
		Message: "File system initialized",
		Metadata: map[string]any{
			"blockSize":   o.BlockSize,
			"dataBlocks":  o.DataBlocks,
			"inodes":      o.Inodes,
			"openFiles":   o.OpenFiles,
			"maxFileSize": inodes.MaxFileSize(),
		},
	})
	return nil
}

func (s *SimpleFileService) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.t == nil {
		return nil
	}

	// Unlink and delete every file, then the root.
	for _, inum := range s.t.inodes.Live() {
		if inum == fs.RootInumber {
			continue
		}
		if err := s.t.dir.ClearEntry(fs.RootInumber, inum); err != nil {
			return fmt.Errorf("destroy: unlink inode %d: %w", inum, err)
		}
		if err := s.t.inodes.Delete(inum); err != nil {
			return fmt.Errorf("destroy inode %d: %w", inum, err)
		}
	}
	if err := s.t.inodes.Delete(fs.RootInumber); err != nil {
		return fmt.Errorf("destroy root: %w", err)
	}
	if taken := s.t.pool.TakenCount(); taken != 0 {
		panic(fmt.Sprintf("simple: %d blocks still taken after destroy", taken))
	}

	s.t = nil
	s.closing = false
	s.ls.Info(log_service.LogEvent{Message: "File system destroyed"})
	return nil
}

func (s *SimpleFileService) DestroyAfterAllClosed(ctx context.Context) error {
	s.mu.Lock()
	if s.t == nil {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	files := s.t.files
	s.mu.Unlock()

	s.ls.Info(log_service.LogEvent{
		Message:  "Waiting for open files before destroy",
		Metadata: map[string]any{"open": files.Count()},
	})

	if err := files.Wait(ctx); err != nil {
		s.mu.Lock()
		s.closing = false
		s.mu.Unlock()
		return fmt.Errorf("wait for open files: %w", err)
	}
	return s.Destroy(ctx)
}

// acquire returns the live tables under the read lock. The caller must call
// release when done.
func (s *SimpleFileService) acquire() (*tables, func(), error) {
	s.mu.RLock()
	if s.t == nil {
		s.mu.RUnlock()
		return nil, nil, fs.ErrNotInitialized
	}
	return s.t, s.mu.RUnlock, nil
}

// --- Namespace ---

func (s *SimpleFileService) Lookup(ctx context.Context, path string) (int, error) {
	t, release, err := s.acquire()
	if err != nil {
		return -1, err
	}
	defer release()

	name, err := s.name(t, path)
	if err != nil {
		return -1, err
	}
	return t.dir.Find(fs.RootInumber, name)
}

func (s *SimpleFileService) Stat(ctx context.Context, path string) (*fs.FileInfo, error) {
	t, release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	inum := fs.RootInumber
	if path != "/" {
		name, err := s.name(t, path)
		if err != nil {
			return nil, err
		}
		if inum, err = t.dir.Find(fs.RootInumber, name); err != nil {
			return nil, err
		}
	}

	inode, err := t.inodes.Get(inum)
	if err != nil {
		return nil, err
	}

	inode.Mu.RLock()
	defer inode.Mu.RUnlock()

	blocks := len(inode.Direct)
	if inode.IsDir() {
		blocks = 1
	}
	if inode.Indirect != nil {
		blocks += inode.Indirect.Allocated()
	}
	return &fs.FileInfo{
		Path:    path,
		Inumber: inum,
		Type:    inode.Type.String(),
		Size:    inode.Size,
		Blocks:  blocks,
	}, nil
}

func (s *SimpleFileService) ReadDir(ctx context.Context) ([]fs.DirEntry, error) {
	t, release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	entries, err := t.dir.List(fs.RootInumber)
	if err != nil {
		return nil, err
	}

	out := make([]fs.DirEntry, 0, len(entries))
	for _, e := range entries {
		inode, err := t.inodes.Get(e.Inumber)
		if err != nil {
			return nil, err
		}
		inode.Mu.RLock()
		size := inode.Size
		inode.Mu.RUnlock()
		out = append(out, fs.DirEntry{Name: e.Name, Inumber: e.Inumber, Size: size})
	}
	return out, nil
}

func (s *SimpleFileService) FsStat(ctx context.Context) (*fs.FsStats, error) {
	t, release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	entries, err := t.dir.List(fs.RootInumber)
	if err != nil {
		return nil, err
	}
	return &fs.FsStats{
		BlockSize:     t.pool.BlockSize(),
		TotalBlocks:   t.pool.Capacity(),
		FreeBlocks:    t.pool.FreeCount(),
		TotalInodes:   t.inodes.Capacity(),
		UsedInodes:    t.inodes.UsedCount(),
		OpenFiles:     t.files.Count(),
		MaxOpenFiles:  t.files.Capacity(),
		DirEntries:    len(entries),
		MaxDirEntries: t.dir.MaxEntries(),
		MaxFileSize:   t.inodes.MaxFileSize(),
		MaxNameLen:    s.opts.MaxFileName - 1,
	}, nil
}

func (s *SimpleFileService) name(t *tables, path string) (string, error) {
	name, err := fs.SplitPath(path)
	if err != nil {
		return "", err
	}
	if err := t.dir.ValidName(name); err != nil {
		return "", err
	}
	return name, nil
}

// --- Handles ---

func (s *SimpleFileService) Open(ctx context.Context, path string, flags fs.OpenFlag) (int, error) {
	t, release, err := s.acquire()
	if err != nil {
		return -1, err
	}
	defer release()

	if s.closing {
		return -1, fs.ErrShuttingDown
	}

	name, err := s.name(t, path)
	if err != nil {
		return -1, err
	}

	for {
		inum, err := t.dir.Find(fs.RootInumber, name)
		switch {
		case err == nil:
			return s.openExisting(t, inum, flags)

		case errors.Is(err, fserr.ErrNotFound) && flags&fs.OpenCreate != 0:
			inum, err = t.inodes.Create(inode_table.TypeFile)
			if err != nil {
				s.logFailure("Open: create inode failed", path, err)
				return -1, err
			}
			if err := t.dir.AddEntry(fs.RootInumber, inum, name); err != nil {
				if derr := t.inodes.Delete(inum); derr != nil {
					panic(fmt.Sprintf("simple: delete unlinked inode %d: %v", inum, derr))
				}
				if errors.Is(err, fserr.ErrAlreadyExists) {
					// Another creator linked the name first, open theirs.
					continue
				}
				s.logFailure("Open: add directory entry failed", path, err)
				return -1, err
			}
			s.ls.Debug(log_service.LogEvent{
				Message:  "Created file",
				Metadata: map[string]any{"path": path, "inumber": inum},
			})
			return t.files.Add(inum, 0)

		default:
			return -1, err
		}
	}
}

func (s *SimpleFileService) openExisting(t *tables, inum int, flags fs.OpenFlag) (int, error) {
	inode, err := t.inodes.Get(inum)
	if err != nil {
		return -1, err
	}

	var cursor int64
	switch {
	case flags&fs.OpenTrunc != 0:
		inode.Mu.Lock()
		err = t.inodes.Truncate(inode)
		inode.Mu.Unlock()
		if err != nil {
			return -1, err
		}
	case flags&fs.OpenAppend != 0:
		inode.Mu.RLock()
		cursor = inode.Size
		inode.Mu.RUnlock()
	}
	return t.files.Add(inum, cursor)
}

func (s *SimpleFileService) Close(ctx context.Context, handle int) error {
	t, release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	return t.files.Remove(handle)
}

func (s *SimpleFileService) handle(t *tables, handle int) (*open_file_table.Entry, *inode_table.Inode, error) {
	entry, err := t.files.Get(handle)
	if err != nil {
		return nil, nil, err
	}
	inode, err := t.inodes.Get(entry.Inumber)
	if err != nil {
		return nil, nil, err
	}
	return entry, inode, nil
}

func (s *SimpleFileService) Write(ctx context.Context, handle int, data []byte) (int, error) {
	t, release, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	entry, inode, err := s.handle(t, handle)
	if err != nil {
		return 0, err
	}

	inode.Mu.Lock()
	defer inode.Mu.Unlock()

	bs := int64(t.pool.BlockSize())
	cursor := entry.Cursor()
	if room := t.inodes.MaxFileSize() - cursor; int64(len(data)) > room {
		data = data[:max(room, 0)]
	}
	if len(data) == 0 {
		return 0, nil
	}

	// 1. Back every block between the current end and the cursor so a
	// write past the end leaves zeroes, not holes.
	for n := t.inodes.BlocksFor(inode.Size); int64(n)*bs < cursor; n++ {
		if _, err := t.inodes.MapBlock(inode, n, true); err != nil {
			s.logFailure("Write: gap fill failed", entry.Inumber, err)
			return 0, err
		}
	}

	// 2. Copy block by block, stopping at the first allocation failure.
	written := 0
	for written < len(data) {
		pos := cursor + int64(written)
		b, err := t.inodes.MapBlock(inode, int(pos/bs), true)
		if err != nil {
			s.logFailure("Write: block allocation failed", entry.Inumber, err)
			s.commitWrite(inode, entry, cursor, written)
			return written, err
		}
		block := s.block(t, b)
		written += copy(block[pos%bs:], data[written:])
	}

	s.commitWrite(inode, entry, cursor, written)
	return written, nil
}

func (s *SimpleFileService) commitWrite(inode *inode_table.Inode, entry *open_file_table.Entry, cursor int64, written int) {
	end := cursor + int64(written)
	if end > inode.Size {
		inode.Size = end
	}
	entry.SetCursor(end)
}

func (s *SimpleFileService) Read(ctx context.Context, handle int, p []byte) (int, error) {
	t, release, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	entry, inode, err := s.handle(t, handle)
	if err != nil {
		return 0, err
	}

	inode.Mu.RLock()
	defer inode.Mu.RUnlock()

	cursor := entry.Cursor()
	avail := inode.Size - cursor
	if avail <= 0 || len(p) == 0 {
		return 0, nil
	}
	if int64(len(p)) > avail {
		p = p[:avail]
	}

	bs := int64(t.pool.BlockSize())
	read := 0
	for read < len(p) {
		pos := cursor + int64(read)
		b, err := t.inodes.MapBlock(inode, int(pos/bs), false)
		if err != nil {
			panic(fmt.Sprintf("simple: inode %d block %d within size %d unmapped: %v", entry.Inumber, pos/bs, inode.Size, err))
		}
		read += copy(p[read:], s.block(t, b)[pos%bs:])
	}
	return read, nil
}

func (s *SimpleFileService) Seek(ctx context.Context, handle int, offset int64, whence int) (int64, error) {
	t, release, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	entry, inode, err := s.handle(t, handle)
	if err != nil {
		return 0, err
	}

	inode.Mu.RLock()
	defer inode.Mu.RUnlock()

	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = entry.Cursor()
	case io.SeekEnd:
		base = inode.Size
	default:
		return 0, fmt.Errorf("%w: %d", fs.ErrBadWhence, whence)
	}

	pos := base + offset
	if pos < 0 || pos > t.inodes.MaxFileSize() {
		return 0, fmt.Errorf("%w: %d", fs.ErrSeekRange, pos)
	}
	entry.SetCursor(pos)
	return pos, nil
}

func (s *SimpleFileService) block(t *tables, b int) []byte {
	block, err := t.pool.Get(b)
	if err != nil {
		panic(fmt.Sprintf("simple: mapped block %d not taken: %v", b, err))
	}
	return block
}

// --- Export ---

func (s *SimpleFileService) Export(ctx context.Context, path string, w io.Writer) (int64, error) {
	handle, err := s.Open(ctx, path, 0)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := s.Close(ctx, handle); err != nil {
			s.logFailure("Export: close failed", path, err)
		}
	}()

	buf := make([]byte, s.opts.BlockSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := s.Read(ctx, handle, buf)
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return total, fmt.Errorf("export %s: %w", path, err)
		}
		total += int64(n)

		if _, err := s.Seek(ctx, handle, int64(n), io.SeekCurrent); err != nil {
			return total, err
		}
	}

	s.ls.Debug(log_service.LogEvent{
		Message:  "Exported file",
		Metadata: map[string]any{"path": path, "bytes": total},
	})
	return total, nil
}

func (s *SimpleFileService) ExportToFile(ctx context.Context, path string, dest string, codec string) (int64, error) {
	c, err := compress.NewCompressor(codec)
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	n, err := s.Export(ctx, path, &buf)
	if err != nil {
		return n, err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return n, fmt.Errorf("create export directory: %w", err)
	}
	encoded := c.Encode(nil, buf.Bytes())
	if err := atomic.WriteFile(dest, bytes.NewReader(encoded)); err != nil {
		s.logFailure("ExportToFile: write failed", dest, err)
		return n, fmt.Errorf("write %s: %w", dest, err)
	}

	s.ls.Info(log_service.LogEvent{
		Message:  "Exported file to disk",
		Metadata: map[string]any{"path": path, "dest": dest, "codec": c.Name(), "bytes": n, "stored": len(encoded)},
	})
	return n, nil
}

func (s *SimpleFileService) logFailure(msg string, subject any, err error) {
	s.ls.Error(log_service.LogEvent{
		Message:  msg,
		Metadata: map[string]any{"subject": subject, "error": err.Error()},
	})
}

var _ fs.FileService = (*SimpleFileService)(nil)
