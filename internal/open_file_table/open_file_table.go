package open_file_table

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	fserr "github.com/AnishMulay/tfs/internal/fs_errors"
)

var (
	ErrTableFull     = fmt.Errorf("open file table full: %w", fserr.ErrTableFull)
	ErrInvalidHandle = fmt.Errorf("bad file handle: %w", fserr.ErrInvalidHandle)
)

// Entry is one open file: the inode it refers to and the handle's cursor.
// Every open gets a fresh Entry, so a stale pointer never aliases a reused
// handle.
type Entry struct {
	Inumber int
	cursor  atomic.Int64
}

func (e *Entry) Cursor() int64 {
	return e.cursor.Load()
}

func (e *Entry) SetCursor(off int64) {
	e.cursor.Store(off)
}

// OpenFileTable maps small integer handles to open file entries. Any holder
// of a handle value may use it.
type OpenFileTable struct {
	mu      sync.Mutex
	entries []*Entry
	count   int
	// empty is closed while no handle is open.
	empty chan struct{}
}

func NewOpenFileTable(size int) *OpenFileTable {
	empty := make(chan struct{})
	close(empty)
	return &OpenFileTable{
		entries: make([]*Entry, size),
		empty:   empty,
	}
}

func (t *OpenFileTable) Capacity() int {
	return len(t.entries)
}

func (t *OpenFileTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Add opens an entry for inumber at cursor and returns its handle.
func (t *OpenFileTable) Add(inumber int, cursor int64) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for h, e := range t.entries {
		if e != nil {
			continue
		}
		entry := &Entry{Inumber: inumber}
		entry.cursor.Store(cursor)
		t.entries[h] = entry
		if t.count == 0 {
			t.empty = make(chan struct{})
		}
		t.count++
		return h, nil
	}
	return -1, ErrTableFull
}

func (t *OpenFileTable) Remove(handle int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.valid(handle) || t.entries[handle] == nil {
		return fmt.Errorf("close %d: %w", handle, ErrInvalidHandle)
	}
	t.entries[handle] = nil
	t.count--
	if t.count == 0 {
		close(t.empty)
	}
	return nil
}

func (t *OpenFileTable) Get(handle int) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.valid(handle) || t.entries[handle] == nil {
		return nil, fmt.Errorf("handle %d: %w", handle, ErrInvalidHandle)
	}
	return t.entries[handle], nil
}

// Wait blocks until no handle is open or ctx is done.
func (t *OpenFileTable) Wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.count == 0 {
			t.mu.Unlock()
			return nil
		}
		empty := t.empty
		t.mu.Unlock()

		select {
		case <-empty:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *OpenFileTable) valid(handle int) bool {
	return handle >= 0 && handle < len(t.entries)
}
