package directory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/AnishMulay/tfs/internal/block_pool"
	fserr "github.com/AnishMulay/tfs/internal/fs_errors"
	"github.com/AnishMulay/tfs/internal/inode_table"
	"github.com/AnishMulay/tfs/internal/latency"
)

var (
	ErrInvalidName   = fmt.Errorf("invalid file name: %w", fserr.ErrInvalidPath)
	ErrNotADirectory = fmt.Errorf("parent is not a directory: %w", fserr.ErrNotADirectory)
	ErrDirectoryFull = fmt.Errorf("directory full: %w", fserr.ErrTableFull)
	ErrEntryNotFound = fmt.Errorf("no such entry: %w", fserr.ErrNotFound)
	ErrNameExists    = fmt.Errorf("name already in use: %w", fserr.ErrAlreadyExists)
)

// Directory manages the entries of directory inodes. Entries live in the
// directory's data block; mu serializes every access to those blocks.
type Directory struct {
	mu     sync.Mutex
	inodes *inode_table.InodeTable
	pool   *block_pool.BlockPool
	layout layout
	delay  latency.Injector
}

func NewDirectory(inodes *inode_table.InodeTable, pool *block_pool.BlockPool, maxName int, delay latency.Injector) *Directory {
	return &Directory{
		inodes: inodes,
		pool:   pool,
		layout: layout{maxName: maxName},
		delay:  delay,
	}
}

// Format returns a function that marks every entry of a directory block as
// empty. It is handed to the inode table for new directories.
func Format(maxName int) func(block []byte) {
	l := layout{maxName: maxName}
	return func(block []byte) {
		for i := 0; i < len(block)/l.size(); i++ {
			l.put(l.slot(block, i), "", emptyInumber)
		}
	}
}

// MaxEntries is how many entries fit in one directory.
func (d *Directory) MaxEntries() int {
	return d.pool.BlockSize() / d.layout.size()
}

// ValidName checks that name can be stored in an entry.
func (d *Directory) ValidName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > d.layout.maxName-1:
		return fmt.Errorf("%w: %q longer than %d bytes", ErrInvalidName, name, d.layout.maxName-1)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// AddEntry links child under name in the parent directory. The first empty
// slot is used; a name already present is rejected.
func (d *Directory) AddEntry(parent, child int, name string) error {
	if err := d.ValidName(name); err != nil {
		return err
	}
	if _, err := d.inodes.Get(child); err != nil {
		return err
	}

	block, err := d.entries(parent)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	free := -1
	for i := 0; i < d.MaxEntries(); i++ {
		slot := d.layout.slot(block, i)
		if d.layout.inumber(slot) == emptyInumber {
			if free < 0 {
				free = i
			}
			continue
		}
		if d.layout.name(slot) == name {
			return fmt.Errorf("%w: %q", ErrNameExists, name)
		}
	}
	if free < 0 {
		return ErrDirectoryFull
	}

	d.layout.put(d.layout.slot(block, free), name, child)
	return nil
}

// Find returns the inode number linked under name.
func (d *Directory) Find(parent int, name string) (int, error) {
	block, err := d.entries(parent)
	if err != nil {
		return -1, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for i := 0; i < d.MaxEntries(); i++ {
		slot := d.layout.slot(block, i)
		if inum := d.layout.inumber(slot); inum != emptyInumber && d.layout.name(slot) == name {
			return inum, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrEntryNotFound, name)
}

// ClearEntry empties the entry pointing at child.
func (d *Directory) ClearEntry(parent, child int) error {
	block, err := d.entries(parent)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for i := 0; i < d.MaxEntries(); i++ {
		slot := d.layout.slot(block, i)
		if d.layout.inumber(slot) == child {
			d.layout.put(slot, "", emptyInumber)
			return nil
		}
	}
	return fmt.Errorf("%w: inode %d", ErrEntryNotFound, child)
}

// List returns the live entries in slot order.
func (d *Directory) List(parent int) ([]Entry, error) {
	block, err := d.entries(parent)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	entries := []Entry{}
	for i := 0; i < d.MaxEntries(); i++ {
		slot := d.layout.slot(block, i)
		if inum := d.layout.inumber(slot); inum != emptyInumber {
			entries = append(entries, Entry{Name: d.layout.name(slot), Inumber: inum})
		}
	}
	return entries, nil
}

func (d *Directory) entries(parent int) ([]byte, error) {
	d.delay.Touch()

	inode, err := d.inodes.Get(parent)
	if err != nil {
		return nil, err
	}
	if !inode.IsDir() {
		return nil, fmt.Errorf("inode %d: %w", parent, ErrNotADirectory)
	}
	return d.pool.Get(inode.DirBlock)
}
