package inode_table

import "sync"

type InodeType int

const (
	TypeFile InodeType = iota
	TypeDirectory
)

func (t InodeType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// NoBlock marks an unused block reference.
const NoBlock = -1

// Inode describes one file or the root directory.
//
// Mu guards Size, Indirect and the bytes of every block the inode owns.
// Readers of file content take Mu.RLock, writers and truncation take Mu.Lock.
// Type, Direct and DirBlock do not change while the inode is live.
type Inode struct {
	Mu sync.RWMutex

	Type InodeType
	Size int64

	// Files: eagerly allocated direct blocks plus a lazily allocated
	// indirection block.
	Direct   []int
	Indirect *IndirectBlock

	// Directories: the block holding the entries.
	DirBlock int
}

func (i *Inode) IsDir() bool {
	return i.Type == TypeDirectory
}
