package inode_table

import (
	"fmt"
	"sync"

	"github.com/AnishMulay/tfs/internal/block_pool"
	fserr "github.com/AnishMulay/tfs/internal/fs_errors"
	"github.com/AnishMulay/tfs/internal/latency"
)

// Size in bytes of a block index when stored in a block.
const BlockIndexSize = 4

var (
	ErrTableFull     = fmt.Errorf("inode table full: %w", fserr.ErrTableFull)
	ErrInodeNotFound = fmt.Errorf("inode not found: %w", fserr.ErrNotFound)
	ErrBlockRange    = fmt.Errorf("block number beyond maximum file size: %w", fserr.ErrInvalidArgument)
	ErrUnmapped      = fmt.Errorf("block not allocated: %w", fserr.ErrInvalidHandle)
)

type slotState uint8

const (
	slotFree slotState = iota
	// reserved slots are being built or torn down and are not reachable.
	slotReserved
	slotTaken
)

type Options struct {
	Inodes     int
	DirectRefs int
	Delay      latency.Injector
	// FormatDir initialises the entries block of a new directory.
	FormatDir func(block []byte)
}

// InodeTable is a fixed array of inode slots. Its mutex only covers slot
// state; inode contents are guarded by each inode's Mu.
type InodeTable struct {
	mu    sync.Mutex
	slots []*Inode
	state []slotState

	directRefs   int
	indirectRefs int
	pool         *block_pool.BlockPool
	delay        latency.Injector
	formatDir    func([]byte)
}

func NewInodeTable(pool *block_pool.BlockPool, opts Options) *InodeTable {
	return &InodeTable{
		slots:        make([]*Inode, opts.Inodes),
		state:        make([]slotState, opts.Inodes),
		directRefs:   opts.DirectRefs,
		indirectRefs: pool.BlockSize() / BlockIndexSize,
		pool:         pool,
		delay:        opts.Delay,
		formatDir:    opts.FormatDir,
	}
}

func (t *InodeTable) Capacity() int {
	return len(t.slots)
}

func (t *InodeTable) DirectRefs() int {
	return t.directRefs
}

func (t *InodeTable) IndirectRefs() int {
	return t.indirectRefs
}

// MaxFileSize is the largest size a file can reach.
func (t *InodeTable) MaxFileSize() int64 {
	return int64(t.directRefs+t.indirectRefs) * int64(t.pool.BlockSize())
}

func (t *InodeTable) UsedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.state {
		if s == slotTaken {
			n++
		}
	}
	return n
}

// Live returns the numbers of every live inode.
func (t *InodeTable) Live() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var live []int
	for i, s := range t.state {
		if s == slotTaken {
			live = append(live, i)
		}
	}
	return live
}

// Create builds a new inode and returns its number. Either the inode is fully
// built or nothing it allocated survives.
func (t *InodeTable) Create(kind InodeType) (int, error) {
	inum, err := t.reserve()
	if err != nil {
		return -1, err
	}

	t.delay.Touch()
	inode := &Inode{Type: kind, DirBlock: NoBlock}

	switch kind {
	case TypeDirectory:
		b, err := t.pool.Alloc()
		if err != nil {
			t.unreserve(inum)
			return -1, err
		}
		block, err := t.pool.Get(b)
		if err != nil {
			t.mustFree(b)
			t.unreserve(inum)
			return -1, err
		}
		if t.formatDir != nil {
			t.formatDir(block)
		}
		inode.DirBlock = b
		inode.Size = int64(t.pool.BlockSize())
	default:
		inode.Direct = make([]int, t.directRefs)
		for i := range inode.Direct {
			b, err := t.pool.Alloc()
			if err != nil {
				for _, got := range inode.Direct[:i] {
					t.mustFree(got)
				}
				t.unreserve(inum)
				return -1, err
			}
			inode.Direct[i] = b
		}
	}

	t.mu.Lock()
	t.slots[inum] = inode
	t.state[inum] = slotTaken
	t.mu.Unlock()

	return inum, nil
}

// Delete releases every block the inode owns and frees its slot.
func (t *InodeTable) Delete(inum int) error {
	t.delay.Touch()

	t.mu.Lock()
	if !t.valid(inum) || t.state[inum] != slotTaken {
		t.mu.Unlock()
		return fmt.Errorf("delete inode %d: %w", inum, ErrInodeNotFound)
	}
	inode := t.slots[inum]
	t.state[inum] = slotReserved
	t.mu.Unlock()

	// Waits for in-flight reads and writes on this inode.
	inode.Mu.Lock()
	for _, b := range inode.Direct {
		t.mustFree(b)
	}
	t.releaseIndirect(inode)
	if inode.DirBlock != NoBlock {
		t.mustFree(inode.DirBlock)
	}
	inode.Size = 0
	inode.Mu.Unlock()

	t.mu.Lock()
	t.slots[inum] = nil
	t.state[inum] = slotFree
	t.mu.Unlock()

	return nil
}

// Get returns a live inode. Type checks are the caller's business.
func (t *InodeTable) Get(inum int) (*Inode, error) {
	t.delay.Touch()

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.valid(inum) || t.state[inum] != slotTaken {
		return nil, fmt.Errorf("get inode %d: %w", inum, ErrInodeNotFound)
	}
	return t.slots[inum], nil
}

// Truncate drops the content of a file inode: the indirect range goes back to
// the pool, the used direct blocks are zeroed and the size becomes 0.
// The caller holds inode.Mu for writing.
func (t *InodeTable) Truncate(inode *Inode) error {
	if inode.IsDir() {
		return fmt.Errorf("truncate: %w", fserr.ErrInvalidArgument)
	}

	used := t.BlocksFor(inode.Size)
	if used > t.directRefs {
		used = t.directRefs
	}
	for _, b := range inode.Direct[:used] {
		block, err := t.pool.Get(b)
		if err != nil {
			panic(fmt.Sprintf("inode_table: direct block %d not taken: %v", b, err))
		}
		clear(block)
	}
	t.releaseIndirect(inode)
	inode.Size = 0
	return nil
}

// MapBlock translates the n-th block of a file to a pool index. Blocks below
// DirectRefs are direct references; the rest go through the indirection
// block. With alloc set, a missing indirection block or entry is allocated.
// The caller holds inode.Mu, for writing when alloc is set.
func (t *InodeTable) MapBlock(inode *Inode, n int, alloc bool) (int, error) {
	if n < 0 || n >= t.directRefs+t.indirectRefs {
		return NoBlock, fmt.Errorf("map block %d: %w", n, ErrBlockRange)
	}
	if n < t.directRefs {
		return t.referenced(inode.Direct[n]), nil
	}

	i := n - t.directRefs
	if inode.Indirect == nil {
		if !alloc {
			return NoBlock, fmt.Errorf("map block %d: %w", n, ErrUnmapped)
		}
		inode.Indirect = newIndirectBlock(t.indirectRefs)
	}

	if ref := inode.Indirect.refs[i]; ref != NoBlock {
		return t.referenced(ref), nil
	}
	if !alloc {
		return NoBlock, fmt.Errorf("map block %d: %w", n, ErrUnmapped)
	}

	b, err := t.pool.Alloc()
	if err != nil {
		return NoBlock, err
	}
	inode.Indirect.refs[i] = b
	return b, nil
}

// BlocksFor is the number of blocks needed to hold size bytes.
func (t *InodeTable) BlocksFor(size int64) int {
	bs := int64(t.pool.BlockSize())
	return int((size + bs - 1) / bs)
}

func (t *InodeTable) reserve() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for inum, s := range t.state {
		if s == slotFree {
			t.state[inum] = slotReserved
			return inum, nil
		}
	}
	return -1, ErrTableFull
}

func (t *InodeTable) unreserve(inum int) {
	t.mu.Lock()
	t.state[inum] = slotFree
	t.mu.Unlock()
}

func (t *InodeTable) releaseIndirect(inode *Inode) {
	if inode.Indirect == nil {
		return
	}
	for _, b := range inode.Indirect.refs {
		if b != NoBlock {
			t.mustFree(b)
		}
	}
	inode.Indirect = nil
}

// referenced returns b after checking the pool agrees the block is taken.
func (t *InodeTable) referenced(b int) int {
	if !t.pool.IsTaken(b) {
		panic(fmt.Sprintf("inode_table: block %d referenced but free", b))
	}
	return b
}

// mustFree frees a block an inode references. Failure means the pool and the
// inode disagree on ownership, which is a bug.
func (t *InodeTable) mustFree(b int) {
	if err := t.pool.Free(b); err != nil {
		panic(fmt.Sprintf("inode_table: block %d referenced but not taken: %v", b, err))
	}
}

func (t *InodeTable) valid(inum int) bool {
	return inum >= 0 && inum < len(t.slots)
}
