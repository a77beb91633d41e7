package block_pool

import (
	"fmt"
	"sync"

	fserr "github.com/AnishMulay/tfs/internal/fs_errors"
	"github.com/AnishMulay/tfs/internal/latency"
)

var (
	ErrExhausted    = fmt.Errorf("block pool exhausted: %w", fserr.ErrTableFull)
	ErrInvalidBlock = fmt.Errorf("invalid block index: %w", fserr.ErrInvalidHandle)
)

// BlockPool is a fixed arena of fixed-size blocks. A block is identified by
// its index and is owned by whoever allocated it until it is freed.
type BlockPool struct {
	mu        sync.Mutex
	blockSize int
	data      []byte
	taken     []bool
	// free is a stack of free indices, top at the end.
	free  []int
	delay latency.Injector
}

func NewBlockPool(blockSize, blocks int, delay latency.Injector) *BlockPool {
	p := &BlockPool{
		blockSize: blockSize,
		data:      make([]byte, blockSize*blocks),
		taken:     make([]bool, blocks),
		free:      make([]int, blocks),
		delay:     delay,
	}
	// Pushed in reverse so a fresh pool hands out the lowest index first.
	for i := range p.free {
		p.free[i] = blocks - 1 - i
	}
	return p
}

func (p *BlockPool) BlockSize() int {
	return p.blockSize
}

func (p *BlockPool) Capacity() int {
	return len(p.taken)
}

func (p *BlockPool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

func (p *BlockPool) TakenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.taken) - len(p.free)
}

// Alloc takes a free block and returns its index. The block is zeroed.
func (p *BlockPool) Alloc() (int, error) {
	p.delay.Touch()

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return -1, ErrExhausted
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.taken[idx] = true
	clear(p.block(idx))
	return idx, nil
}

// Free returns a taken block to the pool. Freeing a free block is an error.
func (p *BlockPool) Free(idx int) error {
	p.delay.Touch()

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.valid(idx) || !p.taken[idx] {
		return fmt.Errorf("free block %d: %w", idx, ErrInvalidBlock)
	}
	p.taken[idx] = false
	p.free = append(p.free, idx)
	return nil
}

// Get returns the bytes of a taken block. The slice aliases the pool arena;
// callers serialize access to it through the owning inode.
func (p *BlockPool) Get(idx int) ([]byte, error) {
	p.delay.Touch()

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.valid(idx) || !p.taken[idx] {
		return nil, fmt.Errorf("get block %d: %w", idx, ErrInvalidBlock)
	}
	return p.block(idx), nil
}

// IsTaken reports whether idx is a taken block.
func (p *BlockPool) IsTaken(idx int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valid(idx) && p.taken[idx]
}

func (p *BlockPool) valid(idx int) bool {
	return idx >= 0 && idx < len(p.taken)
}

func (p *BlockPool) block(idx int) []byte {
	off := idx * p.blockSize
	return p.data[off : off+p.blockSize : off+p.blockSize]
}
