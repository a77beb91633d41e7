package inode_table

// IndirectBlock is the table of extra block references a file gets once it
// grows past its direct blocks. It lives in engine memory, not in the block
// pool, and belongs to exactly one inode.
type IndirectBlock struct {
	refs []int
}

func newIndirectBlock(n int) *IndirectBlock {
	b := &IndirectBlock{refs: make([]int, n)}
	for i := range b.refs {
		b.refs[i] = NoBlock
	}
	return b
}

func (b *IndirectBlock) Len() int {
	return len(b.refs)
}

// Ref returns the block index stored at i, or NoBlock.
func (b *IndirectBlock) Ref(i int) int {
	return b.refs[i]
}

// Allocated counts the references that point at a block.
func (b *IndirectBlock) Allocated() int {
	n := 0
	for _, r := range b.refs {
		if r != NoBlock {
			n++
		}
	}
	return n
}
