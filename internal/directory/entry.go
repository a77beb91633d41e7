package directory

import (
	"bytes"
	"encoding/binary"
)

// emptyInumber marks a free directory entry.
const emptyInumber = -1

// Entry is a live directory entry.
type Entry struct {
	Name    string
	Inumber int
}

// On-block layout of one entry: a NUL padded name of maxName bytes followed
// by a little-endian int32 inode number.
type layout struct {
	maxName int
}

func (l layout) size() int {
	return l.maxName + 4
}

func (l layout) slot(block []byte, i int) []byte {
	off := i * l.size()
	return block[off : off+l.size()]
}

func (l layout) inumber(slot []byte) int {
	return int(int32(binary.LittleEndian.Uint32(slot[l.maxName:])))
}

func (l layout) name(slot []byte) string {
	raw := slot[:l.maxName]
	if n := bytes.IndexByte(raw, 0); n >= 0 {
		raw = raw[:n]
	}
	return string(raw)
}

func (l layout) put(slot []byte, name string, inumber int) {
	clear(slot[:l.maxName])
	copy(slot[:l.maxName], name)
	binary.LittleEndian.PutUint32(slot[l.maxName:], uint32(int32(inumber)))
}
