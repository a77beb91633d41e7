package compress

import (
	"fmt"
	"strings"

	fserr "github.com/AnishMulay/tfs/internal/fs_errors"
)

const (
	Direct = "direct"
	Snappy = "snappy"
	Zstd   = "zstd"
)

var ErrUnknownCodec = fmt.Errorf("unknown codec: %w", fserr.ErrInvalidArgument)

// Compressor encodes src, appending to dst when the codec supports it.
type Compressor interface {
	Name() string
	Encode(dst, src []byte) []byte
	Decode(dst, src []byte) ([]byte, error)
}

// NewCompressor returns the codec registered under name. An empty name
// selects Direct.
func NewCompressor(name string) (Compressor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Snappy:
		return NewSnappyCompressor(), nil
	case Zstd:
		return NewZSTDCompressor()
	case Direct, "":
		return NewDirectCompressor(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// Extension is the file suffix conventionally used for the codec's output.
func Extension(name string) string {
	switch strings.ToLower(name) {
	case Snappy:
		return ".sz"
	case Zstd:
		return ".zst"
	default:
		return ""
	}
}
