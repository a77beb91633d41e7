package compress

import "github.com/klauspost/compress/snappy"

type SnappyCompressor struct{}

func NewSnappyCompressor() *SnappyCompressor {
	return &SnappyCompressor{}
}

func (s *SnappyCompressor) Name() string {
	return Snappy
}

func (s *SnappyCompressor) Encode(dst, src []byte) []byte {
	return snappy.Encode(dst, src)
}

func (s *SnappyCompressor) Decode(dst, src []byte) ([]byte, error) {
	return snappy.Decode(dst, src)
}
