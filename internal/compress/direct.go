package compress

type DirectCompressor struct{}

func NewDirectCompressor() *DirectCompressor {
	return &DirectCompressor{}
}

func (DirectCompressor) Name() string {
	return Direct
}

func (DirectCompressor) Encode(dst, src []byte) []byte {
	return append(dst[:0], src...)
}

func (DirectCompressor) Decode(dst, src []byte) ([]byte, error) {
	return append(dst[:0], src...), nil
}
