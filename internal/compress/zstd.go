package compress

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

type ZSTDCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewZSTDCompressor() (*ZSTDCompressor, error) {
	writer, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	reader, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &ZSTDCompressor{encoder: writer, decoder: reader}, nil
}

func (z *ZSTDCompressor) Name() string {
	return Zstd
}

func (z *ZSTDCompressor) Encode(dst, src []byte) []byte {
	return z.encoder.EncodeAll(src, dst[:0])
}

func (z *ZSTDCompressor) Decode(dst, src []byte) ([]byte, error) {
	return z.decoder.DecodeAll(src, dst[:0])
}
