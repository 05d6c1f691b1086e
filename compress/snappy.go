package compress

import "github.com/klauspost/compress/snappy"

type snappyCompressor struct{}

func newSnappy() Compressor { return snappyCompressor{} }

func (snappyCompressor) Name() string { return "snappy" }

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCompressor) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}
