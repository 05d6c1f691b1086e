package compress

import "github.com/klauspost/compress/zstd"

type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstd() Compressor {
	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)
	return &zstdCompressor{enc: enc, dec: dec}
}

func (*zstdCompressor) Name() string { return "zstd" }

func (c *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.enc.EncodeAll(data, nil), nil
}

func (c *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	return c.dec.DecodeAll(data, nil)
}
