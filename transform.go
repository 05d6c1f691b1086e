package client

import (
	"log/slog"

	"github.com/shardpipe/shardpipe/codec"
	"github.com/shardpipe/shardpipe/compress"
)

// Flag word bits stored alongside every value. Readers use them to undo
// the transforms that were applied on write, so clients with different
// configurations can share a cache.
const (
	flagEncoded    uint32 = 1 << 0
	flagCompressed uint32 = 1 << 1
	flagText       uint32 = 1 << 2
)

// transformer converts between application values and the opaque payload
// plus flag word shipped on the wire.
type transformer struct {
	codec      codec.Codec
	compressor compress.Compressor
	threshold  int
	ratio      float64
	utf8       bool
	log        *slog.Logger
}

// encode turns a value into payload bytes and the flag word describing how
// to read them back. Raw []byte passes through untouched, string is marked
// as text when the utf8 option is on, everything else goes through the
// codec.
func (t *transformer) encode(key string, v any) ([]byte, uint32, error) {
	var (
		data  []byte
		flags uint32
	)
	switch val := v.(type) {
	case []byte:
		data = val
	case string:
		data = []byte(val)
		if t.utf8 {
			flags |= flagText
		}
	default:
		encoded, err := t.codec.Encode(v)
		if err != nil {
			return nil, 0, &TransformError{Key: key, Stage: "encode", Cause: err}
		}
		data = encoded
		flags |= flagEncoded
	}

	if t.threshold > 0 && len(data) >= t.threshold {
		compressed, err := t.compressor.Compress(data)
		if err != nil {
			return nil, 0, &TransformError{Key: key, Stage: "compress", Cause: err}
		}
		if float64(len(compressed)) <= t.ratio*float64(len(data)) {
			data = compressed
			flags |= flagCompressed
		} else if t.log != nil {
			t.log.Debug("compression skipped, ratio not met",
				"key", key, "original", len(data), "compressed", len(compressed))
		}
	}
	return data, flags, nil
}

// decode reverses encode using the stored flag word. The transforms are
// undone in reverse order of application.
func (t *transformer) decode(key string, data []byte, flags uint32, out any) (any, error) {
	if flags&flagCompressed != 0 {
		decompressed, err := t.compressor.Decompress(data)
		if err != nil {
			return nil, &TransformError{Key: key, Stage: "decompress", Cause: err}
		}
		data = decompressed
	}
	switch {
	case flags&flagEncoded != 0:
		if out != nil {
			if err := t.codec.Decode(data, out); err != nil {
				return nil, &TransformError{Key: key, Stage: "decode", Cause: err}
			}
			return out, nil
		}
		var v any
		if err := t.codec.Decode(data, &v); err != nil {
			return nil, &TransformError{Key: key, Stage: "decode", Cause: err}
		}
		return v, nil
	case flags&flagText != 0:
		return string(data), nil
	default:
		return data, nil
	}
}
