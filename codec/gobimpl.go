package codec

import (
	"bytes"
	"encoding/gob"
)

// NewGobCodec returns a codec using encoding/gob. Denser than JSON for Go
// native types, but concrete types must be registered with gob on every
// process that reads the values back.
func NewGobCodec() Codec {
	return gobCodecImpl{}
}

type gobCodecImpl struct{}

func (gobCodecImpl) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodecImpl) Decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
