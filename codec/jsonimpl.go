package codec

import "encoding/json"

// NewJSONCodec returns the default codec. JSON is self-describing, so
// values written by one process decode in any other without shared type
// registration.
func NewJSONCodec() Codec {
	return jsonCodecImpl{}
}

type jsonCodecImpl struct{}

func (jsonCodecImpl) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodecImpl) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
