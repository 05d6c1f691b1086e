// Package codec defines how structured values are turned into the opaque
// byte payloads shipped to the cache. The flag word stored with each value
// records that a codec was applied, so a reconfigured client can still read
// back data written earlier.
package codec

// Codec serializes structured values to bytes and back.
type Codec interface {
	// Encode serializes a value into a byte slice.
	Encode(v any) ([]byte, error)
	// Decode deserializes a byte slice into the target, which must be a
	// non-nil pointer.
	Decode(data []byte, v any) error
}
