// Package compress holds the named compression algorithms a client can
// apply to stored values. Algorithms are looked up by name at client
// construction; an unknown name disables compression rather than failing.
package compress

import "github.com/puzpuzpuz/xsync/v3"

// Compressor is a named compression algorithm.
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

var registry = xsync.NewMapOf[string, Compressor]()

// Register makes a compressor available by its name, replacing any previous
// registration under the same name.
func Register(c Compressor) {
	registry.Store(c.Name(), c)
}

// Lookup returns the compressor registered under name.
func Lookup(name string) (Compressor, bool) {
	return registry.Load(name)
}

func init() {
	Register(newGzip())
	Register(newZstd())
	Register(newSnappy())
}
