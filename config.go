package client

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shardpipe/shardpipe/codec"
	"github.com/shardpipe/shardpipe/compress"
	"github.com/shardpipe/shardpipe/internal"
)

// NoTimeout disables a timeout knob whose zero value would otherwise fall
// back to its default.
const NoTimeout time.Duration = -1

// Default knob values applied by New when the corresponding Config field is
// left at its zero value.
const (
	DefaultConnectTimeout = 250 * time.Millisecond
	DefaultIOTimeout      = time.Second
	DefaultFailureWindow  = 10 * time.Second
	DefaultCompressRatio  = 0.8
	DefaultKetamaPoints   = 150
	DefaultMaxConcurrent  = 1024
)

// ServerSpec names one cache server and its share of the key space.
// Address is host:port, or an absolute path for a unix socket. A zero
// Weight counts as 1.
type ServerSpec struct {
	Address string
	Weight  float64
}

// Config holds every knob of a Client. The zero value plus at least one
// server is usable; New fills in the defaults.
type Config struct {
	// Servers is the ordered server pool. Order matters: key assignment
	// depends on it, so every client sharing a cache must list the same
	// servers in the same order.
	Servers []ServerSpec

	// Namespace is prepended to every key before hashing and transmission.
	Namespace string

	// Ketama selects consistent hashing for key assignment. Adding or
	// removing a server then remaps only the keys owned by the changed
	// server instead of most of the key space.
	Ketama bool

	// KetamaPoints is the number of ring points per unit of server weight.
	// Zero means DefaultKetamaPoints.
	KetamaPoints int

	// JumpHash selects jump consistent hashing. It needs an equal-weight
	// pool and takes precedence over Ketama.
	JumpHash bool

	// ConnectTimeout bounds each connection attempt. Zero means
	// DefaultConnectTimeout; NoTimeout removes the bound.
	ConnectTimeout time.Duration

	// IOTimeout is the batch-wide reply deadline. Zero means
	// DefaultIOTimeout; NoTimeout removes the deadline.
	IOTimeout time.Duration

	// MaxConcurrent caps outstanding pipelined requests per connection.
	// Zero means DefaultMaxConcurrent.
	MaxConcurrent int

	// Nowait makes store (set, add, replace, append, prepend), delete and
	// touch replies fire-and-forget: calls return as soon as the command is
	// written and report success unconditionally. Replies are still read off
	// the wire and discarded. CompareAndSwap, Increment and Decrement always
	// wait for their replies.
	Nowait bool

	// CloseOnError breaks the connection after an ERROR, CLIENT_ERROR or
	// SERVER_ERROR reply instead of keeping it open.
	CloseOnError bool

	// MaxFailures is the number of I/O failures within FailureWindow after
	// which a server is shunned for the rest of the window. Zero disables
	// shunning.
	MaxFailures int

	// FailureWindow is the rolling window for MaxFailures. Zero means
	// DefaultFailureWindow.
	FailureWindow time.Duration

	// Codec serializes values that are not []byte or string. Nil means
	// codec.NewJSONCodec().
	Codec codec.Codec

	// UTF8 marks stored string values with a text flag so retrievals hand
	// them back as string. Off, strings come back as raw []byte.
	UTF8 bool

	// CompressThreshold is the minimum payload size, in bytes, at which
	// compression is attempted. Zero disables compression.
	CompressThreshold int

	// CompressRatio is the acceptance bar: the compressed form is kept only
	// when compressedLen <= ratio * originalLen. Zero means
	// DefaultCompressRatio.
	CompressRatio float64

	// CompressAlgo names the registered compressor to use. Empty means
	// "gzip". An unknown name disables compression with a warning rather
	// than failing construction.
	CompressAlgo string

	// Logger receives connection lifecycle and transform diagnostics. Nil
	// means slog.Default().
	Logger *slog.Logger

	// Metrics, when set, receives the client's counters.
	Metrics *Metrics
}

// server is one resolved pool entry.
type server struct {
	addr   internal.Addr
	weight float64
}

// resolveServers parses and validates the configured pool.
func resolveServers(specs []ServerSpec) ([]server, error) {
	if len(specs) == 0 {
		return nil, ErrNoServers
	}
	out := make([]server, len(specs))
	for i, sp := range specs {
		addr, err := internal.ParseAddr(sp.Address)
		if err != nil {
			return nil, err
		}
		w := sp.Weight
		if w == 0 {
			w = 1
		}
		if w < 0 {
			return nil, fmt.Errorf("server %s: negative weight %v", sp.Address, w)
		}
		out[i] = server{addr: addr, weight: w}
	}
	return out, nil
}

// withDefaults returns a copy of c with zero-value knobs replaced.
func (c Config) withDefaults() Config {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.IOTimeout == 0 {
		c.IOTimeout = DefaultIOTimeout
	}
	if c.FailureWindow == 0 {
		c.FailureWindow = DefaultFailureWindow
	}
	if c.KetamaPoints == 0 {
		c.KetamaPoints = DefaultKetamaPoints
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.CompressRatio == 0 {
		c.CompressRatio = DefaultCompressRatio
	}
	if c.CompressAlgo == "" {
		c.CompressAlgo = "gzip"
	}
	if c.Codec == nil {
		c.Codec = codec.NewJSONCodec()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// buildTransformer wires the value pipeline from the config. An unknown
// compressor name logs a warning and disables compression.
func buildTransformer(c Config) *transformer {
	t := &transformer{
		codec:     c.Codec,
		threshold: c.CompressThreshold,
		ratio:     c.CompressRatio,
		utf8:      c.UTF8,
		log:       c.Logger,
	}
	if t.threshold > 0 {
		comp, ok := compress.Lookup(c.CompressAlgo)
		if !ok {
			c.Logger.Warn("unknown compression algorithm, compression disabled",
				"algorithm", c.CompressAlgo)
			t.threshold = 0
		} else {
			t.compressor = comp
		}
	}
	// Decompression of previously written values must work even when
	// compression of new writes is off.
	if t.compressor == nil {
		if comp, ok := compress.Lookup(c.CompressAlgo); ok {
			t.compressor = comp
		} else if comp, ok := compress.Lookup("gzip"); ok {
			t.compressor = comp
		}
	}
	return t
}

// buildSelector picks the key assignment strategy from the config.
func buildSelector(c Config, servers []server) (Selector, error) {
	switch {
	case c.JumpHash:
		return newJumpSelector(servers)
	case c.Ketama:
		return newKetamaSelector(servers, c.KetamaPoints)
	default:
		return newWeightedSelector(servers)
	}
}
