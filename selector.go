package client

import (
	"fmt"
	"math"
	"sort"

	jump "github.com/dgryski/go-jump"
)

// maxWeightTableSize bounds the flat lookup table of the weighted selector.
const maxWeightTableSize = 32768

// Selector assigns a key to a server index. Implementations are immutable
// after construction and never consult liveness: a key maps to the same
// server no matter which servers are currently reachable.
type Selector interface {
	Pick(key string) (int, error)
}

// weightedSelector is the legacy selector: the server list is expanded into
// a flat table with one entry per unit of integer weight and the key hash
// indexes it modulo the table size.
type weightedSelector struct {
	table []uint16
}

func newWeightedSelector(servers []server) (*weightedSelector, error) {
	if len(servers) == 0 {
		return nil, ErrNoServers
	}
	total := 0
	for _, s := range servers {
		w := int(math.Round(s.weight))
		if w < 1 {
			w = 1
		}
		total += w
	}
	if total >= maxWeightTableSize {
		return nil, fmt.Errorf("total server weight %d exceeds %d", total, maxWeightTableSize)
	}
	table := make([]uint16, 0, total)
	for i, s := range servers {
		w := int(math.Round(s.weight))
		if w < 1 {
			w = 1
		}
		for j := 0; j < w; j++ {
			table = append(table, uint16(i))
		}
	}
	return &weightedSelector{table: table}, nil
}

func (s *weightedSelector) Pick(key string) (int, error) {
	return int(s.table[keyHash(key)%uint32(len(s.table))]), nil
}

// ketamaPoint is one virtual point on the consistent-hash ring.
type ketamaPoint struct {
	hash   uint32
	server int
	sub    int
}

// ketamaSelector routes a key to the first ring point whose hash is >= the
// key hash, wrapping at the end of the ring.
type ketamaSelector struct {
	ring []ketamaPoint
}

func newKetamaSelector(servers []server, pointsPerUnit int) (*ketamaSelector, error) {
	if len(servers) == 0 {
		return nil, ErrNoServers
	}
	ring := make([]ketamaPoint, 0, len(servers)*pointsPerUnit)
	for i, s := range servers {
		n := int(math.Round(float64(pointsPerUnit) * s.weight))
		if n < 1 {
			n = 1
		}
		for j := 0; j < n; j++ {
			ring = append(ring, ketamaPoint{
				hash:   pointHash(s.addr.String(), j),
				server: i,
				sub:    j,
			})
		}
	}
	if len(ring) == 0 {
		return nil, fmt.Errorf("ketama ring is empty: zero total weight")
	}
	// Stable order for equal hashes: the point placed first at construction
	// wins, so lookups never depend on sort incidentals.
	sort.SliceStable(ring, func(a, b int) bool {
		pa, pb := ring[a], ring[b]
		if pa.hash != pb.hash {
			return pa.hash < pb.hash
		}
		if pa.server != pb.server {
			return pa.server < pb.server
		}
		return pa.sub < pb.sub
	})
	return &ketamaSelector{ring: ring}, nil
}

func (s *ketamaSelector) Pick(key string) (int, error) {
	h := keyHash(key)
	i := sort.Search(len(s.ring), func(i int) bool {
		return s.ring[i].hash >= h
	})
	if i == len(s.ring) {
		i = 0
	}
	return s.ring[i].server, nil
}

// jumpSelector shards keys with jump consistent hashing over FNV-1a. It
// ignores weights, so it is only offered for equal-weight pools.
type jumpSelector struct {
	n int
}

func newJumpSelector(servers []server) (*jumpSelector, error) {
	if len(servers) == 0 {
		return nil, ErrNoServers
	}
	for _, s := range servers {
		if s.weight != 1 {
			return nil, fmt.Errorf("jump hashing does not support weighted servers")
		}
	}
	return &jumpSelector{n: len(servers)}, nil
}

func (s *jumpSelector) Pick(key string) (int, error) {
	return int(jump.Hash(jumpKeyHash(key), s.n)), nil
}
