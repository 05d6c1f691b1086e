package client

import (
	"fmt"
	"hash/crc32"
	"hash/fnv"
)

// keyHash is the hash used for key-to-server assignment. The namespace
// prefix is already applied by the time a key reaches the selector, so
// identical (namespace, key) pairs hash identically in every process.
func keyHash(key string) uint32 {
	return crc32.ChecksumIEEE([]byte(key))
}

// pointHash places a server's virtual point on the ketama ring. Point i of
// a server is the hash of "<canonical address>-<i>".
func pointHash(address string, index int) uint32 {
	return crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s-%d", address, index)))
}

func jumpKeyHash(key string) uint64 {
	hasher := fnv.New64a()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
