package client

import (
	"fmt"
	"testing"

	"github.com/bradfitz/gomemcache/memcache"
)

// Benchmarks compare pipelined gets against the classic blocking client.
// Both expect a local memcached on the default port.
const (
	benchServer  = "127.0.0.1:11211"
	benchKeys    = 10000
	benchThreads = 300
)

func seedBenchData(b *testing.B) {
	seed := memcache.New(benchServer)
	for i := 0; i < benchKeys; i++ {
		err := seed.Set(&memcache.Item{
			Key:   fmt.Sprintf("key%d", i),
			Value: []byte(fmt.Sprintf("value%d", i)),
		})
		if err != nil {
			b.Skipf("no local memcached at %s: %v", benchServer, err)
		}
	}
}

func BenchmarkGomemcacheGet(b *testing.B) {
	seedBenchData(b)
	client := memcache.New(benchServer)

	b.SetParallelism(benchThreads)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		n := 0
		for pb.Next() {
			n++
			key := fmt.Sprintf("key%d", n%benchKeys)
			if _, err := client.Get(key); err != nil && err != memcache.ErrCacheMiss {
				b.Fatalf("get %s: %v", key, err)
			}
		}
	})
}

func BenchmarkPipelinedGet(b *testing.B) {
	seedBenchData(b)
	c, err := New(Config{
		Servers:       []ServerSpec{{Address: benchServer}},
		MaxConcurrent: 1000,
	})
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()

	b.SetParallelism(benchThreads)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		n := 0
		for pb.Next() {
			n++
			key := fmt.Sprintf("key%d", n%benchKeys)
			if _, err := c.Get(key); err != nil && err != ErrCacheMiss {
				b.Fatalf("get %s: %v", key, err)
			}
		}
	})
}
