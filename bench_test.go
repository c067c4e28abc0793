package bytemap

import (
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
)

func BenchmarkTableGetHit(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapGetHit))
	b.Run("impl=table", func(b *testing.B) {
		for _, h := range benchHashers {
			b.Run("hash="+h.name, benchSizes(benchmarkTableGetHit(h.hasher)))
		}
	})
}

func BenchmarkTableGetMiss(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapGetMiss))
	b.Run("impl=table", func(b *testing.B) {
		for _, h := range benchHashers {
			b.Run("hash="+h.name, benchSizes(benchmarkTableGetMiss(h.hasher)))
		}
	})
}

func BenchmarkTablePutGrow(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapPutGrow))
	b.Run("impl=table", func(b *testing.B) {
		for _, h := range benchHashers {
			b.Run("hash="+h.name, benchSizes(benchmarkTablePutGrow(h.hasher)))
		}
	})
}

func BenchmarkTablePutDelete(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapPutDelete))
	b.Run("impl=table", func(b *testing.B) {
		for _, h := range benchHashers {
			b.Run("hash="+h.name, benchSizes(benchmarkTablePutDelete(h.hasher)))
		}
	})
}

var benchHashers = []struct {
	name   string
	hasher Hasher
}{
	{"xxhash", XXHash()},
	{"xxh3", XXH3(0)},
	{"murmur3", Murmur3(DefaultMurmur3Seed)},
}

func benchSizes(f func(b *testing.B, n int)) func(*testing.B) {
	var cases = []int{
		6, 12, 18, 24, 30,
		64,
		128,
		256,
		512,
		1024,
		2048,
		4096,
		8192,
		1 << 16,
	}

	return func(b *testing.B) {
		for _, n := range cases {
			b.Run("len="+strconv.Itoa(n), func(b *testing.B) { f(b, n) })
		}
	}
}

func genKeys(start, end int) [][]byte {
	keys := make([][]byte, end-start)
	for i := range keys {
		keys[i] = []byte(strconv.Itoa(start + i))
	}
	return keys
}

func benchmarkRuntimeMapGetHit(b *testing.B, n int) {
	m := make(map[string][]byte, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[string(k)] = k
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m[string(keys[i%n])]
	}
}

func benchmarkTableGetHit(h Hasher) func(b *testing.B, n int) {
	return func(b *testing.B, n int) {
		m := New(n, h)
		keys := genKeys(0, n)
		for _, k := range keys {
			if ok, err := m.Put(k, k); !ok || err != nil {
				b.Fatalf("put %q: %t %v", k, ok, err)
			}
		}
		cs := perfbench.Open(b)
		b.ResetTimer()
		cs.Reset()
		var ok bool
		for i := 0; i < b.N; i++ {
			_, ok = m.Get(keys[i%n])
		}
		b.StopTimer()
		fmt.Fprint(io.Discard, ok)
	}
}

func benchmarkRuntimeMapGetMiss(b *testing.B, n int) {
	m := make(map[string][]byte)
	keys := genKeys(0, n)
	miss := genKeys(-n, 0)
	for _, k := range keys {
		m[string(k)] = k
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m[string(miss[i%n])]
	}
}

func benchmarkTableGetMiss(h Hasher) func(b *testing.B, n int) {
	return func(b *testing.B, n int) {
		m := New(1, h)
		keys := genKeys(0, n)
		miss := genKeys(-n, 0)
		for _, k := range keys {
			if ok, err := m.Put(k, k); !ok || err != nil {
				b.Fatalf("put %q: %t %v", k, ok, err)
			}
		}
		cs := perfbench.Open(b)
		b.ResetTimer()
		cs.Reset()
		var ok bool
		for i := 0; i < b.N; i++ {
			_, ok = m.Get(miss[i%n])
		}
		b.StopTimer()
		fmt.Fprint(io.Discard, ok)
	}
}

func benchmarkRuntimeMapPutGrow(b *testing.B, n int) {
	keys := genKeys(0, n)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := make(map[string][]byte)
		for _, k := range keys {
			m[string(k)] = k
		}
	}
}

func benchmarkTablePutGrow(h Hasher) func(b *testing.B, n int) {
	return func(b *testing.B, n int) {
		var m Table
		keys := genKeys(0, n)
		cs := perfbench.Open(b)
		b.ResetTimer()
		cs.Reset()
		for i := 0; i < b.N; i++ {
			if err := m.Init(1, h); err != nil {
				b.Fatal(err)
			}
			for _, k := range keys {
				_, _ = m.Put(k, k)
			}
		}
	}
}

func benchmarkRuntimeMapPutDelete(b *testing.B, n int) {
	m := make(map[string][]byte, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[string(k)] = k
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		j := i % n
		delete(m, string(keys[j]))
		m[string(keys[j])] = keys[j]
	}
}

func benchmarkTablePutDelete(h Hasher) func(b *testing.B, n int) {
	return func(b *testing.B, n int) {
		m := New(n, h)
		keys := genKeys(0, n)
		for _, k := range keys {
			_, _ = m.Put(k, k)
		}
		cs := perfbench.Open(b)
		b.ResetTimer()
		cs.Reset()
		for i := 0; i < b.N; i++ {
			j := i % n
			m.Delete(keys[j])
			_, _ = m.Put(keys[j], keys[j])
		}
	}
}
