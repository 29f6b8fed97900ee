package lru

import "testing"

func BenchmarkGetHit(b *testing.B) {
	c := New(256, func(k int) (int, error) { return k, nil })
	for k := range 256 {
		c.Get(k)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(i & 0xFF)
	}
}

func BenchmarkGetMiss(b *testing.B) {
	c := New(256, func(k int) (int, error) { return k, nil })

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(i)
	}
}
