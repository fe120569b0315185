package wire

import "sync"

// DefaultPoolConfig bounds how large a buffer may be before Put discards it
// instead of returning it to the pool.
type PoolConfig struct {
	MaxPoolSize int
}

var DefaultPoolConfig = PoolConfig{
	MaxPoolSize: 1024 * 64,
}

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, 4096)
		return &b
	},
}

// GetBuffer returns a buffer of exactly capacity bytes, reusing a pooled
// one when it is large enough.
func GetBuffer(capacity int) *[]byte {
	ptr := bufferPool.Get().(*[]byte)
	if cap(*ptr) < capacity {
		b := make([]byte, capacity)
		return &b
	}
	*ptr = (*ptr)[:capacity]
	return ptr
}

// PutBuffer returns ptr to the pool, unless it has grown past
// DefaultPoolConfig.MaxPoolSize, in which case it is left for the
// collector rather than bloating the pool.
func PutBuffer(ptr *[]byte) {
	if len(*ptr) > DefaultPoolConfig.MaxPoolSize {
		return
	}
	bufferPool.Put(ptr)
}
