package buffers

import (
	"sync"
)

const (
	// DefaultChunkSize is the read size used when pulling body chunks from a
	// source. Large enough to amortise syscalls, small enough to keep many
	// in-flight messages cheap.
	DefaultChunkSize = 4096

	// MaxChunkSize caps configured chunk sizes.
	MaxChunkSize = 1 << 20
)

// BufferPool maintains a pool of byte slices to reduce GC pressure
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a new buffer pool with the specified buffer size
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if size > MaxChunkSize {
		size = MaxChunkSize
	}
	return &BufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		},
		size: size,
	}
}

// Size is the length of the buffers handed out by Get.
func (p *BufferPool) Size() int { return p.size }

// Get retrieves a buffer from the pool
func (p *BufferPool) Get() []byte {
	buffer := *(p.pool.Get().(*[]byte))

	// Ensure the buffer is properly sized
	if cap(buffer) < p.size {
		buffer = make([]byte, p.size)
	} else {
		buffer = buffer[:p.size]
	}

	return buffer
}

// Put returns a buffer to the pool
func (p *BufferPool) Put(buffer []byte) {
	if buffer == nil || cap(buffer) < p.size {
		return // Don't keep undersized buffers
	}

	// Reset the buffer to the pool's standard size
	buffer = buffer[:p.size]
	p.pool.Put(&buffer)
}

// ChunkPool serves DefaultChunkSize read buffers.
var ChunkPool = NewBufferPool(DefaultChunkSize)
