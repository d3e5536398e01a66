// Package pipe moves message bodies through a transform.Stream, either as a
// sequential copy (Run) or through a bounded channel that lets a consumer
// read output while the source is still being transformed (Pipe).
package pipe

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"cryptomid-go/pkg/buffers"
	"cryptomid-go/pkg/transform"
)

// DefaultDepth is the number of chunks a Pipe queues before the producer blocks.
const DefaultDepth = 8

// Run reads src to EOF, pushes every chunk through s and writes the output to
// dst, then finishes s and writes the final bytes. ctx is checked before every
// read and before finishing, and a read that fails after ctx is done reports
// the cancellation. A cancelled ctx yields transform.ErrCancelled.
func Run(ctx context.Context, src io.Reader, dst io.Writer, s *transform.Stream, pool *buffers.BufferPool) (int64, error) {
	if pool == nil {
		pool = buffers.ChunkPool
	}
	buf := pool.Get()
	defer pool.Put(buf)

	var written int64
	write := func(p []byte) error {
		if len(p) == 0 {
			return nil
		}
		n, err := dst.Write(p)
		written += int64(n)
		if err == nil && n != len(p) {
			err = io.ErrShortWrite
		}
		return err
	}

	for {
		if ctx.Err() != nil {
			return written, transform.Cancelled(ctx)
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			out, err := s.Push(buf[:n])
			if err != nil {
				return written, err
			}
			if err := write(out); err != nil {
				return written, err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return written, transform.Cancelled(ctx)
			}
			return written, rerr
		}
	}

	if ctx.Err() != nil {
		return written, transform.Cancelled(ctx)
	}
	tail, err := s.Finish()
	if err != nil {
		return written, err
	}
	return written, write(tail)
}

// Pipe is a bounded in-memory channel between one producer, which writes
// transformed chunks, and one consumer, which reads them. Each end is closed
// exactly once. Once the read end is closed, writes are accepted and dropped
// so the producer can still run its source to the end and report whether it
// was valid. Closing the write end delivers io.EOF or the producer's error to
// the consumer.
type Pipe struct {
	ctx    context.Context
	chunks chan []byte
	quit   chan struct{}

	readOnce  sync.Once
	writeOnce sync.Once
	wclosed   atomic.Bool
	written   atomic.Int64

	err     error // set before chunks is closed
	pending []byte
}

// New returns a pipe bound to ctx that queues at most depth chunks.
func New(ctx context.Context, depth int) *Pipe {
	if depth < 1 {
		depth = DefaultDepth
	}
	return &Pipe{
		ctx:    ctx,
		chunks: make(chan []byte, depth),
		quit:   make(chan struct{}),
	}
}

// Write queues a copy of b, blocking while the pipe is full. After the read
// end is closed b is discarded.
func (p *Pipe) Write(b []byte) (int, error) {
	if p.wclosed.Load() {
		return 0, io.ErrClosedPipe
	}
	if len(b) == 0 {
		return 0, nil
	}
	if p.readerClosed() {
		return p.drop(b), nil
	}

	chunk := make([]byte, len(b))
	copy(chunk, b)
	select {
	case p.chunks <- chunk:
		p.written.Add(int64(len(b)))
		return len(b), nil
	case <-p.quit:
		return p.drop(b), nil
	case <-p.ctx.Done():
		return 0, transform.Cancelled(p.ctx)
	}
}

func (p *Pipe) drop(b []byte) int {
	p.written.Add(int64(len(b)))
	return len(b)
}

// CloseWithError closes the write end. A nil err reads as io.EOF.
func (p *Pipe) CloseWithError(err error) error {
	p.writeOnce.Do(func() {
		p.wclosed.Store(true)
		p.err = err
		close(p.chunks)
	})
	return nil
}

// Read returns queued output, blocking until a chunk arrives, the write end
// closes or ctx is cancelled.
func (p *Pipe) Read(b []byte) (int, error) {
	if p.readerClosed() {
		return 0, io.ErrClosedPipe
	}
	for len(p.pending) == 0 {
		select {
		case chunk, ok := <-p.chunks:
			if !ok {
				if p.err != nil {
					return 0, p.err
				}
				return 0, io.EOF
			}
			p.pending = chunk
		case <-p.quit:
			return 0, io.ErrClosedPipe
		case <-p.ctx.Done():
			return 0, transform.Cancelled(p.ctx)
		}
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// Close closes the read end and drops whatever is still queued.
func (p *Pipe) Close() error {
	p.readOnce.Do(func() {
		close(p.quit)
		p.pending = nil
		for {
			select {
			case _, ok := <-p.chunks:
				if !ok {
					return
				}
			default:
				return
			}
		}
	})
	return nil
}

// Written is the number of bytes accepted by Write so far, dropped ones included.
func (p *Pipe) Written() int64 { return p.written.Load() }

// Produce runs src through s into the pipe and closes the write end with the
// outcome. It keeps transforming after the consumer has gone away, so an
// error near the end of src is still returned.
func (p *Pipe) Produce(src io.Reader, s *transform.Stream, pool *buffers.BufferPool) error {
	_, err := Run(p.ctx, src, p, s, pool)
	p.CloseWithError(err)
	return err
}

func (p *Pipe) readerClosed() bool {
	select {
	case <-p.quit:
		return true
	default:
		return false
	}
}
