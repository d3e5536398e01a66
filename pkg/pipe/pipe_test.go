package pipe

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"testing"
	"testing/iotest"
	"time"

	"cryptomid-go/pkg/buffers"
	"cryptomid-go/pkg/transform"
)

func testProcessor(t *testing.T) *transform.PayloadProcessor {
	t.Helper()
	key := transform.Key{Key: make([]byte, 32), IV: make([]byte, 16)}
	if _, err := rand.Read(key.Key); err != nil {
		t.Fatal(err)
	}
	p, err := transform.NewProcessorFromNames([]string{transform.NameAESCBC, transform.NameBase64}, key)
	if err != nil {
		t.Fatalf("NewProcessorFromNames: %v", err)
	}
	return p
}

func newStream(t *testing.T, p *transform.PayloadProcessor, dir transform.Direction) *transform.Stream {
	t.Helper()
	s, err := p.NewStream(dir)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	return s
}

// blockingReader returns its data and then blocks until release is closed.
type blockingReader struct {
	data    []byte
	release chan struct{}
}

func (r *blockingReader) Read(b []byte) (int, error) {
	if len(r.data) > 0 {
		n := copy(b, r.data)
		r.data = r.data[n:]
		return n, nil
	}
	<-r.release
	return 0, io.EOF
}

func TestRunMatchesOneShot(t *testing.T) {
	p := testProcessor(t)
	body := bytes.Repeat([]byte(`{"name":"Peter!"}`), 300)
	want, err := p.PrepareOutput(body)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	src := iotest.HalfReader(bytes.NewReader(body))
	n, err := Run(context.Background(), src, &out, newStream(t, p, transform.Encode), buffers.NewBufferPool(37))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != int64(len(want)) || !bytes.Equal(out.Bytes(), want) {
		t.Fatalf("Run wrote %d bytes, output differs from one-shot encode", n)
	}
}

func TestRunCancelled(t *testing.T) {
	p := testProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	_, err := Run(ctx, bytes.NewReader([]byte("data")), &out, newStream(t, p, transform.Encode), nil)
	if !errors.Is(err, transform.ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected a cancellation error, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output, got %d bytes", out.Len())
	}
}

func TestRunSurfacesCodecErrors(t *testing.T) {
	p := testProcessor(t)
	var out bytes.Buffer
	_, err := Run(context.Background(), bytes.NewReader([]byte("A!!!")), &out, newStream(t, p, transform.Decode), nil)
	if !errors.Is(err, transform.ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no partial output, got %q", out.Bytes())
	}
}

func TestPipeStreamsDecodedBody(t *testing.T) {
	p := testProcessor(t)
	body := make([]byte, 20000)
	if _, err := rand.Read(body); err != nil {
		t.Fatal(err)
	}
	encoded, err := p.PrepareOutput(body)
	if err != nil {
		t.Fatal(err)
	}

	pp := New(context.Background(), 2)
	s := newStream(t, p, transform.Decode)
	done := make(chan error, 1)
	go func() {
		done <- pp.Produce(iotest.OneByteReader(bytes.NewReader(encoded)), s, buffers.NewBufferPool(512))
	}()

	got, err := io.ReadAll(pp)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatal("decoded body differs from the original")
	}
	if pp.Written() != int64(len(body)) {
		t.Fatalf("Written = %d, want %d", pp.Written(), len(body))
	}
}

func TestPipeDeliversProducerError(t *testing.T) {
	p := testProcessor(t)
	pp := New(context.Background(), 1)
	go pp.Produce(bytes.NewReader([]byte("UGV0ZXIh!!!!")), newStream(t, p, transform.Decode), nil)

	_, err := io.ReadAll(pp)
	if !errors.Is(err, transform.ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
}

func TestPipeBackpressure(t *testing.T) {
	pp := New(context.Background(), 1)
	if _, err := pp.Write([]byte("first")); err != nil {
		t.Fatal(err)
	}

	wrote := make(chan struct{})
	go func() {
		pp.Write([]byte("second"))
		close(wrote)
	}()

	select {
	case <-wrote:
		t.Fatal("write into a full pipe did not block")
	case <-time.After(50 * time.Millisecond):
	}

	buf := make([]byte, 16)
	n, err := pp.Read(buf)
	if err != nil || string(buf[:n]) != "first" {
		t.Fatalf("Read = %q, %v", buf[:n], err)
	}
	select {
	case <-wrote:
	case <-time.After(time.Second):
		t.Fatal("producer was not released after the consumer drained")
	}
}

func TestPipeConsumerClosesEarly(t *testing.T) {
	p := testProcessor(t)
	encoded, err := p.PrepareOutput(bytes.Repeat([]byte("x"), 100000))
	if err != nil {
		t.Fatal(err)
	}

	pp := New(context.Background(), 1)
	s := newStream(t, p, transform.Decode)
	done := make(chan error, 1)
	go func() {
		done <- pp.Produce(bytes.NewReader(encoded), s, buffers.NewBufferPool(64))
	}()

	buf := make([]byte, 10)
	if _, err := pp.Read(buf); err != nil {
		t.Fatal(err)
	}
	pp.Close()
	pp.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("early consumer close should not fail the producer, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("producer leaked after the consumer closed")
	}
	if _, err := pp.Read(buf); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected io.ErrClosedPipe after Close, got %v", err)
	}
	if pp.Written() != 100000 {
		t.Fatalf("Written = %d, want the whole body decoded", pp.Written())
	}
}

func TestPipeValidatesRestAfterConsumerCloses(t *testing.T) {
	p := testProcessor(t)
	encoded, err := p.PrepareOutput(bytes.Repeat([]byte("z"), 20000))
	if err != nil {
		t.Fatal(err)
	}
	encoded = append(encoded, "!!"...)

	pp := New(context.Background(), 1)
	s := newStream(t, p, transform.Decode)
	done := make(chan error, 1)
	go func() {
		done <- pp.Produce(bytes.NewReader(encoded), s, buffers.NewBufferPool(64))
	}()

	buf := make([]byte, 10)
	if _, err := pp.Read(buf); err != nil {
		t.Fatal(err)
	}
	pp.Close()

	select {
	case err := <-done:
		if !errors.Is(err, transform.ErrMalformedInput) {
			t.Fatalf("expected ErrMalformedInput from the unread tail, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("producer did not finish after the consumer closed")
	}
}

func TestPipeCancelMidTransfer(t *testing.T) {
	p := testProcessor(t)
	encoded, err := p.PrepareOutput(bytes.Repeat([]byte("y"), 4096))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	src := &blockingReader{data: encoded[:1024], release: make(chan struct{})}
	defer close(src.release)

	pp := New(ctx, 1)
	s := newStream(t, p, transform.Decode)
	done := make(chan error, 1)
	go func() {
		done <- pp.Produce(src, s, buffers.NewBufferPool(16))
	}()

	// Let the producer fill the pipe and block.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, transform.ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("producer did not observe cancellation")
	}

	if _, err := io.ReadAll(pp); !errors.Is(err, transform.ErrCancelled) {
		t.Fatalf("consumer should see the cancellation, got %v", err)
	}
	pp.Close()
	pp.Close()
	if _, err := pp.Write([]byte("late")); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected io.ErrClosedPipe after teardown, got %v", err)
	}
}
