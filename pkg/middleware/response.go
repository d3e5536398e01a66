package middleware

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"cryptomid-go/pkg/log"
	"cryptomid-go/pkg/pipe"
	"cryptomid-go/pkg/transform"
)

// Response returns a middleware that encodes response bodies the handler
// declared with the transform media type.
func Response(p *transform.PayloadProcessor) echo.MiddlewareFunc {
	c := DefaultConfig
	c.Processor = p
	return ResponseWithConfig(c)
}

// ResponseWithConfig returns a Response middleware with config.
//
// The handler's output is captured in full first: its media type is only
// known once it has run, and the headers must be settled before any byte
// reaches the client.
func ResponseWithConfig(config Config) echo.MiddlewareFunc {
	o := newOrchestrator(config)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if o.skipper(c) {
				return next(c)
			}
			return o.encodeResponse(c, next)
		}
	}
}

func (o *orchestrator) encodeResponse(c echo.Context, next echo.HandlerFunc) error {
	res := c.Response()
	orig := res.Writer
	capture := &captureWriter{ResponseWriter: orig}

	nextErr := func() error {
		res.Writer = capture
		defer func() { res.Writer = orig }()
		return next(c)
	}()

	if !capture.wroteHeader {
		// Nothing was written; the host's error handler takes it from here.
		return nextErr
	}

	mode := Passthrough
	if bodyAllowed(c.Request().Method, capture.status) {
		mode = o.gate.ClassifyResponse(res.Header().Get(echo.HeaderContentType))
	}
	if mode == Passthrough {
		orig.WriteHeader(capture.status)
		if _, err := orig.Write(capture.body.Bytes()); err != nil {
			return err
		}
		return nextErr
	}

	if err := o.forwardEncoded(c, orig, capture); err != nil {
		return err
	}
	return nextErr
}

func (o *orchestrator) forwardEncoded(c echo.Context, dst http.ResponseWriter, capture *captureWriter) error {
	stream, err := o.processor.NewStream(transform.Encode)
	if err != nil {
		return err
	}
	dst.Header().Del(echo.HeaderContentLength)
	dst.WriteHeader(capture.status)

	ctx := c.Request().Context()
	in := int64(capture.body.Len())
	n, err := pipe.Run(ctx, &capture.body, dst, stream, o.pool)
	capture.body = bytes.Buffer{}

	if err != nil {
		if errors.Is(err, transform.ErrCancelled) {
			log.Debug().Str("request_id", requestID(c)).Msg("response body transform cancelled")
		} else {
			log.Warn().Err(err).Str("request_id", requestID(c)).Msg("response body transform aborted")
		}
		// Headers are already out; all that is left is to stop writing.
		return nil
	}
	log.Debug().
		Str("request_id", requestID(c)).
		Str("mode", ModeEncode.String()).
		Str("pipeline", o.processor.String()).
		Int64("bytes_in", in).
		Int64("bytes_out", n).
		Msg("response body transformed")
	return nil
}

// captureWriter holds the handler's status and body until the handler returns.
type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (w *captureWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(b)
}

// Flush is a no-op: nothing leaves before the handler is done.
func (w *captureWriter) Flush() {}

func (w *captureWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func bodyAllowed(method string, status int) bool {
	if method == http.MethodHead {
		return false
	}
	switch {
	case status >= 100 && status < 200:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

// heldResponse parks everything a handler writes behind a captureWriter
// until the caller decides to forward it or to answer with an error.
type heldResponse struct {
	res     *echo.Response
	orig    http.ResponseWriter
	header  http.Header
	capture *captureWriter
}

func holdResponse(res *echo.Response) *heldResponse {
	h := &heldResponse{
		res:     res,
		orig:    res.Writer,
		header:  res.Header().Clone(),
		capture: &captureWriter{ResponseWriter: res.Writer},
	}
	res.Writer = h.capture
	return h
}

func (h *heldResponse) restore() { h.res.Writer = h.orig }

// commit forwards the held status and body, if any.
func (h *heldResponse) commit() error {
	if !h.capture.wroteHeader {
		return nil
	}
	h.orig.WriteHeader(h.capture.status)
	_, err := h.orig.Write(h.capture.body.Bytes())
	return err
}

// discard drops the held output and reopens the response for the host's
// error handler.
func (h *heldResponse) discard() {
	hdr := h.orig.Header()
	for k := range hdr {
		delete(hdr, k)
	}
	for k, v := range h.header {
		hdr[k] = v
	}
	h.capture.body = bytes.Buffer{}
	h.res.Committed = false
	h.res.Status = http.StatusOK
	h.res.Size = 0
}
