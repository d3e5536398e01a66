package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"cryptomid-go/pkg/log"
	"cryptomid-go/pkg/pipe"
	"cryptomid-go/pkg/transform"
)

// Request returns a middleware that decodes request bodies declared with
// the transform media type.
func Request(p *transform.PayloadProcessor) echo.MiddlewareFunc {
	c := DefaultConfig
	c.Processor = p
	return RequestWithConfig(c)
}

// RequestWithConfig returns a Request middleware with config.
func RequestWithConfig(config Config) echo.MiddlewareFunc {
	o := newOrchestrator(config)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if o.skipper(c) {
				return next(c)
			}
			mode := o.gate.ClassifyRequest(c.Request().Header.Get(echo.HeaderContentType))
			if mode != ModeDecode {
				return next(c)
			}
			return o.decodeRequest(c, next)
		}
	}
}

// decodeRequest runs the body producer and the handler side by side. The
// handler sees a copy of the request whose body is the read end of a
// bounded pipe; the original request is put back before returning. What the
// handler writes is held until the whole body has been decoded, so a body
// that only fails at its end still answers with a client error.
func (o *orchestrator) decodeRequest(c echo.Context, next echo.HandlerFunc) error {
	req := c.Request()
	stream, err := o.processor.NewStream(transform.Decode)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(req.Context())
	defer cancel(nil)
	g, gctx := errgroup.WithContext(ctx)
	p := pipe.New(gctx, o.depth)

	produced := make(chan struct{})
	g.Go(func() error {
		defer close(produced)
		return p.Produce(req.Body, stream, o.pool)
	})

	held := holdResponse(c.Response())
	defer held.restore()
	nextErr := o.invokeWithBody(c, next, o.decodedView(gctx, req, p), p)
	if nextErr != nil {
		cancel(nextErr)
		select {
		case <-produced:
		default:
			// A producer stuck in a read of a stalled upload only notices
			// through the connection.
			http.NewResponseController(c.Response()).SetReadDeadline(time.Now())
		}
	}
	produceErr := g.Wait()
	held.restore()

	failed := produceErr != nil && !errors.Is(produceErr, transform.ErrCancelled)
	var ev *zerolog.Event
	if failed {
		ev = log.Warn().Err(produceErr)
	} else {
		ev = log.Debug()
	}
	ev.Str("request_id", requestID(c)).
		Str("mode", ModeDecode.String()).
		Str("pipeline", o.processor.String()).
		Int64("bytes_out", p.Written()).
		Msg("request body transformed")

	if failed {
		held.discard()
		return o.resolve(produceErr, nextErr)
	}
	if err := held.commit(); err != nil && nextErr == nil {
		return err
	}
	return nextErr
}

func (o *orchestrator) invokeWithBody(c echo.Context, next echo.HandlerFunc, view *http.Request, p *pipe.Pipe) error {
	orig := c.Request()
	c.SetRequest(view)
	defer func() {
		c.SetRequest(orig)
		p.Close()
	}()
	return next(c)
}

func (o *orchestrator) decodedView(ctx context.Context, req *http.Request, body *pipe.Pipe) *http.Request {
	view := req.WithContext(ctx)
	view.Header = req.Header.Clone()
	view.Header.Set(echo.HeaderContentType, o.plainType)
	view.Header.Del(echo.HeaderContentLength)
	view.ContentLength = -1
	view.Body = body
	view.GetBody = nil
	return view
}

// resolve picks the error reported to the host. A body that failed to decode
// wins over whatever the handler made of the truncated stream; cancellation
// is never reported on its own.
func (o *orchestrator) resolve(produceErr, nextErr error) error {
	switch {
	case produceErr == nil:
		return nextErr
	case transform.IsClientError(produceErr):
		return echo.NewHTTPError(http.StatusBadRequest, "malformed "+o.gate.mediaType+" body").SetInternal(produceErr)
	case errors.Is(produceErr, transform.ErrCancelled):
		return nextErr
	}
	// The source itself may already speak HTTP, e.g. a body limit upstream.
	var he *echo.HTTPError
	if errors.As(produceErr, &he) {
		return he
	}
	var maxErr *http.MaxBytesError
	if errors.As(produceErr, &maxErr) {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge).SetInternal(produceErr)
	}
	if nextErr != nil {
		return nextErr
	}
	return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body").SetInternal(produceErr)
}
