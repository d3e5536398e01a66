// Package middleware plugs the transform pipeline into an echo server: the
// Request middleware decodes bodies declared with the transform media type
// before handlers see them, and the Response middleware encodes bodies that
// handlers declare with it.
package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"cryptomid-go/pkg/buffers"
	"cryptomid-go/pkg/pipe"
	"cryptomid-go/pkg/transform"
)

// ContentTypeJOSE marks a body as subject to the pipeline.
const ContentTypeJOSE = "application/jose"

type Config struct {
	// Skipper defines a function to skip middleware.
	Skipper middleware.Skipper

	// Processor describes the codec chain. Required.
	Processor *transform.PayloadProcessor

	// ContentType selects the transform. Default "application/jose".
	ContentType string

	// PlainContentType is what handlers see on decoded requests.
	// Default "application/json".
	PlainContentType string

	// ChunkSize is the read size used on bodies.
	ChunkSize int

	// Depth is the number of decoded chunks queued ahead of the handler.
	Depth int
}

// DefaultConfig is the default middleware config.
var DefaultConfig = Config{
	Skipper:          middleware.DefaultSkipper,
	ContentType:      ContentTypeJOSE,
	PlainContentType: echo.MIMEApplicationJSON,
	ChunkSize:        buffers.DefaultChunkSize,
	Depth:            pipe.DefaultDepth,
}

type orchestrator struct {
	skipper   middleware.Skipper
	processor *transform.PayloadProcessor
	gate      Gate
	plainType string
	pool      *buffers.BufferPool
	depth     int
}

func newOrchestrator(config Config) *orchestrator {
	if config.Processor == nil {
		panic("echo: cryptomid middleware requires a payload processor")
	}
	if config.Skipper == nil {
		config.Skipper = DefaultConfig.Skipper
	}
	if config.ContentType == "" {
		config.ContentType = DefaultConfig.ContentType
	}
	if config.PlainContentType == "" {
		config.PlainContentType = DefaultConfig.PlainContentType
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultConfig.ChunkSize
	}
	if config.Depth <= 0 {
		config.Depth = DefaultConfig.Depth
	}

	pool := buffers.ChunkPool
	if config.ChunkSize != pool.Size() {
		pool = buffers.NewBufferPool(config.ChunkSize)
	}
	return &orchestrator{
		skipper:   config.Skipper,
		processor: config.Processor,
		gate:      NewGate(config.ContentType),
		plainType: config.PlainContentType,
		pool:      pool,
		depth:     config.Depth,
	}
}

func requestID(c echo.Context) string {
	if id := c.Request().Header.Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return c.Response().Header().Get(echo.HeaderXRequestID)
}
