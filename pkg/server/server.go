package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	glog "github.com/labstack/gommon/log"
	"github.com/rs/zerolog"

	"cryptomid-go/pkg/config"
	"cryptomid-go/pkg/log"
	"cryptomid-go/pkg/middleware"
	"cryptomid-go/pkg/transform"
)

type Greeting struct {
	Name string `json:"name"`
}

// Server hosts the sample API behind the body transform middlewares.
type Server struct {
	Api       *echo.Echo
	Config    *config.Config
	Processor *transform.PayloadProcessor
}

func New(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	proc, err := cfg.Processor()
	if err != nil {
		return nil, err
	}

	api := echo.New()
	api.HideBanner = true
	api.HidePort = true
	api.Logger.SetLevel(echoLevel(cfg.LogLevel))

	s := &Server{
		Api:       api,
		Config:    cfg,
		Processor: proc,
	}

	api.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	api.Use(requestLogger())
	api.Use(echomw.Recover())
	if cfg.BodyLimit != "" {
		api.Use(echomw.BodyLimit(cfg.BodyLimit))
	}

	mwConfig := middleware.Config{
		Processor:        proc,
		ContentType:      cfg.ContentType,
		PlainContentType: cfg.PlainContentType,
		ChunkSize:        cfg.ChunkSize,
		Depth:            cfg.PipeDepth,
	}
	// Response is outermost so it sees whatever the Request side and the
	// handler produced.
	api.Use(middleware.ResponseWithConfig(mwConfig))
	api.Use(middleware.RequestWithConfig(mwConfig))

	api.GET("/hello-raw/:name", s.HelloRaw)
	api.GET("/hello/:name", s.Hello)
	api.POST("/hello", s.PostHello)
	return s, nil
}

func (s *Server) HelloRaw(c echo.Context) error {
	return c.JSON(http.StatusOK, Greeting{Name: c.Param("name") + "!"})
}

// Hello answers like HelloRaw but declares the transform media type, so the
// response leaves encoded.
func (s *Server) Hello(c echo.Context) error {
	b, err := json.Marshal(Greeting{Name: c.Param("name") + "!"})
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, s.Config.ContentType, b)
}

func (s *Server) PostHello(c echo.Context) error {
	var g Greeting
	if err := c.Bind(&g); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, Greeting{Name: g.Name + "!"})
}

// Run serves until ctx is done, then shuts down gracefully within the
// configured timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.Api.Start(s.Config.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info().
		Str("address", s.Config.ListenAddr).
		Str("pipeline", s.Processor.String()).
		Str("content_type", s.Config.ContentType).
		Msg("cryptomid: serving")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.Config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	log.Info().Dur("timeout", timeout).Msg("cryptomid: shutting down")
	err := s.Api.Shutdown(shutdownCtx)
	if startErr := <-errCh; startErr != nil && err == nil {
		err = startErr
	}
	return err
}

func requestLogger() echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			var ev *zerolog.Event
			switch {
			case v.Status >= http.StatusInternalServerError:
				ev = log.Error().Err(v.Error)
			case v.Error != nil:
				ev = log.Warn().Err(v.Error)
			default:
				ev = log.Info()
			}
			ev.Str("request_id", v.RequestID).
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	})
}

func echoLevel(level string) glog.Lvl {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return glog.DEBUG
	case "warn", "warning":
		return glog.WARN
	case "error", "fatal", "panic":
		return glog.ERROR
	case "disabled", "off":
		return glog.OFF
	default:
		return glog.INFO
	}
}
