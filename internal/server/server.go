package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/poodle/internal/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionStatus reports the state of the portal session for /healthz.
type SessionStatus interface {
	State() string
	LastError() error
}

type Options struct {
	Watcher  WatchService
	Session  SessionStatus
	Secret   []byte
	Gatherer prometheus.Gatherer
	Logger   *log.Logger
}

// New builds the echo instance with health, metrics and the watch API.
func New(opts Options) *echo.Echo {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	h := &healthHandler{Session: opts.Session}
	e.GET("/healthz", h.healthz)
	if opts.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api")
	api.Use(runtime.EchoAuthMiddleware(opts.Secret))
	api.GET("/me", func(c echo.Context) error {
		scopes, _ := c.Get("scopes").([]string)
		return c.JSON(http.StatusOK, map[string]interface{}{"user_id": c.Get("user_id"), "scopes": scopes})
	})
	if opts.Watcher != nil {
		wh := &WatchHandler{Watcher: opts.Watcher}
		wh.Register(api.Group("/channels/:channel/watches"))
	}
	return e
}

// Run serves e on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, e *echo.Echo) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		errCh <- e.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}

type healthHandler struct {
	Session SessionStatus
}

func (h *healthHandler) healthz(c echo.Context) error {
	if h.Session == nil || c.QueryParam("verbose") == "" {
		return c.String(http.StatusOK, "ok")
	}
	out := map[string]string{"status": "ok", "session": h.Session.State()}
	if err := h.Session.LastError(); err != nil {
		out["last_error"] = err.Error()
	}
	return c.JSON(http.StatusOK, out)
}
