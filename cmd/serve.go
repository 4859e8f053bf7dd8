package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/poodle/config"
	"github.com/mohammad-safakhou/poodle/internal/changes"
	"github.com/mohammad-safakhou/poodle/internal/notify"
	"github.com/mohammad-safakhou/poodle/internal/poller"
	"github.com/mohammad-safakhou/poodle/internal/runtime"
	srv "github.com/mohammad-safakhou/poodle/internal/server"
	"github.com/spf13/cobra"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var noAPI bool
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the poller and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if serveAddr != "" {
				cfg.Server.Address = serveAddr
			}
			if noAPI {
				cfg.Server.Address = ""
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")
	serve.Flags().BoolVar(&noAPI, "no-api", false, "run the poller only")

	return serve
}

func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	sink, err := a.sink(ctx)
	if err != nil {
		return err
	}
	responses := notify.NewResponses(cfg.Notifier.Responses, time.Now().UnixNano())
	p, err := poller.New(a.sessions, a.loader, changes.NewDetector(newLogger("DIFF")), a.registry, sink, poller.Options{
		Interval: cfg.Poller.Interval,
		Schedule: cfg.Poller.Schedule,
		Footer:   responses.Pick,
		Logger:   newLogger("POLLER"),
		Metrics:  a.metrics,
		Lock:     a.sweepLock(),
	})
	if err != nil {
		return err
	}

	var e *echo.Echo
	if cfg.Server.Address != "" {
		secret, err := runtime.LoadJWTSecret(cfg)
		if err != nil {
			return err
		}
		e = srv.New(srv.Options{
			Watcher:  poller.NewWatcher(a.sessions, a.loader, a.registry, newLogger("WATCH")),
			Session:  a.sessions,
			Secret:   secret,
			Gatherer: a.gatherer,
			Logger:   newLogger("HTTP"),
		})
	}

	// The first component to stop stops the other one.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)
	running := 1
	go func() { errCh <- p.Run(ctx) }()
	if e != nil {
		running++
		go func() { errCh <- srv.Run(ctx, cfg.Server.Address, e) }()
	}

	var first error
	for ; running > 0; running-- {
		err := <-errCh
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		if err != nil && first == nil {
			first = err
		}
		cancel()
	}
	return first
}
