package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zapgate/zapgate/internal/cli"
	"github.com/zapgate/zapgate/internal/config"
	"github.com/zapgate/zapgate/internal/flow"
	"github.com/zapgate/zapgate/internal/logging"
	"github.com/zapgate/zapgate/internal/manager"
	"github.com/zapgate/zapgate/internal/server"
	"github.com/zapgate/zapgate/internal/session"
	"github.com/zapgate/zapgate/internal/zapclient"
)

func main() {
	logger := logging.NewStdoutLogger("zapgate")

	args, err := cli.ParseArgs(os.Args[1:])
	if err != nil {
		logger.Error("parsing arguments", logging.Field{Key: "error", Value: err.Error()})
		os.Exit(2)
	}

	cfg := config.FromEnv()
	args.Apply(cfg)

	client := zapclient.New(cfg, logger, nil)

	// A failed ping is worth knowing about but not fatal: the scanner may
	// simply not be up yet.
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	if version, err := client.Version(pingCtx); err != nil {
		logger.Warn("scanner unreachable at startup",
			logging.Field{Key: "base", Value: cfg.ZapBase},
			logging.Field{Key: "error", Value: err.Error()},
		)
	} else {
		logger.Info("connected to scanner",
			logging.Field{Key: "base", Value: cfg.ZapBase},
			logging.Field{Key: "version", Value: version},
		)
	}
	cancelPing()

	sessions := session.NewManager(client, cfg.SessionName, logger)
	orch := flow.New(client, sessions, logger)
	mgr := manager.New(manager.Config{
		Workers:    cfg.Workers,
		QueueDepth: cfg.QueueDepth,
	}, orch, sessions, logger)

	srv := server.NewServer(server.Config{ListenAddr: cfg.ListenAddr}, mgr, sessions, client, logger)
	httpSrv := srv.HTTPServer()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", logging.Field{Key: "addr", Value: cfg.ListenAddr})
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("http server", logging.Field{Key: "error", Value: err.Error()})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	mgr.Close()
}
