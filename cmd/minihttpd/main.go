package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nczempin/minihttpd/admin"
	"github.com/nczempin/minihttpd/config"
	httperrors "github.com/nczempin/minihttpd/errors"
	"github.com/nczempin/minihttpd/files"
	"github.com/nczempin/minihttpd/handlers"
	"github.com/nczempin/minihttpd/logging"
	"github.com/nczempin/minihttpd/router"
	"github.com/nczempin/minihttpd/server"
	"github.com/nczempin/minihttpd/stats"
	"github.com/nczempin/minihttpd/store"
	"github.com/nczempin/minihttpd/transport"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "minihttpd: %v\n", err)
		os.Exit(2)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "minihttpd: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Str("kind", httperrors.TypeOf(err).String()).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	backend := files.Backend(cfg.IOBackend)

	web, err := files.NewDir(cfg.WebRoot, files.BackendStd)
	if err != nil {
		return httperrors.NewStartupError("cannot create web root", err)
	}
	uploads, err := files.NewDir(cfg.UploadRoot, backend)
	if err != nil {
		return httperrors.NewStartupError("cannot create upload root", err)
	}

	db, err := store.OpenSQLite(ctx, cfg.DBPath)
	if err != nil {
		return httperrors.NewStartupError("cannot open database", err)
	}
	defer db.Close()

	users := store.NewUsers(db)
	if err := users.Migrate(ctx); err != nil {
		return httperrors.NewStartupError("cannot create users table", err)
	}

	counter := &stats.Counter{}
	conns := &stats.Connections{}

	h := handlers.New(users, web, uploads, counter, conns, handlers.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		Log:            log,
	})
	r := router.New(h.NotFound)
	h.Register(r)

	listener, err := listen(cfg)
	if err != nil {
		return err
	}

	srv := server.New(listener, r, conns, log, server.Config{
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		MaxConns:       cfg.MaxConns,
	})

	if cfg.AdminAddr != "" {
		app := admin.New(counter, conns, users, log)
		go func() {
			if err := admin.Run(ctx, app, cfg.AdminAddr, log); err != nil {
				log.Error().Err(err).Msg("admin listener stopped")
			}
		}()
	}

	log.Info().
		Str("network", cfg.Network).
		Str("addr", cfg.Addr).
		Str("io", cfg.IOBackend).
		Str("webroot", cfg.WebRoot).
		Str("uploads", cfg.UploadRoot).
		Msg("starting")

	if err := srv.Serve(ctx); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("connections closed forcibly")
	}
	log.Info().Interface("stats", conns.Snapshot()).Msg("stopped")
	return nil
}

func listen(cfg *config.Config) (transport.Listener, error) {
	ln, err := transport.Listen(cfg.Network, cfg.Addr)
	if err != nil {
		return nil, err
	}
	if cfg.IOBackend != string(files.BackendUring) {
		return ln, nil
	}

	ul, err := transport.NewUringListener(ln)
	if err != nil {
		ln.Close()
		return nil, httperrors.NewStartupError("io_uring backend unavailable", err)
	}
	return ul, nil
}
