package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ddfserve/ddfserve/internal/ddfsrv/admission"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/apis"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/assets"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/config"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/db/dbmanager"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/db/mysql"
)

// poolSize bounds the concurrent query connections. Streaming queries hold
// a connection for their whole lifetime, so this is also the concurrency
// ceiling before admission control starts shedding load.
const poolSize = 10

type cmdoptions struct {
	configFile string
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	opt := parseFlags()

	if err := config.Load(opt.configFile); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	config.InitLogger()
	cfg := config.Config()
	slog := log.With().Str("state", "init").Logger()

	pool, err := dbmanager.New(cfg.DSN(), poolSize, cfg.DB.ConnectionTimeout)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close()

	catalog := mysql.NewCatalog(pool)
	if aerr := catalog.Migrate(ctx); aerr != nil {
		return fmt.Errorf("migrating catalog: %w", aerr)
	}

	store, err := assets.NewStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating asset store: %w", err)
	}

	s := &apis.Server{
		Pool:    pool,
		Catalog: catalog,
		Store:   store,
	}
	if !config.IsTest() && (cfg.CPUThrottle > 0 || cfg.DBThrottle > 0) {
		s.Admission = admission.New(cfg.CPUThrottle, cfg.DBThrottle, pool.Pending)
		s.Admission.Start()
		defer s.Admission.Stop()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info().Str("port", cfg.HTTPPort).Msg("server started")
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for an interrupt or terminate signal from the OS.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		slog.Info().Str("signal", sig.String()).Msg("shutdown signal received")

		// Give outstanding streams 5 seconds to finish.
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error().Err(err).Msg("could not stop server gracefully")
			if err := srv.Close(); err != nil {
				slog.Error().Err(err).Msg("could not stop server")
			}
		}
	}

	slog.Info().Msg("server stopped")
	return nil
}

func parseFlags() cmdoptions {
	opt := cmdoptions{}
	flag.StringVar(&opt.configFile, "config", "", "path to configuration file")
	flag.Parse()
	return opt
}
