package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"bizledger/internal/api"
	"bizledger/internal/database"
	"bizledger/internal/logger"
	"bizledger/internal/metrics"
	"bizledger/internal/migrations"
	"bizledger/internal/seed"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ledger API",
	Long: `Run the remote ledger: the HTTP API that stores committed sales, debts
and debt payments.

Environment variables:
  DATABASE_DSN - SQLite file DSN or postgres:// URL
  HTTP_PORT    - listen port (default 8080)
  SECRET       - JWT signing secret
  USERS_CSV    - optional staff accounts to seed`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.UsersCSV != "" {
		if _, err := seed.LoadUsers(ctx, db, cfg.UsersCSV, logger.WithComponent("seed")); err != nil {
			return err
		}
	}

	metrics.RegisterHTTP(prometheus.DefaultRegisterer)
	handler := api.New(db, cfg.Secret, zlog.Logger)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("driver", database.Driver(cfg.DatabaseDSN)).Msg("ledger server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
