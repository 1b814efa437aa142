package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"bizledger/internal/logger"
	"bizledger/internal/metrics"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Keep the till in sync with the ledger",
	Long: `Run the till's background sync: probe the ledger, drain queued sales as
soon as it becomes reachable and retry halted drains on a schedule.

Environment variables:
  PENDING_DSN         - SQLite file holding the pending queue
  LEDGER_URL          - ledger API base URL
  LEDGER_EMAIL        - staff account used by the till
  LEDGER_PASSWORD     - password for LEDGER_EMAIL
  PROBE_INTERVAL      - seconds between health checks (default 15)
  SYNC_RETRY_INTERVAL - seconds between drain retries (default 60)`,
	Example: `  # Run with metrics on :9091
  bizledger agent --metrics-addr :9091`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.Flags().String("metrics-addr", "", "Serve /metrics on this address")
}

func runAgent(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("agent")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	t, err := openTill()
	if err != nil {
		return err
	}
	defer t.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.RegisterSync(prometheus.DefaultRegisterer)
	if metricsAddr != "" {
		r := chi.NewRouter()
		r.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	if err := t.engine.Start(); err != nil {
		return err
	}

	go t.prober.Run(ctx)
	log.Info().Str("ledger", cfg.LedgerURL).Msg("agent started")
	t.engine.Watch(ctx, t.monitor)

	log.Info().Msg("agent stopped")
	return nil
}
