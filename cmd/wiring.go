package cmd

import (
	"encoding/json"
	"io"

	"bizledger/internal/connectivity"
	"bizledger/internal/debt"
	"bizledger/internal/ledger"
	"bizledger/internal/pending"
	"bizledger/internal/syncer"

	"github.com/rs/zerolog/log"
)

// till holds everything the point-of-sale side needs.
type till struct {
	queue   *pending.Store
	client  *ledger.HTTPClient
	monitor *connectivity.Monitor
	prober  *connectivity.Prober
	debts   *debt.Updater
	engine  *syncer.Engine
}

func openTill() (*till, error) {
	queue, err := pending.Open(cfg.PendingDSN)
	if err != nil {
		return nil, err
	}

	client := ledger.NewHTTPClient(ledger.ClientConfig{
		BaseURL:  cfg.LedgerURL,
		Email:    cfg.LedgerEmail,
		Password: cfg.LedgerPassword,
		Timeout:  cfg.RequestTimeout,
	}, log.Logger)

	monitor := connectivity.NewMonitor(log.Logger)
	prober := connectivity.NewProber(monitor, client, cfg.ProbeInterval, cfg.RequestTimeout, log.Logger)
	debts := debt.NewUpdater(client, log.Logger)
	engine := syncer.New(queue, client, debts, monitor, log.Logger, syncer.Options{
		RetryInterval: cfg.SyncRetryInterval,
	})

	return &till{
		queue:   queue,
		client:  client,
		monitor: monitor,
		prober:  prober,
		debts:   debts,
		engine:  engine,
	}, nil
}

func (t *till) Close() error {
	t.engine.Stop()
	return t.queue.Close()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
