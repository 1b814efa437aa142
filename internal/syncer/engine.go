// Package syncer moves sales from the device to the remote ledger. Sales are
// committed directly while the ledger is reachable and queued otherwise; a
// queued business is drained in order once connectivity returns.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"bizledger/domain"
	"bizledger/internal/ledger"
	"bizledger/internal/metrics"
	"bizledger/internal/pending"
	"bizledger/internal/sale"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// Queue is the durable pending store the engine drains.
type Queue interface {
	Append(ctx context.Context, businessID string, record domain.SaleRecord) error
	ListAll(ctx context.Context, businessID string) ([]pending.Entry, error)
	Remove(ctx context.Context, businessID, localID string) error
	Count(ctx context.Context, businessID string) (int, error)
	Businesses(ctx context.Context) ([]string, error)
	AddFollowUp(ctx context.Context, saleID string, record domain.SaleRecord, cause error) error
	ListFollowUps(ctx context.Context, businessID string) ([]pending.FollowUp, error)
	ResolveFollowUp(ctx context.Context, businessID, localID string) error
}

// DebtCreator opens the debt owed for a committed credit sale.
type DebtCreator interface {
	CreateForSale(ctx context.Context, record domain.SaleRecord, saleID string) (string, error)
}

type Connectivity interface {
	IsOnline() bool
}

// Signal is a Connectivity source that can also announce reconnection.
type Signal interface {
	Connectivity
	BecameOnline() (<-chan struct{}, func())
}

type Status string

const (
	StatusCommitted Status = "committed"
	StatusQueued    Status = "queued"
	// StatusPartial: the sale is in the ledger but its debt is not yet.
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Receipt tells the caller what happened to a submitted sale.
type Receipt struct {
	LocalID string `json:"local_id"`
	SaleID  string `json:"sale_id,omitempty"`
	DebtID  string `json:"debt_id,omitempty"`
	Status  Status `json:"status"`
}

type State int

const (
	Idle State = iota
	Draining
)

func (s State) String() string {
	if s == Draining {
		return "draining"
	}
	return "idle"
}

// DrainReport summarises one pass over a business queue.
type DrainReport struct {
	BusinessID        string `json:"business_id"`
	Committed         int    `json:"committed"`
	Remaining         int    `json:"remaining"`
	FollowUps         int    `json:"follow_ups"`
	FollowUpsResolved int    `json:"follow_ups_resolved"`
	Halted            bool   `json:"halted"`
	Err               error  `json:"-"`
}

type Options struct {
	// RetryInterval is how often queued businesses are retried while online.
	RetryInterval time.Duration
}

type Engine struct {
	queue  Queue
	remote ledger.Remote
	debts  DebtCreator
	conn   Connectivity
	logger zerolog.Logger
	opts   Options

	mu     sync.Mutex
	states map[string]State

	background sync.WaitGroup
	scheduler  *gocron.Scheduler
}

func New(queue Queue, remote ledger.Remote, debts DebtCreator, conn Connectivity, logger zerolog.Logger, opts Options) *Engine {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Minute
	}
	return &Engine{
		queue:  queue,
		remote: remote,
		debts:  debts,
		conn:   conn,
		logger: logger.With().Str("component", "sync").Logger(),
		opts:   opts,
		states: make(map[string]State),
	}
}

// State reports whether a drain is running for the business.
func (e *Engine) State(businessID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[businessID]
}

func (e *Engine) begin(businessID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.states[businessID] == Draining {
		return false
	}
	e.states[businessID] = Draining
	return true
}

func (e *Engine) end(businessID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, businessID)
}

// Submit records a finalised sale. While online and with nothing queued ahead
// of it the sale is committed directly; otherwise it is appended to the
// business queue. A nil error means the sale is either in the ledger or
// durably queued.
func (e *Engine) Submit(ctx context.Context, record domain.SaleRecord) (Receipt, error) {
	if err := sale.Verify(record); err != nil {
		return Receipt{LocalID: record.LocalID, Status: StatusFailed}, err
	}
	log := e.logger.With().Str("business_id", record.BusinessID).Str("local_id", record.LocalID).Logger()

	online := e.conn.IsOnline()
	triedDirect := false
	backlog := false

	if online {
		queued, err := e.queue.Count(ctx, record.BusinessID)
		if err != nil {
			log.Warn().Err(err).Msg("could not read queue length")
		}
		backlog = err != nil || queued > 0

		if !backlog {
			triedDirect = true
			receipt, err := e.commitAndRecord(ctx, record)
			if err == nil || isTracked(err) {
				return receipt, err
			}
			log.Warn().Err(err).Msg("direct commit incomplete, queueing sale")
		}
	}

	if err := e.queue.Append(ctx, record.BusinessID, record); err != nil {
		log.Error().Err(err).Msg("could not queue sale")
		if online && !triedDirect {
			if receipt, cerr := e.commitAndRecord(ctx, record); cerr == nil || isTracked(cerr) {
				return receipt, cerr
			}
		}
		return Receipt{LocalID: record.LocalID, Status: StatusFailed}, err
	}
	metrics.SalesQueued.Inc()
	log.Info().Bool("online", online).Msg("sale queued")

	if online && backlog {
		e.drainInBackground(record.BusinessID)
	}
	return Receipt{LocalID: record.LocalID, Status: StatusQueued}, nil
}

// Commit sends one sale to the ledger: header, then items, then the debt for
// credit sales. Replaying a sale the ledger already holds resumes from the
// existing sale id. A *PartialCommitError means only the debt is missing.
func (e *Engine) Commit(ctx context.Context, record domain.SaleRecord) (Receipt, error) {
	receipt := Receipt{LocalID: record.LocalID, Status: StatusFailed}
	if err := sale.Verify(record); err != nil {
		return receipt, err
	}

	saleID, err := e.remote.InsertSale(ctx, record.Header())
	if errors.Is(err, ledger.ErrDuplicateSale) && saleID != "" {
		e.logger.Debug().Str("local_id", record.LocalID).Str("sale_id", saleID).Msg("sale already in ledger, resuming")
	} else if err != nil {
		return receipt, err
	}
	receipt.SaleID = saleID

	if err := e.remote.InsertSaleItems(ctx, saleID, record.Items); err != nil {
		return receipt, err
	}

	if record.PaymentMethod.IsCredit() {
		debtID, err := e.debts.CreateForSale(ctx, record, saleID)
		if err != nil {
			receipt.Status = StatusPartial
			return receipt, &PartialCommitError{LocalID: record.LocalID, SaleID: saleID, Err: err}
		}
		receipt.DebtID = debtID
	}

	receipt.Status = StatusCommitted
	return receipt, nil
}

// commitAndRecord commits and keeps a follow-up for a missing debt.
func (e *Engine) commitAndRecord(ctx context.Context, record domain.SaleRecord) (Receipt, error) {
	receipt, err := e.Commit(ctx, record)
	var partial *PartialCommitError
	switch {
	case err == nil:
		metrics.SalesCommitted.Inc()
	case errors.As(err, &partial):
		metrics.SalesCommitted.Inc()
		partial.Tracked = e.recordFollowUp(ctx, partial.SaleID, record, partial.Err)
	}
	return receipt, err
}

func (e *Engine) recordFollowUp(ctx context.Context, saleID string, record domain.SaleRecord, cause error) bool {
	metrics.DebtFollowUps.Inc()
	log := e.logger.With().Str("local_id", record.LocalID).Str("sale_id", saleID).Logger()
	if err := e.queue.AddFollowUp(ctx, saleID, record, cause); err != nil {
		log.Error().Err(err).AnErr("cause", cause).Msg("debt missing for committed sale and follow-up not stored")
		return false
	}
	log.Warn().Err(cause).Msg("debt missing for committed sale, follow-up recorded")
	return true
}

// Drain commits the business queue oldest first and removes each sale once
// the ledger has it. The first failure stops the drain; the failed sale and
// everything after it stay queued for the next attempt. Open debt follow-ups
// are retried after a complete pass.
func (e *Engine) Drain(ctx context.Context, businessID string) (DrainReport, error) {
	report := DrainReport{BusinessID: businessID}
	if !e.begin(businessID) {
		return report, ErrDrainInProgress
	}
	defer e.end(businessID)

	log := e.logger.With().Str("business_id", businessID).Logger()

	// Sales appended while a pass runs are picked up by the next pass.
	for {
		entries, err := e.queue.ListAll(ctx, businessID)
		if err != nil {
			report.Err = err
			return report, err
		}
		if len(entries) == 0 {
			break
		}

		for i, entry := range entries {
			if err := ctx.Err(); err != nil {
				return e.halt(log, report, len(entries)-i, err)
			}

			_, err := e.commitAndRecord(ctx, entry.Record)
			if err != nil && !isTracked(err) {
				log.Warn().Err(err).Str("local_id", entry.Record.LocalID).Msg("drain stopped")
				return e.halt(log, report, len(entries)-i, err)
			}
			if err != nil {
				report.FollowUps++
			}

			if err := e.queue.Remove(ctx, businessID, entry.Record.LocalID); err != nil {
				// Still queued but committed; the replay resumes from the ledger's copy.
				return e.halt(log, report, len(entries)-i, err)
			}
			report.Committed++
		}
	}

	resolved, err := e.retryFollowUps(ctx, businessID)
	report.FollowUpsResolved = resolved
	if err != nil {
		log.Warn().Err(err).Msg("debt follow-ups still open")
	}

	if report.Committed > 0 || resolved > 0 {
		log.Info().
			Int("committed", report.Committed).
			Int("follow_ups", report.FollowUps).
			Int("follow_ups_resolved", resolved).
			Msg("queue drained")
	}
	return report, nil
}

func (e *Engine) halt(log zerolog.Logger, report DrainReport, remaining int, err error) (DrainReport, error) {
	metrics.DrainsHalted.Inc()
	report.Remaining = remaining
	report.Halted = true
	report.Err = err
	log.Debug().Int("remaining", remaining).Msg("drain halted, retry scheduled")
	return report, err
}

// RetryFollowUps tries again to create the debts of committed credit sales.
func (e *Engine) RetryFollowUps(ctx context.Context, businessID string) (int, error) {
	if !e.begin(businessID) {
		return 0, ErrDrainInProgress
	}
	defer e.end(businessID)
	return e.retryFollowUps(ctx, businessID)
}

func (e *Engine) retryFollowUps(ctx context.Context, businessID string) (int, error) {
	followUps, err := e.queue.ListFollowUps(ctx, businessID)
	if err != nil {
		return 0, err
	}

	resolved := 0
	var firstErr error
	for _, fu := range followUps {
		debtID, err := e.debts.CreateForSale(ctx, fu.Record, fu.SaleID)
		if err != nil {
			if addErr := e.queue.AddFollowUp(ctx, fu.SaleID, fu.Record, err); addErr != nil {
				e.logger.Error().Err(addErr).Str("local_id", fu.LocalID).Msg("could not update follow-up")
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := e.queue.ResolveFollowUp(ctx, businessID, fu.LocalID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		resolved++
		e.logger.Info().Str("local_id", fu.LocalID).Str("debt_id", debtID).Msg("debt follow-up resolved")
	}
	return resolved, firstErr
}

// DrainAll drains every business with queued sales or open follow-ups.
// Businesses drain concurrently.
func (e *Engine) DrainAll(ctx context.Context) ([]DrainReport, error) {
	businesses, err := e.queue.Businesses(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]DrainReport, len(businesses))
	var wg sync.WaitGroup
	for i, businessID := range businesses {
		wg.Add(1)
		go func(i int, businessID string) {
			defer wg.Done()
			report, err := e.Drain(ctx, businessID)
			if err != nil && report.Err == nil {
				report.Err = err
			}
			reports[i] = report
		}(i, businessID)
	}
	wg.Wait()
	return reports, nil
}

func (e *Engine) drainInBackground(businessID string) {
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		if _, err := e.Drain(context.Background(), businessID); err != nil && !errors.Is(err, ErrDrainInProgress) {
			e.logger.Debug().Err(err).Str("business_id", businessID).Msg("background drain incomplete")
		}
	}()
}

// Wait blocks until background drains started by Submit have finished.
func (e *Engine) Wait() {
	e.background.Wait()
}

// Watch drains every queue each time the signal reports the ledger is
// reachable again. It returns when ctx is done.
func (e *Engine) Watch(ctx context.Context, signal Signal) {
	wake, unsubscribe := signal.BecameOnline()
	defer unsubscribe()

	if signal.IsOnline() {
		e.drainAllLogged(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
			e.drainAllLogged(ctx)
		}
	}
}

func (e *Engine) drainAllLogged(ctx context.Context) {
	reports, err := e.DrainAll(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("could not list queued businesses")
		return
	}
	for _, r := range reports {
		if r.Err != nil && !errors.Is(r.Err, ErrDrainInProgress) {
			e.logger.Warn().Err(r.Err).Str("business_id", r.BusinessID).Int("remaining", r.Remaining).Msg("drain incomplete")
		}
	}
}

// Start schedules the periodic retry of halted drains. Runs never overlap.
func (e *Engine) Start() error {
	s := gocron.NewScheduler(time.UTC)
	_, err := s.Every(e.opts.RetryInterval).SingletonMode().Do(func() {
		if !e.conn.IsOnline() {
			return
		}
		e.drainAllLogged(context.Background())
	})
	if err != nil {
		return err
	}
	s.StartAsync()
	e.scheduler = s
	e.logger.Info().Dur("interval", e.opts.RetryInterval).Msg("sync retry job started")
	return nil
}

// Stop ends the retry job and waits for background drains.
func (e *Engine) Stop() {
	if e.scheduler != nil {
		e.scheduler.Stop()
		e.scheduler = nil
	}
	e.background.Wait()
}

// isTracked reports a partial commit whose missing debt is safely recorded.
func isTracked(err error) bool {
	var partial *PartialCommitError
	return errors.As(err, &partial) && partial.Tracked
}
