package syncer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bizledger/domain"
	"bizledger/internal/connectivity"
	"bizledger/internal/database"
	"bizledger/internal/debt"
	"bizledger/internal/ledger"
	"bizledger/internal/logger"
	"bizledger/internal/migrations"
	"bizledger/internal/pending"
	"bizledger/internal/sale"

	"github.com/shopspring/decimal"
)

var errConnRefused = errors.New("connection refused")

// flakyRemote is a real ledger store that can be told to fail.
type flakyRemote struct {
	*ledger.Store

	mu        sync.Mutex
	down      bool
	failSale  map[string]bool
	failDebt  bool
	committed []string

	gate    chan struct{}
	entered chan struct{}
}

func (r *flakyRemote) setDown(down bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.down = down
}

func (r *flakyRemote) setFailDebt(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failDebt = fail
}

func (r *flakyRemote) setFailSale(localID string, fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSale == nil {
		r.failSale = make(map[string]bool)
	}
	r.failSale[localID] = fail
}

func (r *flakyRemote) committedOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.committed...)
}

func (r *flakyRemote) InsertSale(ctx context.Context, h domain.SaleHeader) (string, error) {
	if r.gate != nil {
		r.entered <- struct{}{}
		<-r.gate
	}
	r.mu.Lock()
	fail := r.down || r.failSale[h.LocalID]
	r.mu.Unlock()
	if fail {
		return "", &ledger.RemoteError{Op: "insert sale", Err: errConnRefused}
	}

	id, err := r.Store.InsertSale(ctx, h)
	if err == nil {
		r.mu.Lock()
		r.committed = append(r.committed, h.LocalID)
		r.mu.Unlock()
	}
	return id, err
}

func (r *flakyRemote) InsertSaleItems(ctx context.Context, saleID string, items []domain.SaleItem) error {
	r.mu.Lock()
	down := r.down
	r.mu.Unlock()
	if down {
		return &ledger.RemoteError{Op: "insert sale items", Err: errConnRefused}
	}
	return r.Store.InsertSaleItems(ctx, saleID, items)
}

func (r *flakyRemote) InsertDebt(ctx context.Context, d domain.Debt) (string, error) {
	r.mu.Lock()
	fail := r.down || r.failDebt
	r.mu.Unlock()
	if fail {
		return "", &ledger.RemoteError{Op: "insert debt", Err: errConnRefused}
	}
	return r.Store.InsertDebt(ctx, d)
}

type fixture struct {
	ledger  *ledger.Store
	remote  *flakyRemote
	queue   *pending.Store
	monitor *connectivity.Monitor
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	db, err := database.Connect("file:" + filepath.Join(dir, "ledger.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatal(err)
	}

	queue, err := pending.Open("file:" + filepath.Join(dir, "pending.db") + "?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("pending.Open: %v", err)
	}
	t.Cleanup(func() { queue.Close() })

	store := ledger.NewStore(db)
	remote := &flakyRemote{Store: store}
	monitor := connectivity.NewMonitor(logger.Nop())
	engine := New(queue, remote, debt.NewUpdater(remote, logger.Nop()), monitor, logger.Nop(), Options{RetryInterval: 20 * time.Millisecond})
	t.Cleanup(engine.Stop)

	return &fixture{ledger: store, remote: remote, queue: queue, monitor: monitor, engine: engine}
}

func (f *fixture) build(t *testing.T, business, localID string, method domain.PaymentMethod) domain.SaleRecord {
	t.Helper()
	in := sale.Input{
		BusinessID: business,
		SoldBy:     "user-1",
		Items: []sale.ItemInput{
			{Name: "Rice", Quantity: 2, UnitPrice: decimal.RequireFromString("40.00"), CostPrice: decimal.RequireFromString("30.00")},
			{Name: "Oil", Quantity: 1, UnitPrice: decimal.RequireFromString("20.00")},
		},
		PaymentMethod: method,
	}
	if method.IsCredit() {
		in.CustomerName = "Ama Mensah"
		in.CustomerPhone = "+233200000000"
	}
	record, err := sale.Builder{NewID: func() string { return localID }}.Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return record
}

func (f *fixture) queued(t *testing.T, business string) []string {
	t.Helper()
	entries, err := f.queue.ListAll(context.Background(), business)
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Record.LocalID
	}
	return ids
}

func (f *fixture) salesInLedger(t *testing.T, business string) int {
	t.Helper()
	n, err := f.ledger.CountSales(context.Background(), business)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSubmitOnlineCommitsDirectly(t *testing.T) {
	f := newFixture(t)
	f.monitor.Set(true)
	ctx := context.Background()

	record := f.build(t, "biz-1", "s1", domain.PaymentCash)
	receipt, err := f.engine.Submit(ctx, record)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if receipt.Status != StatusCommitted || receipt.SaleID == "" || receipt.LocalID != "s1" {
		t.Errorf("receipt = %+v", receipt)
	}
	if q := f.queued(t, "biz-1"); len(q) != 0 {
		t.Errorf("queue = %v, want empty", q)
	}

	header, items, err := f.ledger.GetSale(ctx, "biz-1", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !header.TotalAmount.Equal(decimal.RequireFromString("100")) || len(items) != 2 {
		t.Errorf("ledger sale = %+v with %d items", header, len(items))
	}
}

func TestOfflineSalesQueueThenDrainInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		receipt, err := f.engine.Submit(ctx, f.build(t, "biz-1", fmt.Sprintf("s%d", i), domain.PaymentCash))
		if err != nil {
			t.Fatalf("Submit s%d: %v", i, err)
		}
		if receipt.Status != StatusQueued {
			t.Errorf("s%d status = %s, want queued", i, receipt.Status)
		}
	}
	if n := f.salesInLedger(t, "biz-1"); n != 0 {
		t.Fatalf("ledger has %d sales while offline", n)
	}

	f.monitor.Set(true)
	report, err := f.engine.Drain(ctx, "biz-1")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if report.Committed != 3 || report.Halted {
		t.Errorf("report = %+v", report)
	}
	if got := fmt.Sprint(f.remote.committedOrder()); got != "[s1 s2 s3]" {
		t.Errorf("commit order = %s", got)
	}
	if q := f.queued(t, "biz-1"); len(q) != 0 {
		t.Errorf("queue = %v, want empty", q)
	}
}

func TestSubmitQueuesWhenLedgerFailsWhileOnline(t *testing.T) {
	f := newFixture(t)
	f.monitor.Set(true)
	f.remote.setDown(true)

	receipt, err := f.engine.Submit(context.Background(), f.build(t, "biz-1", "s1", domain.PaymentCash))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if receipt.Status != StatusQueued {
		t.Errorf("status = %s, want queued", receipt.Status)
	}
	if q := f.queued(t, "biz-1"); fmt.Sprint(q) != "[s1]" {
		t.Errorf("queue = %v", q)
	}
}

func TestDrainStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		if _, err := f.engine.Submit(ctx, f.build(t, "biz-1", fmt.Sprintf("s%d", i), domain.PaymentCash)); err != nil {
			t.Fatal(err)
		}
	}

	f.monitor.Set(true)
	f.remote.setFailSale("s2", true)
	report, err := f.engine.Drain(ctx, "biz-1")
	var remoteErr *ledger.RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("Drain err = %v, want *ledger.RemoteError", err)
	}
	if report.Committed != 1 || report.Remaining != 2 || !report.Halted {
		t.Errorf("report = %+v", report)
	}
	if q := fmt.Sprint(f.queued(t, "biz-1")); q != "[s2 s3]" {
		t.Errorf("queue after halt = %s, want [s2 s3]", q)
	}

	f.remote.setFailSale("s2", false)
	if _, err := f.engine.Drain(ctx, "biz-1"); err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	if got := fmt.Sprint(f.remote.committedOrder()); got != "[s1 s2 s3]" {
		t.Errorf("commit order = %s", got)
	}
	if n := f.salesInLedger(t, "biz-1"); n != 3 {
		t.Errorf("ledger sales = %d, want 3", n)
	}
}

func TestDrainResumesSaleAlreadyInLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	record := f.build(t, "biz-1", "s1", domain.PaymentCash)

	// Committed, then the device died before removing it from the queue.
	if _, err := f.ledger.InsertSale(ctx, record.Header()); err != nil {
		t.Fatal(err)
	}
	if err := f.queue.Append(ctx, "biz-1", record); err != nil {
		t.Fatal(err)
	}

	f.monitor.Set(true)
	report, err := f.engine.Drain(ctx, "biz-1")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if report.Committed != 1 {
		t.Errorf("report = %+v", report)
	}
	if n := f.salesInLedger(t, "biz-1"); n != 1 {
		t.Errorf("ledger sales = %d, want 1", n)
	}
	if _, items, _ := f.ledger.GetSale(ctx, "biz-1", "s1"); len(items) != 2 {
		t.Errorf("items = %d, want 2 after resume", len(items))
	}
}

func TestQueuedSalesDrainAfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "till.db") + "?_pragma=busy_timeout(5000)"

	queue, err := pending.Open(dsn)
	if err != nil {
		t.Fatal(err)
	}
	before := New(queue, f.remote, debt.NewUpdater(f.remote, logger.Nop()), f.monitor, logger.Nop(), Options{})
	for _, id := range []string{"s1", "s2"} {
		receipt, err := before.Submit(ctx, f.build(t, "biz-1", id, domain.PaymentCash))
		if err != nil || receipt.Status != StatusQueued {
			t.Fatalf("offline Submit %s = %+v, %v", id, receipt, err)
		}
	}
	if err := queue.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := pending.Open(dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { reopened.Close() })
	after := New(reopened, f.remote, debt.NewUpdater(f.remote, logger.Nop()), f.monitor, logger.Nop(), Options{})

	f.monitor.Set(true)
	report, err := after.Drain(ctx, "biz-1")
	if err != nil || report.Committed != 2 {
		t.Fatalf("Drain = %+v, %v", report, err)
	}
	if got := fmt.Sprint(f.remote.committedOrder()); got != "[s1 s2]" {
		t.Errorf("commit order = %s, want [s1 s2]", got)
	}
	if n, _ := reopened.Count(ctx, "biz-1"); n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}
}

func TestCreditSaleCreatesDebt(t *testing.T) {
	f := newFixture(t)
	f.monitor.Set(true)
	ctx := context.Background()

	receipt, err := f.engine.Submit(ctx, f.build(t, "biz-1", "s1", domain.PaymentDebt))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if receipt.Status != StatusCommitted || receipt.DebtID == "" {
		t.Fatalf("receipt = %+v", receipt)
	}

	d, err := f.ledger.GetDebt(ctx, receipt.DebtID)
	if err != nil {
		t.Fatal(err)
	}
	if !d.RemainingAmount.Equal(decimal.RequireFromString("100")) || d.RelatedSaleID != receipt.SaleID {
		t.Errorf("debt = %+v", d)
	}
}

func TestQueuedCreditSaleCreatesDebtOnDrain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Submit(ctx, f.build(t, "biz-1", "s1", domain.PaymentDebt)); err != nil {
		t.Fatal(err)
	}
	f.monitor.Set(true)
	if _, err := f.engine.Drain(ctx, "biz-1"); err != nil {
		t.Fatal(err)
	}

	debts, err := f.ledger.ListDebts(ctx, "biz-1", domain.DebtActive)
	if err != nil {
		t.Fatal(err)
	}
	if len(debts) != 1 || debts[0].DebtorName != "Ama Mensah" {
		t.Errorf("debts = %+v", debts)
	}
}

func TestPartialCommitKeepsFollowUp(t *testing.T) {
	f := newFixture(t)
	f.monitor.Set(true)
	f.remote.setFailDebt(true)
	ctx := context.Background()

	receipt, err := f.engine.Submit(ctx, f.build(t, "biz-1", "s1", domain.PaymentDebt))
	var partial *PartialCommitError
	if !errors.As(err, &partial) {
		t.Fatalf("Submit err = %v, want *PartialCommitError", err)
	}
	if receipt.Status != StatusPartial || partial.SaleID == "" {
		t.Errorf("receipt = %+v, partial = %+v", receipt, partial)
	}
	if q := f.queued(t, "biz-1"); len(q) != 0 {
		t.Errorf("committed sale left in queue: %v", q)
	}
	followUps, _ := f.queue.ListFollowUps(ctx, "biz-1")
	if len(followUps) != 1 || followUps[0].SaleID != partial.SaleID {
		t.Fatalf("follow-ups = %+v", followUps)
	}

	f.remote.setFailDebt(false)
	resolved, err := f.engine.RetryFollowUps(ctx, "biz-1")
	if err != nil || resolved != 1 {
		t.Fatalf("RetryFollowUps = %d, %v", resolved, err)
	}
	debts, _ := f.ledger.ListDebts(ctx, "biz-1", "")
	if len(debts) != 1 || debts[0].RelatedSaleID != partial.SaleID {
		t.Errorf("debts = %+v", debts)
	}
	if left, _ := f.queue.ListFollowUps(ctx, "biz-1"); len(left) != 0 {
		t.Errorf("follow-ups left = %d", len(left))
	}
}

func TestSubmitBehindBacklogPreservesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Submit(ctx, f.build(t, "biz-1", "s1", domain.PaymentCash)); err != nil {
		t.Fatal(err)
	}
	f.monitor.Set(true)

	receipt, err := f.engine.Submit(ctx, f.build(t, "biz-1", "s2", domain.PaymentCash))
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Status != StatusQueued {
		t.Errorf("status = %s, want queued behind backlog", receipt.Status)
	}
	f.engine.Wait()

	if got := fmt.Sprint(f.remote.committedOrder()); got != "[s1 s2]" {
		t.Errorf("commit order = %s, want [s1 s2]", got)
	}
}

// brokenQueue cannot write.
type brokenQueue struct {
	*pending.Store
}

func (q brokenQueue) Append(ctx context.Context, businessID string, record domain.SaleRecord) error {
	return &pending.StorageWriteError{Op: "append", BusinessID: businessID, LocalID: record.LocalID, Err: errors.New("disk full")}
}

func (q brokenQueue) Count(ctx context.Context, businessID string) (int, error) {
	return 0, errors.New("disk I/O error")
}

func TestSubmitWithBrokenStorage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	engine := New(brokenQueue{f.queue}, f.remote, debt.NewUpdater(f.remote, logger.Nop()), f.monitor, logger.Nop(), Options{})

	// Offline: nowhere to put the sale, so the caller must be told.
	receipt, err := engine.Submit(ctx, f.build(t, "biz-1", "s1", domain.PaymentCash))
	var werr *pending.StorageWriteError
	if !errors.As(err, &werr) {
		t.Fatalf("offline err = %v, want *pending.StorageWriteError", err)
	}
	if receipt.Status != StatusFailed {
		t.Errorf("status = %s, want failed", receipt.Status)
	}

	// Online: the ledger takes the sale directly.
	f.monitor.Set(true)
	receipt, err = engine.Submit(ctx, f.build(t, "biz-1", "s2", domain.PaymentCash))
	if err != nil {
		t.Fatalf("online Submit: %v", err)
	}
	if receipt.Status != StatusCommitted {
		t.Errorf("status = %s, want committed", receipt.Status)
	}
	if n := f.salesInLedger(t, "biz-1"); n != 1 {
		t.Errorf("ledger sales = %d, want 1", n)
	}
}

// noFollowUps cannot record debt follow-ups.
type noFollowUps struct {
	*pending.Store
}

func (q noFollowUps) AddFollowUp(ctx context.Context, saleID string, record domain.SaleRecord, cause error) error {
	return &pending.StorageWriteError{Op: "followup", BusinessID: record.BusinessID, LocalID: record.LocalID, Err: errors.New("disk full")}
}

func TestUntrackedPartialCommitStaysQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	engine := New(noFollowUps{f.queue}, f.remote, debt.NewUpdater(f.remote, logger.Nop()), f.monitor, logger.Nop(), Options{})

	if _, err := engine.Submit(ctx, f.build(t, "biz-1", "s1", domain.PaymentDebt)); err != nil {
		t.Fatal(err)
	}
	f.monitor.Set(true)
	f.remote.setFailDebt(true)

	report, err := engine.Drain(ctx, "biz-1")
	var partial *PartialCommitError
	if !errors.As(err, &partial) || partial.Tracked {
		t.Fatalf("Drain err = %v, want untracked *PartialCommitError", err)
	}
	if !report.Halted || report.Remaining != 1 {
		t.Errorf("report = %+v", report)
	}
	if q := fmt.Sprint(f.queued(t, "biz-1")); q != "[s1]" {
		t.Errorf("queue = %s, want [s1]", q)
	}

	f.remote.setFailDebt(false)
	report, err = engine.Drain(ctx, "biz-1")
	if err != nil || report.Committed != 1 {
		t.Fatalf("second Drain = %+v, %v", report, err)
	}
	if n := f.salesInLedger(t, "biz-1"); n != 1 {
		t.Errorf("ledger sales = %d, want 1", n)
	}
	debts, _ := f.ledger.ListDebts(ctx, "biz-1", "")
	if len(debts) != 1 || debts[0].RelatedSaleID != partial.SaleID {
		t.Errorf("debts = %+v", debts)
	}
}

func TestSubmitRejectsInvalidRecord(t *testing.T) {
	f := newFixture(t)
	record := f.build(t, "biz-1", "s1", domain.PaymentCash)
	record.TotalAmount = decimal.RequireFromString("1")

	if _, err := f.engine.Submit(context.Background(), record); !errors.Is(err, sale.ErrTotalMismatch) {
		t.Fatalf("err = %v, want ErrTotalMismatch", err)
	}
	if q := f.queued(t, "biz-1"); len(q) != 0 {
		t.Errorf("invalid record queued: %v", q)
	}
}

func TestConcurrentDrainIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.Submit(ctx, f.build(t, "biz-1", "s1", domain.PaymentCash)); err != nil {
		t.Fatal(err)
	}

	f.remote.gate = make(chan struct{})
	f.remote.entered = make(chan struct{}, 1)
	f.monitor.Set(true)

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Drain(ctx, "biz-1")
		done <- err
	}()
	<-f.remote.entered

	if f.engine.State("biz-1") != Draining {
		t.Errorf("State = %s, want draining", f.engine.State("biz-1"))
	}
	if _, err := f.engine.Drain(ctx, "biz-1"); !errors.Is(err, ErrDrainInProgress) {
		t.Errorf("second Drain err = %v, want ErrDrainInProgress", err)
	}
	if f.engine.State("biz-2") != Idle {
		t.Errorf("other business State = %s, want idle", f.engine.State("biz-2"))
	}

	close(f.remote.gate)
	if err := <-done; err != nil {
		t.Fatalf("first Drain: %v", err)
	}
	if f.engine.State("biz-1") != Idle {
		t.Errorf("State after drain = %s, want idle", f.engine.State("biz-1"))
	}
}

func TestDrainAllCoversEveryBusiness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, biz := range []string{"biz-a", "biz-b"} {
		if _, err := f.engine.Submit(ctx, f.build(t, biz, biz+"-s1", domain.PaymentCash)); err != nil {
			t.Fatal(err)
		}
	}

	f.monitor.Set(true)
	reports, err := f.engine.DrainAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 2 {
		t.Fatalf("reports = %+v", reports)
	}
	for _, r := range reports {
		if r.Err != nil || r.Committed != 1 {
			t.Errorf("report = %+v", r)
		}
	}
	if f.salesInLedger(t, "biz-a") != 1 || f.salesInLedger(t, "biz-b") != 1 {
		t.Error("not every business was drained")
	}
}

func TestWatchDrainsOnReconnect(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := f.engine.Submit(ctx, f.build(t, "biz-1", "s1", domain.PaymentCash)); err != nil {
		t.Fatal(err)
	}

	stopped := make(chan struct{})
	go func() {
		f.engine.Watch(ctx, f.monitor)
		close(stopped)
	}()

	f.monitor.Set(true)
	waitFor(t, "queue to drain", func() bool {
		n, _ := f.queue.Count(context.Background(), "biz-1")
		return n == 0
	})
	if n := f.salesInLedger(t, "biz-1"); n != 1 {
		t.Errorf("ledger sales = %d, want 1", n)
	}

	cancel()
	<-stopped
}

func TestRetryJobDrainsHaltedQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Submit(ctx, f.build(t, "biz-1", "s1", domain.PaymentCash)); err != nil {
		t.Fatal(err)
	}
	f.remote.setDown(true)
	f.monitor.Set(true)
	if _, err := f.engine.Drain(ctx, "biz-1"); err == nil {
		t.Fatal("Drain succeeded against a down ledger")
	}

	if err := f.engine.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.remote.setDown(false)

	waitFor(t, "retry job to drain", func() bool {
		n, _ := f.queue.Count(context.Background(), "biz-1")
		return n == 0
	})
	f.engine.Stop()
}
