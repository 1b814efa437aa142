package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bizledger/domain"
	"bizledger/internal/database"
	"bizledger/internal/migrations"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "ledger.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := database.Connect(dsn)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return NewStore(db)
}

func header(localID string, method domain.PaymentMethod, total string) domain.SaleHeader {
	return domain.SaleHeader{
		LocalID:       localID,
		BusinessID:    "biz-1",
		CustomerName:  "Ama",
		CustomerPhone: "+233200000000",
		PaymentMethod: method,
		SaleType:      domain.SaleWalkIn,
		TotalAmount:   dec(total),
		SoldBy:        "user-1",
		CreatedAt:     time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func items() []domain.SaleItem {
	return []domain.SaleItem{
		{Name: "Rice", Quantity: 2, UnitPrice: dec("40.00"), CostPrice: dec("30.00")},
		{Name: "Oil", Quantity: 1, UnitPrice: dec("20.00"), CostPrice: dec("15.00")},
	}
}

func newDebtForSale(t *testing.T, s *Store, amount string) domain.Debt {
	t.Helper()
	ctx := context.Background()
	saleID, err := s.InsertSale(ctx, header(fmt.Sprintf("local-%s-%d", amount, time.Now().UnixNano()), domain.PaymentDebt, amount))
	if err != nil {
		t.Fatalf("InsertSale: %v", err)
	}
	id, err := s.InsertDebt(ctx, domain.Debt{
		BusinessID:      "biz-1",
		DebtorName:      "Ama",
		DebtorPhone:     "+233200000000",
		OriginalAmount:  dec(amount),
		RemainingAmount: dec(amount),
		RelatedSaleID:   saleID,
		RecordedBy:      "user-1",
	})
	if err != nil {
		t.Fatalf("InsertDebt: %v", err)
	}
	d, err := s.GetDebt(ctx, id)
	if err != nil {
		t.Fatalf("GetDebt: %v", err)
	}
	return d
}

func payment(debtID, id, amount string) domain.DebtPayment {
	return domain.DebtPayment{
		ID:            id,
		DebtID:        debtID,
		Amount:        dec(amount),
		PaymentMethod: domain.PaymentCash,
		RecordedBy:    "user-1",
	}
}

func TestInsertSaleDeduplicatesByLocalID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.InsertSale(ctx, header("local-1", domain.PaymentCash, "100.00"))
	if err != nil {
		t.Fatalf("InsertSale: %v", err)
	}

	again, err := s.InsertSale(ctx, header("local-1", domain.PaymentCash, "100.00"))
	if !errors.Is(err, ErrDuplicateSale) {
		t.Fatalf("replay err = %v, want ErrDuplicateSale", err)
	}
	if again != id {
		t.Errorf("replay id = %q, want %q", again, id)
	}

	n, err := s.CountSales(ctx, "biz-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("CountSales = %d, want 1", n)
	}
}

func TestInsertSaleItemsOnce(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.InsertSale(ctx, header("local-1", domain.PaymentCash, "100.00"))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := s.InsertSaleItems(ctx, id, items()); err != nil {
			t.Fatalf("InsertSaleItems #%d: %v", i+1, err)
		}
	}

	h, got, err := s.GetSale(ctx, "biz-1", "local-1")
	if err != nil {
		t.Fatal(err)
	}
	if h.ID != id || len(got) != 2 {
		t.Fatalf("GetSale = %+v with %d items", h, len(got))
	}
	if got[0].Name != "Rice" || !got[0].UnitPrice.Equal(dec("40")) {
		t.Errorf("first item = %+v", got[0])
	}

	if err := s.InsertSaleItems(ctx, "missing", items()); !errors.Is(err, ErrSaleNotFound) {
		t.Errorf("items for unknown sale: %v", err)
	}
}

func TestInsertSaleItemsMustMatchTotal(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.InsertSale(ctx, header("local-1", domain.PaymentCash, "90.00"))
	if err != nil {
		t.Fatal(err)
	}
	// items() add up to 100.00.
	if err := s.InsertSaleItems(ctx, id, items()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("mismatched items err = %v, want ErrInvalidInput", err)
	}
	if _, got, err := s.GetSale(ctx, "biz-1", "local-1"); err != nil || len(got) != 0 {
		t.Errorf("items stored after rejection: %d, %v", len(got), err)
	}

	fixed := append(items()[:1], domain.SaleItem{Name: "Oil", Quantity: 1, UnitPrice: dec("10.00")})
	if err := s.InsertSaleItems(ctx, id, fixed); err != nil {
		t.Errorf("matching items: %v", err)
	}
}

func TestInsertDebtWithoutSale(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	due := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	id, err := s.InsertDebt(ctx, domain.Debt{
		BusinessID:      "biz-1",
		DebtorName:      "Kofi Supplies",
		DebtorEmail:     "accounts@kofi.test",
		DebtType:        domain.DebtTypeBusiness,
		OriginalAmount:  dec("350"),
		RemainingAmount: dec("350"),
		DueDate:         &due,
		RecordedBy:      "user-1",
	})
	if err != nil {
		t.Fatalf("InsertDebt: %v", err)
	}
	d, err := s.GetDebt(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if d.DebtType != domain.DebtTypeBusiness || d.DebtorEmail != "accounts@kofi.test" || d.RelatedSaleID != "" {
		t.Errorf("debt = %+v", d)
	}
	if d.DueDate == nil || !d.DueDate.Equal(due) {
		t.Errorf("DueDate = %v, want %v", d.DueDate, due)
	}
}

func TestInsertDebtOnePerSale(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	saleID, err := s.InsertSale(ctx, header("local-1", domain.PaymentDebt, "100.00"))
	if err != nil {
		t.Fatal(err)
	}
	d := domain.Debt{
		BusinessID:      "biz-1",
		DebtorName:      "Ama",
		OriginalAmount:  dec("100.00"),
		RemainingAmount: dec("100.00"),
		RelatedSaleID:   saleID,
		RecordedBy:      "user-1",
	}
	first, err := s.InsertDebt(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.InsertDebt(ctx, d)
	if !errors.Is(err, ErrDuplicateDebt) || second != first {
		t.Fatalf("second InsertDebt = %q, %v; want %q, ErrDuplicateDebt", second, err, first)
	}

	got, err := s.GetDebt(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.DebtActive || got.Version != 1 || got.DebtType != domain.DebtTypeCustomer {
		t.Errorf("new debt = %+v", got)
	}
}

func TestInsertDebtRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tests := []struct {
		name string
		debt domain.Debt
		want error
	}{
		{"zero amount", domain.Debt{BusinessID: "biz-1", DebtorName: "Ama"}, ErrInvalidInput},
		{"remaining differs", domain.Debt{BusinessID: "biz-1", DebtorName: "Ama", OriginalAmount: dec("10"), RemainingAmount: dec("5")}, ErrInvalidInput},
		{"unknown sale", domain.Debt{BusinessID: "biz-1", DebtorName: "Ama", OriginalAmount: dec("10"), RemainingAmount: dec("10"), RelatedSaleID: "nope"}, ErrSaleNotFound},
		{"unknown type", domain.Debt{BusinessID: "biz-1", DebtorName: "Ama", OriginalAmount: dec("10"), RemainingAmount: dec("10"), DebtType: "loan"}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.InsertDebt(ctx, tt.debt); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestApplyDebtPaymentSettlesDebt(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	d := newDebtForSale(t, s, "100.00")

	updated, err := s.ApplyDebtPayment(ctx, PaymentWrite{
		DebtID: d.ID, ExpectedVersion: d.Version, NewRemaining: dec("60.00"), Payment: payment(d.ID, "p1", "40.00"),
	})
	if err != nil {
		t.Fatalf("first payment: %v", err)
	}
	if !updated.RemainingAmount.Equal(dec("60")) || updated.Status != domain.DebtActive || updated.Version != 2 {
		t.Fatalf("after first payment: %+v", updated)
	}

	updated, err = s.ApplyDebtPayment(ctx, PaymentWrite{
		DebtID: d.ID, ExpectedVersion: updated.Version, NewRemaining: decimal.Zero, Payment: payment(d.ID, "p2", "60.00"),
	})
	if err != nil {
		t.Fatalf("second payment: %v", err)
	}
	if !updated.RemainingAmount.IsZero() || updated.Status != domain.DebtPaid {
		t.Fatalf("after settling: %+v", updated)
	}

	payments, err := s.ListDebtPayments(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	sum := decimal.Zero
	for _, p := range payments {
		sum = sum.Add(p.Amount)
	}
	if len(payments) != 2 || !sum.Equal(d.OriginalAmount) {
		t.Errorf("payments = %d summing %s, want 2 summing %s", len(payments), sum, d.OriginalAmount)
	}

	_, err = s.ApplyDebtPayment(ctx, PaymentWrite{
		DebtID: d.ID, ExpectedVersion: updated.Version, NewRemaining: decimal.Zero, Payment: payment(d.ID, "p3", "1.00"),
	})
	if !errors.Is(err, ErrDebtClosed) && !errors.Is(err, ErrOverpayment) {
		t.Errorf("payment on paid debt: %v", err)
	}
}

func TestApplyDebtPaymentRejections(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	d := newDebtForSale(t, s, "50.00")

	tests := []struct {
		name  string
		write PaymentWrite
		want  error
	}{
		{"stale version", PaymentWrite{DebtID: d.ID, ExpectedVersion: d.Version + 1, NewRemaining: dec("40"), Payment: payment(d.ID, "a", "10")}, ErrVersionConflict},
		{"overpayment", PaymentWrite{DebtID: d.ID, ExpectedVersion: d.Version, NewRemaining: dec("-10"), Payment: payment(d.ID, "b", "60")}, ErrOverpayment},
		{"balance does not follow", PaymentWrite{DebtID: d.ID, ExpectedVersion: d.Version, NewRemaining: dec("45"), Payment: payment(d.ID, "c", "10")}, ErrBalanceMismatch},
		{"zero amount", PaymentWrite{DebtID: d.ID, ExpectedVersion: d.Version, NewRemaining: dec("50"), Payment: payment(d.ID, "d", "0")}, ErrInvalidInput},
		{"unknown debt", PaymentWrite{DebtID: "missing", ExpectedVersion: 1, NewRemaining: dec("0"), Payment: payment("missing", "e", "1")}, ErrDebtNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.ApplyDebtPayment(ctx, tt.write); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	got, err := s.GetDebt(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.RemainingAmount.Equal(dec("50")) || got.Version != d.Version {
		t.Errorf("rejected writes changed the debt: %+v", got)
	}
	if payments, _ := s.ListDebtPayments(ctx, d.ID); len(payments) != 0 {
		t.Errorf("rejected writes left %d payments", len(payments))
	}
}

func TestApplyDebtPaymentReplayIsRecognised(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	d := newDebtForSale(t, s, "100.00")

	w := PaymentWrite{DebtID: d.ID, ExpectedVersion: d.Version, NewRemaining: dec("70"), Payment: payment(d.ID, "p1", "30")}
	if _, err := s.ApplyDebtPayment(ctx, w); err != nil {
		t.Fatal(err)
	}
	// Same write again, as after a lost response.
	got, err := s.ApplyDebtPayment(ctx, w)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !got.RemainingAmount.Equal(dec("70")) {
		t.Errorf("replay remaining = %s, want 70", got.RemainingAmount)
	}
	if payments, _ := s.ListDebtPayments(ctx, d.ID); len(payments) != 1 {
		t.Errorf("replay recorded %d payments, want 1", len(payments))
	}
}

func TestApplyDebtPaymentCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	d := newDebtForSale(t, s, "100.00")

	// Two writers computed from the same read: exactly one may land.
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.ApplyDebtPayment(ctx, PaymentWrite{
				DebtID: d.ID, ExpectedVersion: d.Version, NewRemaining: dec("70"),
				Payment: payment(d.ID, fmt.Sprintf("p%d", i), "30"),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrVersionConflict):
				conflicts++
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 || conflicts != 1 {
		t.Fatalf("successes = %d, conflicts = %d; want 1 and 1", successes, conflicts)
	}
	got, _ := s.GetDebt(ctx, d.ID)
	if !got.RemainingAmount.Equal(dec("70")) {
		t.Errorf("remaining = %s, want 70", got.RemainingAmount)
	}
}

func TestListDebtsFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	open := newDebtForSale(t, s, "10.00")
	settled := newDebtForSale(t, s, "20.00")

	if _, err := s.ApplyDebtPayment(ctx, PaymentWrite{
		DebtID: settled.ID, ExpectedVersion: settled.Version, NewRemaining: decimal.Zero, Payment: payment(settled.ID, "p", "20.00"),
	}); err != nil {
		t.Fatal(err)
	}

	active, err := s.ListDebts(ctx, "biz-1", domain.DebtActive)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != open.ID {
		t.Errorf("active debts = %+v", active)
	}
	all, _ := s.ListDebts(ctx, "biz-1", "")
	if len(all) != 2 {
		t.Errorf("all debts = %d, want 2", len(all))
	}
	other, _ := s.ListDebts(ctx, "biz-2", "")
	if len(other) != 0 {
		t.Errorf("biz-2 debts = %d, want 0", len(other))
	}
}

func TestSummarizeSales(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.InsertSale(ctx, header("local-1", domain.PaymentCash, "100.00"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.InsertSaleItems(ctx, id, items()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertSale(ctx, header("local-2", domain.PaymentCard, "5.50")); err != nil {
		t.Fatal(err)
	}

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	summary, err := s.SummarizeSales(ctx, "biz-1", from, from.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if summary.Count != 2 || !summary.Revenue.Equal(dec("105.50")) {
		t.Errorf("summary = %d sales, revenue %s", summary.Count, summary.Revenue)
	}
	if !summary.Profit.Equal(dec("25.00")) {
		t.Errorf("profit = %s, want 25.00", summary.Profit)
	}
	if !summary.ByMethod[domain.PaymentCard].Equal(dec("5.50")) {
		t.Errorf("card revenue = %s", summary.ByMethod[domain.PaymentCard])
	}

	next, err := s.SummarizeSales(ctx, "biz-1", from.AddDate(0, 0, 1), from.AddDate(0, 0, 2))
	if err != nil || next.Count != 0 {
		t.Errorf("next day = %+v, %v", next, err)
	}
}
