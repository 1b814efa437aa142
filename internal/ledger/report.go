package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bizledger/domain"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// SalesSummary totals the sales of a business over [From, To).
type SalesSummary struct {
	BusinessID string                                   `json:"business_id"`
	From       time.Time                                `json:"from"`
	To         time.Time                                `json:"to"`
	Count      int                                      `json:"sales_count"`
	Revenue    decimal.Decimal                          `json:"revenue"`
	Profit     decimal.Decimal                          `json:"profit"`
	ByMethod   map[domain.PaymentMethod]decimal.Decimal `json:"by_method"`
}

type profitRow struct {
	SaleID string          `db:"sale_id"`
	Profit decimal.Decimal `db:"profit"`
}

// SummarizeSales adds up revenue and profit in Go; amounts are stored as
// decimal text and SQL SUM would round them through floats.
func (s *Store) SummarizeSales(ctx context.Context, businessID string, from, to time.Time) (SalesSummary, error) {
	const op = "summarize sales"
	summary := SalesSummary{
		BusinessID: businessID,
		From:       from.UTC(),
		To:         to.UTC(),
		Revenue:    decimal.Zero,
		Profit:     decimal.Zero,
		ByMethod:   make(map[domain.PaymentMethod]decimal.Decimal),
	}
	if !to.After(from) {
		return summary, wrap(op, ErrInvalidInput)
	}

	var sales []saleRow
	err := s.db.SelectContext(ctx, &sales, `
		SELECT id, local_id, business_id, customer_name, customer_phone, payment_method, sale_type, notes, total_amount, sold_by, created_at
		FROM sales WHERE business_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at`, businessID, formatTime(from), formatTime(to))
	if err != nil {
		return summary, wrap(op, err)
	}
	if len(sales) == 0 {
		return summary, nil
	}

	ids := make([]string, len(sales))
	for i, sale := range sales {
		ids[i] = sale.ID
		summary.Count++
		summary.Revenue = summary.Revenue.Add(sale.TotalAmount)
		method := domain.PaymentMethod(sale.PaymentMethod)
		summary.ByMethod[method] = summary.ByMethod[method].Add(sale.TotalAmount)
	}

	query, args, err := sqlx.In(`SELECT sale_id, profit FROM sale_items WHERE sale_id IN (?)`, ids)
	if err != nil {
		return summary, wrap(op, err)
	}
	var profits []profitRow
	if err := s.db.SelectContext(ctx, &profits, s.db.Rebind(query), args...); err != nil {
		return summary, wrap(op, err)
	}
	for _, p := range profits {
		summary.Profit = summary.Profit.Add(p.Profit)
	}
	return summary, nil
}

// SaleBusiness returns the business that owns a sale.
func (s *Store) SaleBusiness(ctx context.Context, saleID string) (string, error) {
	var businessID string
	err := s.db.GetContext(ctx, &businessID, `SELECT business_id FROM sales WHERE id = $1`, saleID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", wrap("sale business", ErrSaleNotFound)
	}
	if err != nil {
		return "", wrap("sale business", err)
	}
	return businessID, nil
}
