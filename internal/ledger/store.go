package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bizledger/domain"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Store is the SQL-backed ledger. It runs behind the HTTP API and can also be
// used directly as a Remote when the agent shares the database.
type Store struct {
	db    *sqlx.DB
	now   func() time.Time
	newID func() string
}

var _ Remote = (*Store)(nil)

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now, newID: uuid.NewString}
}

type saleRow struct {
	ID            string          `db:"id"`
	LocalID       string          `db:"local_id"`
	BusinessID    string          `db:"business_id"`
	CustomerName  string          `db:"customer_name"`
	CustomerPhone string          `db:"customer_phone"`
	PaymentMethod string          `db:"payment_method"`
	SaleType      string          `db:"sale_type"`
	Notes         string          `db:"notes"`
	TotalAmount   decimal.Decimal `db:"total_amount"`
	SoldBy        string          `db:"sold_by"`
	CreatedAt     string          `db:"created_at"`
}

func (r saleRow) header() domain.SaleHeader {
	return domain.SaleHeader{
		ID:            r.ID,
		LocalID:       r.LocalID,
		BusinessID:    r.BusinessID,
		CustomerName:  r.CustomerName,
		CustomerPhone: r.CustomerPhone,
		PaymentMethod: domain.PaymentMethod(r.PaymentMethod),
		SaleType:      domain.SaleType(r.SaleType),
		Notes:         r.Notes,
		TotalAmount:   r.TotalAmount,
		SoldBy:        r.SoldBy,
		CreatedAt:     parseTime(r.CreatedAt),
	}
}

type saleItemRow struct {
	Name      string          `db:"item_name"`
	Quantity  int64           `db:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price"`
	CostPrice decimal.Decimal `db:"cost_price"`
}

type debtRow struct {
	ID              string          `db:"id"`
	BusinessID      string          `db:"business_id"`
	DebtorName      string          `db:"debtor_name"`
	DebtorPhone     string          `db:"debtor_phone"`
	DebtorEmail     string          `db:"debtor_email"`
	DebtType        string          `db:"debt_type"`
	Description     string          `db:"description"`
	OriginalAmount  decimal.Decimal `db:"original_amount"`
	RemainingAmount decimal.Decimal `db:"remaining_amount"`
	Status          string          `db:"status"`
	RelatedSaleID   sql.NullString  `db:"related_sale_id"`
	DueDate         sql.NullString  `db:"due_date"`
	RecordedBy      string          `db:"recorded_by"`
	Version         int64           `db:"version"`
	CreatedAt       string          `db:"created_at"`
	UpdatedAt       string          `db:"updated_at"`
}

func (r debtRow) debt() domain.Debt {
	var due *time.Time
	if r.DueDate.Valid {
		t := parseTime(r.DueDate.String)
		due = &t
	}
	return domain.Debt{
		ID:              r.ID,
		BusinessID:      r.BusinessID,
		DebtorName:      r.DebtorName,
		DebtorPhone:     r.DebtorPhone,
		DebtorEmail:     r.DebtorEmail,
		DebtType:        r.DebtType,
		Description:     r.Description,
		OriginalAmount:  r.OriginalAmount,
		RemainingAmount: r.RemainingAmount,
		Status:          domain.DebtStatus(r.Status),
		RelatedSaleID:   r.RelatedSaleID.String,
		DueDate:         due,
		RecordedBy:      r.RecordedBy,
		Version:         r.Version,
		CreatedAt:       parseTime(r.CreatedAt),
		UpdatedAt:       parseTime(r.UpdatedAt),
	}
}

type paymentRow struct {
	ID            string          `db:"id"`
	DebtID        string          `db:"debt_id"`
	Amount        decimal.Decimal `db:"amount"`
	PaymentMethod string          `db:"payment_method"`
	Notes         string          `db:"notes"`
	RecordedBy    string          `db:"recorded_by"`
	CreatedAt     string          `db:"created_at"`
}

const debtColumns = `id, business_id, debtor_name, debtor_phone, debtor_email, debt_type, description, original_amount,
	remaining_amount, status, related_sale_id, due_date, recorded_by, version, created_at, updated_at`

// InsertSale stores a sale header. A header whose local id is already
// recorded for the business returns the stored id and ErrDuplicateSale.
func (s *Store) InsertSale(ctx context.Context, header domain.SaleHeader) (string, error) {
	const op = "insert sale"
	if header.BusinessID == "" || header.LocalID == "" || !header.PaymentMethod.Valid() {
		return "", wrap(op, ErrInvalidInput)
	}
	if header.TotalAmount.IsNegative() {
		return "", wrap(op, ErrInvalidInput)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", wrap(op, err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.GetContext(ctx, &existing, `SELECT id FROM sales WHERE business_id = $1 AND local_id = $2`, header.BusinessID, header.LocalID)
	switch {
	case err == nil:
		return existing, wrap(op, ErrDuplicateSale)
	case !errors.Is(err, sql.ErrNoRows):
		return "", wrap(op, err)
	}

	createdAt := header.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	saleType := header.SaleType
	if saleType == "" {
		saleType = domain.SaleWalkIn
	}

	id := s.newID()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, local_id, business_id, customer_name, customer_phone, payment_method, sale_type, notes, total_amount, sold_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, header.LocalID, header.BusinessID, header.CustomerName, header.CustomerPhone,
		string(header.PaymentMethod), string(saleType), header.Notes, header.TotalAmount, header.SoldBy, formatTime(createdAt))
	if err != nil {
		if isUniqueViolation(err) {
			return "", wrap(op, ErrDuplicateSale)
		}
		return "", wrap(op, err)
	}

	if err := tx.Commit(); err != nil {
		return "", wrap(op, err)
	}
	return id, nil
}

// InsertSaleItems stores the line items of a sale. The items must add up to
// the total stored on the sale header. If the sale already has items the call
// is a no-op, so a resumed commit never duplicates lines.
func (s *Store) InsertSaleItems(ctx context.Context, saleID string, items []domain.SaleItem) error {
	const op = "insert sale items"
	if len(items) == 0 {
		return wrap(op, ErrInvalidInput)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrap(op, err)
	}
	defer tx.Rollback()

	var headerTotal decimal.Decimal
	err = tx.GetContext(ctx, &headerTotal, `SELECT total_amount FROM sales WHERE id = $1`, saleID)
	if errors.Is(err, sql.ErrNoRows) {
		return wrap(op, ErrSaleNotFound)
	}
	if err != nil {
		return wrap(op, err)
	}
	var count int
	if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM sale_items WHERE sale_id = $1`, saleID); err != nil {
		return wrap(op, err)
	}
	if count > 0 {
		return nil
	}

	total := decimal.Zero
	for _, item := range items {
		if item.Quantity < 1 || item.UnitPrice.IsNegative() || item.CostPrice.IsNegative() {
			return wrap(op, ErrInvalidInput)
		}
		total = total.Add(item.TotalPrice())
	}
	if !total.Equal(headerTotal) {
		return wrap(op, fmt.Errorf("%w: items total %s, sale total %s", ErrInvalidInput, total, headerTotal))
	}

	for i, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, position, item_name, quantity, unit_price, total_price, cost_price, profit)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			s.newID(), saleID, i, item.Name, item.Quantity, item.UnitPrice, item.TotalPrice(), item.CostPrice, item.Profit())
		if err != nil {
			return wrap(op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrap(op, err)
	}
	return nil
}

// GetSale looks a sale up by the client's local id.
func (s *Store) GetSale(ctx context.Context, businessID, localID string) (domain.SaleHeader, []domain.SaleItem, error) {
	const op = "get sale"
	var row saleRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, local_id, business_id, customer_name, customer_phone, payment_method, sale_type, notes, total_amount, sold_by, created_at
		FROM sales WHERE business_id = $1 AND local_id = $2`, businessID, localID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SaleHeader{}, nil, wrap(op, ErrSaleNotFound)
	}
	if err != nil {
		return domain.SaleHeader{}, nil, wrap(op, err)
	}

	var itemRows []saleItemRow
	err = s.db.SelectContext(ctx, &itemRows, `
		SELECT item_name, quantity, unit_price, cost_price FROM sale_items WHERE sale_id = $1 ORDER BY position`, row.ID)
	if err != nil {
		return domain.SaleHeader{}, nil, wrap(op, err)
	}
	items := make([]domain.SaleItem, len(itemRows))
	for i, r := range itemRows {
		items[i] = domain.SaleItem(r)
	}
	return row.header(), items, nil
}

// CountSales returns how many sales a business has recorded.
func (s *Store) CountSales(ctx context.Context, businessID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM sales WHERE business_id = $1`, businessID); err != nil {
		return 0, wrap("count sales", err)
	}
	return n, nil
}

// InsertDebt creates a debt with remaining == original. At most one debt may
// reference a given sale; a second attempt returns the first id and
// ErrDuplicateDebt.
func (s *Store) InsertDebt(ctx context.Context, debt domain.Debt) (string, error) {
	const op = "insert debt"
	if debt.BusinessID == "" || strings.TrimSpace(debt.DebtorName) == "" {
		return "", wrap(op, ErrInvalidInput)
	}
	if !debt.OriginalAmount.IsPositive() || !debt.RemainingAmount.Equal(debt.OriginalAmount) {
		return "", wrap(op, ErrInvalidInput)
	}
	debtType := debt.DebtType
	if debtType == "" {
		debtType = domain.DebtTypeCustomer
	}
	if !domain.ValidDebtType(debtType) {
		return "", wrap(op, ErrInvalidInput)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", wrap(op, err)
	}
	defer tx.Rollback()

	related := sql.NullString{String: debt.RelatedSaleID, Valid: debt.RelatedSaleID != ""}
	if related.Valid {
		var existing string
		err := tx.GetContext(ctx, &existing, `SELECT id FROM debts WHERE related_sale_id = $1`, related.String)
		switch {
		case err == nil:
			return existing, wrap(op, ErrDuplicateDebt)
		case !errors.Is(err, sql.ErrNoRows):
			return "", wrap(op, err)
		}
		var n int
		if err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM sales WHERE id = $1 AND business_id = $2`, related.String, debt.BusinessID); err != nil {
			return "", wrap(op, err)
		}
		if n == 0 {
			return "", wrap(op, ErrSaleNotFound)
		}
	}

	due := sql.NullString{}
	if debt.DueDate != nil && !debt.DueDate.IsZero() {
		due = sql.NullString{String: formatTime(*debt.DueDate), Valid: true}
	}
	now := formatTime(s.now())
	id := s.newID()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO debts (id, business_id, debtor_name, debtor_phone, debtor_email, debt_type, description, original_amount,
			remaining_amount, status, related_sale_id, due_date, recorded_by, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $15)`,
		id, debt.BusinessID, debt.DebtorName, debt.DebtorPhone, strings.TrimSpace(debt.DebtorEmail), debtType, debt.Description,
		debt.OriginalAmount, debt.RemainingAmount, string(domain.DebtActive), related, due, debt.RecordedBy, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return "", wrap(op, ErrDuplicateDebt)
		}
		return "", wrap(op, err)
	}

	if err := tx.Commit(); err != nil {
		return "", wrap(op, err)
	}
	return id, nil
}

func (s *Store) GetDebt(ctx context.Context, debtID string) (domain.Debt, error) {
	var row debtRow
	err := s.db.GetContext(ctx, &row, `SELECT `+debtColumns+` FROM debts WHERE id = $1`, debtID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Debt{}, wrap("get debt", ErrDebtNotFound)
	}
	if err != nil {
		return domain.Debt{}, wrap("get debt", err)
	}
	return row.debt(), nil
}

// ListDebts returns a business's debts, newest first. An empty status lists
// every debt.
func (s *Store) ListDebts(ctx context.Context, businessID string, status domain.DebtStatus) ([]domain.Debt, error) {
	query := `SELECT ` + debtColumns + ` FROM debts WHERE business_id = $1`
	args := []any{businessID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id`

	var rows []debtRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, wrap("list debts", err)
	}
	debts := make([]domain.Debt, len(rows))
	for i, row := range rows {
		debts[i] = row.debt()
	}
	return debts, nil
}

// ApplyDebtPayment moves the debt to NewRemaining and appends the payment in
// one transaction. The update only lands if the stored version still equals
// ExpectedVersion, so two payments computed from the same read cannot both
// succeed.
func (s *Store) ApplyDebtPayment(ctx context.Context, w PaymentWrite) (domain.Debt, error) {
	const op = "apply debt payment"
	if !w.Payment.Amount.IsPositive() {
		return domain.Debt{}, wrap(op, ErrInvalidInput)
	}
	if w.NewRemaining.IsNegative() {
		return domain.Debt{}, wrap(op, ErrOverpayment)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Debt{}, wrap(op, err)
	}
	defer tx.Rollback()

	var row debtRow
	err = tx.GetContext(ctx, &row, `SELECT `+debtColumns+` FROM debts WHERE id = $1`, w.DebtID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Debt{}, wrap(op, ErrDebtNotFound)
	}
	if err != nil {
		return domain.Debt{}, wrap(op, err)
	}
	if w.Payment.ID != "" {
		// A retried request whose first attempt landed: report the debt as
		// it stands rather than applying the payment twice.
		var seen int
		if err := tx.GetContext(ctx, &seen, `SELECT COUNT(*) FROM debt_payments WHERE id = $1 AND debt_id = $2`, w.Payment.ID, w.DebtID); err != nil {
			return domain.Debt{}, wrap(op, err)
		}
		if seen > 0 {
			return row.debt(), nil
		}
	}
	if row.Version != w.ExpectedVersion {
		return domain.Debt{}, wrap(op, ErrVersionConflict)
	}
	if domain.DebtStatus(row.Status) != domain.DebtActive {
		return domain.Debt{}, wrap(op, ErrDebtClosed)
	}
	if w.Payment.Amount.GreaterThan(row.RemainingAmount) {
		return domain.Debt{}, wrap(op, ErrOverpayment)
	}
	if !row.RemainingAmount.Sub(w.Payment.Amount).Equal(w.NewRemaining) {
		return domain.Debt{}, wrap(op, ErrBalanceMismatch)
	}

	now := s.now()
	status := domain.StatusFor(w.NewRemaining)
	res, err := tx.ExecContext(ctx, `
		UPDATE debts SET remaining_amount = $1, status = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5`,
		w.NewRemaining, string(status), formatTime(now), w.DebtID, w.ExpectedVersion)
	if err != nil {
		return domain.Debt{}, wrap(op, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.Debt{}, wrap(op, err)
	} else if n != 1 {
		return domain.Debt{}, wrap(op, ErrVersionConflict)
	}

	payment := w.Payment
	if payment.ID == "" {
		payment.ID = s.newID()
	}
	recordedAt := payment.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = now
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO debt_payments (id, debt_id, amount, payment_method, notes, recorded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		payment.ID, w.DebtID, payment.Amount, string(payment.PaymentMethod), payment.Notes, payment.RecordedBy, formatTime(recordedAt))
	if err != nil {
		return domain.Debt{}, wrap(op, err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Debt{}, wrap(op, err)
	}

	updated := row.debt()
	updated.RemainingAmount = w.NewRemaining
	updated.Status = status
	updated.Version = row.Version + 1
	updated.UpdatedAt = parseTime(formatTime(now))
	return updated, nil
}

func (s *Store) ListDebtPayments(ctx context.Context, debtID string) ([]domain.DebtPayment, error) {
	var rows []paymentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, debt_id, amount, payment_method, notes, recorded_by, created_at
		FROM debt_payments WHERE debt_id = $1 ORDER BY created_at, id`, debtID)
	if err != nil {
		return nil, wrap("list debt payments", err)
	}
	payments := make([]domain.DebtPayment, len(rows))
	for i, row := range rows {
		payments[i] = domain.DebtPayment{
			ID:            row.ID,
			DebtID:        row.DebtID,
			Amount:        row.Amount,
			PaymentMethod: domain.PaymentMethod(row.PaymentMethod),
			Notes:         row.Notes,
			RecordedBy:    row.RecordedBy,
			RecordedAt:    parseTime(row.CreatedAt),
		}
	}
	return payments, nil
}

// Fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// String is used in log lines.
func (w PaymentWrite) String() string {
	return fmt.Sprintf("debt=%s version=%d amount=%s new_remaining=%s", w.DebtID, w.ExpectedVersion, w.Payment.Amount, w.NewRemaining)
}
