package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"bizledger/domain"
	"bizledger/internal/debt"
)

var debtCmd = &cobra.Command{
	Use:   "debt",
	Short: "Record, inspect and settle debts",
}

var debtCreateCmd = &cobra.Command{
	Use:     "create",
	Short:   "Record a debt that did not come from a sale",
	Example: `  bizledger debt create --name "Kofi Supplies" --amount 350 --type business_debt --due 2024-06-30`,
	RunE:    runDebtCreate,
}

var debtPayCmd = &cobra.Command{
	Use:     "pay",
	Short:   "Record a payment against a debt",
	Example: `  bizledger debt pay --debt 6f1c... --amount 20.00 --method mobile_money`,
	RunE:    runDebtPay,
}

var debtListCmd = &cobra.Command{
	Use:   "list",
	Short: "List debts and the total outstanding",
	RunE:  runDebtList,
}

func init() {
	rootCmd.AddCommand(debtCmd)
	debtCmd.AddCommand(debtCreateCmd, debtPayCmd, debtListCmd)

	debtCreateCmd.Flags().String("name", "", "Debtor name")
	debtCreateCmd.Flags().String("phone", "", "Debtor phone")
	debtCreateCmd.Flags().String("email", "", "Debtor email")
	debtCreateCmd.Flags().String("amount", "", "Amount owed")
	debtCreateCmd.Flags().String("type", domain.DebtTypeCustomer, "customer_debt or business_debt")
	debtCreateCmd.Flags().String("description", "", "What the debt is for")
	debtCreateCmd.Flags().String("due", "", "Due date (YYYY-MM-DD)")
	debtCreateCmd.Flags().String("recorded-by", "", "Staff id (default: LEDGER_EMAIL)")
	_ = debtCreateCmd.MarkFlagRequired("name")
	_ = debtCreateCmd.MarkFlagRequired("amount")

	debtPayCmd.Flags().String("debt", "", "Debt id")
	debtPayCmd.Flags().String("amount", "", "Amount paid")
	debtPayCmd.Flags().String("method", string(domain.PaymentCash), "cash, card, mobile_money or bank_transfer")
	debtPayCmd.Flags().String("notes", "", "Free-form notes")
	debtPayCmd.Flags().String("recorded-by", "", "Staff id (default: LEDGER_EMAIL)")
	_ = debtPayCmd.MarkFlagRequired("debt")
	_ = debtPayCmd.MarkFlagRequired("amount")

	debtListCmd.Flags().String("status", string(domain.DebtActive), "active, paid, cancelled or empty for all")
}

func runDebtCreate(cmd *cobra.Command, args []string) error {
	businessID, err := businessFlag(cmd)
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("name")
	phone, _ := cmd.Flags().GetString("phone")
	email, _ := cmd.Flags().GetString("email")
	rawAmount, _ := cmd.Flags().GetString("amount")
	debtType, _ := cmd.Flags().GetString("type")
	description, _ := cmd.Flags().GetString("description")
	rawDue, _ := cmd.Flags().GetString("due")
	recordedBy, _ := cmd.Flags().GetString("recorded-by")
	if recordedBy == "" {
		recordedBy = cfg.LedgerEmail
	}

	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", rawAmount, err)
	}
	due, err := parseDueDate(rawDue)
	if err != nil {
		return err
	}

	t, err := openTill()
	if err != nil {
		return err
	}
	defer t.Close()

	created, err := t.debts.Create(context.Background(), debt.DebtInput{
		BusinessID:  businessID,
		DebtorName:  name,
		DebtorPhone: phone,
		DebtorEmail: email,
		DebtType:    debtType,
		Description: description,
		Amount:      amount,
		DueDate:     due,
		RecordedBy:  recordedBy,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), created)
}

// parseDueDate reads a calendar date; an empty value means no due date.
func parseDueDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	due, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("invalid due date %q, want YYYY-MM-DD: %w", raw, err)
	}
	return &due, nil
}

func runDebtPay(cmd *cobra.Command, args []string) error {
	debtID, _ := cmd.Flags().GetString("debt")
	rawAmount, _ := cmd.Flags().GetString("amount")
	method, _ := cmd.Flags().GetString("method")
	notes, _ := cmd.Flags().GetString("notes")
	recordedBy, _ := cmd.Flags().GetString("recorded-by")
	if recordedBy == "" {
		recordedBy = cfg.LedgerEmail
	}

	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", rawAmount, err)
	}

	t, err := openTill()
	if err != nil {
		return err
	}
	defer t.Close()

	updated, payment, err := t.debts.ApplyPayment(context.Background(), debt.PaymentInput{
		DebtID:     debtID,
		Amount:     amount,
		Method:     domain.PaymentMethod(method),
		Notes:      notes,
		RecordedBy: recordedBy,
	})
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), map[string]any{
		"debt":    updated,
		"payment": payment,
	})
}

func runDebtList(cmd *cobra.Command, args []string) error {
	businessID, err := businessFlag(cmd)
	if err != nil {
		return err
	}
	status, _ := cmd.Flags().GetString("status")

	t, err := openTill()
	if err != nil {
		return err
	}
	defer t.Close()

	ctx := context.Background()
	debts, err := t.client.ListDebts(ctx, businessID, domain.DebtStatus(status))
	if err != nil {
		return err
	}
	outstanding, err := t.debts.Outstanding(ctx, businessID)
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), map[string]any{
		"debts":       debts,
		"outstanding": outstanding,
	})
}
