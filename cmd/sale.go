package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"bizledger/domain"
	"bizledger/internal/logger"
	"bizledger/internal/sale"
	"bizledger/internal/syncer"
)

var saleCmd = &cobra.Command{
	Use:   "sale",
	Short: "Record sales",
}

var saleRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a sale, queueing it if the ledger is unreachable",
	Example: `  # Cash sale of two items
  bizledger sale record --item "Bread:2:1.50:1.00" --item "Milk:1:0.90" --payment cash

  # Credit sale
  bizledger sale record --item "Rice 5kg:1:12.00:9.50" --payment debt --customer "Ama" --phone "+233200000000"`,
	RunE: runSaleRecord,
}

func init() {
	rootCmd.AddCommand(saleCmd)
	saleCmd.AddCommand(saleRecordCmd)

	saleRecordCmd.Flags().StringArray("item", nil, "Item as name:quantity:unit_price[:cost_price] (repeatable)")
	saleRecordCmd.Flags().String("payment", string(domain.PaymentCash), "cash, card, mobile_money, bank_transfer or debt")
	saleRecordCmd.Flags().String("type", string(domain.SaleWalkIn), "walk_in or online")
	saleRecordCmd.Flags().String("customer", "", "Customer name (required for debt)")
	saleRecordCmd.Flags().String("phone", "", "Customer phone (required for debt)")
	saleRecordCmd.Flags().String("notes", "", "Free-form notes")
	saleRecordCmd.Flags().String("sold-by", "", "Staff id (default: LEDGER_EMAIL)")
}

func runSaleRecord(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("sale")

	businessID, err := businessFlag(cmd)
	if err != nil {
		return err
	}
	rawItems, _ := cmd.Flags().GetStringArray("item")
	payment, _ := cmd.Flags().GetString("payment")
	saleType, _ := cmd.Flags().GetString("type")
	customer, _ := cmd.Flags().GetString("customer")
	phone, _ := cmd.Flags().GetString("phone")
	notes, _ := cmd.Flags().GetString("notes")
	soldBy, _ := cmd.Flags().GetString("sold-by")
	if soldBy == "" {
		soldBy = cfg.LedgerEmail
	}

	items := make([]sale.ItemInput, 0, len(rawItems))
	for _, raw := range rawItems {
		item, err := parseItem(raw)
		if err != nil {
			return err
		}
		items = append(items, item)
	}

	record, err := sale.Build(sale.Input{
		BusinessID:    businessID,
		Items:         items,
		CustomerName:  customer,
		CustomerPhone: phone,
		PaymentMethod: domain.PaymentMethod(payment),
		SaleType:      domain.SaleType(saleType),
		Notes:         notes,
		SoldBy:        soldBy,
	})
	if err != nil {
		return err
	}

	t, err := openTill()
	if err != nil {
		return err
	}
	defer t.Close()

	ctx := context.Background()
	t.prober.Check(ctx)

	receipt, err := t.engine.Submit(ctx, record)
	var partial *syncer.PartialCommitError
	if err != nil && !errors.As(err, &partial) {
		return err
	}
	if partial != nil {
		log.Warn().Err(partial).Msg("sale recorded, debt pending")
	}
	// Let a drain started by Submit finish before the process exits.
	t.engine.Wait()

	return printJSON(cmd.OutOrStdout(), receipt)
}

// parseItem reads name:quantity:unit_price[:cost_price]. The name may itself
// contain colons; the numeric fields are taken from the right.
func parseItem(raw string) (sale.ItemInput, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 3 {
		return sale.ItemInput{}, fmt.Errorf("item %q: want name:quantity:unit_price[:cost_price]", raw)
	}

	numeric := parts[len(parts)-2:]
	nameParts := parts[:len(parts)-2]
	if len(parts) >= 4 {
		if _, err := strconv.ParseInt(strings.TrimSpace(parts[len(parts)-3]), 10, 64); err == nil {
			numeric = parts[len(parts)-3:]
			nameParts = parts[:len(parts)-3]
		}
	}

	item := sale.ItemInput{Name: strings.TrimSpace(strings.Join(nameParts, ":"))}
	qty, err := strconv.ParseInt(strings.TrimSpace(numeric[0]), 10, 64)
	if err != nil {
		return sale.ItemInput{}, fmt.Errorf("item %q: invalid quantity: %w", raw, err)
	}
	item.Quantity = qty
	if item.UnitPrice, err = decimal.NewFromString(strings.TrimSpace(numeric[1])); err != nil {
		return sale.ItemInput{}, fmt.Errorf("item %q: invalid unit price: %w", raw, err)
	}
	if len(numeric) == 3 {
		if item.CostPrice, err = decimal.NewFromString(strings.TrimSpace(numeric[2])); err != nil {
			return sale.ItemInput{}, fmt.Errorf("item %q: invalid cost price: %w", raw, err)
		}
	}
	return item, nil
}
