package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"bizledger/internal/logger"
	"bizledger/internal/syncer"
)

var errOffline = errors.New("ledger is unreachable; queued sales stay pending")

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain queued sales to the ledger now",
	RunE:  runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().Bool("all", false, "Drain every business with queued sales")
}

func runSync(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("sync-cmd")
	all, _ := cmd.Flags().GetBool("all")

	t, err := openTill()
	if err != nil {
		return err
	}
	defer t.Close()

	ctx := context.Background()
	if !t.prober.Check(ctx) {
		return errOffline
	}

	var reports []syncer.DrainReport
	if all {
		if reports, err = t.engine.DrainAll(ctx); err != nil {
			return err
		}
	} else {
		businessID, err := businessFlag(cmd)
		if err != nil {
			return err
		}
		report, err := t.engine.Drain(ctx, businessID)
		if err != nil && !report.Halted {
			return err
		}
		reports = append(reports, report)
	}

	for _, r := range reports {
		if r.Err != nil {
			log.Warn().Err(r.Err).Str("business_id", r.BusinessID).Int("remaining", r.Remaining).Msg("drain incomplete")
		}
	}
	return printJSON(cmd.OutOrStdout(), reports)
}
