package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bizledger/internal/config"
	"bizledger/internal/logger"
)

var version = "1.0.0"

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "bizledger",
	Short: "Offline-first sales and debt ledger",
	Long: `bizledger records point-of-sale transactions and customer debts.

The serve command runs the ledger API. The agent and the sale, debt, sync and
pending commands run on the till: sales are committed to the ledger while it is
reachable and queued on disk while it is not.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI with the loaded configuration. The caller decides
// how to exit on error.
func Execute(c config.Config) error {
	cfg = c
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().String("business", "", "Business id (default: BUSINESS_ID)")
}

func businessFlag(cmd *cobra.Command) (string, error) {
	id, _ := cmd.Flags().GetString("business")
	if id == "" {
		id = cfg.BusinessID
	}
	if id == "" {
		return "", fmt.Errorf("business id is required: set --business or BUSINESS_ID")
	}
	return id, nil
}
