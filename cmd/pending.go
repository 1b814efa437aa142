package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Inspect the on-device queue",
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sales waiting for the ledger, oldest first",
	RunE:  runPendingList,
}

var pendingFollowUpsCmd = &cobra.Command{
	Use:   "followups",
	Short: "List committed credit sales whose debt is not yet recorded",
	RunE:  runPendingFollowUps,
}

func init() {
	rootCmd.AddCommand(pendingCmd)
	pendingCmd.AddCommand(pendingListCmd, pendingFollowUpsCmd)
}

func runPendingList(cmd *cobra.Command, args []string) error {
	businessID, err := businessFlag(cmd)
	if err != nil {
		return err
	}
	t, err := openTill()
	if err != nil {
		return err
	}
	defer t.Close()

	entries, err := t.queue.ListAll(context.Background(), businessID)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), entries)
}

func runPendingFollowUps(cmd *cobra.Command, args []string) error {
	businessID, err := businessFlag(cmd)
	if err != nil {
		return err
	}
	t, err := openTill()
	if err != nil {
		return err
	}
	defer t.Close()

	followUps, err := t.queue.ListFollowUps(context.Background(), businessID)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), followUps)
}
