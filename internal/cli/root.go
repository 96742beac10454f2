// Package cli holds the familybot commands.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "familybot",
	Short: "Family shared-expense chat bot",
	Long: `familybot is a Telegram and Discord front end for a shared-expense ledger.
Families log expenses, record payments, confirm payments addressed to them
and forgive debts; all records live in the ledger service.`,
	SilenceUsage: true,
}

// Execute runs the command named on the command line.
func Execute() error {
	return rootCmd.Execute()
}
