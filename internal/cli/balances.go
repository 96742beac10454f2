package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/alexmontesino96/familybot/internal/balance"
	"github.com/alexmontesino96/familybot/internal/config"
	"github.com/alexmontesino96/familybot/internal/ledger"
	"github.com/alexmontesino96/familybot/internal/money"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(balancesCmd)

	balancesCmd.Flags().String("family", "", "Family id")
	balancesCmd.Flags().String("as", "", "Chat identity (telegram_id) of a family member")
	balancesCmd.MarkFlagRequired("family")
	balancesCmd.MarkFlagRequired("as")
}

var balancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "Print a family's netted balances",
	Long: `Fetch a family's balance report from the ledger and print the netted
view the bot shows: each member's totals and who owes whom.`,
	Args: cobra.NoArgs,
	RunE: runBalances,
}

func runBalances(cmd *cobra.Command, args []string) error {
	familyID, _ := cmd.Flags().GetString("family")
	as, _ := cmd.Flags().GetString("as")

	cfg, err := config.LoadLedger()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	client := ledger.New(ledger.Options{BaseURL: cfg.LedgerURL, Timeout: cfg.LedgerTimeout})

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := client.GetFamilyBalances(ctx, ledger.Caller(as), ledger.ID(familyID))
	if err != nil {
		return err
	}
	if !resp.OK() {
		return resp.Err()
	}
	var records []ledger.BalanceRecord
	if err := resp.Decode(&records); err != nil {
		return err
	}

	model, bad := balance.Build(records)
	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MEMBER\tNET\tOWED TO THEM\tTHEY OWE")
	for _, id := range model.Members() {
		b, _ := model.Balance(id)
		fmt.Fprintf(w, "%s (%s)\t%s\t%s\t%s\n", b.Name, id, signed(b), money.Format(b.TotalOwed), money.Format(b.TotalDebt))
	}
	w.Flush()

	fmt.Fprintln(out)
	settled := true
	for _, id := range model.Members() {
		for _, d := range model.DebtsOf(id) {
			fmt.Fprintf(out, "%s owes %s %s\n", model.Name(id), d.Name, money.Format(d.Amount))
			settled = false
		}
	}
	if settled {
		fmt.Fprintln(out, "Everyone is settled up.")
	}
	for _, m := range bad {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: dropped %s\n", m)
	}
	return nil
}

func signed(b balance.Balance) string {
	if b.Net.IsNegative() {
		return "-" + money.Format(b.Net.Neg())
	}
	return money.Format(b.Net)
}
