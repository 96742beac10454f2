package cli

import (
	"fmt"
	"time"

	"github.com/alexmontesino96/familybot/internal/api"
	"github.com/alexmontesino96/familybot/internal/config"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().String("as", "", "Chat identity (telegram_id) the token speaks for")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "How long the token stays valid")
	tokenCmd.MarkFlagRequired("as")
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the /api endpoints",
	Long: `Sign a token with JWT_SECRET for one chat identity. The /api endpoints
answer with what that member may see in the ledger.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func runToken(cmd *cobra.Command, args []string) error {
	as, _ := cmd.Flags().GetString("as")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	cfg, err := config.LoadSigner()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	token, err := api.IssueToken([]byte(cfg.JWTSecret), as, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
