package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/averlard/custos/internal/config"
	"github.com/averlard/custos/pkg/token"
)

var (
	tokenUser  string
	tokenAdmin bool
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for a user",
	Long: `Issue a signed bearer token for the console API and event stream.
User accounts themselves are managed outside Custos; this only signs an
identity with the configured secret.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id to embed in the token (required)")
	tokenCmd.Flags().BoolVar(&tokenAdmin, "admin", false, "grant elevated privilege")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default from config)")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ttl := tokenTTL
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}

	signed, err := token.Issue(cfg.Auth.Secret, tokenUser, tokenAdmin, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Println(signed)
	return nil
}
