package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nickcecere/docchat/internal/auth"
	"github.com/nickcecere/docchat/internal/config"
)

var tokenTTL time.Duration

// tokenCmd mints API tokens
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API token for a user",
	Long: `Print a signed bearer token for the user given with --user.

Examples:
  docchat token --user alice
  docchat token --user alice --ttl 1h`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		if cfg.Server.JWTSecret == "" {
			return errors.New("server.jwt_secret is not set")
		}

		ttl := cfg.Server.TokenTTL
		if tokenTTL > 0 {
			ttl = tokenTTL
		}

		token, err := auth.GenerateToken(userID, []byte(cfg.Server.JWTSecret), ttl)
		if err != nil {
			return fmt.Errorf("failed to mint token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (overrides server.token_ttl)")
}
