package cli

import (
	"fmt"

	"github.com/ayoubkefii/e-learning/internal/auth"
	"github.com/ayoubkefii/e-learning/internal/config"
	"github.com/spf13/cobra"
)

// NewTokenCmd issues a bearer token for local testing.
func NewTokenCmd(configPath *string) *cobra.Command {
	var (
		userID int64
		email  string
		role   string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user-id must be positive")
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			authn, err := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret)
			if err != nil {
				return err
			}
			ttl := config.TTLDuration(cfg.Auth.TokenTTL, auth.DefaultTokenTTL)
			token, err := authn.Issue(auth.Identity{UserID: userID, Email: email, Role: role}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "user id to embed in the token")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&role, "role", "student", "role claim")
	return cmd
}
