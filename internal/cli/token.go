package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"area-engine/internal/auth"
)

type tokenOptions struct {
	role string
	ttl  time.Duration
}

// NewTokenCommand issues a bearer token for the internal API.
func NewTokenCommand(root *RootOptions) *cobra.Command {
	opts := &tokenOptions{}

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an internal API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.loadConfig(cmd)
			a, err := auth.New(cfg.JWTSecret, opts.ttl)
			if err != nil {
				return err
			}
			token, err := a.GenerateJWT(args[0], opts.role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.role, "role", "", "role claim, e.g. admin")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
