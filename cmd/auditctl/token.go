package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"auditlog/pkg/platform/audit"
	"auditlog/pkg/platform/middleware/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		actor audit.Actor
		ttl   time.Duration
		key   string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token naming an actor, for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if key == "" {
				key = os.Getenv("JWT_SIGNING_KEY")
			}
			if key == "" {
				return errors.New("signing key required: set --key or JWT_SIGNING_KEY")
			}
			if actor.ID == "" {
				return errors.New("--actor is required")
			}
			token, err := auth.NewHMACValidator(key, "").Issue(actor, ttl)
			if err != nil {
				return fmt.Errorf("signing token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&actor.ID, "actor", "", "Actor ID (token subject)")
	cmd.Flags().StringVar(&actor.Name, "name", "", "Actor display name")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	cmd.Flags().StringVar(&key, "key", "", "HMAC signing key (defaults to JWT_SIGNING_KEY)")
	return cmd
}
