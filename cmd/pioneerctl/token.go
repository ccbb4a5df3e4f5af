package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-pioneer/internal/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		secret  string
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API access token",
		Long: `Mint a JWT for the pioneerd API, signed with the daemon's JWT secret.

The secret is read from --secret or the GRAYLOGIC_JWT_SECRET environment
variable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				secret = os.Getenv("GRAYLOGIC_JWT_SECRET")
			}
			r := auth.Role(role)
			if !r.Valid() {
				return fmt.Errorf("%w: %q", auth.ErrInvalidRole, role)
			}

			token, expires, err := auth.IssueToken(auth.TokenRequest{
				Subject: subject,
				Role:    r,
				TTL:     ttl,
			}, secret)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.UTC().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "JWT signing secret (default $GRAYLOGIC_JWT_SECRET)")
	cmd.Flags().StringVar(&subject, "subject", "pioneerctl", "Token subject")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleOperator), "Role: viewer or operator")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "Token lifetime")
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key [key]",
		Short: "Hash an API key for security.api_key_hash",
		Long: `Print the argon2id hash of an API key for the daemon's
security.api_key_hash setting. Without an argument the key is read from the
first line of standard input, which keeps it out of shell history.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading key: %w", err)
				}
				key = strings.TrimRight(line, "\r\n")
			}
			if key == "" {
				return errors.New("key must not be empty")
			}

			hash, err := auth.HashAPIKey(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
