package cli

import (
	"fmt"
	"time"

	"github.com/erauner12/garagesync/internal/auth"
	"github.com/spf13/cobra"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	Secret  string
	Subject string
	TTL     time.Duration
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token signed with the server secret",
		Long: `Issue an HS256 session token. Put it in the sessionToken config key
(or GARAGESYNC_SESSION_TOKEN) so the client sends it as the session cookie.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := auth.IssueToken(opts.Secret, opts.Subject, opts.TTL)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to issue token", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}

	cmd.Flags().StringVar(&opts.Secret, "secret", "", "HS256 secret (JWT_HS256_SECRET of the server)")
	cmd.Flags().StringVar(&opts.Subject, "sub", "", "subject of the token")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 30*24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("secret")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
