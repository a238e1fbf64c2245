package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/browserd/internal/middleware"
)

// TokenCmd issues a bearer token signed with auth.accessSecret.
func TokenCmd() *cobra.Command {
	var (
		clientID string
		pin      bool
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for the HTTP, WebSocket and gRPC APIs",
		Long: `Print a JWT signed with auth.accessSecret. With --pin the token is only
valid for the session given by --session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := ServerConfig.Auth.AccessSecret
			if secret == "" {
				return errors.New("auth.accessSecret is not set; authentication is disabled")
			}
			if ttl <= 0 {
				ttl = ServerConfig.Auth.AccessExpire
			}
			var session string
			if pin {
				session = sessionKey
			}
			tok, err := middleware.IssueToken(secret, clientID, session, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "cli", "client id recorded in the token subject")
	cmd.Flags().BoolVar(&pin, "pin", false, "restrict the token to --session")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: auth.accessExpire)")
	return cmd
}
