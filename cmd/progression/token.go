package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alem-hub/progression-hub/internal/domain/student"
	httpapi "github.com/alem-hub/progression-hub/internal/interface/http"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <student-id>",
		Short: "Issue a bearer token for the HTTP API",
		Long: `Signs a token with HTTP_JWT_SECRET (or the development secret when unset).

Example:
  progression token s1 --role admin --ttl 1h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}

			r := student.ParseRole(role)
			switch r {
			case student.RoleAdmin, student.RoleStudent, student.RoleTeacher, student.RoleViewer:
			default:
				return fmt.Errorf("unknown role %q", role)
			}

			issuer := httpapi.NewTokenIssuer(jwtSecret(cfg, log), httpapi.DefaultConfig().JWTIssuer)
			token, err := issuer.Issue(args[0], r, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", string(student.RoleStudent), "admin, student, teacher or viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
