package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/internal/service"
	"github.com/noah-isme/tutoring-api/pkg/config"
)

type issueOptions struct {
	userID string
	role   string
	email  string
	name   string
	ttl    time.Duration
}

// newRootCommand builds the devtoken CLI. Tokens are signed with the same
// secret and issuer the API verifies against.
func newRootCommand(jwtCfg config.JWTConfig) *cobra.Command {
	auth := service.NewAuthService(validator.New(), zap.NewNop(), service.AuthConfig{
		AccessTokenSecret: jwtCfg.Secret,
		AccessTokenExpiry: jwtCfg.Expiration,
		Issuer:            jwtCfg.Issuer,
	})

	cmd := &cobra.Command{
		Use:           "devtoken",
		Short:         "Mint and inspect access tokens for local testing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newIssueCommand(auth))
	cmd.AddCommand(newInspectCommand(auth))
	return cmd
}

func newIssueCommand(auth *service.AuthService) *cobra.Command {
	opts := &issueOptions{}
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := models.ParseRole(opts.role)
			if err != nil {
				return err
			}
			token, err := auth.IssueToken(models.IssueTokenRequest{
				UserID:   opts.userID,
				Role:     role,
				Email:    opts.email,
				FullName: opts.name,
				TTL:      opts.ttl,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd, token)
		},
	}
	cmd.Flags().StringVar(&opts.userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&opts.role, "role", string(models.RoleStudent), "STUDENT, TUTOR, COORDINATOR or ADMIN")
	cmd.Flags().StringVar(&opts.email, "email", "", "email claim")
	cmd.Flags().StringVar(&opts.name, "name", "", "full name claim")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 0, "token lifetime, defaults to JWT_EXPIRATION")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newInspectCommand(auth *service.AuthService) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <token>",
		Short: "Verify a token and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			claims, err := auth.ValidateToken(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("token rejected: %w", err)
			}
			return writeJSON(cmd, claims)
		},
	}
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
