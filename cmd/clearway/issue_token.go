package main

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/layer-3/clearway/adapters/tokenizer"
	"github.com/layer-3/clearway/config"
	"github.com/layer-3/clearway/core"
	"github.com/layer-3/clearway/service"
	"github.com/spf13/cobra"
)

var (
	flagSubject string
	flagRole    string
	flagTTL     time.Duration

	issueTokenCmd = &cobra.Command{
		Use:   "issue-token",
		Short: "Issue an API token for an operator or a relay client",
		Long: `
Usage: clearway issue-token --subject=<name> [--role=client|operator] [--ttl=720h]

  Prints a bearer token signed with CLEARWAY_OPERATOR_SECRET.
`,
		RunE: runIssueToken,
	}
)

func init() {
	issueTokenCmd.Flags().StringVarP(&flagSubject, "subject", "s", "", "Who the token is issued to")
	issueTokenCmd.Flags().StringVarP(&flagRole, "role", "r", "client", "Token role: client or operator")
	issueTokenCmd.Flags().DurationVar(&flagTTL, "ttl", service.DefaultAPITokenTTL, "Token lifetime")
	_ = issueTokenCmd.MarkFlagRequired("subject")
}

func runIssueToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var role core.Role
	switch flagRole {
	case "client":
		role = core.RoleClient
	case "operator":
		role = core.RoleOperator
	default:
		return fmt.Errorf("unknown role %q, expected client or operator", flagRole)
	}

	auth := service.NewAuthService(tokenizer.NewJWTTokenizer([]byte(cfg.OperatorSecret)), clock.New())
	token, err := auth.IssueToken(flagSubject, role, flagTTL)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
