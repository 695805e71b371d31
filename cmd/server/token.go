package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"marketguard-backend/internal/auth"
)

var (
	flagSubject string
	flagTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an operator bearer token",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&flagSubject, "subject", "", "Operator name recorded in the token")
	tokenCmd.Flags().DurationVar(&flagTTL, "ttl", 12*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	issuer, err := auth.NewIssuer(cfg.JWTSecret)
	if err != nil {
		return err
	}
	token, err := issuer.GenerateToken(flagSubject, auth.RoleOperator, flagTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
