package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
)

// loginCmd exchanges credentials for a token
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and print a session token",
	Long: `Signs in with email and password and prints the token.

Example:
  export CAMPUSCHAT_TOKEN=$(campuschat login --email ada@campus.edu --password ...)`,
	RunE: runLogin,
}

// whoamiCmd shows the signed-in user
var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the user behind CAMPUSCHAT_TOKEN",
	RunE:  runWhoami,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email (required)")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password (required)")
	_ = loginCmd.MarkFlagRequired("email")
	_ = loginCmd.MarkFlagRequired("password")
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	session, err := newClient().Login(ctx, loginEmail, loginPassword)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), session.Token)
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	session, err := currentSession(ctx, newClient())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", session.UserID, session.Role, session.DisplayName)
	return nil
}
