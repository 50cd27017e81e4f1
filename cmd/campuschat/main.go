package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/campuslife/CampusChat/internal/logging"
	"github.com/campuslife/CampusChat/pkg/chatclient"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	serverEnv = "CAMPUSCHAT_SERVER"
	tokenEnv  = "CAMPUSCHAT_TOKEN"
)

var (
	serverURL string
	verbose   bool
	timeout   time.Duration

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "campuschat",
	Short: "Command-line client for campus chat",
	Long: `campuschat talks to a campus chat server.

Sign in with "campuschat login" and export the printed token as CAMPUSCHAT_TOKEN.
"campuschat watch" keeps a conversation open, marks incoming messages read and
shows who is typing.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		env := "production"
		if verbose {
			level = "debug"
			env = "development"
		}
		var err error
		logger, err = logging.New(env, level)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	defaultServer := os.Getenv(serverEnv)
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServer, "Chat server URL (or set "+serverEnv+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Timeout for one-shot commands")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(reactCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newClient() *chatclient.Client {
	return chatclient.New(serverURL, chatclient.WithLogger(logger))
}

// currentSession resolves the token from the environment into a session.
func currentSession(ctx context.Context, client *chatclient.Client) (chatclient.Session, error) {
	token := os.Getenv(tokenEnv)
	if token == "" {
		return chatclient.Session{}, fmt.Errorf("%s is not set; run campuschat login first", tokenEnv)
	}
	session, err := client.SessionFromToken(ctx, token)
	if err != nil {
		return chatclient.Session{}, fmt.Errorf("resolve session: %w", err)
	}
	return session, nil
}
