package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/campuslife/CampusChat/pkg/chatclient"
	"github.com/spf13/cobra"
)

var sendMedia []string

// conversationsCmd lists the caller's conversations
var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations with unread counts",
	RunE:    runConversations,
}

// sendCmd posts a message
var sendCmd = &cobra.Command{
	Use:   "send [conversation-id] [text]",
	Short: "Send a message, optionally with images",
	Long: `Sends a message to a conversation. Images given with --media are uploaded
first and attached by URL.

Example:
  campuschat send 12 "see you at the library" --media notes.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

// reactCmd toggles a reaction
var reactCmd = &cobra.Command{
	Use:   "react [message-id] [emoji]",
	Short: "Toggle a reaction on a message",
	Args:  cobra.ExactArgs(2),
	RunE:  runReact,
}

func init() {
	sendCmd.Flags().StringSliceVar(&sendMedia, "media", nil, "Image file to attach (repeatable)")
}

func parseID(value, what string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, value)
	}
	return id, nil
}

func runConversations(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	client := newClient()
	session, err := currentSession(ctx, client)
	if err != nil {
		return err
	}
	conversations, err := client.ListConversations(ctx, session)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tNAME\tUNREAD\tLAST MESSAGE")
	for _, c := range conversations {
		last := ""
		if c.LastMessage != nil {
			last = c.LastMessage.Content
			if c.LastMessage.IsDeleted {
				last = "(deleted)"
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", c.ID, c.Kind, c.Name, c.UnreadCount, last)
	}
	return w.Flush()
}

func runSend(cmd *cobra.Command, args []string) error {
	conversationID, err := parseID(args[0], "conversation id")
	if err != nil {
		return err
	}
	content := strings.Join(args[1:], " ")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	client := newClient()
	session, err := currentSession(ctx, client)
	if err != nil {
		return err
	}

	mediaURLs := make([]string, 0, len(sendMedia))
	for _, path := range sendMedia {
		url, err := uploadFile(ctx, client, session, path)
		if err != nil {
			return err
		}
		mediaURLs = append(mediaURLs, url)
	}

	message, err := client.SendMessage(ctx, session, conversationID, content, mediaURLs)
	if err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent message %d\n", message.ID)
	return nil
}

func uploadFile(ctx context.Context, client *chatclient.Client, session chatclient.Session, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	url, err := client.UploadMedia(ctx, session, path, file)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	return url, nil
}

func runReact(cmd *cobra.Command, args []string) error {
	messageID, err := parseID(args[0], "message id")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	client := newClient()
	session, err := currentSession(ctx, client)
	if err != nil {
		return err
	}
	added, err := client.ToggleReaction(ctx, session, messageID, args[1])
	if err != nil {
		return err
	}
	if added {
		fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", args[1])
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[1])
	}
	return nil
}
