package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/campuslife/CampusChat/internal/models"
	"github.com/campuslife/CampusChat/pkg/chatclient"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchHistory int

// watchCmd keeps a conversation open
var watchCmd = &cobra.Command{
	Use:   "watch [conversation-id]",
	Short: "Follow a conversation live",
	Long: `Opens a live view of a conversation. Incoming messages are marked read,
and reactions and read receipts are shown. Each line typed on stdin is sent
as a message.

The terminal hands over whole lines, so the typing indicator peers see is
per line: it is announced when a line arrives and cleared once it is sent.

Press Ctrl+C to leave.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVar(&watchHistory, "history", 50, "Messages to show")
}

func runWatch(cmd *cobra.Command, args []string) error {
	conversationID, err := parseID(args[0], "conversation id")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newClient()
	session, err := currentSession(ctx, client)
	if err != nil {
		return err
	}

	feed, err := client.DialFeed(ctx, session)
	if err != nil {
		return err
	}
	defer feed.Close()

	out := cmd.OutOrStdout()
	printer := &snapshotPrinter{out: out, me: session.UserID}
	view, err := chatclient.NewView(chatclient.ViewConfig{
		Session:        session,
		ConversationID: conversationID,
		Backend:        client,
		Feed:           feed,
		Logger:         logger,
		HistoryLimit:   watchHistory,
		OnUpdate:       printer.print,
	})
	if err != nil {
		return err
	}
	if err := view.Open(ctx); err != nil {
		return fmt.Errorf("open conversation %d: %w", conversationID, err)
	}
	defer view.Close()

	lines := make(chan string)
	go readLines(cmd.InOrStdin(), lines, view)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-view.Done():
			return view.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			view.StopTyping()
			if _, err := client.SendMessage(ctx, session, conversationID, line, nil); err != nil {
				fmt.Fprintf(out, "! send failed: %v\n", err)
			}
		}
	}
}

type keystroker interface {
	Keystroke()
}

// readLines counts every line as a keystroke burst before handing it over.
func readLines(in io.Reader, lines chan<- string, view keystroker) {
	defer close(lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		view.Keystroke()
		lines <- line
	}
	if err := scanner.Err(); err != nil {
		logger.Debug("stdin closed", zap.Error(err))
	}
}

type snapshotPrinter struct {
	out      io.Writer
	me       int64
	lastSeen int64
}

func (p *snapshotPrinter) print(snapshot chatclient.Snapshot) {
	for _, message := range snapshot.Messages {
		if message.ID <= p.lastSeen {
			continue
		}
		p.lastSeen = message.ID
		fmt.Fprintf(p.out, "[%s] #%d %s: %s\n",
			message.CreatedAt.Local().Format("15:04"),
			message.ID,
			p.author(message.SenderID),
			messageText(message),
		)
	}

	if len(snapshot.Messages) > 0 {
		latest := snapshot.Messages[len(snapshot.Messages)-1]
		status := make([]string, 0, 3)
		if latest.SenderID == p.me && len(snapshot.SeenBy[latest.ID]) > 0 {
			status = append(status, fmt.Sprintf("seen by %s", joinIDs(snapshot.SeenBy[latest.ID])))
		}
		for _, summary := range snapshot.Reactions[latest.ID] {
			status = append(status, fmt.Sprintf("%s %d", summary.Emoji, summary.Count))
		}
		if len(status) > 0 {
			fmt.Fprintf(p.out, "   (%s)\n", strings.Join(status, ", "))
		}
	}
	if len(snapshot.Typing) > 0 {
		fmt.Fprintf(p.out, "   %s typing...\n", joinIDs(snapshot.Typing))
	}
}

func (p *snapshotPrinter) author(userID int64) string {
	if userID == p.me {
		return "you"
	}
	return fmt.Sprintf("user %d", userID)
}

func messageText(message models.ChatMessage) string {
	switch {
	case message.IsDeleted:
		return "(deleted)"
	case len(message.MediaURLs) > 0:
		return strings.TrimSpace(message.Content + " " + strings.Join(message.MediaURLs, " "))
	case message.IsEdited:
		return message.Content + " (edited)"
	default:
		return message.Content
	}
}

func joinIDs(ids []int64) string {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = fmt.Sprintf("user %d", id)
	}
	return strings.Join(parts, ", ")
}
