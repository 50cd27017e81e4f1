package realtime

import (
	"context"
	"time"

	"github.com/campuslife/CampusChat/internal/metrics"
	"github.com/campuslife/CampusChat/internal/models"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// Notifier turns service writes and typing frames into broker events.
// Publishing is best-effort: a lost notification is repaired by the next one.
type Notifier struct {
	broker Broker
	logger *zap.Logger
}

func NewNotifier(broker Broker, logger *zap.Logger) *Notifier {
	return &Notifier{broker: broker, logger: logger}
}

func (n *Notifier) Changed(ctx context.Context, conversationID int64, table string) {
	n.publish(ctx, Event{
		Type:           TypeChange,
		ConversationID: conversationID,
		Table:          table,
		Timestamp:      time.Now().UTC(),
	})
}

// Revoked ends userID's live subscriptions to the conversation on every
// server instance.
func (n *Notifier) Revoked(ctx context.Context, conversationID int64, userID int64) {
	n.publish(ctx, Event{
		Type:           TypeRevoked,
		ConversationID: conversationID,
		UserID:         userID,
		Timestamp:      time.Now().UTC(),
	})
}

func (n *Notifier) Typing(ctx context.Context, status models.TypingStatus) {
	n.publish(ctx, Event{
		Type:           TypeTyping,
		ConversationID: status.ConversationID,
		UserID:         status.UserID,
		IsTyping:       status.IsTyping,
		Timestamp:      time.Now().UTC(),
	})
}

func (n *Notifier) publish(ctx context.Context, event Event) {
	// The request context may already be finishing; notifications outlive it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := n.broker.Publish(ctx, event); err != nil {
		metrics.NotificationsDropped.Inc()
		n.logger.Warn("failed to publish realtime event",
			zap.String("type", event.Type),
			zap.Int64("conversation_id", event.ConversationID),
			zap.Error(err),
		)
	}
}
