package chatclient

import "github.com/campuslife/CampusChat/internal/models"

// AggregateReactions groups one message's reaction rows by emoji, in order of
// first appearance. Repeated (user, emoji) rows count once.
func AggregateReactions(rows []models.Reaction, me int64) []models.ReactionSummary {
	summaries := make([]models.ReactionSummary, 0)
	index := make(map[string]int)
	type key struct {
		user  int64
		emoji string
	}
	counted := make(map[key]struct{}, len(rows))

	for _, row := range rows {
		k := key{user: row.UserID, emoji: row.Emoji}
		if _, dup := counted[k]; dup {
			continue
		}
		counted[k] = struct{}{}

		i, ok := index[row.Emoji]
		if !ok {
			i = len(summaries)
			index[row.Emoji] = i
			summaries = append(summaries, models.ReactionSummary{Emoji: row.Emoji, Users: []int64{}})
		}
		summaries[i].Count++
		summaries[i].Users = append(summaries[i].Users, row.UserID)
		if row.UserID == me {
			summaries[i].ReactedByMe = true
		}
	}
	return summaries
}

// GroupReactions aggregates a conversation's reaction rows per message.
func GroupReactions(rows []models.Reaction, me int64) map[int64][]models.ReactionSummary {
	byMessage := make(map[int64][]models.Reaction)
	for _, row := range rows {
		byMessage[row.MessageID] = append(byMessage[row.MessageID], row)
	}

	grouped := make(map[int64][]models.ReactionSummary, len(byMessage))
	for messageID, messageRows := range byMessage {
		grouped[messageID] = AggregateReactions(messageRows, me)
	}
	return grouped
}
