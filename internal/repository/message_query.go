package repository

import (
	"context"

	"parley/internal/models"
	"parley/internal/observability"

	"gorm.io/gorm"
)

// GetMessages returns the real messages of a chat in sending order, each with
// the contents of its latest version and its reactions and states.
func (r *messageRepository) GetMessages(ctx context.Context, chatID uint) ([]models.MessageWithContents, error) {
	ctx, span := observability.StartStoreSpan(ctx, "GetMessages", "messages")
	defer span.End()
	defer observability.TrackQuery("list", "messages")()

	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND stub = ?", chatID, false).
		Order("sent_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		observability.FailSpan(span, err)
		return nil, err
	}
	if len(messages) == 0 {
		return []models.MessageWithContents{}, nil
	}

	ids := make([]uint, 0, len(messages))
	var versionIDs []uint
	for _, m := range messages {
		ids = append(ids, m.ID)
		if m.LatestVersionID != nil {
			versionIDs = append(versionIDs, *m.LatestVersionID)
		}
	}

	contents := make(map[uint][]models.MessageContent)
	if len(versionIDs) > 0 {
		var rows []models.MessageContent
		err := r.db.WithContext(ctx).
			Where("version_id IN ?", versionIDs).
			Order("version_id ASC, position ASC").
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, c := range rows {
			contents[c.VersionID] = append(contents[c.VersionID], c)
		}
	}

	var reactionRows []models.MessageReaction
	if err := r.db.WithContext(ctx).Where("message_id IN ?", ids).Order("id ASC").Find(&reactionRows).Error; err != nil {
		return nil, err
	}
	reactions := make(map[uint][]models.MessageReaction)
	for _, rr := range reactionRows {
		reactions[rr.MessageID] = append(reactions[rr.MessageID], rr)
	}

	var stateRows []models.MessageState
	if err := r.db.WithContext(ctx).Where("message_id IN ?", ids).Order("id ASC").Find(&stateRows).Error; err != nil {
		return nil, err
	}
	states := make(map[uint][]models.MessageState)
	for _, s := range stateRows {
		states[s.MessageID] = append(states[s.MessageID], s)
	}

	result := make([]models.MessageWithContents, 0, len(messages))
	for _, m := range messages {
		item := models.MessageWithContents{
			Message:   m,
			Contents:  []models.MessageContent{},
			Reactions: reactions[m.ID],
			States:    states[m.ID],
		}
		if m.LatestVersionID != nil && contents[*m.LatestVersionID] != nil {
			item.Contents = contents[*m.LatestVersionID]
		}
		item.Aggregated = models.AggregateReactions(item.Reactions)
		result = append(result, item)
	}
	return result, nil
}

// latestBodies returns the first text part of the latest version of each
// message that has one.
func latestBodies(ctx context.Context, db *gorm.DB, messageIDs []uint) (map[uint]string, error) {
	bodies := make(map[uint]string, len(messageIDs))
	if len(messageIDs) == 0 {
		return bodies, nil
	}
	var rows []struct {
		MessageID uint
		Body      string
	}
	err := db.WithContext(ctx).
		Table("messages").
		Select("messages.id AS message_id, message_contents.body AS body").
		Joins("JOIN message_contents ON message_contents.version_id = messages.latest_version_id").
		Where("messages.id IN ? AND message_contents.type = ?", messageIDs, models.PartTypeText).
		Order("messages.id ASC, message_contents.position ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if _, ok := bodies[row.MessageID]; !ok {
			bodies[row.MessageID] = row.Body
		}
	}
	return bodies, nil
}
