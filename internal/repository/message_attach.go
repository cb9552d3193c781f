package repository

import (
	"context"
	"time"

	"parley/internal/models"
	"parley/internal/observability"

	"gorm.io/gorm/clause"
)

// InsertState records a receipt, marker or error on the message target
// refers to, creating a stub when the message is unknown. It reports whether
// a new state row was stored; repeated states are ignored.
func (r *messageRepository) InsertState(ctx context.Context, chat *models.Chat, target Reference, state *models.MessageState) (bool, error) {
	ctx, span := observability.StartStoreSpan(ctx, "InsertState", "message_states")
	defer span.End()

	if target.empty() {
		return false, ErrInvalidReference
	}
	if state.ByIdentity == "" {
		return false, ErrUnidentifiableSender
	}
	msg, err := r.resolve(ctx, chat, target, "state")
	if err != nil {
		return false, err
	}

	row := *state
	row.ID = 0
	row.MessageID = msg.ID
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// InsertReactions replaces the reactions the view's sender holds on the
// message target refers to with emojis. An empty set clears them.
func (r *messageRepository) InsertReactions(ctx context.Context, chat *models.Chat, target Reference, view *MessageView, emojis []string) error {
	ctx, span := observability.StartStoreSpan(ctx, "InsertReactions", "message_reactions")
	defer span.End()

	identity := view.Identity()
	if identity == "" {
		return ErrUnidentifiableSender
	}
	if target.empty() {
		return ErrInvalidReference
	}
	msg, err := r.resolve(ctx, chat, target, "reaction")
	if err != nil {
		return err
	}

	db := r.db.WithContext(ctx)
	stale := db.Where("message_id = ? AND by_identity = ?", msg.ID, identity)
	if len(emojis) > 0 {
		stale = stale.Where("emoji NOT IN ?", emojis)
	}
	if err := stale.Delete(&models.MessageReaction{}).Error; err != nil {
		return err
	}
	if len(emojis) == 0 {
		return nil
	}

	receivedAt := view.ReceivedAt.UTC()
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	rows := make([]models.MessageReaction, 0, len(emojis))
	for _, emoji := range emojis {
		rows = append(rows, models.MessageReaction{
			MessageID:  msg.ID,
			ByIdentity: identity,
			Emoji:      emoji,
			ByAddress:  view.SenderAddress,
			StanzaID:   view.StanzaID,
			ReceivedAt: receivedAt,
		})
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// SetInReplyTo links the message to the message target refers to. Until the
// target's content is known the snippet shows the given fallback.
func (r *messageRepository) SetInReplyTo(ctx context.Context, chat *models.Chat, messageID uint, target Reference, fallbackSender, fallbackBody string) error {
	if target.empty() {
		return ErrInvalidReference
	}
	referenced, err := r.resolve(ctx, chat, target, "reply")
	if err != nil {
		return err
	}
	if referenced.ID == messageID {
		return ErrInvalidReference
	}
	err = r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", messageID).
		Updates(map[string]interface{}{
			"in_reply_to_id":     referenced.ID,
			"in_reply_to_sender": fallbackSender,
			"in_reply_to_body":   fallbackBody,
		}).Error
	if err != nil {
		return err
	}
	return r.refreshReplySnippets(ctx, referenced.ID)
}

// refreshReplySnippets copies the sender and latest body of a real message
// into every reply to it.
func (r *messageRepository) refreshReplySnippets(ctx context.Context, messageID uint) error {
	var target models.Message
	found, err := first(r.db.WithContext(ctx).Where("id = ?", messageID), &target)
	if err != nil || !found || target.Stub || target.LatestVersionID == nil {
		return err
	}
	bodies, err := latestBodies(ctx, r.db, []uint{target.ID})
	if err != nil {
		return err
	}
	sender := target.SenderAddress
	if sender == "" {
		sender = target.SenderBare
	}
	return r.db.WithContext(ctx).Model(&models.Message{}).
		Where("in_reply_to_id = ?", target.ID).
		Updates(map[string]interface{}{
			"in_reply_to_sender": sender,
			"in_reply_to_body":   bodies[target.ID],
		}).Error
}
