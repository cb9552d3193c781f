package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parley/internal/models"
	"parley/internal/observability"

	"gorm.io/gorm"
)

var (
	// ErrIdentityMismatch is returned when a correction or retraction does not
	// come from the author of the message it references.
	ErrIdentityMismatch = errors.New("sender is not the author of the referenced message")
	// ErrUnidentifiableSender is returned when an operation needs a sender
	// identity and the stanza does not carry one.
	ErrUnidentifiableSender = errors.New("sender cannot be identified")
	// ErrInvalidReference is returned for a reference without any identifier.
	ErrInvalidReference = errors.New("reference does not identify a message")
)

// MessageView carries the identifiers and timestamps of one stanza.
type MessageView struct {
	MessageID  string
	StanzaID   string
	OccupantID string
	// Sender is the bare address of the sender, the occupant's full address
	// for private messages received through a group chat, and empty for
	// group chat messages.
	Sender        string
	SenderAddress string
	Outgoing      bool
	SentAt        time.Time
	ReceivedAt    time.Time
	// Encryption names the scheme the content was encrypted with, if any.
	Encryption  string
	IdentityKey string
}

// Identity is the sender identity reactions, corrections and retractions
// are attributed to. It is empty when the sender cannot be identified.
func (v *MessageView) Identity() string {
	if v.OccupantID != "" {
		return v.OccupantID
	}
	return v.Sender
}

// MessageIdentifier is the result of locating or creating a message.
type MessageIdentifier struct {
	ID        uint
	VersionID uint
	// Created is set when a new row was inserted, stub or real.
	Created bool
	// Promoted is set when a stub became the real message.
	Promoted bool
	// Duplicate is set when the message or version was already stored.
	Duplicate bool
}

// Reference identifies a message another stanza points at. Exactly one
// lookup is used: StanzaID when set, otherwise MessageID scoped by
// OccupantID or Sender when those are set.
type Reference struct {
	StanzaID   string
	MessageID  string
	OccupantID string
	Sender     string
	// Outgoing marks stubs created for messages sent by the account.
	Outgoing bool
}

func (ref Reference) empty() bool {
	return ref.StanzaID == "" && ref.MessageID == ""
}

// MessageRepository is the store of messages, their versions and everything
// attached to them.
type MessageRepository interface {
	GetOrCreateMessage(ctx context.Context, chat *models.Chat, view *MessageView) (*MessageIdentifier, error)
	GetOrCreateVersion(ctx context.Context, chat *models.Chat, view *MessageView, targetID string, modification models.Modification) (*MessageIdentifier, error)
	InsertContents(ctx context.Context, versionID uint, contents []models.MessageContent) error
	InsertState(ctx context.Context, chat *models.Chat, target Reference, state *models.MessageState) (bool, error)
	InsertReactions(ctx context.Context, chat *models.Chat, target Reference, view *MessageView, emojis []string) error
	SetInReplyTo(ctx context.Context, chat *models.Chat, messageID uint, target Reference, fallbackSender, fallbackBody string) error
	GetByID(ctx context.Context, id uint) (*models.Message, error)
	GetMessages(ctx context.Context, chatID uint) ([]models.MessageWithContents, error)
}

type messageRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewMessageRepository returns a new MessageRepository implementation.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db, log: observability.NewRepoLogger("messages")}
}

func (r *messageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	if err := r.db.WithContext(ctx).First(&msg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Message", id)
		}
		return nil, err
	}
	return &msg, nil
}

// GetOrCreateMessage stores the original version of the message described by
// view. A stub with matching identifiers is promoted and keeps its id; an
// already stored real message is reported as duplicate.
func (r *messageRepository) GetOrCreateMessage(ctx context.Context, chat *models.Chat, view *MessageView) (*MessageIdentifier, error) {
	ctx, span := observability.StartStoreSpan(ctx, "GetOrCreateMessage", "messages")
	defer span.End()

	existing, err := r.locate(ctx, chat, view)
	if err != nil {
		return nil, err
	}

	if existing != nil && !existing.Stub {
		if view.StanzaID != "" && existing.StanzaID == "" {
			err := r.db.WithContext(ctx).Model(existing).Update("stanza_id", view.StanzaID).Error
			if err != nil {
				return nil, err
			}
		}
		return &MessageIdentifier{ID: existing.ID, VersionID: derefID(existing.LatestVersionID), Duplicate: true}, nil
	}

	result := &MessageIdentifier{}
	if existing == nil {
		msg := models.Message{
			ChatID:        chat.ID,
			StanzaID:      view.StanzaID,
			MessageID:     view.MessageID,
			SenderBare:    view.Sender,
			SenderAddress: view.SenderAddress,
			OccupantID:    view.OccupantID,
			SentAt:        view.SentAt.UTC(),
			ReceivedAt:    view.ReceivedAt.UTC(),
			Outgoing:      view.Outgoing,
			Modification:  models.ModificationOriginal,
		}
		if err := r.db.WithContext(ctx).Create(&msg).Error; err != nil {
			r.log.LogError(ctx, err, "create")
			return nil, fmt.Errorf("failed to create message: %w", err)
		}
		r.log.LogCreate(ctx, "message_id", msg.ID, "chat_id", chat.ID)
		existing = &msg
		result.Created = true
	} else {
		if err := r.promote(ctx, existing, view); err != nil {
			return nil, err
		}
		result.Promoted = true
	}

	version, err := r.createVersion(ctx, existing.ID, view, models.ModificationOriginal)
	if err != nil {
		return nil, err
	}
	if result.Promoted {
		if err := r.settleClaims(ctx, existing.ID, view.Identity()); err != nil {
			return nil, err
		}
	}
	if err := r.recomputeLatest(ctx, existing.ID); err != nil {
		return nil, err
	}
	result.ID = existing.ID
	result.VersionID = version.ID
	return result, nil
}

// locate finds the row a new message view belongs to, merging stubs created
// under different identifiers of the same group chat message.
func (r *messageRepository) locate(ctx context.Context, chat *models.Chat, view *MessageView) (*models.Message, error) {
	if !chat.Kind.IsMuc() {
		if view.MessageID != "" {
			msg, err := r.find(ctx, chat.ID, Reference{MessageID: view.MessageID, Sender: view.Sender})
			if msg != nil || err != nil {
				return msg, err
			}
		}
		if view.StanzaID != "" {
			return r.find(ctx, chat.ID, Reference{StanzaID: view.StanzaID})
		}
		return nil, nil
	}

	var byStanza, byOccupant *models.Message
	var err error
	if view.StanzaID != "" {
		if byStanza, err = r.find(ctx, chat.ID, Reference{StanzaID: view.StanzaID}); err != nil {
			return nil, err
		}
	}
	if view.OccupantID != "" && view.MessageID != "" {
		byOccupant, err = r.find(ctx, chat.ID, Reference{OccupantID: view.OccupantID, MessageID: view.MessageID})
		if err != nil {
			return nil, err
		}
		// The sender reused a message id for a different message.
		if byOccupant != nil && byOccupant.StanzaID != "" && view.StanzaID != "" && byOccupant.StanzaID != view.StanzaID {
			byOccupant = nil
		}
	}

	switch {
	case byStanza == nil:
		return byOccupant, nil
	case byOccupant == nil || byOccupant.ID == byStanza.ID:
		return byStanza, nil
	case !byStanza.Stub && !byOccupant.Stub:
		return byStanza, nil
	case !byOccupant.Stub:
		return r.merge(ctx, byOccupant, byStanza)
	case !byStanza.Stub || byStanza.ID < byOccupant.ID:
		return r.merge(ctx, byStanza, byOccupant)
	default:
		return r.merge(ctx, byOccupant, byStanza)
	}
}

// find resolves ref within the chat. A sender scoped lookup also matches a
// stub whose sender is not known yet.
func (r *messageRepository) find(ctx context.Context, chatID uint, ref Reference) (*models.Message, error) {
	q := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&models.Message{}).Where("chat_id = ?", chatID)
	}

	var msg models.Message
	var found bool
	var err error
	switch {
	case ref.StanzaID != "":
		found, err = first(q().Where("stanza_id = ?", ref.StanzaID), &msg)
	case ref.MessageID == "":
		return nil, nil
	case ref.OccupantID != "":
		found, err = first(q().Where("occupant_id = ? AND message_id = ?", ref.OccupantID, ref.MessageID), &msg)
	case ref.Sender != "":
		found, err = first(q().Where("sender_bare = ? AND message_id = ?", ref.Sender, ref.MessageID), &msg)
		if err == nil && !found {
			found, err = first(q().Where(
				"message_id = ? AND stub = ? AND sender_bare = '' AND occupant_id = ''",
				ref.MessageID, true,
			), &msg)
		}
	default:
		found, err = first(q().Where("message_id = ?", ref.MessageID), &msg)
	}
	if err != nil || !found {
		return nil, err
	}
	return &msg, nil
}

// resolve finds the message ref points at and creates a stub for it when it
// is not stored yet.
func (r *messageRepository) resolve(ctx context.Context, chat *models.Chat, ref Reference, reason string) (*models.Message, error) {
	msg, err := r.find(ctx, chat.ID, ref)
	if err != nil || msg != nil {
		return msg, err
	}
	return r.createStub(ctx, chat, ref, reason)
}

func (r *messageRepository) createStub(ctx context.Context, chat *models.Chat, ref Reference, reason string) (*models.Message, error) {
	stub := models.Message{
		ChatID:       chat.ID,
		StanzaID:     ref.StanzaID,
		MessageID:    ref.MessageID,
		OccupantID:   ref.OccupantID,
		SenderBare:   ref.Sender,
		Outgoing:     ref.Outgoing,
		ReceivedAt:   time.Now().UTC(),
		Stub:         true,
		Modification: models.ModificationOriginal,
	}
	if err := r.db.WithContext(ctx).Create(&stub).Error; err != nil {
		r.log.LogError(ctx, err, "create_stub")
		return nil, fmt.Errorf("failed to create placeholder message: %w", err)
	}
	observability.StubsCreatedTotal.WithLabelValues(reason).Inc()
	r.log.LogCreate(ctx, "message_id", stub.ID, "chat_id", chat.ID, "stub", reason)
	return &stub, nil
}

func (r *messageRepository) promote(ctx context.Context, stub *models.Message, view *MessageView) error {
	updates := map[string]interface{}{
		"message_id":     view.MessageID,
		"sender_bare":    view.Sender,
		"sender_address": view.SenderAddress,
		"occupant_id":    view.OccupantID,
		"sent_at":        view.SentAt.UTC(),
		"received_at":    view.ReceivedAt.UTC(),
		"outgoing":       view.Outgoing,
		"stub":           false,
	}
	if view.StanzaID != "" {
		updates["stanza_id"] = view.StanzaID
	}
	if err := r.db.WithContext(ctx).Model(stub).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to promote placeholder message: %w", err)
	}
	observability.StubsPromotedTotal.Inc()
	r.log.LogUpdate(ctx, "message_id", stub.ID, "promoted", true)
	return nil
}

// merge folds the stub other into survivor and deletes it.
func (r *messageRepository) merge(ctx context.Context, survivor, other *models.Message) (*models.Message, error) {
	db := r.db.WithContext(ctx)

	if err := db.Model(&models.MessageVersion{}).
		Where("message_id = ?", other.ID).
		Update("message_id", survivor.ID).Error; err != nil {
		return nil, err
	}

	held := r.db.WithContext(ctx).Model(&models.MessageReaction{}).
		Select("by_identity").
		Where("message_id = ?", survivor.ID)
	if err := db.Where("message_id = ? AND by_identity IN (?)", other.ID, held).
		Delete(&models.MessageReaction{}).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.MessageReaction{}).
		Where("message_id = ?", other.ID).
		Update("message_id", survivor.ID).Error; err != nil {
		return nil, err
	}

	if err := db.Where(`message_id = ? AND EXISTS (
			SELECT 1 FROM message_states s
			WHERE s.message_id = ? AND s.kind = message_states.kind AND s.by_identity = message_states.by_identity)`,
		other.ID, survivor.ID).Delete(&models.MessageState{}).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.MessageState{}).
		Where("message_id = ?", other.ID).
		Update("message_id", survivor.ID).Error; err != nil {
		return nil, err
	}

	if err := db.Model(&models.Message{}).
		Where("in_reply_to_id = ?", other.ID).
		Update("in_reply_to_id", survivor.ID).Error; err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"modification": survivor.Modification.Max(other.Modification),
	}
	fill := func(column, have, from string) {
		if have == "" && from != "" {
			updates[column] = from
		}
	}
	fill("stanza_id", survivor.StanzaID, other.StanzaID)
	fill("message_id", survivor.MessageID, other.MessageID)
	fill("occupant_id", survivor.OccupantID, other.OccupantID)
	fill("sender_bare", survivor.SenderBare, other.SenderBare)
	if survivor.InReplyToID == nil && other.InReplyToID != nil {
		updates["in_reply_to_id"] = *other.InReplyToID
		updates["in_reply_to_sender"] = other.InReplyToSender
		updates["in_reply_to_body"] = other.InReplyToBody
	}
	if err := db.Model(survivor).Updates(updates).Error; err != nil {
		return nil, err
	}
	if err := db.Delete(&models.Message{}, other.ID).Error; err != nil {
		return nil, err
	}
	r.log.LogDelete(ctx, "message_id", other.ID, "merged_into", survivor.ID)

	if !survivor.Stub {
		if err := r.settleClaims(ctx, survivor.ID, survivor.SenderIdentity()); err != nil {
			return nil, err
		}
	}
	if err := r.recomputeLatest(ctx, survivor.ID); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, survivor.ID)
}

// GetOrCreateVersion appends a correction or retraction version to the
// message targetID refers to. The target is created as a stub when it is not
// stored yet. ErrIdentityMismatch is returned when the view's sender is not
// the target's author.
func (r *messageRepository) GetOrCreateVersion(ctx context.Context, chat *models.Chat, view *MessageView, targetID string, modification models.Modification) (*MessageIdentifier, error) {
	ctx, span := observability.StartStoreSpan(ctx, "GetOrCreateVersion", "message_versions")
	defer span.End()

	identity := view.Identity()
	if identity == "" {
		return nil, ErrUnidentifiableSender
	}

	reason := "correction"
	if modification == models.ModificationRetraction {
		reason = "retraction"
	}

	target, created, err := r.locateTarget(ctx, chat, view, targetID, reason)
	if err != nil {
		return nil, err
	}
	if !created {
		if err := checkAuthor(target, view); err != nil {
			return nil, err
		}
	}

	if dup, err := r.findVersion(ctx, target.ID, view, modification); err != nil || dup != nil {
		if dup != nil {
			return &MessageIdentifier{ID: target.ID, VersionID: dup.ID, Duplicate: true}, nil
		}
		return nil, err
	}

	version, err := r.createVersion(ctx, target.ID, view, modification)
	if err != nil {
		return nil, err
	}
	if next := target.Modification.Max(modification); next != target.Modification {
		if err := r.db.WithContext(ctx).Model(target).Update("modification", next).Error; err != nil {
			return nil, err
		}
	}
	if err := r.recomputeLatest(ctx, target.ID); err != nil {
		return nil, err
	}
	return &MessageIdentifier{ID: target.ID, VersionID: version.ID, Created: created}, nil
}

// locateTarget finds the message a correction or retraction refers to. In
// group chats the target is the sender's own message id, or else a stanza id.
// Elsewhere any message with the id is a candidate so foreign corrections can
// be detected.
func (r *messageRepository) locateTarget(ctx context.Context, chat *models.Chat, view *MessageView, targetID, reason string) (*models.Message, bool, error) {
	var own, other Reference
	if chat.Kind.IsMuc() {
		own = Reference{OccupantID: view.OccupantID, MessageID: targetID}
		other = Reference{StanzaID: targetID}
	} else {
		own = Reference{Sender: view.Sender, MessageID: targetID, Outgoing: view.Outgoing}
		other = Reference{MessageID: targetID}
	}

	msg, err := r.find(ctx, chat.ID, own)
	if err != nil || msg != nil {
		return msg, false, err
	}
	if msg, err = r.find(ctx, chat.ID, other); err != nil || msg != nil {
		return msg, false, err
	}
	// One-to-one stubs stay without a sender: reactions and markers from
	// either party anchor on them, and the author is only known once the
	// message itself arrives.
	if !chat.Kind.IsMuc() {
		own = Reference{MessageID: targetID, Outgoing: view.Outgoing}
	}
	stub, err := r.createStub(ctx, chat, own, reason)
	return stub, stub != nil, err
}

// checkAuthor verifies the view's sender wrote target. A stub without a
// known sender accepts the version on trial; settleClaims drops it when the
// message turns out to be someone else's.
func checkAuthor(target *models.Message, view *MessageView) error {
	current := target.SenderIdentity()
	switch {
	case current == "" && target.Stub:
		return nil
	case current != "" && current == view.Identity():
		return nil
	default:
		return ErrIdentityMismatch
	}
}

// settleClaims removes the corrections and retractions of message that were
// not sent by author, then derives the modification from what is left.
func (r *messageRepository) settleClaims(ctx context.Context, messageID uint, author string) error {
	db := r.db.WithContext(ctx)

	var foreign []uint
	err := db.Model(&models.MessageVersion{}).
		Where("message_id = ? AND modification <> ? AND by_identity <> ?", messageID, models.ModificationOriginal, author).
		Pluck("id", &foreign).Error
	if err != nil {
		return err
	}
	if len(foreign) > 0 {
		if err := db.Where("version_id IN ?", foreign).Delete(&models.MessageContent{}).Error; err != nil {
			return err
		}
		if err := db.Where("id IN ?", foreign).Delete(&models.MessageVersion{}).Error; err != nil {
			return err
		}
		observability.ForeignVersionsDroppedTotal.Add(float64(len(foreign)))
		r.log.LogDelete(ctx, "message_id", messageID, "foreign_versions", len(foreign))
	}

	var kinds []models.Modification
	err = db.Model(&models.MessageVersion{}).
		Where("message_id = ?", messageID).
		Distinct().Pluck("modification", &kinds).Error
	if err != nil {
		return err
	}
	modification := models.ModificationOriginal
	for _, kind := range kinds {
		modification = modification.Max(kind)
	}
	return db.Model(&models.Message{}).Where("id = ?", messageID).Update("modification", modification).Error
}

func (r *messageRepository) findVersion(ctx context.Context, messageID uint, view *MessageView, modification models.Modification) (*models.MessageVersion, error) {
	if view.MessageID == "" && view.StanzaID == "" {
		return nil, nil
	}
	q := r.db.WithContext(ctx).Model(&models.MessageVersion{}).
		Where("message_id = ? AND modification = ?", messageID, modification)
	switch {
	case view.StanzaID != "" && view.MessageID != "":
		q = q.Where("origin_stanza_id = ? OR origin_message_id = ?", view.StanzaID, view.MessageID)
	case view.StanzaID != "":
		q = q.Where("origin_stanza_id = ?", view.StanzaID)
	default:
		q = q.Where("origin_message_id = ?", view.MessageID)
	}
	var version models.MessageVersion
	found, err := first(q, &version)
	if err != nil || !found {
		return nil, err
	}
	return &version, nil
}

func (r *messageRepository) createVersion(ctx context.Context, messageID uint, view *MessageView, modification models.Modification) (*models.MessageVersion, error) {
	var order int
	err := r.db.WithContext(ctx).Model(&models.MessageVersion{}).
		Select("COALESCE(MAX(received_order), 0)").
		Where("message_id = ?", messageID).
		Scan(&order).Error
	if err != nil {
		return nil, err
	}
	version := models.MessageVersion{
		MessageID:       messageID,
		Modification:    modification,
		OriginMessageID: view.MessageID,
		OriginStanzaID:  view.StanzaID,
		SentAt:          view.SentAt.UTC(),
		ReceivedAt:      view.ReceivedAt.UTC(),
		ReceivedOrder:   order + 1,
		ByIdentity:      view.Identity(),
		Encryption:      view.Encryption,
		IdentityKey:     view.IdentityKey,
	}
	if err := r.db.WithContext(ctx).Create(&version).Error; err != nil {
		return nil, fmt.Errorf("failed to create message version: %w", err)
	}
	return &version, nil
}

// recomputeLatest points the message at its latest version and refreshes the
// snippets of replies to it.
func (r *messageRepository) recomputeLatest(ctx context.Context, messageID uint) error {
	var versions []models.MessageVersion
	if err := r.db.WithContext(ctx).Where("message_id = ?", messageID).Find(&versions).Error; err != nil {
		return err
	}
	var latest *models.MessageVersion
	for i := range versions {
		if latest == nil || versions[i].Supersedes(latest) {
			latest = &versions[i]
		}
	}
	var latestID interface{}
	if latest != nil {
		latestID = latest.ID
	}
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", messageID).
		Update("latest_version_id", latestID).Error
	if err != nil {
		return err
	}
	return r.refreshReplySnippets(ctx, messageID)
}

// InsertContents stores the parts of a version in order.
func (r *messageRepository) InsertContents(ctx context.Context, versionID uint, contents []models.MessageContent) error {
	if len(contents) == 0 {
		return nil
	}
	rows := make([]models.MessageContent, len(contents))
	for i, c := range contents {
		c.ID = 0
		c.VersionID = versionID
		c.Position = i
		rows[i] = c
	}
	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to insert message contents: %w", err)
	}

	var version models.MessageVersion
	if err := r.db.WithContext(ctx).First(&version, versionID).Error; err != nil {
		return err
	}
	return r.refreshReplySnippets(ctx, version.MessageID)
}

func derefID(id *uint) uint {
	if id == nil {
		return 0
	}
	return *id
}
