package transformer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"parley/internal/models"
	"parley/internal/observability"
	"parley/internal/repository"
	"parley/internal/stanza"

	"go.opentelemetry.io/otel/attribute"
	"mellium.im/xmpp/jid"
)

// Transformer applies message stanzas of one account.
type Transformer struct {
	store     *repository.Store
	account   *models.Account
	address   jid.JID
	decryptor Decryptor
	notifier  ChangeNotifier
	now       func() time.Time
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithDecryptor sets the Decryptor used for encrypted messages. Without one,
// encrypted messages are treated as undecryptable.
func WithDecryptor(d Decryptor) Option {
	return func(t *Transformer) { t.decryptor = d }
}

// WithNotifier sets the ChangeNotifier told about committed changes.
func WithNotifier(n ChangeNotifier) Option {
	return func(t *Transformer) { t.notifier = n }
}

// New returns a Transformer for account.
func New(store *repository.Store, account *models.Account, opts ...Option) (*Transformer, error) {
	address, err := jid.Parse(account.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid account address %q: %w", account.Address, err)
	}
	t := &Transformer{
		store:   store,
		account: account,
		address: address.Bare(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Address is the bare address of the account the transformer works for.
func (t *Transformer) Address() jid.JID {
	return t.address
}

// outcome is what applying one stanza did.
type outcome struct {
	receipt bool
	kind    string
	chatID  uint
}

// Transform applies one stanza in its own transaction and reports whether
// it produced something worth a delivery receipt. Only storage errors are
// returned; the transaction is rolled back and the caller may retry.
func (t *Transformer) Transform(ctx context.Context, tr *Transformation) (bool, error) {
	defer observability.TrackTransformation("live")()
	ctx = t.context(ctx)
	ctx, span := observability.StartTransformSpan(ctx, "Transform",
		attribute.String("message.id", tr.Message.ID),
		attribute.String("message.type", string(tr.Message.Type)),
	)
	defer span.End()

	var result outcome
	err := t.store.RunInTransaction(ctx, func(tx *repository.Store) error {
		var err error
		if result, err = t.apply(ctx, tx, tr); err != nil {
			return err
		}
		if tr.StanzaID != "" && !tr.Archived {
			return tx.Archives().Advance(ctx, t.account.ID, t.archiveOf(tr.Message), tr.StanzaID)
		}
		return nil
	})
	if err != nil {
		observability.FailSpan(span, err)
		observability.RecordTransformation(observability.OutcomeFailed)
		observability.GlobalLogger.ErrorContext(ctx, "transformation failed",
			slog.String("message_id", tr.Message.ID),
			slog.String("error", err.Error()),
		)
		return false, err
	}

	observability.RecordTransformation(result.kind)
	t.afterCommit(ctx, result.chatID)
	return result.receipt, nil
}

// TransformBatch applies one page of archive results in a single transaction
// and records the newest stanza id of the page as the archive's checkpoint.
func (t *Transformer) TransformBatch(ctx context.Context, archive jid.JID, batch []*Transformation) error {
	defer observability.TrackTransformation("archive")()
	ctx = t.context(ctx)
	ctx, span := observability.StartTransformSpan(ctx, "TransformBatch",
		attribute.String("archive", archive.Bare().String()),
		attribute.Int("batch.size", len(batch)),
	)
	defer span.End()

	var kinds []string
	var chatIDs []uint
	err := t.store.RunInTransaction(ctx, func(tx *repository.Store) error {
		kinds, chatIDs = kinds[:0], chatIDs[:0]
		var last string
		for _, tr := range batch {
			result, err := t.apply(ctx, tx, tr)
			if err != nil {
				return err
			}
			kinds = append(kinds, result.kind)
			if result.chatID != 0 {
				chatIDs = append(chatIDs, result.chatID)
			}
			if tr.StanzaID != "" {
				last = tr.StanzaID
			}
		}
		return tx.Archives().Advance(ctx, t.account.ID, archive.Bare().String(), last)
	})
	if err != nil {
		observability.FailSpan(span, err)
		observability.RecordTransformation(observability.OutcomeFailed)
		return err
	}

	for _, kind := range kinds {
		observability.RecordTransformation(kind)
	}
	t.afterCommit(ctx, chatIDs...)
	return nil
}

func (t *Transformer) context(ctx context.Context) context.Context {
	if observability.ExtractCorrelationID(ctx) == "" {
		ctx = observability.WithCorrelationID(ctx, observability.GenerateCorrelationID())
	}
	return observability.WithAccount(ctx, t.account.Address)
}

func (t *Transformer) archiveOf(msg *stanza.Message) string {
	if msg.Type == stanza.TypeGroupchat {
		return msg.From.Bare().String()
	}
	return t.address.String()
}

func (t *Transformer) afterCommit(ctx context.Context, chatIDs ...uint) {
	if t.decryptor != nil {
		t.decryptor.PostTransactionHook(ctx)
	}
	if t.notifier == nil || len(chatIDs) == 0 {
		return
	}
	seen := make(map[uint]bool, len(chatIDs))
	unique := make([]uint, 0, len(chatIDs))
	for _, id := range chatIDs {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	t.notifier.ChatsChanged(ctx, t.account.ID, unique)
}

// apply runs the transformation of one stanza inside tx.
func (t *Transformer) apply(ctx context.Context, tx *repository.Store, tr *Transformation) (outcome, error) {
	msg := tr.Message
	outgoing := msg.From.Bare().Equal(t.address)
	remote := msg.From
	if outgoing {
		remote = msg.To
	}
	if remote.Domainpart() == "" {
		t.drop(ctx, msg, "no remote address", nil)
		return outcome{kind: observability.OutcomeDropped}, nil
	}

	chat, err := tx.Chats().GetOrCreate(ctx, t.account.ID, remote, msg.Type, msg.HasMucUser())
	if err != nil {
		return outcome{}, err
	}
	result := outcome{chatID: chat.ID}
	view := t.view(chat, tr, outgoing)
	messages := tx.Messages()

	if msg.Type == stanza.TypeError {
		result.kind = observability.OutcomeErrorStanza
		if outgoing {
			t.drop(ctx, msg, "outgoing error", nil)
			return result, nil
		}
		state := &models.MessageState{Kind: models.StateError, ByIdentity: stateIdentity(view, remote)}
		if e := msg.Error(); e != nil {
			state.ErrorCondition = e.Condition
			state.ErrorText = e.Text
		}
		target := t.ownReference(msg.ID)
		if chat.Kind.IsMuc() {
			target = repository.Reference{MessageID: msg.ID}
		}
		if _, err := messages.InsertState(ctx, chat, target, state); err != nil {
			return result, t.tolerate(ctx, msg, err)
		}
		return result, nil
	}

	contents, keyTransport, err := t.decode(ctx, msg)
	if err != nil {
		return result, err
	}
	if keyTransport != nil {
		result.kind = observability.OutcomeKeyTransport
		result.receipt = *keyTransport
		result.chatID = 0
		return result, nil
	}
	if contents == nil {
		result.kind = observability.OutcomeDecryptFailed
		contents = &ContentWrapper{}
	}
	view.Encryption = contents.Encryption
	view.IdentityKey = contents.IdentityKey

	identifiable := msg.Type == stanza.TypeNormal || msg.Type == stanza.TypeChat || view.OccupantID != ""
	reactions := msg.Reactions()
	isReaction := reactions != nil && reactions.ID != "" && identifiable
	isCorrection := msg.Replace() != "" && identifiable
	isRetraction := msg.Retract() != "" && identifiable
	if !identifiable && (reactions != nil || msg.HasReplace() || msg.HasRetract()) {
		t.drop(ctx, msg, "unidentifiable sender", ErrUnidentifiableSender)
	} else if reactions != nil && reactions.ID == "" {
		t.drop(ctx, msg, "reactions without id", ErrInvalidExtension)
	}

	switch {
	case isRetraction:
		id, err := messages.GetOrCreateVersion(ctx, chat, view, msg.Retract(), models.ModificationRetraction)
		if err != nil {
			return t.reject(ctx, msg, result, err)
		}
		if !id.Duplicate {
			retraction := []models.MessageContent{{Type: models.PartTypeRetraction}}
			if err := messages.InsertContents(ctx, id.VersionID, retraction); err != nil {
				return result, err
			}
		}
		result.kind = observability.OutcomeRetraction
		result.receipt = true
		return result, nil

	case !contents.IsEmpty():
		var id *repository.MessageIdentifier
		if isCorrection {
			result.kind = observability.OutcomeCorrection
			if id, err = messages.GetOrCreateVersion(ctx, chat, view, msg.Replace(), models.ModificationCorrection); err != nil {
				return t.reject(ctx, msg, result, err)
			}
		} else {
			result.kind = observability.OutcomeContent
			if id, err = messages.GetOrCreateMessage(ctx, chat, view); err != nil {
				return result, err
			}
			if chat.Archived && !id.Duplicate {
				if err := tx.Chats().SetArchived(ctx, chat.ID, false); err != nil {
					return result, err
				}
			}
		}
		result.receipt = true
		if id.Duplicate {
			result.kind = observability.OutcomeDuplicate
			return result, nil
		}
		if err := messages.InsertContents(ctx, id.VersionID, contents.Contents); err != nil {
			return result, err
		}
		if err := t.reply(ctx, messages, chat, id.ID, msg); err != nil {
			return result, err
		}
		return result, nil

	default:
		if result.kind == "" {
			result.kind = observability.OutcomeState
		}
		if err := t.markers(ctx, messages, chat, view, msg); err != nil {
			return result, err
		}
		if isReaction {
			target := repository.Reference{MessageID: reactions.ID}
			if chat.Kind.IsMuc() {
				target = repository.Reference{StanzaID: reactions.ID}
			}
			if err := messages.InsertReactions(ctx, chat, target, view, reactions.Emojis); err != nil {
				return t.reject(ctx, msg, result, err)
			}
			result.kind = observability.OutcomeReaction
			result.receipt = true
		}
		return result, nil
	}
}

// decode returns the content of msg. For key transport envelopes it returns
// whether the decryptor advanced its state instead; for envelopes that cannot
// be opened it returns nil content.
func (t *Transformer) decode(ctx context.Context, msg *stanza.Message) (*ContentWrapper, *bool, error) {
	encrypted, err := msg.Encrypted()
	if err != nil {
		t.drop(ctx, msg, "malformed encrypted element", err)
		return nil, nil, nil
	}
	if encrypted == nil {
		return parseCleartext(msg), nil, nil
	}
	if t.decryptor == nil {
		t.drop(ctx, msg, "no decryptor configured", ErrDecryptionFailed)
		return nil, nil, nil
	}
	if !encrypted.HasPayload() {
		advanced := t.decryptor.DecryptEmpty(ctx, msg.From, encrypted)
		return nil, &advanced, nil
	}
	contents, err := t.decryptor.DecryptPayload(ctx, msg.From, encrypted)
	if err != nil {
		t.drop(ctx, msg, "could not decrypt message", fmt.Errorf("%w: %v", ErrDecryptionFailed, err))
		return nil, nil, nil
	}
	return contents, nil, nil
}

// markers records receipts and chat markers about messages the account sent.
func (t *Transformer) markers(ctx context.Context, messages repository.MessageRepository, chat *models.Chat, view *repository.MessageView, msg *stanza.Message) error {
	marks := []struct {
		id   string
		kind models.StateKind
	}{
		{msg.Displayed(), models.StateDisplayed},
		{msg.Delivered(), models.StateDelivered},
	}
	for _, mark := range marks {
		if mark.id == "" {
			continue
		}
		if view.Outgoing {
			t.drop(ctx, msg, "outgoing marker", nil)
			continue
		}
		target := t.ownReference(mark.id)
		if chat.Kind.IsMuc() {
			target = repository.Reference{StanzaID: mark.id}
		}
		state := &models.MessageState{Kind: mark.kind, ByIdentity: stateIdentity(view, msg.From)}
		// Markers and receipts are never acknowledged with a receipt, so
		// whether a row or placeholder was created does not matter here.
		if _, err := messages.InsertState(ctx, chat, target, state); err != nil {
			if err := t.tolerate(ctx, msg, err); err != nil {
				return err
			}
		}
	}
	return nil
}

// reply links a message to the message it replies to.
func (t *Transformer) reply(ctx context.Context, messages repository.MessageRepository, chat *models.Chat, messageID uint, msg *stanza.Message) error {
	reply := msg.Reply()
	if reply == nil {
		return nil
	}
	if reply.ID == "" || reply.To == "" {
		t.drop(ctx, msg, "reply without target", ErrInvalidExtension)
		return nil
	}
	to, err := jid.Parse(reply.To)
	if err != nil {
		t.drop(ctx, msg, "reply to invalid address", err)
		return nil
	}

	var target repository.Reference
	switch chat.Kind {
	case models.ChatKindMuc:
		target = repository.Reference{StanzaID: reply.ID}
	case models.ChatKindMucPm:
		target = repository.Reference{MessageID: reply.ID, Sender: to.String()}
	default:
		target = repository.Reference{MessageID: reply.ID, Sender: to.Bare().String()}
	}
	if to.Bare().Equal(t.address) && chat.Kind != models.ChatKindMuc {
		target.Sender = t.address.String()
		target.Outgoing = true
	}

	_, fallback := msg.BodyWithoutFallback(stanza.NSReply)
	sender := to.Bare().String()
	if chat.Kind != models.ChatKindIndividual {
		sender = to.String()
	}
	err = messages.SetInReplyTo(ctx, chat, messageID, target, sender, quoteText(fallback))
	return t.tolerate(ctx, msg, err)
}

// ownReference points at a message the account sent in a one-to-one chat.
func (t *Transformer) ownReference(messageID string) repository.Reference {
	return repository.Reference{MessageID: messageID, Sender: t.address.String(), Outgoing: true}
}

// view extracts the identifiers of msg as stored for chat.
func (t *Transformer) view(chat *models.Chat, tr *Transformation, outgoing bool) *repository.MessageView {
	msg := tr.Message
	view := &repository.MessageView{
		MessageID:  msg.ID,
		StanzaID:   tr.StanzaID,
		Outgoing:   outgoing,
		SentAt:     tr.SentAt,
		ReceivedAt: tr.ReceivedAt,
	}
	if view.ReceivedAt.IsZero() {
		view.ReceivedAt = t.now()
	}
	if view.SentAt.IsZero() {
		view.SentAt = view.ReceivedAt
	}
	switch chat.Kind {
	case models.ChatKindMuc:
		view.OccupantID = msg.OccupantID()
		view.SenderAddress = msg.From.String()
	case models.ChatKindMucPm:
		view.OccupantID = msg.OccupantID()
		view.SenderAddress = msg.From.String()
		view.Sender = msg.From.String()
		if outgoing {
			view.Sender = t.address.String()
			view.SenderAddress = t.address.String()
		}
	default:
		view.Sender = msg.From.Bare().String()
		view.SenderAddress = view.Sender
	}
	return view
}

// stateIdentity is who a receipt, marker or error is attributed to.
func stateIdentity(view *repository.MessageView, from jid.JID) string {
	if id := view.Identity(); id != "" {
		return id
	}
	if view.SenderAddress != "" {
		return view.SenderAddress
	}
	return from.String()
}

// reject folds the errors that drop a stanza into the result and returns
// every other error.
func (t *Transformer) reject(ctx context.Context, msg *stanza.Message, result outcome, err error) (outcome, error) {
	if err := t.tolerate(ctx, msg, err); err != nil {
		return result, err
	}
	result.kind = observability.OutcomeDropped
	result.receipt = false
	return result, nil
}

func (t *Transformer) tolerate(ctx context.Context, msg *stanza.Message, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrIdentityMismatch),
		errors.Is(err, repository.ErrUnidentifiableSender),
		errors.Is(err, repository.ErrInvalidReference):
		t.drop(ctx, msg, "ignored stanza", err)
		return nil
	default:
		return err
	}
}

func (t *Transformer) drop(ctx context.Context, msg *stanza.Message, reason string, err error) {
	attrs := []any{
		slog.String("reason", reason),
		slog.String("message_id", msg.ID),
		slog.String("from", msg.From.String()),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	observability.GlobalLogger.InfoContext(ctx, "dropping part of message stanza", attrs...)
}
