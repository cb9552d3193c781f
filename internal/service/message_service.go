package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"parley/internal/middleware"
	"parley/internal/models"
	"parley/internal/repository"
	"parley/internal/stanza"
	"parley/internal/transformer"

	"mellium.im/xmpp/jid"
)

// IngestResult reports what ingesting one stanza did.
type IngestResult struct {
	// Receipt is set when the stanza deserves a delivery receipt. It is
	// never set for archive results.
	Receipt  bool `json:"receipt"`
	Archived bool `json:"archived"`
}

// MessageService feeds raw message stanzas of local accounts into the
// transformer.
type MessageService struct {
	store     *repository.Store
	decryptor transformer.Decryptor
	notifier  transformer.ChangeNotifier
	now       func() time.Time

	mu           sync.Mutex
	transformers map[uint]*transformer.Transformer
}

// NewMessageService returns a MessageService. decryptor and notifier may be nil.
func NewMessageService(store *repository.Store, decryptor transformer.Decryptor, notifier transformer.ChangeNotifier) *MessageService {
	return &MessageService{
		store:        store,
		decryptor:    decryptor,
		notifier:     notifier,
		now:          time.Now,
		transformers: make(map[uint]*transformer.Transformer),
	}
}

// Ingest parses one stanza received by the account and applies it. A XEP-0313
// result is unwrapped and applied as a single element archive page.
func (s *MessageService) Ingest(ctx context.Context, address string, r io.Reader) (*IngestResult, error) {
	msg, err := stanza.Parse(r)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	t, err := s.transformerFor(ctx, address)
	if err != nil {
		return nil, err
	}

	result, err := msg.ArchiveResult()
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if result != nil {
		tr, err := transformer.FromArchive(result, s.now())
		if err != nil {
			return nil, models.NewValidationError(err.Error())
		}
		if err := t.TransformBatch(ctx, archiveOf(t, msg), []*transformer.Transformation{tr}); err != nil {
			return nil, err
		}
		return &IngestResult{Archived: true}, nil
	}

	receipt, err := t.Transform(ctx, transformer.FromLive(msg, t.Address(), s.now()))
	if err != nil {
		return nil, err
	}
	return &IngestResult{Receipt: receipt}, nil
}

// IngestPage applies a page of archive results in one transaction. Every
// element of raws must be a <message/> wrapping a XEP-0313 result and all of
// them must come from the same archive.
func (s *MessageService) IngestPage(ctx context.Context, address string, raws []string) error {
	if len(raws) == 0 {
		return nil
	}
	t, err := s.transformerFor(ctx, address)
	if err != nil {
		return err
	}

	var archive jid.JID
	batch := make([]*transformer.Transformation, 0, len(raws))
	for i, raw := range raws {
		msg, err := stanza.ParseString(raw)
		if err != nil {
			return models.NewValidationError(fmt.Sprintf("result %d: %v", i, err))
		}
		result, err := msg.ArchiveResult()
		if err != nil {
			return models.NewValidationError(fmt.Sprintf("result %d: %v", i, err))
		}
		if result == nil {
			return models.NewValidationError(fmt.Sprintf("result %d is not an archive result", i))
		}
		from := archiveOf(t, msg)
		if i == 0 {
			archive = from
		} else if !from.Equal(archive) {
			return models.NewValidationError(fmt.Sprintf("result %d comes from %s, not %s", i, from, archive))
		}
		tr, err := transformer.FromArchive(result, s.now())
		if err != nil {
			return models.NewValidationError(err.Error())
		}
		batch = append(batch, tr)
	}
	return t.TransformBatch(ctx, archive, batch)
}

// Checkpoint returns the newest stanza id stored from archive for the account.
func (s *MessageService) Checkpoint(ctx context.Context, address, archive string) (string, error) {
	account, err := s.store.Accounts().GetByAddress(ctx, address)
	if err != nil {
		return "", err
	}
	return s.store.Archives().LastStanzaID(ctx, account.ID, archive)
}

func (s *MessageService) transformerFor(ctx context.Context, address string) (*transformer.Transformer, error) {
	addr, err := jid.Parse(address)
	if err != nil || addr.Localpart() == "" {
		return nil, models.NewValidationError("invalid account address " + address)
	}
	account, err := s.store.Accounts().GetOrCreate(ctx, addr.Bare().String())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.transformers[account.ID]; ok {
		return t, nil
	}
	t, err := transformer.New(s.store, account,
		transformer.WithDecryptor(s.decryptor),
		transformer.WithNotifier(s.notifier),
	)
	if err != nil {
		return nil, err
	}
	s.transformers[account.ID] = t
	middleware.Logger.DebugContext(ctx, "transformer ready", slog.String("account", account.Address))
	return t, nil
}

// archiveOf is the archive a result was delivered from: the sender of the
// wrapping message, or the account's own archive when it has none.
func archiveOf(t *transformer.Transformer, msg *stanza.Message) jid.JID {
	if msg.From.Domainpart() == "" {
		return t.Address()
	}
	return msg.From.Bare()
}
