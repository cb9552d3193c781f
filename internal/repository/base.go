// Package repository implements the data access layer: chats, messages and
// everything attached to them.
package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Store bundles the repositories of one database handle. Inside
// RunInTransaction every repository shares the transaction.
type Store struct {
	db       *gorm.DB
	accounts AccountRepository
	chats    ChatRepository
	messages MessageRepository
	archives ArchiveRepository
}

// NewStore returns a Store backed by db.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:       db,
		accounts: NewAccountRepository(db),
		chats:    NewChatRepository(db),
		messages: NewMessageRepository(db),
		archives: NewArchiveRepository(db),
	}
}

// DB returns the underlying handle.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Accounts() AccountRepository { return s.accounts }
func (s *Store) Chats() ChatRepository       { return s.chats }
func (s *Store) Messages() MessageRepository { return s.messages }
func (s *Store) Archives() ArchiveRepository { return s.archives }

// RunInTransaction runs fn with a Store bound to a new transaction. The
// transaction commits when fn returns nil and rolls back otherwise, including
// when ctx is cancelled.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// first loads the lowest-id row matched by q into dest. It reports false
// without an error when nothing matched.
func first(q *gorm.DB, dest interface{}) (bool, error) {
	err := q.Order("id ASC").First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
