package repository

import (
	"context"
	"errors"

	"parley/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ArchiveRepository keeps the catch-up checkpoint of each archive.
type ArchiveRepository interface {
	Advance(ctx context.Context, accountID uint, archive, stanzaID string) error
	LastStanzaID(ctx context.Context, accountID uint, archive string) (string, error)
}

type archiveRepository struct {
	db *gorm.DB
}

// NewArchiveRepository returns a new ArchiveRepository implementation.
func NewArchiveRepository(db *gorm.DB) ArchiveRepository {
	return &archiveRepository{db: db}
}

// Advance records stanzaID as the newest stanza seen from archive.
func (r *archiveRepository) Advance(ctx context.Context, accountID uint, archive, stanzaID string) error {
	if stanzaID == "" {
		return nil
	}
	page := models.ArchivePage{AccountID: accountID, Archive: archive, LastStanzaID: stanzaID}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "archive"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_stanza_id", "updated_at"}),
	}).Create(&page).Error
}

func (r *archiveRepository) LastStanzaID(ctx context.Context, accountID uint, archive string) (string, error) {
	var page models.ArchivePage
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND archive = ?", accountID, archive).
		First(&page).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return page.LastStanzaID, nil
}
