package database

import "parley/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.Account{},
		&models.Chat{},
		&models.Bookmark{},
		&models.Message{},
		&models.MessageVersion{},
		&models.MessageContent{},
		&models.MessageState{},
		&models.MessageReaction{},
		&models.ArchivePage{},
	}
}
