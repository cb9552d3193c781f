package repository

import (
	"context"
	"errors"
	"strings"

	"parley/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountRepository defines persistence operations for local accounts.
type AccountRepository interface {
	GetOrCreate(ctx context.Context, address string) (*models.Account, error)
	GetByID(ctx context.Context, id uint) (*models.Account, error)
	GetByAddress(ctx context.Context, address string) (*models.Account, error)
	List(ctx context.Context) ([]models.Account, error)
}

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository returns a new AccountRepository implementation.
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) GetOrCreate(ctx context.Context, address string) (*models.Account, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return nil, models.NewValidationError("account address is required")
	}
	account := models.Account{Address: address, Enabled: true}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&account).Error; err != nil {
		return nil, err
	}
	return r.GetByAddress(ctx, address)
}

func (r *accountRepository) GetByID(ctx context.Context, id uint) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Account", id)
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) GetByAddress(ctx context.Context, address string) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).Where("address = ?", strings.ToLower(address)).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Account", address)
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) List(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	err := r.db.WithContext(ctx).Order("id ASC").Find(&accounts).Error
	return accounts, err
}
