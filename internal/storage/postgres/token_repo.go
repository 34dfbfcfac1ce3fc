package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jkaninda/warden/internal/confirmation"
)

// TokenRepository implements confirmation.Repository over the
// confirmation_tokens table.
type TokenRepository struct {
	db *gorm.DB
}

// NewTokenRepository creates a TokenRepository.
func NewTokenRepository(db *gorm.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Insert stores a freshly issued token.
func (r *TokenRepository) Insert(ctx context.Context, tok *confirmation.Token) error {
	model := toTokenModel(tok)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("inserting confirmation token: %w", err)
	}
	return nil
}

// Consume reads and deletes a token. Only the caller whose DELETE removed
// the row gets the token back; concurrent losers see ErrNotFound.
func (r *TokenRepository) Consume(ctx context.Context, value string) (*confirmation.Token, error) {
	db := r.db.WithContext(ctx)

	var model ConfirmationTokenModel
	if err := db.Where("token = ?", value).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, confirmation.ErrNotFound
		}
		return nil, fmt.Errorf("reading confirmation token: %w", err)
	}

	res := db.Where("token = ?", value).Delete(&ConfirmationTokenModel{})
	if res.Error != nil {
		return nil, fmt.Errorf("consuming confirmation token: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, confirmation.ErrNotFound
	}
	return toToken(&model), nil
}

// DeleteExpired removes tokens that expired at or before the given time.
func (r *TokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", before.UTC()).Delete(&ConfirmationTokenModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting expired confirmation tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Ping checks the underlying connection.
func (r *TokenRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

var _ confirmation.Repository = (*TokenRepository)(nil)
