package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// GormTokenStore keeps one long-lived token row per account. A second login
// returns the existing key.
type GormTokenStore struct {
	db *gorm.DB
}

// NewGormTokenStore shares the connection pool of an opened GormStore.
func NewGormTokenStore(db *gorm.DB) *GormTokenStore {
	return &GormTokenStore{db: db}
}

// IssueToken returns the account's token, creating it on first use.
func (s *GormTokenStore) IssueToken(ctx context.Context, userID string) (string, error) {
	if key, ok, err := s.tokenForUser(ctx, userID); err != nil || ok {
		return key, err
	}
	key, err := newTokenKey()
	if err != nil {
		return "", err
	}
	model := TokenModel{Token: key, UserID: userID, CreatedAt: time.Now().UTC()}
	if createErr := s.db.WithContext(ctx).Create(&model).Error; createErr != nil {
		if !isDuplicate(createErr) {
			return "", fmt.Errorf("create token: %w", createErr)
		}
		// Lost a race with a concurrent login for the same account.
		key, ok, err := s.tokenForUser(ctx, userID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("create token: %w", createErr)
		}
		return key, nil
	}
	return key, nil
}

func (s *GormTokenStore) tokenForUser(ctx context.Context, userID string) (string, bool, error) {
	var model TokenModel
	if err := s.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup token: %w", err)
	}
	return model.Token, true, nil
}

// UserIDByToken resolves a token key to its account.
func (s *GormTokenStore) UserIDByToken(ctx context.Context, token string) (string, bool, error) {
	var model TokenModel
	if err := s.db.WithContext(ctx).First(&model, "token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return model.UserID, true, nil
}

// DeleteToken removes a token key; unknown keys are ignored.
func (s *GormTokenStore) DeleteToken(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Where("token = ?", token).Delete(&TokenModel{}).Error
}

// newTokenKey returns 40 hex characters of randomness.
func newTokenKey() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
