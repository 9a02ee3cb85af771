package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/pixelforge/pixelforge/types"
)

// DefaultUsername is the account active routes fall back to when no session
// token is presented.
const DefaultUsername = "default"

// EnsureUser returns the user with the given name, creating it if absent.
func (s *Store) EnsureUser(ctx context.Context, username string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).First(&user, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = User{Username: username}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, types.NewError(types.ErrInternalError, "create user").WithCause(err)
		}
		return &user, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "lookup user").WithCause(err)
	}
	return &user, nil
}

// UserByName looks up a user without creating it.
func (s *Store) UserByName(ctx context.Context, username string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).First(&user, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, "user not found")
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "lookup user").WithCause(err)
	}
	return &user, nil
}

// SetPassword stores a new password hash for the user.
func (s *Store) SetPassword(ctx context.Context, userID uint, hash string) error {
	err := s.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", userID).
		Update("password_hash", hash).Error
	if err != nil {
		return types.NewError(types.ErrInternalError, "set password").WithCause(err)
	}
	return nil
}

// CreateSession persists an issued token.
func (s *Store) CreateSession(ctx context.Context, userID uint, token string, expiresAt time.Time) error {
	sess := Session{UserID: userID, Token: token, ExpiresAt: expiresAt}
	if err := s.db.WithContext(ctx).Create(&sess).Error; err != nil {
		return types.NewError(types.ErrInternalError, "create session").WithCause(err)
	}
	return nil
}

// SessionByToken resolves a token to its session if it exists and has not
// expired.
func (s *Store) SessionByToken(ctx context.Context, token string) (*Session, error) {
	var sess Session
	err := s.db.WithContext(ctx).
		First(&sess, "token = ? AND expires_at > ?", token, time.Now()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrAuthentication, "invalid or expired session")
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "lookup session").WithCause(err)
	}
	return &sess, nil
}

// DeleteExpiredSessions clears stale rows. Called opportunistically.
func (s *Store) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", time.Now()).
		Delete(&Session{})
	if res.Error != nil {
		return 0, types.NewError(types.ErrInternalError, "delete expired sessions").WithCause(res.Error)
	}
	return res.RowsAffected, nil
}
