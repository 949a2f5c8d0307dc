// Package storage определяет интерфейсы персистентности dev сервера.
package storage

import (
	"context"
	"time"
)

// User представляет учетную запись пользователя
type User struct {
	CreatedAt    time.Time
	LastLogin    *time.Time
	ID           string
	Email        string
	Name         string
	PasswordHash string // base64 encoded argon2id hash
	Salt         string // base64 encoded salt
	Roles        []string
}

// RefreshToken представляет выданный refresh token
type RefreshToken struct {
	ExpiresAt time.Time
	CreatedAt time.Time
	Token     string
	UserID    string
}

// UserStore defines interface for user persistence
type UserStore interface {
	// CreateUser creates a new user
	// Returns ErrUserAlreadyExists if email is taken
	CreateUser(ctx context.Context, user *User) error

	// GetUserByEmail retrieves user by email
	// Returns ErrUserNotFound if user doesn't exist
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// GetUserByID retrieves user by ID
	// Returns ErrUserNotFound if user doesn't exist
	GetUserByID(ctx context.Context, userID string) (*User, error)

	// UpdateLastLogin updates the last login timestamp
	UpdateLastLogin(ctx context.Context, userID string, lastLogin time.Time) error
}

// TokenStore defines interface for refresh token persistence
type TokenStore interface {
	// SaveRefreshToken stores a refresh token, replacing an existing one
	// with the same value
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves refresh token by value
	// Returns ErrTokenNotFound if token doesn't exist
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// DeleteRefreshToken deletes refresh token by value
	// Returns ErrTokenNotFound if token doesn't exist
	DeleteRefreshToken(ctx context.Context, token string) error

	// DeleteUserTokens deletes all refresh tokens of a user
	// Returns number of deleted tokens
	DeleteUserTokens(ctx context.Context, userID string) (int, error)

	// DeleteExpiredTokens removes all expired tokens
	// Returns number of deleted tokens
	DeleteExpiredTokens(ctx context.Context) (int, error)
}
