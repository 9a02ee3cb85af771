// Package store persists users, sessions, credit balances and generation
// records in a relational database via gorm.
package store

import (
	"time"

	"github.com/pixelforge/pixelforge/imagegen"
)

// User is an account row. Active routes resolve the default user when no
// session is presented; the schema is multi-tenant from the start.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"size:100;uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"size:200" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session is an issued login token.
type Session struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Token     string    `gorm:"size:500;uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// CreditBalance is one row per user. Initialized lazily with the configured
// default on first read.
type CreditBalance struct {
	UserID    uint      `gorm:"primaryKey" json:"user_id"`
	Balance   int       `gorm:"not null;default:0" json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GenerationRecord is one row per generation attempt. Created pending for
// asynchronous engines and terminal for the synchronous one; after reaching a
// terminal status it is never mutated again except by deletion.
type GenerationRecord struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	UserID     uint            `gorm:"not null;index:idx_user_created" json:"user_id"`
	Prompt     string          `gorm:"type:text;not null" json:"prompt"`
	Style      string          `gorm:"size:100" json:"style"`
	Size       string          `gorm:"size:20" json:"size"`
	Quality    string          `gorm:"size:20" json:"quality"`
	Image      string          `gorm:"type:text" json:"image"` // URL or data URI, empty until resolved
	Status     imagegen.State  `gorm:"size:20;not null;index" json:"status"`
	TaskID     string          `gorm:"size:100;index" json:"task_id,omitempty"`
	Engine     imagegen.Engine `gorm:"size:20" json:"engine,omitempty"`
	Favorite   bool            `gorm:"default:false" json:"favorite"`
	CachedPath string          `gorm:"size:500" json:"-"` // locally cached file, optional
	CreatedAt  time.Time       `gorm:"index:idx_user_created" json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// AllModels lists every table for AutoMigrate.
func AllModels() []any {
	return []any{&User{}, &Session{}, &CreditBalance{}, &GenerationRecord{}}
}
