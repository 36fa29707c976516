package model

import "time"

// User stores Telegram user metadata and owns blocks, sessions and routines.
type User struct {
	ID         uint  `gorm:"primaryKey"`
	TelegramID int64 `gorm:"uniqueIndex"`
	ChatID     int64
	FirstName  string
	LastName   string
	Username   string
	// CalendarSyncedAt is the end of the last successful calendar reconciliation.
	CalendarSyncedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
