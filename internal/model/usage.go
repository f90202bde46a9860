package model

import "time"

const (
	UsageStatusCompleted   = "completed"
	UsageStatusEmpty       = "empty"
	UsageStatusInterrupted = "interrupted"
)

// Usage records one chat completion exchange for quota accounting.
type Usage struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EventID    string    `gorm:"size:36;not null;uniqueIndex" json:"event_id"`
	UserID     uint      `gorm:"not null;index:idx_usages_user_created,priority:1" json:"user_id"`
	Model      string    `gorm:"size:64;not null" json:"model"`
	Fragments  int       `gorm:"not null" json:"fragments"`
	Characters int       `gorm:"not null" json:"characters"`
	Status     string    `gorm:"size:16;not null" json:"status"`
	CreatedAt  time.Time `gorm:"index:idx_usages_user_created,priority:2" json:"created_at"`
}
