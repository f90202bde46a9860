package model

import "time"

// ChatMessage is one persisted transcript row of a user's coaching chat.
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index:idx_chat_messages_user_created,priority:1" json:"user_id"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index:idx_chat_messages_user_created,priority:2" json:"created_at"`
}
