package models

import (
	"time"

	"gorm.io/gorm"
)

// ErrorLog records a recoverable error that was dropped instead of retried
type ErrorLog struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Timestamp time.Time      `gorm:"not null;index" json:"timestamp"`
	Component string         `gorm:"not null;index" json:"component"` // "engine", "executor", "sleep", ...
	ErrorMsg  string         `gorm:"not null" json:"error_msg"`
	CreatedAt time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
