package models

import (
	"time"

	"gorm.io/gorm"
)

// IdleEvent is one protocol transition delivered to a script callback
type IdleEvent struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Timestamp    time.Time      `gorm:"not null;index" json:"timestamp"`
	Handle       string         `gorm:"not null;index" json:"handle"`
	CallbackName string         `gorm:"not null;index" json:"callback_name"`
	Event        string         `gorm:"not null" json:"event"` // "idled" or "resumed"
	TimeoutSecs  int64          `gorm:"not null;default:0" json:"timeout_secs"`
	CallbackErr  string         `json:"callback_err,omitempty"`
	Backend      string         `gorm:"not null" json:"backend"` // "wayland" or "x11"
	CreatedAt    time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// ActionRun is one lock invocation attempt handled by the executor
type ActionRun struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Timestamp  time.Time      `gorm:"not null;index" json:"timestamp"`
	Command    string         `gorm:"not null" json:"command"`
	Outcome    string         `gorm:"not null;index" json:"outcome"` // "spawned", "skipped", "failed", "exited"
	PID        int            `json:"pid,omitempty"`
	ExitCode   int            `json:"exit_code"`
	DurationMs int64          `json:"duration_ms"`
	Detail     string         `json:"detail,omitempty"`
	CreatedAt  time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

type CallbackSummary struct {
	CallbackName string `json:"callback_name"`
	Idled        int64  `json:"idled"`
	Resumed      int64  `json:"resumed"`
	Failures     int64  `json:"failures"`
}

type OutcomeSummary struct {
	Outcome string `json:"outcome"`
	Count   int64  `json:"count"`
}

type ReportPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Type  string    `json:"type"` // "day", "week", "month"
}

type Report struct {
	Period      ReportPeriod      `json:"period"`
	Callbacks   []CallbackSummary `json:"callbacks"`
	Actions     []OutcomeSummary  `json:"actions"`
	TotalIdled  int64             `json:"total_idled"`
	LockedSecs  int64             `json:"locked_secs"`
	GeneratedAt time.Time         `json:"generated_at"`
}
