package models

import (
	"time"

	"gorm.io/datatypes"
)

// Session is one recorded autonomous work session. Rows are append-only:
// nothing updates them, and they are removed only by id or by username.
type Session struct {
	ID                 uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	Username           string            `gorm:"size:255;not null;index" json:"username"`
	TaskDescription    *string           `gorm:"type:text" json:"task_description"`
	AutonomousDuration int64             `gorm:"not null;index" json:"autonomous_duration"` // seconds
	ActionCount        int64             `gorm:"not null;default:0" json:"action_count"`
	SessionStart       *time.Time        `json:"session_start"`
	SessionEnd         *time.Time        `json:"session_end"`
	CreatedAt          time.Time         `gorm:"index" json:"created_at"`
	Metadata           datatypes.JSONMap `json:"metadata"`
}

// TableName pins the table name regardless of naming strategy.
func (Session) TableName() string {
	return "sessions"
}
