package models

import "time"

// Digest run states.
const (
	DigestActive = "active"
	DigestSent   = "sent"
	DigestFailed = "failed"
)

// DigestRun records one scheduled digest delivery. Slot is unique, so server
// replicas sharing a schedule post each digest once.
type DigestRun struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	Slot        time.Time `gorm:"not null;uniqueIndex"`
	Owner       string    `gorm:"size:255;not null"`
	Status      string    `gorm:"size:16;not null;default:active;index"`
	Error       *string   `gorm:"type:text"`
	StartedAt   time.Time `gorm:"not null"`
	CompletedAt *time.Time
}

// TableName pins the table name regardless of naming strategy.
func (DigestRun) TableName() string {
	return "digest_runs"
}
