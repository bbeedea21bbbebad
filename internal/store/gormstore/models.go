package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StorageEntry is one durable client storage key.
type StorageEntry struct {
	StorageKey string    `gorm:"primaryKey"`
	Value      string    `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (StorageEntry) TableName() string { return "client_storage" }

// VerificationAttempt mirrors the verification_attempts table.
type VerificationAttempt struct {
	AttemptID      string         `gorm:"type:uuid;primaryKey"`
	TokenID        int64          `gorm:"not null;index:idx_attempts_token_completed,priority:1"`
	EventID        string         `gorm:"not null"`
	Status         string         `gorm:"not null"`
	Message        string         `gorm:"not null"`
	Confidence     string         `gorm:"not null"`
	EvidenceSource string         `gorm:"not null"`
	RawResponse    datatypes.JSON `gorm:"not null"`
	StartedAt      time.Time      `gorm:"not null"`
	CompletedAt    time.Time      `gorm:"not null;index:idx_attempts_token_completed,priority:2;index"`
}

func (VerificationAttempt) TableName() string { return "verification_attempts" }

func (attempt *VerificationAttempt) BeforeCreate(tx *gorm.DB) error {
	if attempt.AttemptID == "" {
		attempt.AttemptID = uuid.NewString()
	}
	return nil
}

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&StorageEntry{}, &VerificationAttempt{}}
}
