// Package gormstore persists the wallet session and the local verification
// history through GORM (sqlite or postgres).
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/ticketgate/internal/verification"
	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

const (
	defaultRawResponseJSON = "{}"
	defaultAttemptLimit    = 50
	pgUniqueViolationCode  = "23505"
	sqliteConstraintCode   = 19
	errorOperationStore    = "store"
	errorSubjectSession    = "session"
	errorSubjectAttempt    = "attempt"
	errorCodeClear         = "clear"
	errorCodeDecode        = "decode"
	errorCodeDuplicate     = "duplicate"
	errorCodeGet           = "get"
	errorCodeInsert        = "insert"
	errorCodeInvalid       = "invalid"
	errorCodeList          = "list"
	errorCodeSet           = "set"
)

// ErrDuplicateAttempt reports an attempt id that is already stored.
var ErrDuplicateAttempt = errors.New("duplicate verification attempt")

// Migrate creates or updates every table.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// SessionStore implements ticketing.SessionStore over client_storage rows.
type SessionStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSessionStore returns a SessionStore backed by db.
func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

// Get loads the session keys. A missing wallet address means no session.
func (store *SessionStore) Get(ctx context.Context) (ticketing.WalletSession, bool, error) {
	var rows []StorageEntry
	err := store.db.WithContext(ctx).
		Where("storage_key IN ?", ticketing.SessionStorageKeys()).
		Find(&rows).Error
	if err != nil {
		return ticketing.WalletSession{}, false, wrapStoreError(errorSubjectSession, errorCodeGet, err)
	}
	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.StorageKey] = row.Value
	}
	session, ok, err := ticketing.DecodeSession(values)
	if err != nil {
		return ticketing.WalletSession{}, false, wrapStoreError(errorSubjectSession, errorCodeDecode, err)
	}
	return session, ok, nil
}

// Set upserts every session key in one statement.
func (store *SessionStore) Set(ctx context.Context, session ticketing.WalletSession) error {
	values, err := ticketing.EncodeSession(session)
	if err != nil {
		return wrapStoreError(errorSubjectSession, errorCodeInvalid, err)
	}
	updatedAt := store.now().UTC()
	rows := make([]StorageEntry, 0, len(values))
	for _, key := range ticketing.SessionStorageKeys() {
		rows = append(rows, StorageEntry{StorageKey: key, Value: values[key], UpdatedAt: updatedAt})
	}
	err = store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "storage_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&rows).Error
	if err != nil {
		return wrapStoreError(errorSubjectSession, errorCodeSet, err)
	}
	return nil
}

// Clear deletes every session key together.
func (store *SessionStore) Clear(ctx context.Context) error {
	err := store.db.WithContext(ctx).
		Where("storage_key IN ?", ticketing.SessionStorageKeys()).
		Delete(&StorageEntry{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectSession, errorCodeClear, err)
	}
	return nil
}

// AttemptStore keeps the local verification history.
type AttemptStore struct {
	db *gorm.DB
}

// NewAttemptStore returns an AttemptStore backed by db.
func NewAttemptStore(db *gorm.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

// RecordAttempt implements verification.AttemptRecorder.
func (store *AttemptStore) RecordAttempt(ctx context.Context, attempt verification.Attempt) error {
	row := VerificationAttempt{
		AttemptID:      attempt.ID,
		TokenID:        attempt.TokenID.Int64(),
		EventID:        attempt.EventID.String(),
		Status:         attempt.Status.String(),
		Message:        attempt.Message,
		Confidence:     attempt.Confidence.String(),
		EvidenceSource: string(attempt.Evidence),
		RawResponse:    datatypesJSON(attempt.RawResponse),
		StartedAt:      attempt.StartedAt.UTC(),
		CompletedAt:    attempt.CompletedAt.UTC(),
	}
	if row.CompletedAt.IsZero() {
		row.CompletedAt = time.Now().UTC()
	}
	if row.StartedAt.IsZero() {
		row.StartedAt = row.CompletedAt
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isDuplicateKey(err) {
		return wrapStoreError(errorSubjectAttempt, errorCodeDuplicate, ErrDuplicateAttempt)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAttempt, errorCodeInsert, err)
	}
	return nil
}

// ListAttempts returns the newest attempts first. A non-positive limit uses
// the default of 50.
func (store *AttemptStore) ListAttempts(ctx context.Context, limit int) ([]verification.Attempt, error) {
	if limit <= 0 {
		limit = defaultAttemptLimit
	}
	var rows []VerificationAttempt
	err := store.db.WithContext(ctx).
		Order("completed_at desc").
		Order("attempt_id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAttempt, errorCodeList, err)
	}
	attempts := make([]verification.Attempt, 0, len(rows))
	for _, row := range rows {
		attempt, err := mapAttempt(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAttempt, errorCodeInvalid, err)
		}
		attempts = append(attempts, attempt)
	}
	return attempts, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ticketing.WrapError(errorOperationStore, subject, code, err)
}

func mapAttempt(row VerificationAttempt) (verification.Attempt, error) {
	tokenID, err := ticketing.NewTokenID(row.TokenID)
	if err != nil {
		return verification.Attempt{}, err
	}
	eventID, err := ticketing.NewEventID(row.EventID)
	if err != nil {
		return verification.Attempt{}, err
	}
	status, err := ticketing.ParseStatus(row.Status)
	if err != nil {
		return verification.Attempt{}, err
	}
	return verification.Attempt{
		ID:          row.AttemptID,
		TokenID:     tokenID,
		EventID:     eventID,
		Status:      status,
		Message:     row.Message,
		Confidence:  ticketing.ParseConfidence(row.Confidence),
		Evidence:    ticketing.EvidenceSource(row.EvidenceSource),
		RawResponse: []byte(row.RawResponse),
		StartedAt:   row.StartedAt.UTC(),
		CompletedAt: row.CompletedAt.UTC(),
	}, nil
}

func datatypesJSON(raw []byte) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON([]byte(defaultRawResponseJSON))
	}
	return datatypes.JSON(raw)
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
