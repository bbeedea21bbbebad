// Package pgstore keeps the wallet session in postgres through a pgx pool.
// The client_storage table is created by gormstore.Migrate.
package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

const (
	errorOperationStore     = "store"
	errorSubjectSession     = "session"
	errorSubjectTransaction = "transaction"
	errorCodeBegin          = "begin"
	errorCodeClear          = "clear"
	errorCodeCommit         = "commit"
	errorCodeDecode         = "decode"
	errorCodeGet            = "get"
	errorCodeInvalid        = "invalid"
	errorCodeSet            = "set"

	sqlSelectStorage = `
		select storage_key, value
		from client_storage
		where storage_key = any($1)
	`

	sqlLockStorage = `
		select storage_key
		from client_storage
		where storage_key = any($1)
		for update
	`

	sqlUpsertStorage = `
		insert into client_storage(storage_key, value, updated_at)
		values ($1, $2, $3)
		on conflict (storage_key) do update set value = excluded.value, updated_at = excluded.updated_at
	`

	sqlDeleteStorage = `
		delete from client_storage
		where storage_key = any($1)
	`
)

// SessionStore implements ticketing.SessionStore. Set and Clear touch every
// session key inside one transaction.
type SessionStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New returns a SessionStore backed by a pgx pool.
func New(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool, now: time.Now}
}

// Open connects a pool to dsn and checks it with a ping.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	return pool, nil
}

func (store *SessionStore) Get(ctx context.Context) (ticketing.WalletSession, bool, error) {
	rows, err := store.pool.Query(ctx, sqlSelectStorage, ticketing.SessionStorageKeys())
	if err != nil {
		return ticketing.WalletSession{}, false, wrapStoreError(errorSubjectSession, errorCodeGet, err)
	}
	values, err := collectValues(rows)
	if err != nil {
		return ticketing.WalletSession{}, false, wrapStoreError(errorSubjectSession, errorCodeGet, err)
	}
	session, ok, err := ticketing.DecodeSession(values)
	if err != nil {
		return ticketing.WalletSession{}, false, wrapStoreError(errorSubjectSession, errorCodeDecode, err)
	}
	return session, ok, nil
}

func (store *SessionStore) Set(ctx context.Context, session ticketing.WalletSession) error {
	values, err := ticketing.EncodeSession(session)
	if err != nil {
		return wrapStoreError(errorSubjectSession, errorCodeInvalid, err)
	}
	updatedAt := store.now().UTC()
	return store.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := lockKeys(ctx, tx); err != nil {
			return wrapStoreError(errorSubjectSession, errorCodeSet, err)
		}
		batch := &pgx.Batch{}
		for _, key := range ticketing.SessionStorageKeys() {
			batch.Queue(sqlUpsertStorage, key, values[key], updatedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return wrapStoreError(errorSubjectSession, errorCodeSet, err)
		}
		return nil
	})
}

func (store *SessionStore) Clear(ctx context.Context) error {
	return store.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := lockKeys(ctx, tx); err != nil {
			return wrapStoreError(errorSubjectSession, errorCodeClear, err)
		}
		if _, err := tx.Exec(ctx, sqlDeleteStorage, ticketing.SessionStorageKeys()); err != nil {
			return wrapStoreError(errorSubjectSession, errorCodeClear, err)
		}
		return nil
	})
}

func (store *SessionStore) withTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func lockKeys(ctx context.Context, tx pgx.Tx) error {
	rows, err := tx.Query(ctx, sqlLockStorage, ticketing.SessionStorageKeys())
	if err != nil {
		return err
	}
	rows.Close()
	return rows.Err()
}

func collectValues(rows pgx.Rows) (map[string]string, error) {
	defer rows.Close()
	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	return values, rows.Err()
}

func wrapStoreError(subject string, code string, err error) error {
	return ticketing.WrapError(errorOperationStore, subject, code, err)
}
