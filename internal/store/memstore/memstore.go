// Package memstore keeps the wallet session in process memory.
package memstore

import (
	"context"
	"sync"

	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

// SessionStore is a non-durable ticketing.SessionStore backed by the same
// key/value encoding as the durable stores.
type SessionStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewSessionStore returns an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{values: make(map[string]string)}
}

// Get returns the stored session, if any.
func (store *SessionStore) Get(_ context.Context) (ticketing.WalletSession, bool, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return ticketing.DecodeSession(store.values)
}

// Set replaces every session key at once.
func (store *SessionStore) Set(_ context.Context, session ticketing.WalletSession) error {
	values, err := ticketing.EncodeSession(session)
	if err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.values = values
	return nil
}

// Clear removes every session key.
func (store *SessionStore) Clear(_ context.Context) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.values = make(map[string]string)
	return nil
}

// Values returns a copy of the raw key/value pairs.
func (store *SessionStore) Values() map[string]string {
	store.mu.RLock()
	defer store.mu.RUnlock()
	copied := make(map[string]string, len(store.values))
	for key, value := range store.values {
		copied[key] = value
	}
	return copied
}
