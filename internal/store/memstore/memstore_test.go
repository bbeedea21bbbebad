package memstore

import (
	"context"
	"testing"

	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

func TestSessionStoreLifecycle(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := NewSessionStore()

	if _, ok, err := store.Get(ctx); err != nil || ok {
		test.Fatalf("expected empty store, got ok=%v err=%v", ok, err)
	}

	address, err := ticketing.NewWalletAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	if err != nil {
		test.Fatalf("address: %v", err)
	}
	if err := store.Set(ctx, ticketing.WalletSession{Address: address, IsOrganizer: true}); err != nil {
		test.Fatalf("set: %v", err)
	}
	session, ok, err := store.Get(ctx)
	if err != nil || !ok || session.Address != address || !session.IsOrganizer {
		test.Fatalf("unexpected session %+v ok=%v err=%v", session, ok, err)
	}
	if store.Values()[ticketing.StorageKeyIsOrganizer] != "true" {
		test.Fatalf("expected isOrganizer=true, got %v", store.Values())
	}

	if err := store.Clear(ctx); err != nil {
		test.Fatalf("clear: %v", err)
	}
	if len(store.Values()) != 0 {
		test.Fatalf("expected every key cleared, got %v", store.Values())
	}
}

func TestSessionStoreRejectsEmptySession(test *testing.T) {
	test.Parallel()
	store := NewSessionStore()
	if err := store.Set(context.Background(), ticketing.WalletSession{}); err == nil {
		test.Fatalf("expected empty session to be rejected")
	}
	if len(store.Values()) != 0 {
		test.Fatalf("expected nothing persisted, got %v", store.Values())
	}
}
