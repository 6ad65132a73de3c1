package gate

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	s := &Session{
		Wallet:     "abc",
		Snapshot:   Snapshot{Balance: 1200, USDValue: 150, PriceUSD: 0.125},
		VerifiedAt: 1_700_000_000_000,
	}
	if err := ms.Write(ctx, s); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ms.Read(ctx, "abc")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if *got != *s {
		t.Fatalf("read back %+v, want %+v", got, s)
	}

	// The store hands out copies, mutating one must not leak into storage.
	got.Snapshot.USDValue = 9999
	again, _ := ms.Read(ctx, "abc")
	if again.Snapshot.USDValue != 150 {
		t.Fatalf("store leaked a shared pointer, usd now %v", again.Snapshot.USDValue)
	}
}

func TestMemoryStoreMiss(t *testing.T) {
	ms := NewMemoryStore()
	if _, err := ms.Read(context.Background(), "ghost"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestMemoryStoreClear(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	if err := ms.Write(ctx, &Session{Wallet: "abc", VerifiedAt: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ms.Clear(ctx, "abc"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := ms.Read(ctx, "abc"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after clear, got %v", err)
	}

	// Clearing a wallet that has nothing stored is not an error.
	if err := ms.Clear(ctx, "ghost"); err != nil {
		t.Fatalf("clear missing: %v", err)
	}
}

func TestMemoryStoreRejectsEmpty(t *testing.T) {
	ms := NewMemoryStore()
	if err := ms.Write(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil session")
	}
	if err := ms.Write(context.Background(), &Session{}); err == nil {
		t.Fatal("expected error for session without wallet")
	}
}
