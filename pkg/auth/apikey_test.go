package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/database"
	"github.com/appvend/appvend/pkg/identity"
)

func setupKeyring(t *testing.T) (*Keyring, *identity.Store, database.Adapter) {
	t.Helper()
	adapter := setupAdapter(t)
	store := identity.NewStore(adapter)
	return NewKeyring([]byte("test-hmac-secret"), store), store, adapter
}

func mintAccount(t *testing.T, ring *Keyring, store *identity.Store) (*identity.ServiceAccount, string) {
	t.Helper()
	ctx := context.Background()

	account := &identity.ServiceAccount{OwnerID: 1, Identifier: "ci-bot"}
	if err := store.CreateServiceAccount(ctx, account); err != nil {
		t.Fatal(err)
	}
	key, err := ring.Generate(account)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.RotateServiceAccountKey(ctx, account.ID, account.KeyHash); err != nil {
		t.Fatal(err)
	}
	return account, key
}

func TestAPIKeyRoundTrip(t *testing.T) {
	ring, store, _ := setupKeyring(t)
	account, key := mintAccount(t, ring, store)
	ctx := context.Background()

	if got := strings.Count(key, "."); got != 2 {
		t.Fatalf("compound key should have 3 segments, got %d separators", got)
	}

	verified, err := ring.Verify(ctx, key)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.ID != account.ID {
		t.Errorf("verified wrong account: %d", verified.ID)
	}
	if verified.KeyHash == "" || strings.Contains(key, verified.KeyHash) {
		t.Error("stored hash must not appear in the client key")
	}

	// Verification records usage.
	reloaded, err := store.ServiceAccountByID(ctx, account.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.LastUsedAt == nil {
		t.Error("verification should update last_used_at")
	}
}

func TestAPIKeyTamperedPayloadIsRejected(t *testing.T) {
	ring, store, _ := setupKeyring(t)
	account, key := mintAccount(t, ring, store)
	ctx := context.Background()

	parts := strings.Split(key, ".")
	// Payload altered, signature left intact.
	parts[0] = "eyJzZXJ2aWNlX2FjY291bnRfaWQiOjk5OX0"
	_, err := ring.Verify(ctx, strings.Join(parts, "."))

	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Code != apperr.CodeSignatureMismatch {
		t.Fatalf("expected signature_mismatch, got %v", err)
	}
	if appErr.Status != 403 {
		t.Errorf("signature mismatch should be 403, got %d", appErr.Status)
	}

	// A rejected key must not count as usage.
	reloaded, err := store.ServiceAccountByID(ctx, account.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.LastUsedAt != nil {
		t.Error("failed verification must not update last_used_at")
	}
}

func TestAPIKeyWrongSecretSegmentIsRejected(t *testing.T) {
	ring, store, _ := setupKeyring(t)
	_, key := mintAccount(t, ring, store)

	parts := strings.Split(key, ".")
	parts[2] = strings.Repeat("A", len(parts[2]))
	_, err := ring.Verify(context.Background(), strings.Join(parts, "."))

	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Code != apperr.CodeInvalidToken {
		t.Fatalf("expected invalid_token for wrong secret, got %v", err)
	}
}

func TestAPIKeyMalformedShapes(t *testing.T) {
	ring, _, _ := setupKeyring(t)

	for _, key := range []string{"", "one", "a.b", "a.b.c.d", "!!!.???.###"} {
		_, err := ring.Verify(context.Background(), key)
		var appErr *apperr.Error
		if !errors.As(err, &appErr) || appErr.Code != apperr.CodeMalformedToken {
			t.Errorf("key %q: expected malformed_token, got %v", key, err)
		}
	}
}

func TestAPIKeySuspendedAccountFails(t *testing.T) {
	ring, store, adapter := setupKeyring(t)
	account, key := mintAccount(t, ring, store)
	ctx := context.Background()

	if _, err := adapter.Update(ctx, "service_accounts",
		map[string]any{"status": "suspended"}, map[string]any{"id": account.ID}); err != nil {
		t.Fatal(err)
	}

	// The key is structurally valid; the account state alone fails it.
	_, err := ring.Verify(ctx, key)
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Code != apperr.CodeAccountDisabled {
		t.Fatalf("expected account_disabled, got %v", err)
	}
	if appErr.Status != 403 {
		t.Errorf("disabled account should be 403, got %d", appErr.Status)
	}
}

func TestAPIKeyRotationInvalidatesOldKey(t *testing.T) {
	ring, store, _ := setupKeyring(t)
	account, oldKey := mintAccount(t, ring, store)
	ctx := context.Background()

	newKey, err := ring.Generate(account)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.RotateServiceAccountKey(ctx, account.ID, account.KeyHash); err != nil {
		t.Fatal(err)
	}

	if _, err := ring.Verify(ctx, newKey); err != nil {
		t.Fatalf("new key should verify: %v", err)
	}
	_, err = ring.Verify(ctx, oldKey)
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Code != apperr.CodeInvalidToken {
		t.Errorf("old key should be invalid after rotation, got %v", err)
	}
}
