package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/identity"
)

// rawKeyBytes is the entropy of the secret segment of an API key.
const rawKeyBytes = 32

// keyPayload is the signed, client-visible portion of an API key. It
// carries no secrets; possession of the raw key segment is the second
// proof.
type keyPayload struct {
	ServiceAccountID int64 `json:"service_account_id"`
	OwnerID          int64 `json:"owner_id"`
	IssuedAt         int64 `json:"issued_at"`
}

// Keyring issues and verifies service-account API keys. A key is the
// dot-joined base64url string "payload.signature.rawkey": the signature
// is an HMAC-SHA256 over the payload with the server secret, and the raw
// key is stored only as a bcrypt hash on the account row.
type Keyring struct {
	secret []byte
	store  *identity.Store
	now    func() time.Time
}

// NewKeyring creates a keyring bound to the server's API-key secret.
func NewKeyring(secret []byte, store *identity.Store) *Keyring {
	return &Keyring{secret: secret, store: store, now: time.Now}
}

// Generate mints a fresh key for the account and replaces the account's
// stored hash in memory. The caller persists the hash (create or rotate);
// the returned compound key is shown to the client exactly once.
func (k *Keyring) Generate(account *identity.ServiceAccount) (string, error) {
	raw := make([]byte, rawKeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate key material: %w", err)
	}
	rawSegment := base64.RawURLEncoding.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawSegment), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	account.KeyHash = string(hash)

	payload, err := json.Marshal(keyPayload{
		ServiceAccountID: account.ID,
		OwnerID:          account.OwnerID,
		IssuedAt:         k.now().Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode key payload: %w", err)
	}

	return strings.Join([]string{
		base64.RawURLEncoding.EncodeToString(payload),
		base64.RawURLEncoding.EncodeToString(k.sign(payload)),
		rawSegment,
	}, "."), nil
}

// Verify checks a compound key and returns the service account it
// belongs to. The HMAC is compared in constant time before the payload
// is trusted; only then is the account loaded and the raw key checked
// against the stored hash. Both proofs must pass. A successful
// verification records last_used_at.
func (k *Keyring) Verify(ctx context.Context, compound string) (*identity.ServiceAccount, error) {
	parts := strings.Split(compound, ".")
	if len(parts) != 3 {
		return nil, apperr.Unauthorized(apperr.CodeMalformedToken, "malformed API key")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, apperr.Unauthorized(apperr.CodeMalformedToken, "malformed API key")
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, apperr.Unauthorized(apperr.CodeMalformedToken, "malformed API key")
	}
	if !hmac.Equal(signature, k.sign(payload)) {
		return nil, apperr.Forbidden(apperr.CodeSignatureMismatch, "API key signature mismatch")
	}

	var claims keyPayload
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, apperr.Unauthorized(apperr.CodeMalformedToken, "malformed API key")
	}

	account, err := k.store.ServiceAccountByID(ctx, claims.ServiceAccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, apperr.Unauthorized(apperr.CodeInvalidToken, "unknown service account")
	}
	if account.State != identity.StatusActive {
		return nil, apperr.Forbidden(apperr.CodeAccountDisabled, "service account is not active")
	}
	if bcrypt.CompareHashAndPassword([]byte(account.KeyHash), []byte(parts[2])) != nil {
		return nil, apperr.Unauthorized(apperr.CodeInvalidToken, "invalid API key")
	}

	if err := k.store.TouchServiceAccount(ctx, account.ID); err != nil {
		return nil, err
	}
	return account, nil
}

func (k *Keyring) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, k.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
