package license

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/database"
)

// TokenPrefix marks download tokens so logs and support tooling can
// recognize them without decoding.
const TokenPrefix = "lk_"

// tokenEntropy is the random length of the secret portion, in bytes.
const tokenEntropy = 32

// IssueToken mints a download token scoped to one application. The token
// is returned once; only its sha256 hash is persisted. A zero ttl means
// the token does not expire. licenseID may be zero for tokens issued
// outside a license context (e.g. a time-boxed support link).
func (s *Service) IssueToken(ctx context.Context, appID, licenseID int64, ttl time.Duration) (string, error) {
	if appID <= 0 {
		return "", apperr.BadRequest(apperr.CodeMissingParameter, "app id is required")
	}
	raw := make([]byte, tokenEntropy)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := TokenPrefix + base64.RawURLEncoding.EncodeToString(raw)

	var expiresAt any
	if ttl > 0 {
		expiresAt = s.now().UTC().Add(ttl)
	}
	_, err := s.db.Insert(ctx, "download_tokens", map[string]any{
		"token_hash": hashToken(token),
		"app_id":     appID,
		"license_id": licenseID,
		"expires_at": expiresAt,
		"created_at": s.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}
	return token, nil
}

// IssueTokenForKey mints a download token for the application a license
// covers, addressed by license key. Only a currently active license can
// mint tokens; the effective status is derived at call time.
func (s *Service) IssueTokenForKey(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l, err := s.ByKey(ctx, key)
	if err != nil {
		return "", err
	}
	if l == nil {
		return "", apperr.NotFound(apperr.CodeLicenseNotFound, "license not found")
	}
	if err := requireActive(l, s.now()); err != nil {
		return "", err
	}
	return s.IssueToken(ctx, l.AppID, l.ID, ttl)
}

// VerifyToken checks a download token against a specific application.
// The result is nil when the token authorizes a download of that app;
// otherwise it is the structured error to relay. A token for another app
// is indistinguishable from an unknown token.
func (s *Service) VerifyToken(ctx context.Context, token string, appID int64) *apperr.Error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return apperr.Unauthorized(apperr.CodeMalformedToken, "malformed download token")
	}
	row, err := s.db.GetRow(ctx,
		"SELECT * FROM download_tokens WHERE token_hash = ?", hashToken(token))
	if err != nil {
		return apperr.From(err)
	}
	if row == nil || database.Int64(row, "app_id") != appID {
		return apperr.Unauthorized(apperr.CodeInvalidToken, "invalid download token")
	}
	if expires := database.Time(row, "expires_at"); !expires.IsZero() && s.now().After(expires) {
		return apperr.Unauthorized(apperr.CodeExpiredToken, "download token expired")
	}

	// A token minted from a license inherits that license's gate.
	if licenseID := database.Int64(row, "license_id"); licenseID > 0 {
		l, err := s.ByID(ctx, licenseID)
		if err != nil {
			return apperr.From(err)
		}
		if l == nil {
			return apperr.Unauthorized(apperr.CodeInvalidToken, "invalid download token")
		}
		if err := requireActive(l, s.now()); err != nil {
			return apperr.From(err)
		}
	}
	return nil
}

// RevokeToken deletes a token immediately.
func (s *Service) RevokeToken(ctx context.Context, token string) error {
	_, err := s.db.Delete(ctx, "download_tokens", map[string]any{"token_hash": hashToken(token)})
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// PurgeExpiredTokens removes tokens past their expiry. Run periodically
// alongside SweepExpired.
func (s *Service) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	affected, err := s.db.Exec(ctx,
		"DELETE FROM download_tokens WHERE expires_at IS NOT NULL AND expires_at < ?",
		s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge tokens: %w", err)
	}
	return affected, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
