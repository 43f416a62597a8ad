package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/database"
)

// IssuerPrefix namespaces issuer strings so federation records from other
// software sharing the table cannot collide.
const IssuerPrefix = "appvend:"

// Issuer derives the issuer string for this installation from its
// persisted UUID.
func Issuer(installationID string) string {
	return IssuerPrefix + installationID
}

// FederationRecord maps one external identity to exactly one internal
// user. (issuer, external_id) is unique.
type FederationRecord struct {
	Issuer     string    `json:"issuer"`
	ExternalID string    `json:"external_id"`
	UserID     int64     `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// FederationStore persists identity-federation records.
type FederationStore struct {
	db database.Adapter
}

// NewFederationStore creates a federation store.
func NewFederationStore(db database.Adapter) *FederationStore {
	return &FederationStore{db: db}
}

// Lookup returns the internal user id federated to (issuer, externalID),
// or false when the external user is not known to this installation.
func (s *FederationStore) Lookup(ctx context.Context, issuer, externalID string) (int64, bool, error) {
	row, err := s.db.GetRow(ctx,
		"SELECT user_id FROM identity_federation WHERE issuer = ? AND external_id = ?",
		issuer, externalID)
	if err != nil {
		return 0, false, fmt.Errorf("federation lookup failed: %w", err)
	}
	if row == nil {
		return 0, false, nil
	}
	return database.Int64(row, "user_id"), true, nil
}

// Link federates an external identity to an internal user. Linking an
// already-federated (issuer, external_id) pair is a conflict.
func (s *FederationStore) Link(ctx context.Context, issuer, externalID string, userID int64) error {
	if issuer == "" || externalID == "" || userID <= 0 {
		return apperr.BadRequest(apperr.CodeMissingParameter, "issuer, external id and user id are required")
	}
	_, exists, err := s.Lookup(ctx, issuer, externalID)
	if err != nil {
		return err
	}
	if exists {
		return apperr.Conflict(apperr.CodeDuplicateFederation,
			"external identity is already federated").
			WithData("issuer", issuer).
			WithData("external_id", externalID)
	}
	_, err = s.db.Insert(ctx, "identity_federation", map[string]any{
		"issuer":      issuer,
		"external_id": externalID,
		"user_id":     userID,
		"created_at":  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to link identity: %w", err)
	}
	return nil
}

// Unlink removes a federation record.
func (s *FederationStore) Unlink(ctx context.Context, issuer, externalID string) error {
	_, err := s.db.Delete(ctx, "identity_federation", map[string]any{
		"issuer":      issuer,
		"external_id": externalID,
	})
	if err != nil {
		return fmt.Errorf("failed to unlink identity: %w", err)
	}
	return nil
}
