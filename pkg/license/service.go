package license

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/database"
	"github.com/appvend/appvend/pkg/sanitize"
)

// Service implements the license lifecycle over the relational adapter.
// Every read-modify-write sequence (activation, deactivation, status
// transitions) runs inside a transaction so a concurrent request never
// observes a partial capacity-count mutation.
type Service struct {
	db  database.Adapter
	now func() time.Time
}

// NewService creates a license service.
func NewService(db database.Adapter) *Service {
	return &Service{db: db, now: time.Now}
}

func licenseFromRow(row map[string]any) (*License, error) {
	l := &License{
		ID:                database.Int64(row, "id"),
		AppID:             database.Int64(row, "app_id"),
		OwnerID:           database.Int64(row, "owner_id"),
		Key:               database.String(row, "license_key"),
		ServiceID:         database.String(row, "service_id"),
		Stored:            Status(database.String(row, "status")),
		StartDate:         database.Time(row, "start_date"),
		EndDate:           database.Time(row, "end_date"),
		MaxAllowedDomains: int(database.Int64(row, "max_allowed_domains")),
		CreatedAt:         database.Time(row, "created_at"),
		UpdatedAt:         database.Time(row, "updated_at"),
	}
	raw := database.String(row, "activated_domains")
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &l.ActivatedDomains); err != nil {
			return nil, fmt.Errorf("failed to decode activated domains for license %d: %w", l.ID, err)
		}
	}
	return l, nil
}

// ByID loads a license; nil when missing.
func (s *Service) ByID(ctx context.Context, id int64) (*License, error) {
	return s.loadBy(ctx, s.db, "id", id)
}

// ByKey loads a license by its key; nil when missing.
func (s *Service) ByKey(ctx context.Context, key string) (*License, error) {
	return s.loadBy(ctx, s.db, "license_key", key)
}

func (s *Service) loadBy(ctx context.Context, ex database.Executor, col string, val any) (*License, error) {
	row, err := ex.GetRow(ctx, "SELECT * FROM licenses WHERE "+col+" = ?", val)
	if err != nil {
		return nil, fmt.Errorf("failed to load license: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return licenseFromRow(row)
}

// ForOwner lists an owner's licenses, newest first.
func (s *Service) ForOwner(ctx context.Context, ownerID int64) ([]*License, error) {
	rows, err := s.db.GetResults(ctx,
		"SELECT * FROM licenses WHERE owner_id = ? ORDER BY created_at DESC", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list licenses: %w", err)
	}
	out := make([]*License, 0, len(rows))
	for _, row := range rows {
		l, err := licenseFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// Issue persists a new license with zero activated domains. A missing
// key is generated; the max-domain ceiling must be positive.
func (s *Service) Issue(ctx context.Context, l *License) error {
	var missing []string
	if l.AppID <= 0 {
		missing = append(missing, "app_id")
	}
	if l.OwnerID <= 0 {
		missing = append(missing, "owner_id")
	}
	if l.MaxAllowedDomains <= 0 {
		missing = append(missing, "max_allowed_domains")
	}
	if len(missing) > 0 {
		err := apperr.Unprocessable(apperr.CodeMissingFields, "license is incomplete")
		for _, field := range missing {
			err.Add(apperr.CodeMissingFields, "field is required", map[string]any{"field": field})
		}
		return err
	}
	if l.Key == "" {
		l.Key = uuid.NewString()
	}

	now := s.now().UTC()
	domains, err := json.Marshal([]string{})
	if err != nil {
		return err
	}
	id, err := s.db.Insert(ctx, "licenses", map[string]any{
		"app_id":              l.AppID,
		"owner_id":            l.OwnerID,
		"license_key":         l.Key,
		"service_id":          l.ServiceID,
		"status":              string(l.Stored),
		"start_date":          nullableTime(l.StartDate),
		"end_date":            nullableTime(l.EndDate),
		"max_allowed_domains": l.MaxAllowedDomains,
		"activated_domains":   string(domains),
		"created_at":          now,
		"updated_at":          now,
	})
	if err != nil {
		return fmt.Errorf("failed to issue license: %w", err)
	}
	l.ID = id
	l.ActivatedDomains = nil
	l.CreatedAt = now
	l.UpdatedAt = now
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// Activate appends a domain to the license's activated set. The license
// must be effectively active and below its domain ceiling; re-activating
// an already-activated domain is a no-op. The check-and-append runs in
// one transaction.
func (s *Service) Activate(ctx context.Context, licenseID int64, domain string) error {
	domain = sanitize.Domain(domain)
	if domain == "" {
		return apperr.BadRequest(apperr.CodeMissingParameter, "activation domain is required")
	}

	return database.WithTx(ctx, s.db, func(tx database.Tx) error {
		l, err := s.loadBy(ctx, tx, "id", licenseID)
		if err != nil {
			return err
		}
		if l == nil {
			return apperr.NotFound(apperr.CodeLicenseNotFound, "license not found")
		}
		if err := requireActive(l, s.now()); err != nil {
			return err
		}
		if l.HasDomain(domain) {
			return nil
		}
		if l.AtCapacity() {
			return apperr.Conflict(apperr.CodeActivationLimit,
				"domain activation limit reached").
				WithData("max_allowed_domains", l.MaxAllowedDomains).
				WithData("activated_domains", len(l.ActivatedDomains))
		}
		return s.storeDomains(ctx, tx, l.ID, append(l.ActivatedDomains, domain))
	})
}

// Deactivate removes one domain from the activated set. The license
// status is unchanged; removing an absent domain is a no-op.
func (s *Service) Deactivate(ctx context.Context, licenseID int64, domain string) error {
	domain = sanitize.Domain(domain)
	if domain == "" {
		return apperr.BadRequest(apperr.CodeMissingParameter, "activation domain is required")
	}

	return database.WithTx(ctx, s.db, func(tx database.Tx) error {
		l, err := s.loadBy(ctx, tx, "id", licenseID)
		if err != nil {
			return err
		}
		if l == nil {
			return apperr.NotFound(apperr.CodeLicenseNotFound, "license not found")
		}
		if !l.HasDomain(domain) {
			return nil
		}
		kept := make([]string, 0, len(l.ActivatedDomains)-1)
		for _, d := range l.ActivatedDomains {
			if d != domain {
				kept = append(kept, d)
			}
		}
		return s.storeDomains(ctx, tx, l.ID, kept)
	})
}

func (s *Service) storeDomains(ctx context.Context, tx database.Tx, id int64, domains []string) error {
	encoded, err := json.Marshal(domains)
	if err != nil {
		return fmt.Errorf("failed to encode domains: %w", err)
	}
	_, err = tx.Update(ctx, "licenses",
		map[string]any{"activated_domains": string(encoded), "updated_at": s.now().UTC()},
		map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("failed to store domains: %w", err)
	}
	return nil
}

// requireActive maps each non-active effective state to its structured
// error so the transport layer relays the precise condition.
func requireActive(l *License, now time.Time) error {
	switch l.EffectiveStatus(now) {
	case StatusActive:
		return nil
	case StatusRevoked:
		return apperr.Forbidden(apperr.CodeLicenseRevoked, "license is revoked")
	case StatusSuspended:
		return apperr.Forbidden(apperr.CodeLicenseSuspended, "license is suspended")
	case StatusExpired:
		return apperr.Forbidden(apperr.CodeLicenseExpired, "license is expired")
	default:
		return apperr.Forbidden(apperr.CodeLicenseInactive, "license is not active")
	}
}

// Revoke permanently blocks the license. Revoking twice is a no-op.
func (s *Service) Revoke(ctx context.Context, licenseID int64) error {
	return s.transition(ctx, licenseID, StatusRevoked, func(current Status) error {
		return nil
	})
}

// Suspend temporarily blocks the license. A revoked license cannot be
// suspended; revocation is permanent.
func (s *Service) Suspend(ctx context.Context, licenseID int64) error {
	return s.transition(ctx, licenseID, StatusSuspended, func(current Status) error {
		if current == StatusRevoked {
			return apperr.Conflict(apperr.CodeLicenseRevoked, "license is revoked")
		}
		return nil
	})
}

// Resume lifts a suspension, returning the license to auto-calculated
// status. Only a suspended license can be resumed.
func (s *Service) Resume(ctx context.Context, licenseID int64) error {
	return s.transition(ctx, licenseID, StatusAuto, func(current Status) error {
		if current != StatusSuspended {
			return apperr.Conflict(apperr.CodeLicenseInactive, "license is not suspended")
		}
		return nil
	})
}

func (s *Service) transition(ctx context.Context, licenseID int64, to Status, check func(current Status) error) error {
	return database.WithTx(ctx, s.db, func(tx database.Tx) error {
		l, err := s.loadBy(ctx, tx, "id", licenseID)
		if err != nil {
			return err
		}
		if l == nil {
			return apperr.NotFound(apperr.CodeLicenseNotFound, "license not found")
		}
		if err := check(l.Stored); err != nil {
			return err
		}
		if l.Stored == to {
			return nil
		}
		_, err = tx.Update(ctx, "licenses",
			map[string]any{"status": string(to), "updated_at": s.now().UTC()},
			map[string]any{"id": licenseID})
		if err != nil {
			return fmt.Errorf("failed to update license status: %w", err)
		}
		return nil
	})
}

// GetStatus returns the effective status at the time of the call.
func (s *Service) GetStatus(ctx context.Context, licenseID int64) (Status, error) {
	l, err := s.ByID(ctx, licenseID)
	if err != nil {
		return "", err
	}
	if l == nil {
		return "", apperr.NotFound(apperr.CodeLicenseNotFound, "license not found")
	}
	return l.EffectiveStatus(s.now()), nil
}

// SweepExpired marks date-expired licenses so list queries and external
// reports do not depend on every consumer re-deriving. Effective status
// is still derived on reads; the sweep only settles the stored column.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	affected, err := s.db.Exec(ctx, `
		UPDATE licenses SET status = ?, updated_at = ?
		WHERE end_date IS NOT NULL AND end_date < ?
		  AND status IN (?, ?)`,
		string(StatusExpired), s.now().UTC(), s.now().UTC(),
		string(StatusAuto), string(StatusActive))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired licenses: %w", err)
	}
	return affected, nil
}
