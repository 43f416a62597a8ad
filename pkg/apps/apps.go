package apps

import (
	"context"
	"fmt"
	"time"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/database"
	"github.com/appvend/appvend/pkg/sanitize"
)

// Type classifies hosted applications.
type Type string

const (
	TypePlugin  Type = "plugin"
	TypeTheme   Type = "theme"
	TypePackage Type = "package"
)

// ValidType reports whether t is a known application type.
func ValidType(t Type) bool {
	switch t {
	case TypePlugin, TypeTheme, TypePackage:
		return true
	}
	return false
}

// App is one hosted application.
type App struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Type      Type      `json:"type"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Monetized bool      `json:"monetized"`
	FileKey   string    `json:"file_key"`
	Downloads int64     `json:"downloads"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists the catalog.
type Store struct {
	db database.Adapter
}

// NewStore creates an app store.
func NewStore(db database.Adapter) *Store {
	return &Store{db: db}
}

func appFromRow(row map[string]any) *App {
	return &App{
		ID:        database.Int64(row, "id"),
		OwnerID:   database.Int64(row, "owner_id"),
		Type:      Type(database.String(row, "type")),
		Slug:      database.String(row, "slug"),
		Name:      database.String(row, "name"),
		Version:   database.String(row, "version"),
		Monetized: database.Bool(row, "monetized"),
		FileKey:   database.String(row, "file_key"),
		Downloads: database.Int64(row, "downloads"),
		CreatedAt: database.Time(row, "created_at"),
		UpdatedAt: database.Time(row, "updated_at"),
	}
}

// ByID loads an app; nil when missing.
func (s *Store) ByID(ctx context.Context, id int64) (*App, error) {
	row, err := s.db.GetRow(ctx, "SELECT * FROM apps WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load app %d: %w", id, err)
	}
	if row == nil {
		return nil, nil
	}
	return appFromRow(row), nil
}

// BySlug resolves an app by its (type, slug) address; nil when missing.
func (s *Store) BySlug(ctx context.Context, typ Type, slug string) (*App, error) {
	if !ValidType(typ) {
		return nil, apperr.BadRequest(apperr.CodeInvalidAppType, "unknown app type").
			WithData("type", string(typ))
	}
	row, err := s.db.GetRow(ctx,
		"SELECT * FROM apps WHERE type = ? AND slug = ?",
		string(typ), sanitize.Slug(slug))
	if err != nil {
		return nil, fmt.Errorf("failed to load app %s/%s: %w", typ, slug, err)
	}
	if row == nil {
		return nil, nil
	}
	return appFromRow(row), nil
}

// ForOwner lists an owner's apps, newest first.
func (s *Store) ForOwner(ctx context.Context, ownerID int64) ([]*App, error) {
	rows, err := s.db.GetResults(ctx,
		"SELECT * FROM apps WHERE owner_id = ? ORDER BY created_at DESC", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}
	out := make([]*App, 0, len(rows))
	for _, row := range rows {
		out = append(out, appFromRow(row))
	}
	return out, nil
}

// Create persists a new app. The slug is derived from the name when
// empty; a taken (type, slug) address is a conflict.
func (s *Store) Create(ctx context.Context, app *App) error {
	if !ValidType(app.Type) {
		return apperr.BadRequest(apperr.CodeInvalidAppType, "unknown app type").
			WithData("type", string(app.Type))
	}
	if app.Slug == "" {
		app.Slug = sanitize.Slug(app.Name)
	} else {
		app.Slug = sanitize.Slug(app.Slug)
	}
	var missing []string
	if app.OwnerID <= 0 {
		missing = append(missing, "owner_id")
	}
	if app.Name == "" {
		missing = append(missing, "name")
	}
	if app.Slug == "" {
		missing = append(missing, "slug")
	}
	if len(missing) > 0 {
		err := apperr.Unprocessable(apperr.CodeMissingFields, "app is incomplete")
		for _, field := range missing {
			err.Add(apperr.CodeMissingFields, "field is required", map[string]any{"field": field})
		}
		return err
	}

	existing, err := s.BySlug(ctx, app.Type, app.Slug)
	if err != nil {
		return err
	}
	if existing != nil {
		return apperr.Conflict(apperr.CodeDuplicateSlug, "slug is already in use").
			WithData("type", string(app.Type)).
			WithData("slug", app.Slug)
	}

	now := time.Now().UTC()
	id, err := s.db.Insert(ctx, "apps", map[string]any{
		"owner_id":   app.OwnerID,
		"type":       string(app.Type),
		"slug":       app.Slug,
		"name":       app.Name,
		"version":    app.Version,
		"monetized":  app.Monetized,
		"file_key":   app.FileKey,
		"downloads":  0,
		"created_at": now,
		"updated_at": now,
	})
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	app.ID = id
	app.CreatedAt = now
	app.UpdatedAt = now
	return nil
}

// Update persists mutable app fields.
func (s *Store) Update(ctx context.Context, app *App) error {
	if app.ID <= 0 {
		return apperr.NotFound(apperr.CodeAppNotFound, "app not found")
	}
	now := time.Now().UTC()
	affected, err := s.db.Update(ctx, "apps", map[string]any{
		"name":       app.Name,
		"version":    app.Version,
		"monetized":  app.Monetized,
		"file_key":   app.FileKey,
		"updated_at": now,
	}, map[string]any{"id": app.ID})
	if err != nil {
		return fmt.Errorf("failed to update app %d: %w", app.ID, err)
	}
	if affected == 0 {
		return apperr.NotFound(apperr.CodeAppNotFound, "app not found")
	}
	app.UpdatedAt = now
	return nil
}

// RecordDownload bumps the download counter. Called from after-serve
// callbacks; failures are the caller's to log, not to fail the download.
func (s *Store) RecordDownload(ctx context.Context, appID int64) error {
	_, err := s.db.Exec(ctx,
		"UPDATE apps SET downloads = downloads + 1 WHERE id = ?", appID)
	if err != nil {
		return fmt.Errorf("failed to record download: %w", err)
	}
	return nil
}
