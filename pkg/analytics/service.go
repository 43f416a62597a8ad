package analytics

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/appvend/appvend/pkg/database"
	"github.com/appvend/appvend/pkg/license"
)

// Service computes usage aggregates.
type Service struct {
	db  database.Adapter
	now func() time.Time
}

// NewService creates the analytics service.
func NewService(db database.Adapter) *Service {
	return &Service{db: db, now: time.Now}
}

// Overview is the high-level KPI set for one installation.
type Overview struct {
	TotalApps      int64 `json:"total_apps"`
	MonetizedApps  int64 `json:"monetized_apps"`
	TotalDownloads int64 `json:"total_downloads"`

	TotalLicenses     int64 `json:"total_licenses"`
	ActiveLicenses    int64 `json:"active_licenses"`
	RevokedLicenses   int64 `json:"revoked_licenses"`
	SuspendedLicenses int64 `json:"suspended_licenses"`
	ExpiredLicenses   int64 `json:"expired_licenses"`
	TotalActivations  int64 `json:"total_activations"`

	LicensesIssued24h int64 `json:"licenses_issued_24h"`
	LicensesIssued7d  int64 `json:"licenses_issued_7d"`
	LicensesIssued30d int64 `json:"licenses_issued_30d"`

	OpenDownloadTokens int64 `json:"open_download_tokens"`
}

// Overview computes the KPI set. License states are derived per row, so
// an "active" row past its end date counts as expired here too.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	var o Overview
	now := s.now().UTC()

	counts := []struct {
		dest  *int64
		query string
		args  []any
	}{
		{&o.TotalApps, "SELECT COUNT(*) FROM apps", nil},
		{&o.MonetizedApps, "SELECT COUNT(*) FROM apps WHERE monetized = ?", []any{true}},
		{&o.TotalDownloads, "SELECT COALESCE(SUM(downloads), 0) FROM apps", nil},
		{&o.LicensesIssued24h, "SELECT COUNT(*) FROM licenses WHERE created_at >= ?", []any{now.Add(-24 * time.Hour)}},
		{&o.LicensesIssued7d, "SELECT COUNT(*) FROM licenses WHERE created_at >= ?", []any{now.AddDate(0, 0, -7)}},
		{&o.LicensesIssued30d, "SELECT COUNT(*) FROM licenses WHERE created_at >= ?", []any{now.AddDate(0, 0, -30)}},
		{&o.OpenDownloadTokens, "SELECT COUNT(*) FROM download_tokens WHERE expires_at > ?", []any{now}},
	}
	for _, c := range counts {
		v, err := s.db.GetVar(ctx, c.query, c.args...)
		if err != nil {
			return nil, fmt.Errorf("failed to compute overview: %w", err)
		}
		*c.dest = database.AsInt64(v)
	}

	rows, err := s.db.GetResults(ctx,
		"SELECT status, start_date, end_date, activated_domains FROM licenses")
	if err != nil {
		return nil, fmt.Errorf("failed to read licenses: %w", err)
	}
	for _, row := range rows {
		o.TotalLicenses++
		o.TotalActivations += int64(countDomains(database.String(row, "activated_domains")))

		l := license.License{
			Stored:    license.Status(database.String(row, "status")),
			StartDate: database.Time(row, "start_date"),
			EndDate:   database.Time(row, "end_date"),
		}
		switch l.EffectiveStatus(now) {
		case license.StatusActive:
			o.ActiveLicenses++
		case license.StatusRevoked:
			o.RevokedLicenses++
		case license.StatusSuspended:
			o.SuspendedLicenses++
		case license.StatusExpired:
			o.ExpiredLicenses++
		}
	}
	return &o, nil
}

// AppStat is one leaderboard row.
type AppStat struct {
	ID        int64  `json:"id"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Downloads int64  `json:"downloads"`
}

// TopApps returns the most downloaded applications.
func (s *Service) TopApps(ctx context.Context, limit int) ([]AppStat, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	rows, err := s.db.GetResults(ctx, `
		SELECT id, slug, name, type, downloads FROM apps
		ORDER BY downloads DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to rank apps: %w", err)
	}
	stats := make([]AppStat, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, AppStat{
			ID:        database.Int64(row, "id"),
			Slug:      database.String(row, "slug"),
			Name:      database.String(row, "name"),
			Type:      database.String(row, "type"),
			Downloads: database.Int64(row, "downloads"),
		})
	}
	return stats, nil
}

// LicenseStat aggregates the licenses of one application.
type LicenseStat struct {
	AppID       int64 `json:"app_id"`
	Licenses    int64 `json:"licenses"`
	Active      int64 `json:"active"`
	Activations int64 `json:"activations"`
}

// LicensesByApp breaks license counts down per application.
func (s *Service) LicensesByApp(ctx context.Context) (map[int64]*LicenseStat, error) {
	rows, err := s.db.GetResults(ctx,
		"SELECT app_id, status, start_date, end_date, activated_domains FROM licenses")
	if err != nil {
		return nil, fmt.Errorf("failed to read licenses: %w", err)
	}
	now := s.now().UTC()
	stats := make(map[int64]*LicenseStat)
	for _, row := range rows {
		appID := database.Int64(row, "app_id")
		stat := stats[appID]
		if stat == nil {
			stat = &LicenseStat{AppID: appID}
			stats[appID] = stat
		}
		stat.Licenses++
		stat.Activations += int64(countDomains(database.String(row, "activated_domains")))
		l := license.License{
			Stored:    license.Status(database.String(row, "status")),
			StartDate: database.Time(row, "start_date"),
			EndDate:   database.Time(row, "end_date"),
		}
		if l.EffectiveStatus(now) == license.StatusActive {
			stat.Active++
		}
	}
	return stats, nil
}

// ExportCSV streams a per-application usage report.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) error {
	apps, err := s.db.GetResults(ctx,
		"SELECT id, slug, name, type, version, downloads FROM apps ORDER BY id ASC")
	if err != nil {
		return fmt.Errorf("failed to read apps: %w", err)
	}
	licenses, err := s.LicensesByApp(ctx)
	if err != nil {
		return err
	}

	out := csv.NewWriter(w)
	if err := out.Write([]string{
		"app_id", "slug", "name", "type", "version",
		"downloads", "licenses", "active_licenses", "activations",
	}); err != nil {
		return err
	}
	for _, row := range apps {
		appID := database.Int64(row, "id")
		stat := licenses[appID]
		if stat == nil {
			stat = &LicenseStat{}
		}
		record := []string{
			strconv.FormatInt(appID, 10),
			database.String(row, "slug"),
			database.String(row, "name"),
			database.String(row, "type"),
			database.String(row, "version"),
			strconv.FormatInt(database.Int64(row, "downloads"), 10),
			strconv.FormatInt(stat.Licenses, 10),
			strconv.FormatInt(stat.Active, 10),
			strconv.FormatInt(stat.Activations, 10),
		}
		if err := out.Write(record); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}

// countDomains parses the persisted activation list.
func countDomains(raw string) int {
	if raw == "" {
		return 0
	}
	var domains []string
	if err := json.Unmarshal([]byte(raw), &domains); err != nil {
		return 0
	}
	return len(domains)
}
