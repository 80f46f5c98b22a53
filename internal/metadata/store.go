// Package metadata implements MetadataStore: the operational, always-live
// sidecar that tracks sync run history, separate from the versioned
// analytical graph snapshots themselves.
package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oktagraph/syncengine/internal/db"
)

// SyncStatus enumerates the lifecycle states of a sync_history row.
type SyncStatus string

const (
	StatusRunning  SyncStatus = "running"
	StatusIdle     SyncStatus = "idle"
	StatusComplete SyncStatus = "completed"
	StatusFailed   SyncStatus = "failed"
	StatusCanceled SyncStatus = "canceled"
)

// activeStatuses and terminalStatuses partition sync_history rows the same
// way the reference implementation's get_active_sync/get_last_completed_sync
// queries do.
var activeStatuses = []SyncStatus{StatusRunning, StatusIdle}
var terminalStatuses = []SyncStatus{StatusComplete, StatusFailed, StatusCanceled}

// retainedSyncRecordsPerTenant bounds sync_history growth: only the most
// recent rows per tenant survive each terminal-status update.
const retainedSyncRecordsPerTenant = 100

// SyncRecord mirrors one sync_history row.
type SyncRecord struct {
	ID                 int64
	TenantID           string
	SyncType           string
	Status             SyncStatus
	StartTime          time.Time
	EndTime            *time.Time
	UsersCount         int
	GroupsCount        int
	AppsCount          int
	DevicesCount       int
	PoliciesCount      int
	FactorsCount       int
	ZonesCount         int
	RulesCount         int
	ErrorCount         int
	ErrorMessage       string
	ProgressPercentage int
	GraphDBVersion     int
	GraphDBPromoted    bool
}

// Store wraps a Postgres connection pool with the sync_history operations
// SyncOrchestrator and the sync-control surface both depend on.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the metadata database and bootstraps its schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := db.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.bootstrapSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) bootstrapSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sync_history (
			id BIGSERIAL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			sync_type TEXT NOT NULL DEFAULT 'graphdb',
			status TEXT NOT NULL,
			start_time TIMESTAMPTZ NOT NULL DEFAULT now(),
			end_time TIMESTAMPTZ,
			users_count INTEGER NOT NULL DEFAULT 0,
			groups_count INTEGER NOT NULL DEFAULT 0,
			apps_count INTEGER NOT NULL DEFAULT 0,
			devices_count INTEGER NOT NULL DEFAULT 0,
			policies_count INTEGER NOT NULL DEFAULT 0,
			factors_count INTEGER NOT NULL DEFAULT 0,
			zones_count INTEGER NOT NULL DEFAULT 0,
			rules_count INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			progress_percentage INTEGER NOT NULL DEFAULT 0,
			graphdb_version INTEGER,
			graphdb_promoted BOOLEAN NOT NULL DEFAULT false
		);
		CREATE INDEX IF NOT EXISTS idx_sync_history_tenant_status ON sync_history (tenant_id, status);
		CREATE INDEX IF NOT EXISTS idx_sync_history_tenant_start ON sync_history (tenant_id, start_time DESC);
	`)
	return err
}

// CreateSyncRecord inserts a new running sync_history row and returns its ID.
func (s *Store) CreateSyncRecord(ctx context.Context, tenantID, syncType string) (int64, error) {
	if syncType == "" {
		syncType = "graphdb"
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sync_history (tenant_id, sync_type, status, start_time) VALUES ($1, $2, 'running', now()) RETURNING id`,
		tenantID, syncType,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create sync record: %w", err)
	}
	return id, nil
}

// SyncUpdate carries the fields UpdateSyncRecord should apply. Zero-value
// fields are left untouched except where the caller explicitly sets the
// corresponding pointer/flag.
type SyncUpdate struct {
	Status             *SyncStatus
	EndTime            *time.Time
	UsersCount         *int
	GroupsCount        *int
	AppsCount          *int
	DevicesCount       *int
	PoliciesCount      *int
	FactorsCount       *int
	ZonesCount         *int
	RulesCount         *int
	ErrorCount         *int
	ErrorMessage       *string
	ProgressPercentage *int
	GraphDBVersion     *int
	GraphDBPromoted    *bool
}

// UpdateSyncRecord applies a partial update to a sync_history row. When the
// update transitions the row to a terminal status, it also prunes that
// tenant's history beyond the retention window.
func (s *Store) UpdateSyncRecord(ctx context.Context, syncID int64, tenantID string, update SyncUpdate) error {
	sets := make([]string, 0, 6)
	args := make([]any, 0, 6)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if update.Status != nil {
		sets = append(sets, "status = "+arg(string(*update.Status)))
	}
	if update.EndTime != nil {
		sets = append(sets, "end_time = "+arg(*update.EndTime))
	}
	if update.UsersCount != nil {
		sets = append(sets, "users_count = "+arg(*update.UsersCount))
	}
	if update.GroupsCount != nil {
		sets = append(sets, "groups_count = "+arg(*update.GroupsCount))
	}
	if update.AppsCount != nil {
		sets = append(sets, "apps_count = "+arg(*update.AppsCount))
	}
	if update.DevicesCount != nil {
		sets = append(sets, "devices_count = "+arg(*update.DevicesCount))
	}
	if update.PoliciesCount != nil {
		sets = append(sets, "policies_count = "+arg(*update.PoliciesCount))
	}
	if update.FactorsCount != nil {
		sets = append(sets, "factors_count = "+arg(*update.FactorsCount))
	}
	if update.ZonesCount != nil {
		sets = append(sets, "zones_count = "+arg(*update.ZonesCount))
	}
	if update.RulesCount != nil {
		sets = append(sets, "rules_count = "+arg(*update.RulesCount))
	}
	if update.ErrorCount != nil {
		sets = append(sets, "error_count = "+arg(*update.ErrorCount))
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = "+arg(*update.ErrorMessage))
	}
	if update.ProgressPercentage != nil {
		sets = append(sets, "progress_percentage = "+arg(*update.ProgressPercentage))
	}
	if update.GraphDBVersion != nil {
		sets = append(sets, "graphdb_version = "+arg(*update.GraphDBVersion))
	}
	if update.GraphDBPromoted != nil {
		sets = append(sets, "graphdb_promoted = "+arg(*update.GraphDBPromoted))
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, syncID)
	query := fmt.Sprintf(`UPDATE sync_history SET %s WHERE id = $%d`, joinComma(sets), len(args))
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update sync record %d: %w", syncID, err)
	}

	if update.Status != nil && isTerminal(*update.Status) {
		if err := s.pruneHistory(ctx, tenantID); err != nil {
			return fmt.Errorf("prune sync history for %s: %w", tenantID, err)
		}
	}
	return nil
}

func (s *Store) pruneHistory(ctx context.Context, tenantID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM sync_history
		WHERE tenant_id = $1 AND id NOT IN (
			SELECT id FROM sync_history WHERE tenant_id = $1 ORDER BY start_time DESC LIMIT $2
		)`, tenantID, retainedSyncRecordsPerTenant)
	return err
}

func isTerminal(status SyncStatus) bool {
	for _, s := range terminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}

const syncRecordColumns = `id, tenant_id, sync_type, status, start_time, end_time,
	users_count, groups_count, apps_count, devices_count, policies_count, factors_count, zones_count, rules_count,
	error_count, coalesce(error_message, ''), progress_percentage, coalesce(graphdb_version, 0), graphdb_promoted`

// GetActiveSync returns the tenant's currently running/idle sync, if any.
func (s *Store) GetActiveSync(ctx context.Context, tenantID string) (*SyncRecord, error) {
	return s.queryOne(ctx, `
		SELECT `+syncRecordColumns+`
		FROM sync_history WHERE tenant_id = $1 AND status = ANY($2) ORDER BY start_time DESC LIMIT 1`,
		tenantID, statusStrings(activeStatuses))
}

// GetLastCompletedSync returns the tenant's most recent terminal-status sync.
func (s *Store) GetLastCompletedSync(ctx context.Context, tenantID string) (*SyncRecord, error) {
	return s.queryOne(ctx, `
		SELECT `+syncRecordColumns+`
		FROM sync_history WHERE tenant_id = $1 AND status = ANY($2) ORDER BY end_time DESC NULLS LAST LIMIT 1`,
		tenantID, statusStrings(terminalStatuses))
}

// GetSyncHistory returns the most recent limit sync_history rows for a tenant.
func (s *Store) GetSyncHistory(ctx context.Context, tenantID string, limit int) ([]SyncRecord, error) {
	if limit <= 0 {
		limit = retainedSyncRecordsPerTenant
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+syncRecordColumns+`
		FROM sync_history WHERE tenant_id = $1 ORDER BY start_time DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("get sync history: %w", err)
	}
	defer rows.Close()

	var records []SyncRecord
	for rows.Next() {
		rec, err := scanSyncRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (*SyncRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sync record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	rec, err := scanSyncRecord(rows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanSyncRecord(rows pgx.Rows) (SyncRecord, error) {
	var rec SyncRecord
	var status string
	err := rows.Scan(&rec.ID, &rec.TenantID, &rec.SyncType, &status, &rec.StartTime, &rec.EndTime,
		&rec.UsersCount, &rec.GroupsCount, &rec.AppsCount, &rec.DevicesCount, &rec.PoliciesCount,
		&rec.FactorsCount, &rec.ZonesCount, &rec.RulesCount,
		&rec.ErrorCount, &rec.ErrorMessage, &rec.ProgressPercentage, &rec.GraphDBVersion, &rec.GraphDBPromoted)
	rec.Status = SyncStatus(status)
	return rec, err
}

func statusStrings(statuses []SyncStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func joinComma(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}
