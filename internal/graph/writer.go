// Package graph implements GraphWriter: idempotent upsert of Okta entity
// batches into a SQLite-backed snapshot file, with schema bootstrap and
// dynamic custom-attribute columns on the User table.
package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/oktagraph/syncengine/internal/graphmodel"
)

// Writer upserts entity batches into one snapshot file. It is not safe for
// concurrent writes from multiple goroutines against the same table.
type Writer struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite file at path and bootstraps
// its schema. "Table already exists" is never an error here since every
// DDL statement is already idempotent (`IF NOT EXISTS`).
func Open(path string) (*Writer, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=off")
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}

	w := &Writer{db: db}
	if err := w.bootstrapSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

// Close closes the underlying database handle.
func (w *Writer) Close() error {
	return w.db.Close()
}

func (w *Writer) bootstrapSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := w.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema bootstrap: %w", err)
		}
	}
	return nil
}

var columnNamePattern = regexp.MustCompile(`[^A-Za-z0-9_]`)

// sanitizeAttributeName mirrors the fetcher's column-name sanitization so
// values land in the column EnsureCustomAttributeColumns created.
func sanitizeAttributeName(name string) string {
	return columnNamePattern.ReplaceAllString(strings.NewReplacer("-", "_", " ", "_", ".", "_").Replace(name), "")
}

// EnsureCustomAttributeColumns idempotently adds one TEXT column per
// tenant-configured custom attribute to the users table. SQLite has no
// "ADD COLUMN IF NOT EXISTS"; a "duplicate column name" failure is the
// expected steady-state outcome on every sync after the first and is
// swallowed here exactly as the reference implementation ignores "already
// has property" against its graph engine.
func (w *Writer) EnsureCustomAttributeColumns(names []string) error {
	for _, raw := range names {
		col := sanitizeAttributeName(raw)
		if col == "" {
			continue
		}
		_, err := w.db.Exec(fmt.Sprintf(`ALTER TABLE users ADD COLUMN %s TEXT`, col))
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate column name") {
			return fmt.Errorf("add custom attribute column %s: %w", col, err)
		}
	}
	return nil
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// UpsertUsers writes the user node rows of a batch, including whatever
// dynamic custom-attribute columns are present — callers must have already
// run EnsureCustomAttributeColumns for the full tenant attribute list.
func (w *Writer) UpsertUsers(ctx context.Context, users []graphmodel.User) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, u := range users {
		cols := []string{"tenant_id", "okta_id", "login", "email", "first_name", "last_name", "status",
			"manager_login", "created", "last_updated", "password_changed", "status_changed", "last_synced_at", "is_deleted"}
		vals := []any{u.TenantID, u.OktaID, u.Login, u.Email, u.FirstName, u.LastName, u.Status,
			u.ManagerLogin, timeOrNil(u.Created), timeOrNil(u.LastUpdated), timeOrNil(u.PasswordChanged), timeOrNil(u.StatusChanged), now, false}

		for attr, val := range u.CustomAttributes {
			cols = append(cols, attr)
			vals = append(vals, val)
		}

		if err := upsert(ctx, w.db, "users", []string{"tenant_id", "okta_id"}, cols, vals); err != nil {
			return fmt.Errorf("upsert user %s: %w", u.OktaID, err)
		}
	}
	return nil
}

// UpsertGroups writes OktaGroup node rows.
func (w *Writer) UpsertGroups(ctx context.Context, groups []graphmodel.Group) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, g := range groups {
		cols := []string{"tenant_id", "okta_id", "name", "description", "source_type", "created", "last_updated", "last_synced_at", "is_deleted"}
		vals := []any{g.TenantID, g.OktaID, g.Name, g.Description, string(g.SourceType), timeOrNil(g.Created), timeOrNil(g.LastUpdated), now, false}
		if err := upsert(ctx, w.db, "okta_groups", []string{"tenant_id", "okta_id"}, cols, vals); err != nil {
			return fmt.Errorf("upsert group %s: %w", g.OktaID, err)
		}
	}
	return nil
}

// UpsertApplications writes Application node rows. SAML attribute
// statements are stored as JSON since they are an ordered sequence, not a
// flat set of columns.
func (w *Writer) UpsertApplications(ctx context.Context, apps []graphmodel.Application) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, a := range apps {
		samlJSON, err := json.Marshal(a.SAMLAttributes)
		if err != nil {
			return fmt.Errorf("marshal saml attributes for app %s: %w", a.OktaID, err)
		}
		cols := []string{"tenant_id", "okta_id", "label", "status", "sign_on_mode", "policy_okta_id", "saml_attributes_json", "created", "last_updated", "last_synced_at", "is_deleted"}
		vals := []any{a.TenantID, a.OktaID, a.Label, a.Status, a.SignOnMode, a.PolicyOktaID, string(samlJSON), timeOrNil(a.Created), timeOrNil(a.LastUpdated), now, false}
		if err := upsert(ctx, w.db, "applications", []string{"tenant_id", "okta_id"}, cols, vals); err != nil {
			return fmt.Errorf("upsert application %s: %w", a.OktaID, err)
		}

		if a.PolicyOktaID != "" {
			if err := w.upsertGovernedByEdge(ctx, a.TenantID, a.OktaID, a.PolicyOktaID); err != nil {
				return err
			}
		}
	}
	return nil
}

// UpsertPolicies writes Policy node rows.
func (w *Writer) UpsertPolicies(ctx context.Context, policies []graphmodel.Policy) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, p := range policies {
		cols := []string{"tenant_id", "okta_id", "name", "type", "status", "priority", "last_synced_at", "is_deleted"}
		vals := []any{p.TenantID, p.OktaID, p.Name, string(p.Type), p.Status, p.Priority, now, false}
		if err := upsert(ctx, w.db, "policies", []string{"tenant_id", "okta_id"}, cols, vals); err != nil {
			return fmt.Errorf("upsert policy %s: %w", p.OktaID, err)
		}
	}
	return nil
}

// UpsertDevices writes Device node rows and their OWNS edges.
func (w *Writer) UpsertDevices(ctx context.Context, devices []graphmodel.Device, owns []graphmodel.OwnsEdge) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, d := range devices {
		cols := []string{"tenant_id", "okta_id", "platform", "model", "display_name", "encrypted", "management_status", "screen_lock_type", "last_synced_at", "is_deleted"}
		vals := []any{d.TenantID, d.OktaID, d.Platform, d.Model, d.DisplayName, d.Encrypted, d.ManagementStatus, d.ScreenLockType, now, false}
		if err := upsert(ctx, w.db, "devices", []string{"tenant_id", "okta_id"}, cols, vals); err != nil {
			return fmt.Errorf("upsert device %s: %w", d.OktaID, err)
		}
	}
	for _, e := range owns {
		if !w.nodeExists(ctx, "devices", e.TenantID, e.DeviceID) || !w.nodeExists(ctx, "users", e.TenantID, e.UserID) {
			log.Warn().Str("user", e.UserID).Str("device", e.DeviceID).Msg("skipping OWNS edge with missing endpoint")
			continue
		}
		cols := []string{"tenant_id", "user_id", "device_id", "management_status", "screen_lock_type"}
		vals := []any{e.TenantID, e.UserID, e.DeviceID, e.ManagementStatus, e.ScreenLockType}
		if err := upsert(ctx, w.db, "edge_owns", []string{"tenant_id", "user_id", "device_id"}, cols, vals); err != nil {
			return fmt.Errorf("upsert owns edge %s->%s: %w", e.UserID, e.DeviceID, err)
		}
	}
	return nil
}

// UpsertGroupAccess writes GROUP_HAS_ACCESS edges from groups to applications.
func (w *Writer) UpsertGroupAccess(ctx context.Context, edges []graphmodel.GroupHasAccessEdge) error {
	for _, e := range edges {
		if !w.nodeExists(ctx, "okta_groups", e.TenantID, e.GroupID) || !w.nodeExists(ctx, "applications", e.TenantID, e.ApplicationID) {
			log.Warn().Str("group", e.GroupID).Str("app", e.ApplicationID).Msg("skipping GROUP_HAS_ACCESS edge with missing endpoint")
			continue
		}
		cols := []string{"tenant_id", "group_id", "application_id", "priority"}
		vals := []any{e.TenantID, e.GroupID, e.ApplicationID, e.Priority}
		if err := upsert(ctx, w.db, "edge_group_has_access", []string{"tenant_id", "group_id", "application_id"}, cols, vals); err != nil {
			return fmt.Errorf("upsert group access edge %s->%s: %w", e.GroupID, e.ApplicationID, err)
		}
	}
	return nil
}

// UpsertUserRelationships writes a single user's MEMBER_OF and HAS_ACCESS
// edges, Factor nodes, ENROLLED edges, and REPORTS_TO edges, in that order. This is the
// "per-user streaming" step GraphWriter performs immediately after each
// user node upsert.
func (w *Writer) UpsertUserRelationships(ctx context.Context, memberOf []graphmodel.MemberOfEdge, hasAccess []graphmodel.HasAccessEdge, factors []graphmodel.Factor, enrolled []graphmodel.EnrolledEdge, reportsTo []graphmodel.ReportsToEdge) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	for _, e := range memberOf {
		if !w.nodeExists(ctx, "okta_groups", e.TenantID, e.GroupID) || !w.nodeExists(ctx, "users", e.TenantID, e.UserID) {
			log.Warn().Str("user", e.UserID).Str("group", e.GroupID).Msg("skipping MEMBER_OF edge with missing endpoint")
			continue
		}
		cols := []string{"tenant_id", "user_id", "group_id"}
		vals := []any{e.TenantID, e.UserID, e.GroupID}
		if err := upsert(ctx, w.db, "edge_member_of", []string{"tenant_id", "user_id", "group_id"}, cols, vals); err != nil {
			return fmt.Errorf("upsert member_of edge: %w", err)
		}
	}

	for _, e := range hasAccess {
		if e.ApplicationID == "" || !w.nodeExists(ctx, "applications", e.TenantID, e.ApplicationID) || !w.nodeExists(ctx, "users", e.TenantID, e.UserID) {
			log.Warn().Str("user", e.UserID).Str("app", e.ApplicationID).Msg("skipping HAS_ACCESS edge with missing endpoint")
			continue
		}
		cols := []string{"tenant_id", "user_id", "application_id", "scope", "hidden", "credentials_setup"}
		vals := []any{e.TenantID, e.UserID, e.ApplicationID, e.Scope, e.Hidden, e.CredentialsSetup}
		if err := upsert(ctx, w.db, "edge_has_access", []string{"tenant_id", "user_id", "application_id"}, cols, vals); err != nil {
			return fmt.Errorf("upsert has_access edge: %w", err)
		}
	}

	for _, f := range factors {
		cols := []string{"tenant_id", "okta_id", "factor_type", "provider", "status", "last_synced_at", "is_deleted"}
		vals := []any{f.TenantID, f.OktaID, f.FactorType, f.Provider, f.Status, now, false}
		if err := upsert(ctx, w.db, "factors", []string{"tenant_id", "okta_id"}, cols, vals); err != nil {
			return fmt.Errorf("upsert factor %s: %w", f.OktaID, err)
		}
	}

	for _, e := range enrolled {
		cols := []string{"tenant_id", "user_id", "factor_id"}
		vals := []any{e.TenantID, e.UserID, e.FactorID}
		if err := upsert(ctx, w.db, "edge_enrolled", []string{"tenant_id", "user_id", "factor_id"}, cols, vals); err != nil {
			return fmt.Errorf("upsert enrolled edge: %w", err)
		}
	}

	for _, e := range reportsTo {
		cols := []string{"tenant_id", "user_id", "manager_id"}
		vals := []any{e.TenantID, e.UserID, e.ManagerID}
		if err := upsert(ctx, w.db, "edge_reports_to", []string{"tenant_id", "user_id"}, cols, vals); err != nil {
			return fmt.Errorf("upsert reports_to edge: %w", err)
		}
	}

	return nil
}

// UpsertNetworkZones writes NetworkZone node rows.
func (w *Writer) UpsertNetworkZones(ctx context.Context, zones []graphmodel.NetworkZone) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, z := range zones {
		cols := []string{"tenant_id", "okta_id", "name", "type", "status", "last_synced_at", "is_deleted"}
		vals := []any{z.TenantID, z.OktaID, z.Name, z.Type, z.Status, now, false}
		if err := upsert(ctx, w.db, "network_zones", []string{"tenant_id", "okta_id"}, cols, vals); err != nil {
			return fmt.Errorf("upsert network zone %s: %w", z.OktaID, err)
		}
	}
	return nil
}

// UpsertPolicyRules writes PolicyRule node rows and their CONTAINS_RULE
// edges back to the owning policy.
func (w *Writer) UpsertPolicyRules(ctx context.Context, rules []graphmodel.PolicyRule) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range rules {
		cols := []string{"tenant_id", "okta_id", "policy_id", "name", "status", "priority", "factor_mode", "last_synced_at", "is_deleted"}
		vals := []any{r.TenantID, r.OktaID, r.PolicyID, r.Name, r.Status, r.Priority, r.FactorMode, now, false}
		if err := upsert(ctx, w.db, "policy_rules", []string{"tenant_id", "okta_id"}, cols, vals); err != nil {
			return fmt.Errorf("upsert policy rule %s: %w", r.OktaID, err)
		}

		if !w.nodeExists(ctx, "policies", r.TenantID, r.PolicyID) {
			log.Warn().Str("rule", r.OktaID).Str("policy", r.PolicyID).Msg("skipping CONTAINS_RULE edge, policy not yet written")
			continue
		}
		edgeCols := []string{"tenant_id", "policy_id", "rule_id"}
		edgeVals := []any{r.TenantID, r.PolicyID, r.OktaID}
		if err := upsert(ctx, w.db, "edge_contains_rule", []string{"tenant_id", "policy_id", "rule_id"}, edgeCols, edgeVals); err != nil {
			return fmt.Errorf("upsert contains_rule edge: %w", err)
		}
	}
	return nil
}

// UpsertRuleTargets writes the APPLIES_TO_USER, APPLIES_TO_GROUP, and
// APPLIES_TO_ZONE edges derived from a policy rule's conditions. Edges whose
// target node hasn't been written yet are skipped with a warning, the same
// as every other cross-entity edge GraphWriter produces.
func (w *Writer) UpsertRuleTargets(ctx context.Context, users []graphmodel.AppliesToUserEdge, groups []graphmodel.AppliesToGroupEdge, zones []graphmodel.AppliesToZoneEdge) error {
	for _, e := range users {
		if !w.nodeExists(ctx, "policy_rules", e.TenantID, e.RuleID) || !w.nodeExists(ctx, "users", e.TenantID, e.UserID) {
			log.Warn().Str("rule", e.RuleID).Str("user", e.UserID).Msg("skipping APPLIES_TO_USER edge with missing endpoint")
			continue
		}
		cols := []string{"tenant_id", "rule_id", "user_id", "excluded"}
		vals := []any{e.TenantID, e.RuleID, e.UserID, e.Excluded}
		if err := upsert(ctx, w.db, "edge_applies_to_user", []string{"tenant_id", "rule_id", "user_id"}, cols, vals); err != nil {
			return fmt.Errorf("upsert applies_to_user edge: %w", err)
		}
	}
	for _, e := range groups {
		if !w.nodeExists(ctx, "policy_rules", e.TenantID, e.RuleID) || !w.nodeExists(ctx, "okta_groups", e.TenantID, e.GroupID) {
			log.Warn().Str("rule", e.RuleID).Str("group", e.GroupID).Msg("skipping APPLIES_TO_GROUP edge with missing endpoint")
			continue
		}
		cols := []string{"tenant_id", "rule_id", "group_id", "excluded"}
		vals := []any{e.TenantID, e.RuleID, e.GroupID, e.Excluded}
		if err := upsert(ctx, w.db, "edge_applies_to_group", []string{"tenant_id", "rule_id", "group_id"}, cols, vals); err != nil {
			return fmt.Errorf("upsert applies_to_group edge: %w", err)
		}
	}
	for _, e := range zones {
		if !w.nodeExists(ctx, "policy_rules", e.TenantID, e.RuleID) || !w.nodeExists(ctx, "network_zones", e.TenantID, e.ZoneID) {
			log.Warn().Str("rule", e.RuleID).Str("zone", e.ZoneID).Msg("skipping APPLIES_TO_ZONE edge with missing endpoint")
			continue
		}
		cols := []string{"tenant_id", "rule_id", "zone_id", "excluded"}
		vals := []any{e.TenantID, e.RuleID, e.ZoneID, e.Excluded}
		if err := upsert(ctx, w.db, "edge_applies_to_zone", []string{"tenant_id", "rule_id", "zone_id"}, cols, vals); err != nil {
			return fmt.Errorf("upsert applies_to_zone edge: %w", err)
		}
	}
	return nil
}

func (w *Writer) upsertGovernedByEdge(ctx context.Context, tenantID, appID, policyID string) error {
	if !w.nodeExists(ctx, "policies", tenantID, policyID) {
		log.Warn().Str("app", appID).Str("policy", policyID).Msg("skipping GOVERNED_BY edge, policy not yet written")
		return nil
	}
	cols := []string{"tenant_id", "application_id", "policy_id"}
	vals := []any{tenantID, appID, policyID}
	return upsert(ctx, w.db, "edge_governed_by", []string{"tenant_id", "application_id"}, cols, vals)
}

// ReconcileGovernedByEdges retries GOVERNED_BY edges for applications whose
// policy didn't exist yet at write time (policies sync after applications
// in the dependency order but may reference each other across pages).
func (w *Writer) ReconcileGovernedByEdges(ctx context.Context) error {
	rows, err := w.db.QueryContext(ctx, `SELECT tenant_id, okta_id, policy_okta_id FROM applications WHERE policy_okta_id != ''`)
	if err != nil {
		return fmt.Errorf("reconcile governed_by: %w", err)
	}
	defer rows.Close()

	type pending struct{ tenantID, appID, policyID string }
	var toLink []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.tenantID, &p.appID, &p.policyID); err != nil {
			return err
		}
		toLink = append(toLink, p)
	}

	for _, p := range toLink {
		if err := w.upsertGovernedByEdge(ctx, p.tenantID, p.appID, p.policyID); err != nil {
			return err
		}
	}
	return nil
}

// SetSyncMetadata records the validation facts VersionManager.PromoteStaging
// checks before promoting this snapshot.
func (w *Writer) SetSyncMetadata(ctx context.Context, tenantID string, success bool, usersCount int) error {
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO sync_metadata (tenant_id, success, users_count, completed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(tenant_id) DO UPDATE SET success=excluded.success, users_count=excluded.users_count, completed_at=excluded.completed_at`,
		tenantID, success, usersCount, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (w *Writer) nodeExists(ctx context.Context, table, tenantID, oktaID string) bool {
	var exists int
	err := w.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT 1 FROM %s WHERE tenant_id = ? AND okta_id = ? LIMIT 1`, table), tenantID, oktaID).Scan(&exists)
	return err == nil
}

// upsert builds and executes a parameterized INSERT ... ON CONFLICT DO
// UPDATE against table, keyed on keyCols.
func upsert(ctx context.Context, db *sql.DB, table string, keyCols, cols []string, vals []any) error {
	placeholders := make([]string, len(cols))
	updates := make([]string, 0, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		if !contains(keyCols, c) {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s`,
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(keyCols, ", "), strings.Join(updates, ", "),
	)
	_, err := db.ExecContext(ctx, query, vals...)
	return err
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
