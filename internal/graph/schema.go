package graph

// schemaStatements declares the node and edge tables plus secondary indexes
// for a fresh snapshot. Every statement uses IF NOT EXISTS, so re-running
// this against a populated snapshot succeeds without any "already exists"
// failure.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		tenant_id TEXT NOT NULL,
		okta_id TEXT NOT NULL,
		login TEXT,
		email TEXT,
		first_name TEXT,
		last_name TEXT,
		status TEXT,
		manager_login TEXT,
		created TEXT,
		last_updated TEXT,
		password_changed TEXT,
		status_changed TEXT,
		last_synced_at TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, okta_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_email ON users(tenant_id, email)`,
	`CREATE INDEX IF NOT EXISTS idx_users_login ON users(tenant_id, login)`,
	`CREATE INDEX IF NOT EXISTS idx_users_status ON users(tenant_id, status)`,

	`CREATE TABLE IF NOT EXISTS okta_groups (
		tenant_id TEXT NOT NULL,
		okta_id TEXT NOT NULL,
		name TEXT,
		description TEXT,
		source_type TEXT,
		created TEXT,
		last_updated TEXT,
		last_synced_at TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, okta_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_groups_name ON okta_groups(tenant_id, name)`,

	`CREATE TABLE IF NOT EXISTS applications (
		tenant_id TEXT NOT NULL,
		okta_id TEXT NOT NULL,
		label TEXT,
		status TEXT,
		sign_on_mode TEXT,
		policy_okta_id TEXT,
		saml_attributes_json TEXT,
		created TEXT,
		last_updated TEXT,
		last_synced_at TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, okta_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_apps_label ON applications(tenant_id, label)`,
	`CREATE INDEX IF NOT EXISTS idx_apps_status ON applications(tenant_id, status)`,

	`CREATE TABLE IF NOT EXISTS policies (
		tenant_id TEXT NOT NULL,
		okta_id TEXT NOT NULL,
		name TEXT,
		type TEXT,
		status TEXT,
		priority INTEGER,
		last_synced_at TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, okta_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_policies_name ON policies(tenant_id, name)`,

	`CREATE TABLE IF NOT EXISTS factors (
		tenant_id TEXT NOT NULL,
		okta_id TEXT NOT NULL,
		factor_type TEXT,
		provider TEXT,
		status TEXT,
		last_synced_at TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, okta_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_factors_type ON factors(tenant_id, factor_type)`,

	`CREATE TABLE IF NOT EXISTS devices (
		tenant_id TEXT NOT NULL,
		okta_id TEXT NOT NULL,
		platform TEXT,
		model TEXT,
		display_name TEXT,
		encrypted INTEGER,
		management_status TEXT,
		screen_lock_type TEXT,
		last_synced_at TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, okta_id)
	)`,

	`CREATE TABLE IF NOT EXISTS edge_member_of (
		tenant_id TEXT NOT NULL, user_id TEXT NOT NULL, group_id TEXT NOT NULL,
		PRIMARY KEY (tenant_id, user_id, group_id)
	)`,
	`CREATE TABLE IF NOT EXISTS edge_has_access (
		tenant_id TEXT NOT NULL, user_id TEXT NOT NULL, application_id TEXT NOT NULL,
		scope TEXT, hidden INTEGER, credentials_setup INTEGER,
		PRIMARY KEY (tenant_id, user_id, application_id)
	)`,
	`CREATE TABLE IF NOT EXISTS edge_group_has_access (
		tenant_id TEXT NOT NULL, group_id TEXT NOT NULL, application_id TEXT NOT NULL,
		priority INTEGER,
		PRIMARY KEY (tenant_id, group_id, application_id)
	)`,
	`CREATE TABLE IF NOT EXISTS edge_enrolled (
		tenant_id TEXT NOT NULL, user_id TEXT NOT NULL, factor_id TEXT NOT NULL,
		PRIMARY KEY (tenant_id, user_id, factor_id)
	)`,
	`CREATE TABLE IF NOT EXISTS edge_owns (
		tenant_id TEXT NOT NULL, user_id TEXT NOT NULL, device_id TEXT NOT NULL,
		management_status TEXT, screen_lock_type TEXT,
		PRIMARY KEY (tenant_id, user_id, device_id)
	)`,
	`CREATE TABLE IF NOT EXISTS edge_governed_by (
		tenant_id TEXT NOT NULL, application_id TEXT NOT NULL, policy_id TEXT NOT NULL,
		PRIMARY KEY (tenant_id, application_id)
	)`,
	`CREATE TABLE IF NOT EXISTS edge_reports_to (
		tenant_id TEXT NOT NULL, user_id TEXT NOT NULL, manager_id TEXT NOT NULL,
		PRIMARY KEY (tenant_id, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS network_zones (
		tenant_id TEXT NOT NULL,
		okta_id TEXT NOT NULL,
		name TEXT,
		type TEXT,
		status TEXT,
		last_synced_at TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, okta_id)
	)`,

	`CREATE TABLE IF NOT EXISTS policy_rules (
		tenant_id TEXT NOT NULL,
		okta_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		name TEXT,
		status TEXT,
		priority INTEGER,
		factor_mode TEXT,
		last_synced_at TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, okta_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_policy_rules_policy ON policy_rules(tenant_id, policy_id)`,

	`CREATE TABLE IF NOT EXISTS edge_contains_rule (
		tenant_id TEXT NOT NULL, policy_id TEXT NOT NULL, rule_id TEXT NOT NULL,
		PRIMARY KEY (tenant_id, policy_id, rule_id)
	)`,
	`CREATE TABLE IF NOT EXISTS edge_applies_to_user (
		tenant_id TEXT NOT NULL, rule_id TEXT NOT NULL, user_id TEXT NOT NULL,
		excluded INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, rule_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS edge_applies_to_group (
		tenant_id TEXT NOT NULL, rule_id TEXT NOT NULL, group_id TEXT NOT NULL,
		excluded INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, rule_id, group_id)
	)`,
	`CREATE TABLE IF NOT EXISTS edge_applies_to_zone (
		tenant_id TEXT NOT NULL, rule_id TEXT NOT NULL, zone_id TEXT NOT NULL,
		excluded INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, rule_id, zone_id)
	)`,

	`CREATE TABLE IF NOT EXISTS sync_metadata (
		tenant_id TEXT NOT NULL PRIMARY KEY,
		success INTEGER NOT NULL,
		users_count INTEGER NOT NULL DEFAULT 0,
		completed_at TEXT
	)`,
}
