// Package version implements VersionManager: directory-per-version snapshot
// layout with mutex-guarded atomic promotion, giving readers a stable
// address while a sync writes the next version elsewhere.
//
//	./graph_db/okta_v1/snapshot.db  <- current (queries use this)
//	./graph_db/okta_v2/snapshot.db  <- staging (sync writes here)
//
// After a successful sync, Manager.PromoteStaging atomically swaps which
// directory readers resolve to, then prunes old versions beyond the
// retention count.
package version

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const snapshotFileName = "snapshot.db"

var versionDirPattern = regexp.MustCompile(`^okta_v(\d+)$`)

// Manager tracks the current/staging version numbers for one tenant's
// snapshot directory tree and serializes promotion/cleanup under a mutex.
type Manager struct {
	dbDir        string
	keepVersions int

	mu             sync.Mutex
	currentVersion int
}

// New scans dbDir for existing okta_v{N} directories and initializes the
// current version to the highest one found, or 1 if none exist.
func New(dbDir string, keepVersions int) (*Manager, error) {
	if keepVersions < 1 {
		keepVersions = 2
	}
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("create graph db dir: %w", err)
	}

	m := &Manager{dbDir: dbDir, keepVersions: keepVersions}
	m.currentVersion = detectCurrentVersion(dbDir)

	log.Info().Str("dir", dbDir).Int("version", m.currentVersion).Msg("version manager initialized")
	return m, nil
}

func detectCurrentVersion(dbDir string) int {
	entries, err := os.ReadDir(dbDir)
	if err != nil {
		return 1
	}

	maxVersion := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := versionDirPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if v > maxVersion {
			maxVersion = v
		}
	}
	if maxVersion == 0 {
		return 1
	}
	return maxVersion
}

func (m *Manager) versionDir(v int) string {
	return filepath.Join(m.dbDir, fmt.Sprintf("okta_v%d", v))
}

// CurrentSnapshotPath returns the SQLite file path readers should open.
func (m *Manager) CurrentSnapshotPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filepath.Join(m.versionDir(m.currentVersion), snapshotFileName)
}

// StagingSnapshotPath returns the SQLite file path a sync should write to.
// The directory is created if it doesn't already exist.
func (m *Manager) StagingSnapshotPath() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := m.versionDir(m.currentVersion + 1)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return filepath.Join(dir, snapshotFileName), nil
}

// PromoteStaging atomically advances the current version to staging's, after
// optionally validating that staging recorded a successful sync with at
// least one user. Promotion is just an in-memory counter increment — no
// data is copied — so it is effectively instantaneous.
func (m *Manager) PromoteStaging(ctx context.Context, tenantID string, validateMetadata bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stagingVersion := m.currentVersion + 1
	stagingDir := m.versionDir(stagingVersion)
	stagingPath := filepath.Join(stagingDir, snapshotFileName)

	if _, err := os.Stat(stagingPath); err != nil {
		return fmt.Errorf("cannot promote: staging snapshot not found at %s: %w", stagingPath, err)
	}

	if validateMetadata {
		ok, err := validateStagingMetadata(ctx, stagingPath, tenantID)
		if err != nil {
			return fmt.Errorf("validate staging metadata: %w", err)
		}
		if !ok {
			return fmt.Errorf("staging v%d failed metadata validation for tenant %s", stagingVersion, tenantID)
		}
	}

	oldVersion := m.currentVersion
	m.currentVersion = stagingVersion

	log.Info().Int("from", oldVersion).Int("to", m.currentVersion).Msg("snapshot promoted")

	m.pruneOldVersionsLocked()
	return nil
}

// validateStagingMetadata opens the staging snapshot read-only and checks
// its sync_metadata row reports success with a nonzero user count, mirroring
// the reference implementation's SyncMetadata node check.
func validateStagingMetadata(ctx context.Context, path, tenantID string) (bool, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return false, err
	}
	defer db.Close()

	var success bool
	var usersCount int
	err = db.QueryRowContext(ctx, `SELECT success, users_count FROM sync_metadata WHERE tenant_id = ?`, tenantID).Scan(&success, &usersCount)
	if err != nil {
		return false, nil // no metadata row at all means validation fails, not an error
	}
	return success && usersCount > 0, nil
}

// pruneOldVersionsLocked deletes version directories beyond keepVersions,
// newest first. Must be called with mu held.
func (m *Manager) pruneOldVersionsLocked() {
	versions := m.listVersionsLocked()
	sort.Sort(sort.Reverse(sort.IntSlice(versions)))

	if len(versions) <= m.keepVersions {
		return
	}
	for _, v := range versions[m.keepVersions:] {
		dir := m.versionDir(v)
		if err := os.RemoveAll(dir); err != nil {
			log.Error().Err(err).Int("version", v).Msg("failed to clean up old snapshot version")
			continue
		}
		log.Info().Int("version", v).Msg("cleaned up old snapshot version")
	}
}

func (m *Manager) listVersionsLocked() []int {
	entries, err := os.ReadDir(m.dbDir)
	if err != nil {
		return nil
	}
	var versions []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if match := versionDirPattern.FindStringSubmatch(e.Name()); match != nil {
			if v, err := strconv.Atoi(match[1]); err == nil {
				versions = append(versions, v)
			}
		}
	}
	return versions
}

// ForceCleanupAllOldVersions immediately removes every version directory
// older than the current one, bypassing the normal keep-N retention. Callers
// must ensure no readers still hold connections to those versions.
func (m *Manager) ForceCleanupAllOldVersions() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cleaned := 0
	for _, v := range m.listVersionsLocked() {
		if v >= m.currentVersion {
			continue
		}
		if err := os.RemoveAll(m.versionDir(v)); err != nil {
			log.Error().Err(err).Int("version", v).Msg("force cleanup failed")
			continue
		}
		cleaned++
	}
	return cleaned
}

// Info describes the current state of the version directory tree.
type Info struct {
	CurrentVersion int
	CurrentPath    string
	CurrentExists  bool
	StagingVersion int
	StagingPath    string
	StagingExists  bool
	DBDir          string
}

// GetVersionInfo returns a snapshot of the manager's current state.
func (m *Manager) GetVersionInfo() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	currentPath := filepath.Join(m.versionDir(m.currentVersion), snapshotFileName)
	stagingPath := filepath.Join(m.versionDir(m.currentVersion+1), snapshotFileName)

	_, currentErr := os.Stat(currentPath)
	_, stagingErr := os.Stat(stagingPath)

	return Info{
		CurrentVersion: m.currentVersion,
		CurrentPath:    currentPath,
		CurrentExists:  currentErr == nil,
		StagingVersion: m.currentVersion + 1,
		StagingPath:    stagingPath,
		StagingExists:  stagingErr == nil,
		DBDir:          m.dbDir,
	}
}
