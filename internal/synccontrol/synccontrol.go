// Package synccontrol implements the sync-control surface: StartSync,
// CancelSync, and GetStatus, serialized so that at most one sync per tenant
// runs at a time.
package synccontrol

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/oktagraph/syncengine/internal/metadata"
	"github.com/oktagraph/syncengine/internal/orchestrator"
)

// Status values returned by StartSync/CancelSync, distinct from
// metadata.SyncStatus since they describe the outcome of the control call
// itself rather than a sync_history row.
const (
	StatusStarted        = "started"
	StatusAlreadyRunning = "already_running"
	StatusCanceled       = "canceled"
	StatusNotRunning     = "not_running"
)

// runningSync tracks one in-flight sync so CancelSync can reach it and a
// second StartSync for the same tenant can report already_running without
// touching the database.
type runningSync struct {
	syncID int64
	cancel context.CancelFunc
}

// Controller owns the per-tenant single-flight map and the collaborators a
// sync run needs.
type Controller struct {
	mu      sync.Mutex
	running map[string]*runningSync

	orch      *orchestrator.Orchestrator
	metaStore *metadata.Store
}

// New builds a Controller around an already-constructed Orchestrator and
// MetadataStore.
func New(orch *orchestrator.Orchestrator, metaStore *metadata.Store) *Controller {
	return &Controller{
		running:   make(map[string]*runningSync),
		orch:      orch,
		metaStore: metaStore,
	}
}

// StartSync begins a sync for tenantID unless one is already running, in
// which case it returns the active sync's id and StatusAlreadyRunning
// instead of starting a second one.
func (c *Controller) StartSync(ctx context.Context, tenantID string) (int64, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rs, ok := c.running[tenantID]; ok {
		return rs.syncID, StatusAlreadyRunning, nil
	}

	// A sync_history row can be left in a running state by a process that
	// crashed mid-sync, with nothing tracked in this process's map. Honor it
	// the same way: report already_running rather than starting a second
	// writer against the same staging snapshot.
	active, err := c.metaStore.GetActiveSync(ctx, tenantID)
	if err != nil {
		return 0, "", fmt.Errorf("check active sync: %w", err)
	}
	if active != nil {
		return active.ID, StatusAlreadyRunning, nil
	}

	syncID, err := c.metaStore.CreateSyncRecord(ctx, tenantID, "graphdb")
	if err != nil {
		return 0, "", fmt.Errorf("create sync record: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	c.running[tenantID] = &runningSync{syncID: syncID, cancel: cancel}

	go c.run(runCtx, tenantID, syncID)

	return syncID, StatusStarted, nil
}

// run drives the orchestrator in the background and removes the tenant from
// the running set once it returns, regardless of outcome.
func (c *Controller) run(ctx context.Context, tenantID string, syncID int64) {
	defer func() {
		c.mu.Lock()
		delete(c.running, tenantID)
		c.mu.Unlock()
	}()

	result, err := c.orch.RunSync(ctx, tenantID, syncID)
	if err != nil {
		log.Error().Err(err).Str("tenant", tenantID).Int64("syncId", syncID).Msg("sync run ended with error")
		return
	}
	log.Info().Str("tenant", tenantID).Int64("syncId", syncID).
		Int("users", result.UsersCount).Int("groups", result.GroupsCount).
		Int("apps", result.AppsCount).Int("errors", result.ErrorCount).
		Msg("sync run completed")
}

// CancelSync requests cancellation of tenantID's in-flight sync, if any. It
// only signals the run's context; the orchestrator itself writes the
// sync_history row's final status=canceled once the cooperative cancellation
// point is actually reached, so callers never observe a row marked canceled
// before the run has actually stopped.
func (c *Controller) CancelSync(tenantID string) string {
	c.mu.Lock()
	rs, ok := c.running[tenantID]
	c.mu.Unlock()

	if !ok {
		return StatusNotRunning
	}

	rs.cancel()
	return StatusCanceled
}

// GetStatus reports the tenant's active sync if one is running, otherwise
// its most recently completed one, otherwise nil.
func (c *Controller) GetStatus(ctx context.Context, tenantID string) (*metadata.SyncRecord, error) {
	active, err := c.metaStore.GetActiveSync(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("get active sync: %w", err)
	}
	if active != nil {
		return active, nil
	}

	last, err := c.metaStore.GetLastCompletedSync(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("get last completed sync: %w", err)
	}
	return last, nil
}
