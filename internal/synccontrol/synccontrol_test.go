package synccontrol

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/oktagraph/syncengine/internal/config"
	"github.com/oktagraph/syncengine/internal/fetcher"
	"github.com/oktagraph/syncengine/internal/metadata"
	"github.com/oktagraph/syncengine/internal/oktaclient"
	"github.com/oktagraph/syncengine/internal/orchestrator"
	"github.com/oktagraph/syncengine/internal/version"
)

func TestStartSyncAlreadyRunningFromMemory(t *testing.T) {
	c := New(nil, nil)
	c.running["acme"] = &runningSync{syncID: 42}

	id, status, err := c.StartSync(context.Background(), "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != StatusAlreadyRunning {
		t.Errorf("expected status %q, got %q", StatusAlreadyRunning, status)
	}
	if id != 42 {
		t.Errorf("expected the already-running sync's id 42, got %d", id)
	}
}

func TestCancelSyncNotRunning(t *testing.T) {
	c := New(nil, nil)
	if status := c.CancelSync("acme"); status != StatusNotRunning {
		t.Errorf("expected %q, got %q", StatusNotRunning, status)
	}
}

func TestCancelSyncSignalsContext(t *testing.T) {
	c := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	c.running["acme"] = &runningSync{syncID: 1, cancel: cancel}

	status := c.CancelSync("acme")
	if status != StatusCanceled {
		t.Errorf("expected %q, got %q", StatusCanceled, status)
	}

	select {
	case <-ctx.Done():
	default:
		t.Error("expected CancelSync to cancel the tracked context")
	}
}

// emptyOktaServer answers every EntityFetcher endpoint with an empty
// collection, so a full sync run completes almost instantly.
func emptyOktaServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{})
	}))
}

func getTestMetaStore(t *testing.T) *metadata.Store {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}
	store, err := metadata.Open(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("open metadata store: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStartSyncThenGetStatusCompleted_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	server := emptyOktaServer(t)
	defer server.Close()

	metaStore := getTestMetaStore(t)

	const tenantID = "synccontrol-test-completed"
	cfg := &config.Config{
		OrgURL: server.URL, TenantID: tenantID,
		TokenMethod: config.AuthMethodAPIToken, APIToken: "test-token",
		ConcurrentLimit: 10, GraphDBDir: t.TempDir(), KeepVersions: 3,
		PromoteOnErrors: true, RequestTimeout: 5 * time.Second, MaxPages: 10,
	}
	client := oktaclient.NewClient(cfg.OrgURL, &oktaclient.APITokenAuthenticator{Token: cfg.APIToken}, cfg.RequestTimeout, cfg.MaxPages, nil)
	vm, err := version.New(cfg.GraphDBDir, cfg.KeepVersions)
	if err != nil {
		t.Fatalf("new version manager: %v", err)
	}
	orch := orchestrator.New(fetcher.New(client, cfg), vm, metaStore, cfg)
	c := New(orch, metaStore)

	ctx := context.Background()
	syncID, status, err := c.StartSync(ctx, tenantID)
	if err != nil {
		t.Fatalf("start sync: %v", err)
	}
	if status != StatusStarted {
		t.Fatalf("expected status %q, got %q", StatusStarted, status)
	}

	deadline := time.Now().Add(10 * time.Second)
	var rec *metadata.SyncRecord
	for time.Now().Before(deadline) {
		rec, err = c.GetStatus(ctx, tenantID)
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		if rec != nil && rec.Status == metadata.StatusComplete {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if rec == nil || rec.Status != metadata.StatusComplete {
		t.Fatalf("expected sync %d to complete within the deadline, got %+v", syncID, rec)
	}

	secondID, status, err := c.StartSync(ctx, tenantID)
	if err != nil || status != StatusStarted {
		t.Errorf("expected a fresh StartSync after completion to start a new run, got status=%q err=%v", status, err)
	}

	// Let the second background run finish before the test exits so it
	// doesn't leave a dangling goroutine racing the next test's assertions.
	deadline = time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec, err = c.GetStatus(ctx, tenantID)
		if err == nil && rec != nil && rec.ID == secondID && rec.Status == metadata.StatusComplete {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestStartSyncAlreadyRunningAcrossProcesses_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	metaStore := getTestMetaStore(t)
	ctx := context.Background()
	const tenantID = "synccontrol-test-already-running"

	// Simulate a sync_history row left running by a process this Controller
	// never tracked in memory (e.g. after a crash) — StartSync must still
	// report already_running rather than starting a second writer.
	existingID, err := metaStore.CreateSyncRecord(ctx, tenantID, "graphdb")
	if err != nil {
		t.Fatalf("seed running sync record: %v", err)
	}
	t.Cleanup(func() {
		failed := metadata.StatusFailed
		msg := "test cleanup"
		_ = metaStore.UpdateSyncRecord(context.Background(), existingID, tenantID, metadata.SyncUpdate{Status: &failed, ErrorMessage: &msg})
	})

	c := New(nil, metaStore)
	id, status, err := c.StartSync(ctx, tenantID)
	if err != nil {
		t.Fatalf("start sync: %v", err)
	}
	if status != StatusAlreadyRunning {
		t.Errorf("expected %q, got %q", StatusAlreadyRunning, status)
	}
	if id != existingID {
		t.Errorf("expected the pre-existing sync id %d, got %d", existingID, id)
	}
}
