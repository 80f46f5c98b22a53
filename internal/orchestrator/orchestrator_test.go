package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/oktagraph/syncengine/internal/config"
	"github.com/oktagraph/syncengine/internal/fetcher"
	"github.com/oktagraph/syncengine/internal/metadata"
	"github.com/oktagraph/syncengine/internal/oktaclient"
	"github.com/oktagraph/syncengine/internal/version"
)

func TestCheckCancelled(t *testing.T) {
	if err := checkCancelled(context.Background()); err != nil {
		t.Errorf("expected nil for a live context, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := checkCancelled(ctx); !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled for a cancelled context, got %v", err)
	}
}

func TestHandlePhaseErrorAuthIsFatal(t *testing.T) {
	o := &Orchestrator{}
	result := &Result{}

	authErr := &oktaclient.APIError{StatusCode: 401, ErrorCode: oktaclient.ErrCodeInvalidToken, Message: "invalid session"}
	err := o.handlePhaseError(result, "users", authErr)
	if err == nil {
		t.Fatal("expected a non-nil error for an auth failure")
	}
	if result.ErrorCount != 1 {
		t.Errorf("expected ErrorCount incremented once, got %d", result.ErrorCount)
	}
}

func TestHandlePhaseErrorNonAuthContinues(t *testing.T) {
	o := &Orchestrator{}
	result := &Result{}

	transientErr := &oktaclient.RateLimitError{Endpoint: "/api/v1/users", RetryAfter: 5}
	if err := o.handlePhaseError(result, "users", transientErr); err != nil {
		t.Errorf("expected nil (continue) for a transient failure, got %v", err)
	}
	if result.ErrorCount != 1 {
		t.Errorf("expected ErrorCount incremented once, got %d", result.ErrorCount)
	}
}

// fakeOktaServer returns an httptest.Server standing in for a tenant with one
// group, one application (with one group-assignment edge), one active user
// (with a group membership, an app link, and one factor) plus one
// deprovisioned user, one device, one OKTA_SIGN_ON policy, one network zone,
// and one rule on that policy targeting the user/group/zone above.
func fakeOktaServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			t.Fatalf("encode fixture response: %v", err)
		}
	}

	mux.HandleFunc("/api/v1/groups", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{"id": "g1", "type": "OKTA_GROUP", "profile": map[string]any{"name": "Engineering"}},
		})
	})

	mux.HandleFunc("/api/v1/apps", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{"id": "a1", "label": "Salesforce", "status": "ACTIVE", "signOnMode": "SAML_2_0"},
		})
	})
	mux.HandleFunc("/api/v1/apps/a1/groups", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{{"id": "g1", "priority": 0}})
	})

	mux.HandleFunc("/api/v1/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{
				"id":     "00u1",
				"status": "ACTIVE",
				"profile": map[string]any{
					"login": "jdoe@acme.com", "email": "jdoe@acme.com",
					"firstName": "Jane", "lastName": "Doe",
				},
			},
			{
				"id":      "00u2",
				"status":  "DEPROVISIONED",
				"profile": map[string]any{"login": "exuser@acme.com"},
			},
		})
	})
	mux.HandleFunc("/api/v1/users/00u1/groups", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{{"id": "g1"}})
	})
	mux.HandleFunc("/api/v1/users/00u1/appLinks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{{"appInstanceId": "a1", "hidden": false, "credentialsSetup": true}})
	})
	mux.HandleFunc("/api/v1/users/00u1/factors", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{{"id": "f1", "factorType": "push", "provider": "OKTA", "status": "ACTIVE"}})
	})

	mux.HandleFunc("/api/v1/devices", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{
				"id":      "dev1",
				"profile": map[string]any{"platform": "IOS", "model": "iPhone 15"},
				"_embedded": map[string]any{
					"users": []map[string]any{
						{"managementStatus": "MANAGED", "screenLockType": "BIOMETRIC", "user": map[string]any{"id": "00u1"}},
					},
				},
			},
		})
	})

	mux.HandleFunc("/api/v1/policies", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != "OKTA_SIGN_ON" {
			writeJSON(w, []map[string]any{})
			return
		}
		writeJSON(w, []map[string]any{{"id": "p1", "name": "Default Policy", "status": "ACTIVE", "priority": 1}})
	})

	mux.HandleFunc("/api/v1/zones", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{{"id": "nz1", "name": "Corporate HQ", "type": "IP", "status": "ACTIVE"}})
	})

	mux.HandleFunc("/api/v1/policies/p1/rules", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{
				"id": "r1", "name": "Default Rule", "status": "ACTIVE", "priority": 1,
				"conditions": map[string]any{
					"people": map[string]any{
						"users":  map[string]any{"include": []string{"00u1"}},
						"groups": map[string]any{"include": []string{"g1"}},
					},
					"network": map[string]any{"include": []string{"nz1"}},
				},
				"actions": map[string]any{"signon": map[string]any{"factorPromptMode": "ALWAYS"}},
			},
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request: %s %s", r.Method, r.URL.String())
		http.NotFound(w, r)
	})

	return httptest.NewServer(mux)
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

func TestRunSyncEndToEnd_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	server := fakeOktaServer(t)
	defer server.Close()

	metaStore := getTestMetaStore(t)

	cfg := &config.Config{
		OrgURL:          server.URL,
		TenantID:        "acme",
		TokenMethod:     config.AuthMethodAPIToken,
		APIToken:        "test-token",
		ConcurrentLimit: 10,
		GraphDBDir:      t.TempDir(),
		KeepVersions:    3,
		PromoteOnErrors: true,
		RequestTimeout:  5 * time.Second,
		MaxPages:        10,
	}

	client := oktaclient.NewClient(cfg.OrgURL, &oktaclient.APITokenAuthenticator{Token: cfg.APIToken}, cfg.RequestTimeout, cfg.MaxPages, nil)
	f := fetcher.New(client, cfg)

	vm, err := version.New(cfg.GraphDBDir, cfg.KeepVersions)
	if err != nil {
		t.Fatalf("new version manager: %v", err)
	}

	ctx := context.Background()
	syncID, err := metaStore.CreateSyncRecord(ctx, cfg.TenantID, "graphdb")
	if err != nil {
		t.Fatalf("create sync record: %v", err)
	}

	o := New(f, vm, metaStore, cfg)
	result, err := o.RunSync(ctx, cfg.TenantID, syncID)
	if err != nil {
		t.Fatalf("run sync: %v", err)
	}

	if result.GroupsCount != 1 || result.AppsCount != 1 || result.UsersCount != 2 || result.DevicesCount != 1 {
		t.Fatalf("unexpected entity counts: %+v", result)
	}
	if result.PoliciesCount != 1 || result.ZonesCount != 1 || result.RulesCount != 1 {
		t.Fatalf("unexpected policy/zone/rule counts: %+v", result)
	}
	if result.FactorsCount != 1 {
		t.Errorf("expected 1 factor (deprovisioned user skips fan-out), got %d", result.FactorsCount)
	}
	if result.ErrorCount != 0 {
		t.Errorf("expected no write errors, got %d", result.ErrorCount)
	}
	if !result.Promoted {
		t.Error("expected the snapshot to be promoted")
	}

	last, err := metaStore.GetLastCompletedSync(ctx, cfg.TenantID)
	if err != nil {
		t.Fatalf("get last completed sync: %v", err)
	}
	if last == nil || last.ID != syncID {
		t.Fatalf("expected sync_history row %d marked completed, got %+v", syncID, last)
	}
	if last.UsersCount != 2 {
		t.Errorf("expected sync_history UsersCount=2, got %d", last.UsersCount)
	}
}

func TestRunSyncCancelledMidRun_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	server := fakeOktaServer(t)
	defer server.Close()

	metaStore := getTestMetaStore(t)

	cfg := &config.Config{
		OrgURL:          server.URL,
		TenantID:        "acme",
		TokenMethod:     config.AuthMethodAPIToken,
		APIToken:        "test-token",
		ConcurrentLimit: 10,
		GraphDBDir:      t.TempDir(),
		KeepVersions:    3,
		PromoteOnErrors: true,
		RequestTimeout:  5 * time.Second,
		MaxPages:        10,
	}

	client := oktaclient.NewClient(cfg.OrgURL, &oktaclient.APITokenAuthenticator{Token: cfg.APIToken}, cfg.RequestTimeout, cfg.MaxPages, nil)
	f := fetcher.New(client, cfg)

	vm, err := version.New(cfg.GraphDBDir, cfg.KeepVersions)
	if err != nil {
		t.Fatalf("new version manager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	syncID, err := metaStore.CreateSyncRecord(context.Background(), cfg.TenantID, "graphdb")
	if err != nil {
		t.Fatalf("create sync record: %v", err)
	}

	o := New(f, vm, metaStore, cfg)
	_, err = o.RunSync(ctx, cfg.TenantID, syncID)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled for a pre-cancelled context, got %v", err)
	}

	history, err := metaStore.GetSyncHistory(context.Background(), cfg.TenantID, 1)
	if err != nil {
		t.Fatalf("get sync history: %v", err)
	}
	if len(history) != 1 || history[0].Status != metadata.StatusCanceled {
		t.Fatalf("expected the row to be marked canceled, got %+v", history)
	}
}

// TestUserRelationship404DoesNotAbortSync reproduces a live 404 from a
// per-user relationship sub-resource through the real HTTP round trip
// (classifyStatus's status-to-error-code mapping included) and confirms the
// whole chain — Client.GetCollection, fetchUserRelationships,
// handlePhaseError — downgrades it to a skipped relationship rather than
// treating it as an auth failure that aborts the run.
func TestUserRelationship404DoesNotAbortSync(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": "00u1", "status": "ACTIVE", "profile": map[string]any{"login": "a@acme.com", "email": "a@acme.com"}},
		})
	})
	mux.HandleFunc("/api/v1/users/00u1/groups", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"errorCode": "E0000007", "errorSummary": "Not found"})
	})
	mux.HandleFunc("/api/v1/users/00u1/appLinks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{})
	})
	mux.HandleFunc("/api/v1/users/00u1/factors", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := &config.Config{ConcurrentLimit: 10}
	client := oktaclient.NewClient(server.URL, &oktaclient.APITokenAuthenticator{Token: "t"}, 5*time.Second, 10, nil)
	f := fetcher.New(client, cfg)

	var records []fetcher.UserRecord
	n, err := f.FetchUsers(context.Background(), "acme", "", func(batch []fetcher.UserRecord) error {
		records = append(records, batch...)
		return nil
	})
	if err != nil {
		t.Fatalf("expected FetchUsers to swallow the 404 on the groups sub-resource, got %v", err)
	}
	if n != 1 || len(records) != 1 {
		t.Fatalf("expected exactly one user record, got n=%d records=%d", n, len(records))
	}
	if len(records[0].MemberOf) != 0 {
		t.Errorf("expected no MemberOf edges for a 404'd groups call, got %+v", records[0].MemberOf)
	}
	// FetchUsers returning nil here is itself the regression check: before the
	// classifyStatus fix this 404 surfaced as an ErrCodeInvalidToken APIError,
	// which runUserPhase would have handed to handlePhaseError and
	// IsAuthError would have judged fatal, aborting the whole sync.
}

func TestFakeOktaServerCoversEveryEndpointFetcherCalls(t *testing.T) {
	// A smoke check that the fixture's endpoint set matches what a full-depth
	// sync actually requests, so a future fetcher change that adds a new call
	// fails loudly here instead of as an unhelpful 404 inside RunSync.
	server := fakeOktaServer(t)
	defer server.Close()

	for _, path := range []string{
		"/api/v1/groups", "/api/v1/apps", "/api/v1/apps/a1/groups",
		"/api/v1/users", "/api/v1/users/00u1/groups", "/api/v1/users/00u1/appLinks",
		"/api/v1/users/00u1/factors", "/api/v1/devices", "/api/v1/policies",
		"/api/v1/zones", "/api/v1/policies/p1/rules",
	} {
		resp, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, resp.StatusCode)
		}
		if !strings.HasPrefix(path, "/api/v1/") {
			t.Errorf("unexpected fixture path shape: %s", path)
		}
	}
}
