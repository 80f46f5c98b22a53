package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/oktagraph/syncengine/internal/graphmodel"
)

func openTestWriter(t *testing.T) *Writer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.db")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestUpsertUsersIsIdempotent(t *testing.T) {
	w := openTestWriter(t)
	ctx := context.Background()

	user := graphmodel.User{TenantID: "acme", OktaID: "00u1", Login: "jdoe@acme.com", Status: "ACTIVE"}

	if err := w.UpsertUsers(ctx, []graphmodel.User{user}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	user.Status = "SUSPENDED"
	if err := w.UpsertUsers(ctx, []graphmodel.User{user}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var count int
	var status string
	row := w.db.QueryRow(`SELECT count(*), status FROM users WHERE tenant_id = ? AND okta_id = ? GROUP BY status`, "acme", "00u1")
	if err := row.Scan(&count, &status); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly one row after two upserts, got %d", count)
	}
	if status != "SUSPENDED" {
		t.Errorf("expected status updated to SUSPENDED, got %q", status)
	}
}

func TestEnsureCustomAttributeColumnsIdempotent(t *testing.T) {
	w := openTestWriter(t)

	if err := w.EnsureCustomAttributeColumns([]string{"SLT_Dept", "cost-center"}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	// Re-running must not fail on "duplicate column name".
	if err := w.EnsureCustomAttributeColumns([]string{"SLT_Dept", "cost-center"}); err != nil {
		t.Fatalf("second call: %v", err)
	}

	ctx := context.Background()
	user := graphmodel.User{
		TenantID: "acme", OktaID: "00u1", Status: "ACTIVE",
		CustomAttributes: map[string]string{"SLT_Dept": "engineering"},
	}
	if err := w.UpsertUsers(ctx, []graphmodel.User{user}); err != nil {
		t.Fatalf("upsert with custom attribute: %v", err)
	}

	var dept string
	if err := w.db.QueryRow(`SELECT SLT_Dept FROM users WHERE okta_id = ?`, "00u1").Scan(&dept); err != nil {
		t.Fatalf("query custom attribute: %v", err)
	}
	if dept != "engineering" {
		t.Errorf("expected SLT_Dept=engineering, got %q", dept)
	}
}

func TestEdgeSkippedWhenEndpointMissing(t *testing.T) {
	w := openTestWriter(t)
	ctx := context.Background()

	if err := w.UpsertUsers(ctx, []graphmodel.User{{TenantID: "acme", OktaID: "00u1", Status: "ACTIVE"}}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}

	// Group g1 was never written — the MEMBER_OF edge must be skipped, not error.
	err := w.UpsertUserRelationships(ctx,
		[]graphmodel.MemberOfEdge{{TenantID: "acme", UserID: "00u1", GroupID: "g1"}},
		nil, nil, nil, nil,
	)
	if err != nil {
		t.Fatalf("expected no error for dangling edge, got: %v", err)
	}

	var count int
	if err := w.db.QueryRow(`SELECT count(*) FROM edge_member_of`).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 0 {
		t.Errorf("expected edge to be skipped, got %d rows", count)
	}
}

func TestGovernedByEdgeWrittenWhenPolicyPresent(t *testing.T) {
	w := openTestWriter(t)
	ctx := context.Background()

	if err := w.UpsertPolicies(ctx, []graphmodel.Policy{{TenantID: "acme", OktaID: "p1", Type: graphmodel.PolicyTypeOktaSignOn}}); err != nil {
		t.Fatalf("upsert policy: %v", err)
	}
	if err := w.UpsertApplications(ctx, []graphmodel.Application{{TenantID: "acme", OktaID: "a1", PolicyOktaID: "p1"}}); err != nil {
		t.Fatalf("upsert application: %v", err)
	}

	var count int
	if err := w.db.QueryRow(`SELECT count(*) FROM edge_governed_by WHERE application_id = 'a1' AND policy_id = 'p1'`).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Errorf("expected governed_by edge to be written, got %d rows", count)
	}
}

func TestPolicyRuleWritesContainsRuleAndAppliesToEdges(t *testing.T) {
	w := openTestWriter(t)
	ctx := context.Background()

	if err := w.UpsertPolicies(ctx, []graphmodel.Policy{{TenantID: "acme", OktaID: "p1", Type: graphmodel.PolicyTypeOktaSignOn}}); err != nil {
		t.Fatalf("upsert policy: %v", err)
	}
	if err := w.UpsertUsers(ctx, []graphmodel.User{{TenantID: "acme", OktaID: "00u1", Status: "ACTIVE"}}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if err := w.UpsertNetworkZones(ctx, []graphmodel.NetworkZone{{TenantID: "acme", OktaID: "nz1", Name: "HQ"}}); err != nil {
		t.Fatalf("upsert zone: %v", err)
	}
	if err := w.UpsertPolicyRules(ctx, []graphmodel.PolicyRule{{TenantID: "acme", OktaID: "r1", PolicyID: "p1", Name: "Default"}}); err != nil {
		t.Fatalf("upsert policy rule: %v", err)
	}

	var count int
	if err := w.db.QueryRow(`SELECT count(*) FROM edge_contains_rule WHERE policy_id='p1' AND rule_id='r1'`).Scan(&count); err != nil {
		t.Fatalf("query contains_rule: %v", err)
	}
	if count != 1 {
		t.Errorf("expected contains_rule edge, got %d", count)
	}

	err := w.UpsertRuleTargets(ctx,
		[]graphmodel.AppliesToUserEdge{{TenantID: "acme", RuleID: "r1", UserID: "00u1"}},
		nil,
		[]graphmodel.AppliesToZoneEdge{{TenantID: "acme", RuleID: "r1", ZoneID: "nz1"}},
	)
	if err != nil {
		t.Fatalf("upsert rule targets: %v", err)
	}

	if err := w.db.QueryRow(`SELECT count(*) FROM edge_applies_to_user WHERE rule_id='r1' AND user_id='00u1'`).Scan(&count); err != nil {
		t.Fatalf("query applies_to_user: %v", err)
	}
	if count != 1 {
		t.Errorf("expected applies_to_user edge, got %d", count)
	}
}

func TestPolicyRuleSkipsContainsRuleWhenPolicyMissing(t *testing.T) {
	w := openTestWriter(t)
	ctx := context.Background()

	if err := w.UpsertPolicyRules(ctx, []graphmodel.PolicyRule{{TenantID: "acme", OktaID: "r1", PolicyID: "missing-policy"}}); err != nil {
		t.Fatalf("upsert policy rule: %v", err)
	}

	var count int
	if err := w.db.QueryRow(`SELECT count(*) FROM edge_contains_rule`).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 0 {
		t.Errorf("expected contains_rule edge to be skipped, got %d", count)
	}
}

func TestSanitizeAttributeName(t *testing.T) {
	cases := map[string]string{
		"SLT-Dept":      "SLT_Dept",
		"cost center":    "cost_center",
		"a.b.c":          "a_b_c",
		"weird!@#chars":  "weirdchars",
	}
	for in, want := range cases {
		if got := sanitizeAttributeName(in); got != want {
			t.Errorf("sanitizeAttributeName(%q) = %q, want %q", in, got, want)
		}
	}
}
