package fetcher

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/oktagraph/syncengine/internal/graphmodel"
)

// PolicyRuleRecord bundles a PolicyRule node with the APPLIES_TO_* edges
// derived from its conditions block.
type PolicyRuleRecord struct {
	Rule   graphmodel.PolicyRule
	Users  []graphmodel.AppliesToUserEdge
	Groups []graphmodel.AppliesToGroupEdge
	Zones  []graphmodel.AppliesToZoneEdge
}

// FetchPolicyRules retrieves the rules of every policy in policyIDs, fanning
// out one /policies/{id}/rules call per policy bounded by MAX_CONCURRENT_APPS
// (rule fan-out has the same per-tenant cardinality as the application
// group-assignment fan-out).
func (f *Fetcher) FetchPolicyRules(ctx context.Context, tenantID string, policyIDs []string, processor func([]PolicyRuleRecord) error) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	perPolicy := make([][]PolicyRuleRecord, len(policyIDs))

	for i, policyID := range policyIDs {
		i, policyID := i, policyID
		g.Go(func() error {
			var records []PolicyRuleRecord
			err := f.paced(gctx, f.appSem, func() error {
				recs, err := f.fetchRulesForPolicy(gctx, tenantID, policyID)
				if err != nil {
					return err
				}
				records = recs
				return nil
			})
			if err != nil {
				return err
			}
			perPolicy[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var all []PolicyRuleRecord
	for _, recs := range perPolicy {
		all = append(all, recs...)
	}

	if processor != nil {
		if err := processor(all); err != nil {
			return 0, err
		}
	}
	return len(all), nil
}

func (f *Fetcher) fetchRulesForPolicy(ctx context.Context, tenantID, policyID string) ([]PolicyRuleRecord, error) {
	items, err := f.Client.GetCollection(ctx, fmt.Sprintf("/api/v1/policies/%s/rules", policyID), nil, 0)
	if err != nil {
		return nil, err
	}

	records := make([]PolicyRuleRecord, 0, len(items))
	for _, raw := range asMapSlice(items) {
		records = append(records, transformPolicyRule(tenantID, policyID, raw))
	}
	return records, nil
}

func transformPolicyRule(tenantID, policyID string, raw map[string]any) PolicyRuleRecord {
	ruleID := stringField(raw, "id")
	rule := graphmodel.PolicyRule{
		TenantID:   tenantID,
		OktaID:     ruleID,
		PolicyID:   policyID,
		Name:       stringField(raw, "name"),
		Status:     stringField(raw, "status"),
		Priority:   intField(raw, "priority"),
		FactorMode: stringField(mapField(mapField(raw, "actions"), "signon"), "factorPromptMode"),
	}

	var users []graphmodel.AppliesToUserEdge
	var groups []graphmodel.AppliesToGroupEdge
	var zones []graphmodel.AppliesToZoneEdge

	conditions := mapField(raw, "conditions")
	if conditions != nil {
		if people := mapField(conditions, "people"); people != nil {
			if u := mapField(people, "users"); u != nil {
				for _, id := range stringSlice(sliceField(u, "include")) {
					users = append(users, graphmodel.AppliesToUserEdge{TenantID: tenantID, RuleID: ruleID, UserID: id, Excluded: false})
				}
				for _, id := range stringSlice(sliceField(u, "exclude")) {
					users = append(users, graphmodel.AppliesToUserEdge{TenantID: tenantID, RuleID: ruleID, UserID: id, Excluded: true})
				}
			}
			if grp := mapField(people, "groups"); grp != nil {
				for _, id := range stringSlice(sliceField(grp, "include")) {
					groups = append(groups, graphmodel.AppliesToGroupEdge{TenantID: tenantID, RuleID: ruleID, GroupID: id, Excluded: false})
				}
				for _, id := range stringSlice(sliceField(grp, "exclude")) {
					groups = append(groups, graphmodel.AppliesToGroupEdge{TenantID: tenantID, RuleID: ruleID, GroupID: id, Excluded: true})
				}
			}
		}
		if network := mapField(conditions, "network"); network != nil {
			for _, id := range stringSlice(sliceField(network, "include")) {
				zones = append(zones, graphmodel.AppliesToZoneEdge{TenantID: tenantID, RuleID: ruleID, ZoneID: id, Excluded: false})
			}
			for _, id := range stringSlice(sliceField(network, "exclude")) {
				zones = append(zones, graphmodel.AppliesToZoneEdge{TenantID: tenantID, RuleID: ruleID, ZoneID: id, Excluded: true})
			}
		}
	}

	return PolicyRuleRecord{Rule: rule, Users: users, Groups: groups, Zones: zones}
}
