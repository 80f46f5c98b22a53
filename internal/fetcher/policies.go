package fetcher

import (
	"context"

	"github.com/oktagraph/syncengine/internal/graphmodel"
)

// FetchPolicies retrieves every policy of every type the engine tracks, one
// GET per type as Okta's policy API is partitioned that way.
func (f *Fetcher) FetchPolicies(ctx context.Context, tenantID string, processor func([]graphmodel.Policy) error) (int, error) {
	total := 0
	for _, policyType := range graphmodel.AllPolicyTypes {
		items, err := f.Client.GetCollection(ctx, "/api/v1/policies", queryParams("type", string(policyType)), 0)
		if err != nil {
			return total, err
		}

		policies := make([]graphmodel.Policy, 0, len(items))
		for _, raw := range asMapSlice(items) {
			policies = append(policies, transformPolicy(tenantID, policyType, raw))
		}

		if processor != nil {
			if err := processor(policies); err != nil {
				return total, err
			}
		}
		total += len(policies)
	}
	return total, nil
}

func transformPolicy(tenantID string, policyType graphmodel.PolicyType, raw map[string]any) graphmodel.Policy {
	return graphmodel.Policy{
		TenantID: tenantID,
		OktaID:   stringField(raw, "id"),
		Name:     stringField(raw, "name"),
		Type:     policyType,
		Status:   stringField(raw, "status"),
		Priority: intField(raw, "priority"),
	}
}
