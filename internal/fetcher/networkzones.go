package fetcher

import (
	"context"

	"github.com/oktagraph/syncengine/internal/graphmodel"
)

// FetchNetworkZones retrieves every network zone, the gate a policy rule's
// network condition references by ID.
func (f *Fetcher) FetchNetworkZones(ctx context.Context, tenantID string, processor func([]graphmodel.NetworkZone) error) (int, error) {
	items, err := f.Client.GetCollection(ctx, "/api/v1/zones", nil, 0)
	if err != nil {
		return 0, err
	}

	zones := make([]graphmodel.NetworkZone, 0, len(items))
	for _, raw := range asMapSlice(items) {
		zones = append(zones, transformNetworkZone(tenantID, raw))
	}

	if processor != nil {
		if err := processor(zones); err != nil {
			return 0, err
		}
	}
	return len(zones), nil
}

func transformNetworkZone(tenantID string, raw map[string]any) graphmodel.NetworkZone {
	return graphmodel.NetworkZone{
		TenantID: tenantID,
		OktaID:   stringField(raw, "id"),
		Name:     stringField(raw, "name"),
		Type:     stringField(raw, "type"),
		Status:   stringField(raw, "status"),
	}
}
