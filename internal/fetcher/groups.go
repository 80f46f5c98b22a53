package fetcher

import (
	"context"
	"fmt"

	"github.com/oktagraph/syncengine/internal/graphmodel"
)

// FetchGroups retrieves all Okta groups, optionally filtered to those
// updated since the given RFC3339 timestamp. GetCollection accumulates every
// page first, so processor is invoked once with the whole result set, not
// once per page.
func (f *Fetcher) FetchGroups(ctx context.Context, tenantID, since string, processor func([]graphmodel.Group) error) (int, error) {
	filter := ""
	if since != "" {
		filter = fmt.Sprintf(`lastUpdated gt "%s"`, since)
	}

	total := 0
	params := queryParams("limit", "1000", "filter", filter)

	items, err := f.Client.GetCollection(ctx, "/api/v1/groups", params, 0)
	if err != nil {
		return total, err
	}

	groups := make([]graphmodel.Group, 0, len(items))
	for _, raw := range asMapSlice(items) {
		groups = append(groups, transformGroup(tenantID, raw))
	}

	if processor != nil {
		if err := processor(groups); err != nil {
			return total, err
		}
	}
	total = len(groups)
	return total, nil
}

func transformGroup(tenantID string, raw map[string]any) graphmodel.Group {
	profile := mapField(raw, "profile")
	sourceType := graphmodel.GroupSourceType(stringField(raw, "type"))
	switch sourceType {
	case "APP_GROUP", "BUILT_IN":
	default:
		if sourceType != graphmodel.GroupSourceAD && sourceType != graphmodel.GroupSourceLDAP {
			sourceType = graphmodel.GroupSourceOktaNative
		}
	}

	return graphmodel.Group{
		TenantID:    tenantID,
		OktaID:      stringField(raw, "id"),
		Name:        stringField(profile, "name"),
		Description: stringField(profile, "description"),
		SourceType:  sourceType,
		Created:     parseOktaTime(raw["created"]),
		LastUpdated: parseOktaTime(raw["lastUpdated"]),
	}
}
