package fetcher

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/oktagraph/syncengine/internal/graphmodel"
)

// ApplicationRecord bundles an Application node with the group-assignment
// edges discovered from its /apps/{id}/groups fan-out call.
type ApplicationRecord struct {
	Application graphmodel.Application
	GroupAccess []graphmodel.GroupHasAccessEdge
}

// FetchApplications retrieves all Okta applications, fanning out one
// /apps/{id}/groups call per app (bounded by MAX_CONCURRENT_APPS) to attach
// group-assignment edges.
func (f *Fetcher) FetchApplications(ctx context.Context, tenantID string, processor func([]ApplicationRecord) error) (int, error) {
	items, err := f.Client.GetCollection(ctx, "/api/v1/apps", queryParams("limit", "100"), 0)
	if err != nil {
		return 0, err
	}

	raws := asMapSlice(items)
	records := make([]ApplicationRecord, len(raws))

	g, gctx := errgroup.WithContext(ctx)
	for i, raw := range raws {
		i, raw := i, raw
		g.Go(func() error {
			app := transformApplication(tenantID, raw)

			var groupAccess []graphmodel.GroupHasAccessEdge
			err := f.paced(gctx, f.appSem, func() error {
				edges, err := f.fetchAppGroupAssignments(gctx, tenantID, app.OktaID)
				if err != nil {
					return err
				}
				groupAccess = edges
				return nil
			})
			if err != nil {
				return err
			}

			records[i] = ApplicationRecord{Application: app, GroupAccess: groupAccess}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if processor != nil {
		if err := processor(records); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}

func (f *Fetcher) fetchAppGroupAssignments(ctx context.Context, tenantID, appID string) ([]graphmodel.GroupHasAccessEdge, error) {
	items, err := f.Client.GetCollection(ctx, fmt.Sprintf("/api/v1/apps/%s/groups", appID), nil, 0)
	if err != nil {
		return nil, err
	}

	edges := make([]graphmodel.GroupHasAccessEdge, 0, len(items))
	for _, raw := range asMapSlice(items) {
		edges = append(edges, graphmodel.GroupHasAccessEdge{
			TenantID:      tenantID,
			GroupID:       stringField(raw, "id"),
			ApplicationID: appID,
			Priority:      intField(raw, "priority"),
		})
	}
	return edges, nil
}

func transformApplication(tenantID string, raw map[string]any) graphmodel.Application {
	var samlStatements []graphmodel.SAMLAttributeStatement
	if settings := mapField(raw, "settings"); settings != nil {
		if signOn := mapField(settings, "signOn"); signOn != nil {
			for _, item := range sliceField(signOn, "attributeStatements") {
				if m, ok := item.(map[string]any); ok {
					samlStatements = append(samlStatements, graphmodel.SAMLAttributeStatement{
						Name:      stringField(m, "name"),
						Namespace: stringField(m, "namespace"),
						Type:      stringField(m, "type"),
						Values:    stringSlice(sliceField(m, "values")),
					})
				}
			}
		}
	}

	return graphmodel.Application{
		TenantID:       tenantID,
		OktaID:         stringField(raw, "id"),
		Label:          stringField(raw, "label"),
		Status:         stringField(raw, "status"),
		SignOnMode:     stringField(raw, "signOnMode"),
		PolicyOktaID:   policyIDFromLinks(raw),
		SAMLAttributes: samlStatements,
		Created:        parseOktaTime(raw["created"]),
		LastUpdated:    parseOktaTime(raw["lastUpdated"]),
	}
}

// policyIDFromLinks extracts the access-policy href's trailing ID segment
// from the application's HAL _links, the only place Okta exposes the
// GOVERNED_BY target on the app resource itself.
func policyIDFromLinks(raw map[string]any) string {
	links := mapField(raw, "_links")
	if links == nil {
		return ""
	}
	policyLink := mapField(links, "accessPolicy")
	if policyLink == nil {
		return ""
	}
	href := stringField(policyLink, "href")
	return lastPathSegment(href)
}

func lastPathSegment(href string) string {
	for i := len(href) - 1; i >= 0; i-- {
		if href[i] == '/' {
			return href[i+1:]
		}
	}
	return href
}

func stringSlice(items []any) []string {
	out := make([]string, 0, len(items))
	for _, v := range items {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
