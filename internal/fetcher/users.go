package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/oktagraph/syncengine/internal/graphmodel"
	"github.com/oktagraph/syncengine/internal/oktaclient"
)

const statusDeprovisioned = "DEPROVISIONED"

// UserRecord bundles a User node with every relationship edge and related
// node discovered from its per-user fan-out calls, in the order GraphWriter
// must apply them: the user node first, then memberships, then access, then
// enrollments.
type UserRecord struct {
	User        graphmodel.User
	MemberOf    []graphmodel.MemberOfEdge
	HasAccess   []graphmodel.HasAccessEdge
	Enrolled    []graphmodel.EnrolledEdge
	Factors     []graphmodel.Factor
	ReportsTo   *graphmodel.ReportsToEdge
}

// FetchUsers retrieves users under the two Okta filter regimes, fanning out
// per-user appLinks/groups/factors calls bounded by
// MAX_CONCURRENT_USERS. Users in DEPROVISIONED status skip relationship
// fan-out entirely — they get a User node, plus a REPORTS_TO edge when the
// profile names a manager, and no memberships, app access or factors.
func (f *Fetcher) FetchUsers(ctx context.Context, tenantID, since string, processor func([]UserRecord) error) (int, error) {
	deprCreatedAfter, err := f.Cfg.DeprovisionedCreatedAfterISO()
	if err != nil {
		return 0, fmt.Errorf("parse DEPR_USER_CREATED_AFTER: %w", err)
	}
	deprUpdatedAfter, err := f.Cfg.DeprovisionedUpdatedAfterISO()
	if err != nil {
		return 0, fmt.Errorf("parse DEPR_USER_UPDATED_AFTER: %w", err)
	}
	filter := buildUserFilter(f.Cfg.SyncDeprovisionedUsers, since, deprCreatedAfter, deprUpdatedAfter)

	items, err := f.Client.GetCollection(ctx, "/api/v1/users", queryParams("limit", "200", "filter", filter), 0)
	if err != nil {
		return 0, err
	}

	raws := asMapSlice(items)
	records := make([]UserRecord, len(raws))

	g, gctx := errgroup.WithContext(ctx)
	for i, raw := range raws {
		i, raw := i, raw
		g.Go(func() error {
			user := transformUser(tenantID, raw, f.Cfg.UserCustomAttributes)
			record := UserRecord{User: user}

			if user.ManagerLogin != "" {
				record.ReportsTo = &graphmodel.ReportsToEdge{TenantID: tenantID, UserID: user.OktaID, ManagerID: user.ManagerLogin}
			}

			if user.Status != statusDeprovisioned {
				err := f.paced(gctx, f.userSem, func() error {
					return f.fetchUserRelationships(gctx, tenantID, &record)
				})
				if err != nil {
					return err
				}
			}

			records[i] = record
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

// isNotFound reports whether err is an Okta 404, which fetchUserRelationships
// treats as "this user has no such relationship" rather than a fetch failure
// — a deprovisioned-in-flight or just-deleted user can 404 on a relationship
// sub-resource moments after the user list returned it.
func isNotFound(err error) bool {
	var apiErr *oktaclient.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func (f *Fetcher) fetchUserRelationships(ctx context.Context, tenantID string, record *UserRecord) error {
	userID := record.User.OktaID

	groups, err := f.Client.GetCollection(ctx, fmt.Sprintf("/api/v1/users/%s/groups", userID), nil, 0)
	if err != nil {
		if isNotFound(err) {
			log.Debug().Str("user", userID).Msg("user groups not found, writing user without memberships")
		} else {
			return err
		}
	}
	for _, raw := range asMapSlice(groups) {
		record.MemberOf = append(record.MemberOf, graphmodel.MemberOfEdge{TenantID: tenantID, UserID: userID, GroupID: stringField(raw, "id")})
	}

	appLinks, err := f.Client.GetCollection(ctx, fmt.Sprintf("/api/v1/users/%s/appLinks", userID), nil, 0)
	if err != nil {
		if isNotFound(err) {
			log.Debug().Str("user", userID).Msg("user appLinks not found, writing user without app access")
		} else {
			return err
		}
	}
	for _, raw := range asMapSlice(appLinks) {
		record.HasAccess = append(record.HasAccess, graphmodel.HasAccessEdge{
			TenantID:         tenantID,
			UserID:           userID,
			ApplicationID:    stringField(raw, "appInstanceId"),
			Scope:            "USER",
			Hidden:           boolField(raw, "hidden"),
			CredentialsSetup: boolField(raw, "credentialsSetup"),
		})
	}

	factors, err := f.Client.GetCollection(ctx, fmt.Sprintf("/api/v1/users/%s/factors", userID), nil, 0)
	if err != nil {
		if isNotFound(err) {
			log.Debug().Str("user", userID).Msg("user factors not found, writing user without enrollments")
		} else {
			return err
		}
	}
	for _, raw := range asMapSlice(factors) {
		factorID := stringField(raw, "id")
		record.Factors = append(record.Factors, graphmodel.Factor{
			TenantID:   tenantID,
			OktaID:     factorID,
			FactorType: stringField(raw, "factorType"),
			Provider:   stringField(raw, "provider"),
			Status:     stringField(raw, "status"),
		})
		record.Enrolled = append(record.Enrolled, graphmodel.EnrolledEdge{TenantID: tenantID, UserID: userID, FactorID: factorID})
	}

	return nil
}

func transformUser(tenantID string, raw map[string]any, customAttrNames []string) graphmodel.User {
	profile := mapField(raw, "profile")

	attrs := make(map[string]string, len(customAttrNames))
	for _, name := range customAttrNames {
		if v, ok := profile[name]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				attrs[sanitizeColumnName(name)] = s
			}
		}
	}

	return graphmodel.User{
		TenantID:         tenantID,
		OktaID:           stringField(raw, "id"),
		Login:            stringField(profile, "login"),
		Email:            stringField(profile, "email"),
		FirstName:        stringField(profile, "firstName"),
		LastName:         stringField(profile, "lastName"),
		Status:           stringField(raw, "status"),
		ManagerLogin:     stringField(profile, "manager"),
		Created:          parseOktaTime(raw["created"]),
		LastUpdated:      parseOktaTime(raw["lastUpdated"]),
		PasswordChanged:  parseOktaTime(raw["passwordChanged"]),
		StatusChanged:    parseOktaTime(raw["statusChanged"]),
		CustomAttributes: attrs,
	}
}

// sanitizeColumnName mirrors GraphWriter's column sanitization so custom
// attribute keys match the column the writer ultimately adds.
func sanitizeColumnName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-' || r == ' ' || r == '.':
			b.WriteRune('_')
		}
	}
	return b.String()
}

// buildUserFilter constructs the SCIM-style filter expression for the two
// filter regimes: with deprovisioned sync enabled, an OR across
// the active-family and deprovisioned-with-cutoff branches; otherwise just
// the default non-deprovisioned branch with an optional incremental filter.
func buildUserFilter(syncDeprovisioned bool, since, deprCreatedAfter, deprUpdatedAfter string) string {
	activeBranch := `status ne "DEPROVISIONED"`
	if since != "" {
		activeBranch += fmt.Sprintf(` and lastUpdated gt "%s"`, since)
	}

	if !syncDeprovisioned {
		return activeBranch
	}

	deprBranch := `status eq "DEPROVISIONED"`
	if deprCreatedAfter != "" {
		deprBranch += fmt.Sprintf(` and created gt "%s"`, deprCreatedAfter)
	}
	if deprUpdatedAfter != "" {
		deprBranch += fmt.Sprintf(` and lastUpdated gt "%s"`, deprUpdatedAfter)
	}

	return fmt.Sprintf("(%s) or (%s)", activeBranch, deprBranch)
}
