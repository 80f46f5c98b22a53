// Package orchestrator implements SyncOrchestrator: the dependency-ordered
// run sequence that drives EntityFetcher batches into GraphWriter, tracks
// progress in MetadataStore, and promotes the staging snapshot on success.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oktagraph/syncengine/internal/config"
	"github.com/oktagraph/syncengine/internal/fetcher"
	"github.com/oktagraph/syncengine/internal/graph"
	"github.com/oktagraph/syncengine/internal/graphmodel"
	"github.com/oktagraph/syncengine/internal/metadata"
	"github.com/oktagraph/syncengine/internal/oktaclient"
	"github.com/oktagraph/syncengine/internal/version"
)

// ErrCancelled is returned when the cooperative cancellation signal fires
// between phases or inside the per-user fan-out cadence.
var ErrCancelled = errors.New("sync cancelled")

// userCancelCheckEvery matches the ~10-user cadence the cancellation
// granularity calls for inside the per-user loop.
const userCancelCheckEvery = 10

// Result summarizes one completed (or partially completed) run.
type Result struct {
	GroupsCount   int
	AppsCount     int
	UsersCount    int
	DevicesCount  int
	PoliciesCount int
	FactorsCount  int
	ZonesCount    int
	RulesCount    int
	ErrorCount    int
	GraphVersion  int
	Promoted      bool
}

// Orchestrator wires EntityFetcher, GraphWriter, VersionManager, and
// MetadataStore together into one end-to-end sync run.
type Orchestrator struct {
	Fetcher    *fetcher.Fetcher
	VersionMgr *version.Manager
	MetaStore  *metadata.Store
	Cfg        *config.Config
}

// New builds an Orchestrator from its already-constructed collaborators.
func New(f *fetcher.Fetcher, vm *version.Manager, ms *metadata.Store, cfg *config.Config) *Orchestrator {
	return &Orchestrator{Fetcher: f, VersionMgr: vm, MetaStore: ms, Cfg: cfg}
}

// RunSync executes one complete sync for tenantID against the existing
// sync_history row syncID, following the dependency order groups → apps →
// users → devices → policies (plus the policy-rule and network-zone sweep
// policies unlocks). On cancellation or auth failure it stops the run and
// returns the counts reached so far together with the error.
func (o *Orchestrator) RunSync(ctx context.Context, tenantID string, syncID int64) (Result, error) {
	var result Result

	stagingPath, err := o.VersionMgr.StagingSnapshotPath()
	if err != nil {
		return result, o.failSync(ctx, syncID, tenantID, fmt.Errorf("obtain staging path: %w", err))
	}

	writer, err := graph.Open(stagingPath)
	if err != nil {
		return result, o.failSync(ctx, syncID, tenantID, fmt.Errorf("open graph writer: %w", err))
	}

	if err := writer.EnsureCustomAttributeColumns(o.Cfg.UserCustomAttributes); err != nil {
		writer.Close()
		return result, o.failSync(ctx, syncID, tenantID, fmt.Errorf("ensure custom attribute columns: %w", err))
	}

	if err := o.runPhases(ctx, tenantID, syncID, writer, &result); err != nil {
		writer.Close()
		if errors.Is(err, ErrCancelled) {
			return result, o.cancelSync(ctx, syncID, tenantID, result)
		}
		return result, o.failSync(ctx, syncID, tenantID, err)
	}

	if err := writer.SetSyncMetadata(ctx, tenantID, true, result.UsersCount); err != nil {
		log.Warn().Err(err).Msg("failed to write sync_metadata row before close")
	}
	if err := writer.Close(); err != nil {
		return result, o.failSync(ctx, syncID, tenantID, fmt.Errorf("close graph writer: %w", err))
	}

	promoted := false
	if o.Cfg.PromoteOnErrors || result.ErrorCount == 0 {
		if err := o.VersionMgr.PromoteStaging(ctx, tenantID, false); err != nil {
			log.Warn().Err(err).Msg("promotion failed, staging left in place for next run")
		} else {
			promoted = true
		}
	} else {
		log.Warn().Int("errors", result.ErrorCount).Msg("skipping promotion: promote_on_errors is disabled and this snapshot has write errors")
	}

	result.GraphVersion = o.VersionMgr.GetVersionInfo().CurrentVersion
	result.Promoted = promoted

	now := time.Now()
	completed := metadata.StatusComplete
	fullProgress := 100
	if err := o.MetaStore.UpdateSyncRecord(ctx, syncID, tenantID, metadata.SyncUpdate{
		Status: &completed, EndTime: &now,
		UsersCount: &result.UsersCount, GroupsCount: &result.GroupsCount, AppsCount: &result.AppsCount,
		DevicesCount: &result.DevicesCount, PoliciesCount: &result.PoliciesCount, FactorsCount: &result.FactorsCount,
		ZonesCount: &result.ZonesCount, RulesCount: &result.RulesCount,
		ErrorCount: &result.ErrorCount, ProgressPercentage: &fullProgress,
		GraphDBVersion: &result.GraphVersion, GraphDBPromoted: &result.Promoted,
	}); err != nil {
		log.Error().Err(err).Msg("failed to mark sync_history row completed")
	}

	return result, nil
}

// runPhases drives every entity kind in dependency order, checking the
// cancellation signal between each and streaming batches straight into the
// writer as they arrive.
func (o *Orchestrator) runPhases(ctx context.Context, tenantID string, syncID int64, w *graph.Writer, result *Result) error {
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	if _, err := o.Fetcher.FetchGroups(ctx, tenantID, "", func(batch []graphmodel.Group) error {
		if err := w.UpsertGroups(ctx, batch); err != nil {
			result.ErrorCount++
			log.Error().Err(err).Msg("failed to write group batch")
			return nil
		}
		result.GroupsCount += len(batch)
		groupsProgress := 33
		return o.reportCount(ctx, syncID, tenantID, metadata.SyncUpdate{GroupsCount: &result.GroupsCount, ProgressPercentage: &groupsProgress})
	}); err != nil {
		if handleErr := o.handlePhaseError(result, "groups", err); handleErr != nil {
			return handleErr
		}
	}

	if err := checkCancelled(ctx); err != nil {
		return err
	}
	if _, err := o.Fetcher.FetchApplications(ctx, tenantID, func(batch []fetcher.ApplicationRecord) error {
		apps := make([]graphmodel.Application, 0, len(batch))
		var groupAccess []graphmodel.GroupHasAccessEdge
		for _, rec := range batch {
			apps = append(apps, rec.Application)
			groupAccess = append(groupAccess, rec.GroupAccess...)
		}
		if err := w.UpsertApplications(ctx, apps); err != nil {
			result.ErrorCount++
			log.Error().Err(err).Msg("failed to write application batch")
			return nil
		}
		if err := w.UpsertGroupAccess(ctx, groupAccess); err != nil {
			result.ErrorCount++
			log.Error().Err(err).Msg("failed to write group access edges")
		}
		result.AppsCount += len(apps)
		appsProgress := 66
		return o.reportCount(ctx, syncID, tenantID, metadata.SyncUpdate{AppsCount: &result.AppsCount, ProgressPercentage: &appsProgress})
	}); err != nil {
		if handleErr := o.handlePhaseError(result, "applications", err); handleErr != nil {
			return handleErr
		}
	}

	if err := checkCancelled(ctx); err != nil {
		return err
	}
	if err := o.runUserPhase(ctx, tenantID, syncID, w, result); err != nil {
		return err
	}

	if err := checkCancelled(ctx); err != nil {
		return err
	}
	if _, err := o.Fetcher.FetchDevices(ctx, tenantID, func(batch []fetcher.DeviceRecord) error {
		devices := make([]graphmodel.Device, 0, len(batch))
		var owns []graphmodel.OwnsEdge
		for _, rec := range batch {
			devices = append(devices, rec.Device)
			owns = append(owns, rec.Owners...)
		}
		if err := w.UpsertDevices(ctx, devices, owns); err != nil {
			result.ErrorCount++
			log.Error().Err(err).Msg("failed to write device batch")
			return nil
		}
		result.DevicesCount += len(devices)
		devicesProgress := 83
		return o.reportCount(ctx, syncID, tenantID, metadata.SyncUpdate{DevicesCount: &result.DevicesCount, ProgressPercentage: &devicesProgress})
	}); err != nil {
		if handleErr := o.handlePhaseError(result, "devices", err); handleErr != nil {
			return handleErr
		}
	}

	if err := checkCancelled(ctx); err != nil {
		return err
	}
	var policyIDs []string
	if _, err := o.Fetcher.FetchPolicies(ctx, tenantID, func(batch []graphmodel.Policy) error {
		if err := w.UpsertPolicies(ctx, batch); err != nil {
			result.ErrorCount++
			log.Error().Err(err).Msg("failed to write policy batch")
			return nil
		}
		for _, p := range batch {
			policyIDs = append(policyIDs, p.OktaID)
		}
		result.PoliciesCount += len(batch)
		policiesProgress := 90
		return o.reportCount(ctx, syncID, tenantID, metadata.SyncUpdate{PoliciesCount: &result.PoliciesCount, ProgressPercentage: &policiesProgress})
	}); err != nil {
		if handleErr := o.handlePhaseError(result, "policies", err); handleErr != nil {
			return handleErr
		}
	}

	if err := w.ReconcileGovernedByEdges(ctx); err != nil {
		result.ErrorCount++
		log.Error().Err(err).Msg("failed to reconcile GOVERNED_BY edges")
	}

	if err := checkCancelled(ctx); err != nil {
		return err
	}
	if _, err := o.Fetcher.FetchNetworkZones(ctx, tenantID, func(batch []graphmodel.NetworkZone) error {
		if err := w.UpsertNetworkZones(ctx, batch); err != nil {
			result.ErrorCount++
			log.Error().Err(err).Msg("failed to write network zone batch")
			return nil
		}
		result.ZonesCount += len(batch)
		return nil
	}); err != nil {
		if handleErr := o.handlePhaseError(result, "network zones", err); handleErr != nil {
			return handleErr
		}
	}

	if len(policyIDs) > 0 {
		if _, err := o.Fetcher.FetchPolicyRules(ctx, tenantID, policyIDs, func(batch []fetcher.PolicyRuleRecord) error {
			rules := make([]graphmodel.PolicyRule, 0, len(batch))
			var users []graphmodel.AppliesToUserEdge
			var groups []graphmodel.AppliesToGroupEdge
			var zones []graphmodel.AppliesToZoneEdge
			for _, rec := range batch {
				rules = append(rules, rec.Rule)
				users = append(users, rec.Users...)
				groups = append(groups, rec.Groups...)
				zones = append(zones, rec.Zones...)
			}
			if err := w.UpsertPolicyRules(ctx, rules); err != nil {
				result.ErrorCount++
				log.Error().Err(err).Msg("failed to write policy rule batch")
				return nil
			}
			if err := w.UpsertRuleTargets(ctx, users, groups, zones); err != nil {
				result.ErrorCount++
				log.Error().Err(err).Msg("failed to write policy rule target edges")
			}
			result.RulesCount += len(rules)
			return nil
		}); err != nil {
			if handleErr := o.handlePhaseError(result, "policy rules", err); handleErr != nil {
				return handleErr
			}
		}
	}

	return nil
}

// runUserPhase streams user batches into the writer, checking cancellation
// every ~10 users rather than after every single one.
func (o *Orchestrator) runUserPhase(ctx context.Context, tenantID string, syncID int64, w *graph.Writer, result *Result) error {
	since := ""
	checkedSinceLastCancel := 0
	var cancelled error

	_, err := o.Fetcher.FetchUsers(ctx, tenantID, since, func(batch []fetcher.UserRecord) error {
		for _, rec := range batch {
			if err := w.UpsertUsers(ctx, []graphmodel.User{rec.User}); err != nil {
				result.ErrorCount++
				log.Error().Err(err).Str("user", rec.User.OktaID).Msg("failed to write user node")
				continue
			}

			var reportsTo []graphmodel.ReportsToEdge
			if rec.ReportsTo != nil {
				reportsTo = append(reportsTo, *rec.ReportsTo)
			}
			if err := w.UpsertUserRelationships(ctx, rec.MemberOf, rec.HasAccess, rec.Factors, rec.Enrolled, reportsTo); err != nil {
				result.ErrorCount++
				log.Error().Err(err).Str("user", rec.User.OktaID).Msg("failed to write user relationships")
			}

			result.UsersCount++
			result.FactorsCount += len(rec.Factors)
			checkedSinceLastCancel++
			if checkedSinceLastCancel >= userCancelCheckEvery {
				checkedSinceLastCancel = 0
				if err := checkCancelled(ctx); err != nil {
					cancelled = err
					return err
				}
			}
		}
		usersProgress := 75
		return o.reportCount(ctx, syncID, tenantID, metadata.SyncUpdate{UsersCount: &result.UsersCount, FactorsCount: &result.FactorsCount, ProgressPercentage: &usersProgress})
	})

	if cancelled != nil {
		return cancelled
	}
	if err != nil {
		return o.handlePhaseError(result, "users", err)
	}
	return nil
}

// handlePhaseError applies the Transient/Schema/Auth taxonomy: a whole-
// entity fetch failure is logged and counted, never aborting the run — with
// one exception. An authentication failure is immediately fatal for the
// current sync, so it is returned for the caller to propagate upward.
func (o *Orchestrator) handlePhaseError(result *Result, entity string, err error) error {
	result.ErrorCount++
	if oktaclient.IsAuthError(err) {
		log.Error().Err(err).Str("entity", entity).Msg("authentication failure, aborting sync")
		return fmt.Errorf("auth failure during %s sync: %w", entity, err)
	}
	log.Error().Err(err).Str("entity", entity).Msg("entity sync failed, continuing with remaining phases")
	return nil
}

func (o *Orchestrator) reportCount(ctx context.Context, syncID int64, tenantID string, update metadata.SyncUpdate) error {
	if err := o.MetaStore.UpdateSyncRecord(ctx, syncID, tenantID, update); err != nil {
		log.Warn().Err(err).Msg("failed to update sync_history progress counts")
	}
	return nil
}

func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ErrCancelled
	}
	return nil
}

func (o *Orchestrator) failSync(ctx context.Context, syncID int64, tenantID string, cause error) error {
	status := metadata.StatusFailed
	now := time.Now()
	msg := cause.Error()
	if updateErr := o.MetaStore.UpdateSyncRecord(ctx, syncID, tenantID, metadata.SyncUpdate{
		Status: &status, EndTime: &now, ErrorMessage: &msg,
	}); updateErr != nil {
		log.Error().Err(updateErr).Msg("failed to mark sync_history row failed")
	}
	return cause
}

func (o *Orchestrator) cancelSync(ctx context.Context, syncID int64, tenantID string, result Result) error {
	status := metadata.StatusCanceled
	now := time.Now()
	msg := "sync cancelled"
	// ctx is the cancelled run context; the final write must not inherit it.
	if updateErr := o.MetaStore.UpdateSyncRecord(context.WithoutCancel(ctx), syncID, tenantID, metadata.SyncUpdate{
		Status: &status, EndTime: &now, ErrorMessage: &msg,
		UsersCount: &result.UsersCount, GroupsCount: &result.GroupsCount, AppsCount: &result.AppsCount,
	}); updateErr != nil {
		log.Error().Err(updateErr).Msg("failed to mark sync_history row canceled")
	}
	return ErrCancelled
}

