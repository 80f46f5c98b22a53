// Package fetcher implements EntityFetcher: one function per Okta entity
// kind, each fetching paginated collections and, for users and applications,
// fanning out bounded-concurrency relationship calls per record.
package fetcher

import (
	"context"
	"net/url"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/oktagraph/syncengine/internal/config"
	"github.com/oktagraph/syncengine/internal/oktaclient"
)

// Fetcher holds the shared Okta client and derived concurrency knobs used by
// every entity-kind fetch.
type Fetcher struct {
	Client *oktaclient.Client
	Cfg    *config.Config

	userSem *semaphore.Weighted
	appSem  *semaphore.Weighted
	pacer   *rate.Limiter
}

// New builds a Fetcher. The pacer enforces a ~100ms inter-call floor across
// all fan-out calls regardless of which semaphore gated them.
//
// There is no groupSem: FetchGroups makes one paginated collection call with
// no per-group fan-out (group membership is discovered from the user side,
// via fetchUserRelationships), so cfg.MaxConcurrentGroups() has nothing to
// gate here — it still exists on Config as the documented derived knob.
func New(client *oktaclient.Client, cfg *config.Config) *Fetcher {
	return &Fetcher{
		Client:  client,
		Cfg:     cfg,
		userSem: semaphore.NewWeighted(int64(cfg.MaxConcurrentUsers())),
		appSem:  semaphore.NewWeighted(int64(cfg.MaxConcurrentApps())),
		pacer:   rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
}

// paced blocks until the global pacer admits the call, then runs fn while
// holding one unit of sem.
func (f *Fetcher) paced(ctx context.Context, sem *semaphore.Weighted, fn func() error) error {
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)

	if err := f.pacer.Wait(ctx); err != nil {
		return err
	}
	return fn()
}

// asMapSlice narrows a normalized []any of entity records to []map[string]any,
// silently dropping entries that aren't objects (Okta never sends these in
// practice, but a malformed or unrecognized response shape should degrade
// rather than panic).
func asMapSlice(items []any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func queryParams(pairs ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			v.Set(pairs[i], pairs[i+1])
		}
	}
	return v
}
