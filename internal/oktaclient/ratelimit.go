package oktaclient

import (
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	maxRateLimitRetries   = 5
	concurrentRetryCapSec = 30
	orgWideRetryCapSec    = 300
	defaultRetryAfterSec  = 60
)

// rateLimitInfo captures Okta's per-response rate-limit headers.
type rateLimitInfo struct {
	Limit     int
	Remaining int
	Reset     string
	present   bool
}

func parseRateLimitHeaders(h http.Header) rateLimitInfo {
	limitStr := h.Get("X-Rate-Limit-Limit")
	remainingStr := h.Get("X-Rate-Limit-Remaining")
	if limitStr == "" || remainingStr == "" {
		return rateLimitInfo{}
	}
	limit, err1 := strconv.Atoi(limitStr)
	remaining, err2 := strconv.Atoi(remainingStr)
	if err1 != nil || err2 != nil {
		return rateLimitInfo{}
	}
	return rateLimitInfo{Limit: limit, Remaining: remaining, Reset: h.Get("X-Rate-Limit-Reset"), present: true}
}

// isConcurrentRegime distinguishes Okta's two 429 flavors: a concurrent-limit
// rejection reports Limit=0 and Remaining=0 because the request never
// entered the org-wide counter at all, while an org-wide rejection reports
// real (exhausted) limit/remaining values.
func isConcurrentRegime(info rateLimitInfo, h http.Header) bool {
	if info.present {
		return info.Limit == 0 && info.Remaining == 0
	}
	return h.Get("X-Rate-Limit-Limit") == "0" && h.Get("X-Rate-Limit-Remaining") == "0"
}

// rateLimitWait computes how long to sleep before retrying a 429, applying
// the regime-specific cap and jitter the reference client uses: concurrent
// rejections get a short wait plus 0-3s jitter since they clear as soon as
// in-flight requests complete, while org-wide rejections honor Okta's
// Retry-After verbatim up to a much longer cap.
func rateLimitWait(h http.Header, concurrent bool) time.Duration {
	retryAfter := defaultRetryAfterSec
	if v := h.Get("Retry-After"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			retryAfter = parsed
		}
	}

	if concurrent {
		wait := retryAfter
		if wait > concurrentRetryCapSec {
			wait = concurrentRetryCapSec
		}
		jitter := time.Duration(rand.Float64()*3*float64(time.Second))
		return time.Duration(wait)*time.Second + jitter
	}

	wait := retryAfter
	if wait > orgWideRetryCapSec {
		wait = orgWideRetryCapSec
	}
	return time.Duration(wait) * time.Second
}

// fixedWaitBackOff is a cenkalti/backoff.BackOff whose NextBackOff is set
// externally before each retry, letting the rate-limit regime computation
// above drive the actual wait instead of an exponential curve.
type fixedWaitBackOff struct {
	wait    time.Duration
	tries   int
	maxTries int
}

func newFixedWaitBackOff(maxTries int) *fixedWaitBackOff {
	return &fixedWaitBackOff{maxTries: maxTries}
}

func (b *fixedWaitBackOff) NextBackOff() time.Duration {
	if b.tries >= b.maxTries {
		return backoff.Stop
	}
	b.tries++
	return b.wait
}

func (b *fixedWaitBackOff) Reset() {
	b.tries = 0
}
