// Package oktaclient implements the single authoritative HTTP client used to
// talk to an Okta org: authentication, Link-header pagination, response
// shape normalization, and the two distinct 429 rate-limit regimes Okta's
// API enforces.
package oktaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Client is the rate-limited, retrying Okta API client. One Client instance
// is shared across an entire sync run for a tenant.
type Client struct {
	OrgURL     string
	Auth       Authenticator
	HTTPClient *http.Client
	MaxPages   int
	Progress   ProgressSink
}

// NewClient builds a Client whose underlying http.Client uses the given
// timeout. A nil progress sink is replaced by NoopProgressSink.
func NewClient(orgURL string, auth Authenticator, timeout time.Duration, maxPages int, progress ProgressSink) *Client {
	if progress == nil {
		progress = NoopProgressSink{}
	}
	return &Client{
		OrgURL:     strings.TrimRight(orgURL, "/"),
		Auth:       auth,
		HTTPClient: &http.Client{Timeout: timeout},
		MaxPages:   maxPages,
		Progress:   progress,
	}
}

// pageResult is what a single HTTP round trip against Okta yields.
type pageResult struct {
	data       any
	nextURL    string
	statusCode int
}

// GetCollection fetches endpoint, following Link-header pagination until
// exhausted, maxResults is reached, or MaxPages is hit. It returns the
// normalized, concatenated entity list.
func (c *Client) GetCollection(ctx context.Context, endpoint string, params url.Values, maxResults int) ([]any, error) {
	correlationID := newCorrelationID()
	logger := log.With().Str("endpoint", endpoint).Str("correlationId", correlationID).Logger()

	c.Progress.Emit(ProgressEvent{EventType: "pagination_start", Endpoint: endpoint, Timestamp: time.Now()})

	all := make([]any, 0, 128)
	next := c.buildURL(endpoint, params)
	page := 0

	for next != "" {
		page++
		if page > c.MaxPages {
			return all, &MaxPagesExceededError{Endpoint: endpoint, MaxPages: c.MaxPages}
		}

		result, err := c.doSingleRequest(ctx, http.MethodGet, next, nil, &logger, correlationID)
		if err != nil {
			return all, err
		}

		items := normalizeResponse(result.data)
		if list, ok := items.([]any); ok {
			all = append(all, list...)
		}

		if progressThrottle(page, maxResults) {
			c.Progress.Emit(ProgressEvent{
				EventType:    "page",
				Endpoint:     endpoint,
				Page:         page,
				FetchedSoFar: len(all),
				Timestamp:    time.Now(),
			})
		}

		if maxResults > 0 && len(all) >= maxResults {
			logger.Info().Int("fetched", len(all)).Msg("max results reached, stopping pagination early")
			all = all[:maxResults]
			break
		}

		next = result.nextURL
		if next != "" {
			select {
			case <-time.After(200 * time.Millisecond):
			case <-ctx.Done():
				return all, ctx.Err()
			}
		}
	}

	c.Progress.Emit(ProgressEvent{EventType: "pagination_complete", Endpoint: endpoint, FetchedSoFar: len(all), Timestamp: time.Now()})
	return all, nil
}

// Get performs a single non-paginated request (e.g. a POST/PUT, or a GET
// whose response is known to be a single resource) and returns the decoded
// body.
func (c *Client) Get(ctx context.Context, method, endpoint string, body any) (any, error) {
	correlationID := newCorrelationID()
	logger := log.With().Str("endpoint", endpoint).Str("correlationId", correlationID).Logger()

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	result, err := c.doSingleRequest(ctx, method, c.buildURL(endpoint, nil), bodyReader, &logger, correlationID)
	if err != nil {
		return nil, err
	}
	return normalizeResponse(result.data), nil
}

func (c *Client) buildURL(endpoint string, params url.Values) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	u := c.OrgURL + endpoint
	if params != nil && len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// doSingleRequest executes one logical request, transparently retrying 429s
// under the appropriate rate-limit regime up to maxRateLimitRetries times.
func (c *Client) doSingleRequest(ctx context.Context, method, target string, body io.Reader, logger *zerolog.Logger, correlationID string) (*pageResult, error) {
	var bodyBytes []byte
	if body != nil {
		b, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		bodyBytes = b
	}

	bo := newFixedWaitBackOff(maxRateLimitRetries)
	var result *pageResult

	operation := func() error {
		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("X-Correlation-ID", correlationID)

		if err := c.Auth.Authenticate(ctx, req); err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			bo.wait = time.Duration(1<<bo.tries) * time.Second
			return err // transient network error, retry with exponential wait
		}
		defer resp.Body.Close()

		respBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			info := parseRateLimitHeaders(resp.Header)
			concurrent := isConcurrentRegime(info, resp.Header)
			wait := rateLimitWait(resp.Header, concurrent)
			bo.wait = wait

			c.Progress.Emit(ProgressEvent{
				EventType: "rate_limit_wait",
				Endpoint:  target,
				Timestamp: time.Now(),
				Message:   fmt.Sprintf("waiting %s for %s rate limit", wait, regimeLabel(concurrent)),
			})
			logger.Warn().
				Dur("wait", wait).
				Bool("concurrent", concurrent).
				Str("remaining", resp.Header.Get("X-Rate-Limit-Remaining")).
				Msg("okta rate limit hit, backing off")

			return &APIError{StatusCode: resp.StatusCode, ErrorCode: ErrCodeRateLimited, Message: "rate limit exceeded", RetryAfter: int(wait.Seconds())}
		}

		apiErr := classifyStatus(resp.StatusCode, respBytes)
		if apiErr != nil {
			if ae, ok := apiErr.(*APIError); ok {
				if ae.StatusCode == http.StatusUnauthorized {
					if clearer, ok := c.Auth.(tokenClearer); ok {
						clearer.ClearCachedToken()
					}
				}
				if ae.StatusCode >= 500 {
					return ae
				}
			}
			return backoff.Permanent(apiErr)
		}

		var decoded any
		if len(respBytes) > 0 {
			if err := json.Unmarshal(respBytes, &decoded); err != nil {
				return backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
		}

		result = &pageResult{
			data:       decoded,
			nextURL:    nextPageURL(strings.Join(resp.Header.Values("Link"), ", ")),
			statusCode: resp.StatusCode,
		}
		return nil
	}

	if err := backoff.Retry(operation, bo); err != nil {
		if rlErr, ok := err.(*APIError); ok && rlErr.ErrorCode == ErrCodeRateLimited {
			return nil, &RateLimitError{Endpoint: target, RetryAfter: rlErr.RetryAfter}
		}
		return nil, err
	}
	return result, nil
}

func regimeLabel(concurrent bool) string {
	if concurrent {
		return "concurrent"
	}
	return "org-wide"
}

// classifyStatus maps an HTTP status + body into an APIError, or returns nil
// for success statuses.
func classifyStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	var errBody struct {
		ErrorCode    string `json:"errorCode"`
		ErrorSummary string `json:"errorSummary"`
	}
	_ = json.Unmarshal(body, &errBody)

	switch status {
	case http.StatusUnauthorized:
		return &APIError{StatusCode: status, ErrorCode: ErrCodeActivationFailed, Message: errBody.ErrorSummary}
	case http.StatusForbidden:
		return &APIError{StatusCode: status, ErrorCode: ErrCodeInvalidToken, Message: errBody.ErrorSummary}
	case http.StatusNotFound:
		return &APIError{StatusCode: status, ErrorCode: ErrCodeAccessDenied, Message: errBody.ErrorSummary}
	case http.StatusBadRequest:
		return &APIError{StatusCode: status, ErrorCode: ErrCodeInvalidRequest, Message: errBody.ErrorSummary}
	default:
		if errBody.ErrorCode == "" {
			errBody.ErrorCode = strconv.Itoa(status)
		}
		return &APIError{StatusCode: status, ErrorCode: errBody.ErrorCode, Message: errBody.ErrorSummary}
	}
}

func decodeJSON(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}
