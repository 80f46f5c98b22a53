// Package config loads the synchronization engine's configuration from the
// environment, following the enumerated variable set in the system
// specification.
package config

import (
	"math"
	"strings"
	"time"
)

// AuthMethod selects how the client authenticates against Okta.
type AuthMethod string

const (
	AuthMethodAPIToken AuthMethod = "API_TOKEN"
	AuthMethodOAuth2   AuthMethod = "OAUTH2"
)

// Config holds all configuration for the Okta graph synchronization engine.
type Config struct {
	// Okta connection
	OrgURL           string
	TenantID         string // derived from OrgURL's subdomain
	TokenMethod      AuthMethod
	APIToken         string
	OAuth2ClientID   string
	OAuth2PrivateKey string // PEM-encoded RSA private key
	OAuth2Scopes     []string
	ConcurrentLimit  int

	// User profile
	UserCustomAttributes []string

	// Deprovisioned user sync
	SyncDeprovisionedUsers bool
	DeprUserCreatedAfter   string // YYYY-MM-DD
	DeprUserUpdatedAfter   string // YYYY-MM-DD

	// Storage
	GraphDBDir        string
	MetadataDSN       string
	KeepVersions      int
	PromoteOnErrors   bool

	// HTTP client tuning
	RequestTimeout time.Duration
	MaxPages       int
}

// MaxConcurrentUsers returns the derived per-entity concurrency bound for
// user relationship fan-out (each user makes ~2 follow-up calls).
func (c *Config) MaxConcurrentUsers() int {
	return maxInt(1, int(math.Floor(float64(c.ConcurrentLimit)/2)))
}

// MaxConcurrentApps returns the derived per-entity concurrency bound for
// app-to-groups fan-out (app endpoints carry a stricter rpm budget).
func (c *Config) MaxConcurrentApps() int {
	return maxInt(1, int(math.Floor(float64(c.ConcurrentLimit)*0.4)))
}

// MaxConcurrentGroups returns the derived per-entity concurrency bound for
// group-related fan-out.
func (c *Config) MaxConcurrentGroups() int {
	return maxInt(1, int(math.Floor(float64(c.ConcurrentLimit)*0.8)))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// DeprovisionedCreatedAfterISO converts DeprUserCreatedAfter to the
// Okta-expected ISO-8601 instant, or "" if unset.
func (c *Config) DeprovisionedCreatedAfterISO() (string, error) {
	return dateToOktaISO(c.DeprUserCreatedAfter)
}

// DeprovisionedUpdatedAfterISO converts DeprUserUpdatedAfter to the
// Okta-expected ISO-8601 instant, or "" if unset.
func (c *Config) DeprovisionedUpdatedAfterISO() (string, error) {
	return dateToOktaISO(c.DeprUserUpdatedAfter)
}

func dateToOktaISO(date string) (string, error) {
	if date == "" {
		return "", nil
	}
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "", ErrInvalidDateFormat
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z"), nil
}

// Validate checks that the configuration is internally consistent and
// complete for the selected auth method.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OrgURL) == "" {
		return ErrMissingOrgURL
	}
	if c.GraphDBDir == "" {
		return ErrMissingGraphDir
	}
	if c.MetadataDSN == "" {
		return ErrMissingMetadataDSN
	}

	switch c.TokenMethod {
	case AuthMethodAPIToken:
		if c.APIToken == "" {
			return ErrMissingAPIToken
		}
	case AuthMethodOAuth2:
		if c.OAuth2ClientID == "" {
			return ErrMissingOAuth2ClientID
		}
		if c.OAuth2PrivateKey == "" {
			return ErrMissingOAuth2PrivateKey
		}
		if len(c.OAuth2Scopes) == 0 {
			return ErrMissingOAuth2Scopes
		}
	default:
		return ErrInvalidTokenMethod
	}

	if _, err := c.DeprovisionedCreatedAfterISO(); err != nil {
		return err
	}
	if _, err := c.DeprovisionedUpdatedAfterISO(); err != nil {
		return err
	}

	return nil
}
