package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads configuration from the environment. It does not validate the
// result — call Validate() once the caller knows which fields it needs.
func Load() *Config {
	orgURL := strings.TrimRight(env("OKTA_ORG_URL", ""), "/")

	tokenMethod := AuthMethod(strings.ToUpper(env("TOKEN_METHOD", string(AuthMethodAPIToken))))

	scopes := strings.Trim(strings.TrimSpace(env("OKTA_OAUTH2_SCOPES", "")), `"'`)

	cfg := &Config{
		OrgURL:           orgURL,
		TenantID:         deriveTenantID(orgURL),
		TokenMethod:      tokenMethod,
		APIToken:         env("OKTA_API_TOKEN", ""),
		OAuth2ClientID:   env("OKTA_OAUTH2_CLIENT_ID", ""),
		OAuth2PrivateKey: env("OKTA_OAUTH2_PRIVATE_KEY_PEM", ""),
		OAuth2Scopes:     splitCSV(scopes),
		ConcurrentLimit:  envInt("OKTA_CONCURRENT_LIMIT", 18),

		UserCustomAttributes: splitCSV(env("OKTA_USER_CUSTOM_ATTRIBUTES", "")),

		SyncDeprovisionedUsers: envBool("SYNC_DEPROVISIONED_USERS", true),
		DeprUserCreatedAfter:   env("DEPR_USER_CREATED_AFTER", ""),
		DeprUserUpdatedAfter:   env("DEPR_USER_UPDATED_AFTER", ""),

		GraphDBDir:      env("GRAPH_DB_DIR", "./graph_db"),
		MetadataDSN:     env("METADATA_DATABASE_URL", ""),
		KeepVersions:    envInt("GRAPH_DB_KEEP_VERSIONS", 2),
		PromoteOnErrors: envBool("PROMOTE_ON_ERRORS", true),

		RequestTimeout: time.Duration(envInt("OKTA_REQUEST_TIMEOUT_SECONDS", 300)) * time.Second,
		MaxPages:       envInt("OKTA_MAX_PAGES", 100),
	}

	return cfg
}

// deriveTenantID extracts the Okta org subdomain from the org URL, e.g.
// "https://acme.okta.com" -> "acme".
func deriveTenantID(orgURL string) string {
	if orgURL == "" {
		return ""
	}
	u, err := url.Parse(orgURL)
	host := ""
	if err == nil && u.Host != "" {
		host = u.Host
	} else {
		host = orgURL
	}
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	parts := strings.Split(host, ".")
	if len(parts) == 0 {
		return host
	}
	return parts[0]
}
