package config

import "errors"

var (
	// ErrMissingOrgURL is returned when OKTA_ORG_URL is not set.
	ErrMissingOrgURL = errors.New("config: OKTA_ORG_URL is required")

	// ErrMissingAPIToken is returned when TOKEN_METHOD=API_TOKEN but OKTA_API_TOKEN is unset.
	ErrMissingAPIToken = errors.New("config: OKTA_API_TOKEN is required when TOKEN_METHOD=API_TOKEN")

	// ErrMissingOAuth2ClientID is returned when TOKEN_METHOD=OAUTH2 but the client ID is unset.
	ErrMissingOAuth2ClientID = errors.New("config: OKTA_OAUTH2_CLIENT_ID is required when TOKEN_METHOD=OAUTH2")

	// ErrMissingOAuth2PrivateKey is returned when TOKEN_METHOD=OAUTH2 but the private key is unset.
	ErrMissingOAuth2PrivateKey = errors.New("config: OKTA_OAUTH2_PRIVATE_KEY_PEM is required when TOKEN_METHOD=OAUTH2")

	// ErrMissingOAuth2Scopes is returned when TOKEN_METHOD=OAUTH2 but no scopes were configured.
	ErrMissingOAuth2Scopes = errors.New("config: OKTA_OAUTH2_SCOPES is required when TOKEN_METHOD=OAUTH2")

	// ErrInvalidTokenMethod is returned for an unrecognized TOKEN_METHOD value.
	ErrInvalidTokenMethod = errors.New("config: TOKEN_METHOD must be API_TOKEN or OAUTH2")

	// ErrMissingGraphDir is returned when the graph snapshot directory root is unset.
	ErrMissingGraphDir = errors.New("config: GRAPH_DB_DIR is required")

	// ErrMissingMetadataDSN is returned when the metadata sidecar DSN is unset.
	ErrMissingMetadataDSN = errors.New("config: METADATA_DATABASE_URL is required")

	// ErrInvalidDateFormat is returned when a DEPR_USER_* date filter is malformed.
	ErrInvalidDateFormat = errors.New("config: expected date in YYYY-MM-DD format")
)
