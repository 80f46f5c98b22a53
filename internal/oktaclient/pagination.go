package oktaclient

import "regexp"

var linkNextPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// nextPageURL extracts the rel="next" target from an HTTP Link header. Okta
// returns one Link header per relation, occasionally folded into a single
// comma-joined value by intermediate proxies, so the regex scan handles both.
func nextPageURL(linkHeader string) string {
	if linkHeader == "" {
		return ""
	}
	m := linkNextPattern.FindStringSubmatch(linkHeader)
	if m == nil {
		return ""
	}
	return m[1]
}
