// Package sanitize strips unsafe markup from free-text fields before
// they reach logs or audit records, and reduces internal error detail
// to a small allow-listed set of safe phrases at the API boundary.
package sanitize

import "github.com/microcosm-cc/bluemonday"

var htmlPolicy = bluemonday.StrictPolicy()

// HTML strips all markup from s, leaving plain text — used on API-key
// names, revocation reasons, and other free-text fields before they are
// logged or surfaced in audit records.
func HTML(s string) string {
	return htmlPolicy.Sanitize(s)
}

// safeMessages is the allow-list of error text considered safe to
// return verbatim at the API boundary.
var safeMessages = map[string]bool{
	"invalid format":                    true,
	"revoked":                           true,
	"expired":                           true,
	"inactive":                          true,
	"token replay detected":             true,
	"upstream timeout":                  true,
	"authentication service unavailable": true,
	"invalid token claims":              true,
	"invalid token signature":           true,
	"invalid token format":              true,
	"already revoked":                   true,
}

// genericFallback is returned for any message not on the allow-list, to
// avoid leaking internal details (stack traces, SQL fragments, upstream
// response bodies) to API callers.
const genericFallback = "authentication failed"

// ErrorMessage reduces msg to itself if it is a known-safe phrase, or to
// genericFallback otherwise.
func ErrorMessage(msg string) string {
	if safeMessages[msg] {
		return msg
	}
	return genericFallback
}
