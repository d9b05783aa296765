package oidc

import "errors"

// Sentinel errors realizing the abstract error taxonomy. Every failure
// path wraps one of these with fmt.Errorf("%w: ...") so callers can
// branch with errors.Is.
var (
	ErrMalformed            = errors.New("oidc: malformed token")
	ErrConfigurationInvalid = errors.New("oidc: discovery document missing required fields")
	ErrMisconfigured        = errors.New("oidc: client misconfigured")
	ErrUpstream             = errors.New("oidc: upstream error")
	ErrUpstreamTimeout      = errors.New("oidc: upstream timeout")
	ErrReplay               = errors.New("oidc: token replay detected")
	ErrRevoked              = errors.New("oidc: token revoked")
	ErrClientFailed         = errors.New("oidc: client is in failed state")
)
