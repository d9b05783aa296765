package resilience

import "errors"

// ErrStillOffline is returned by HealthCheck when a prior probe
// already found the IdP unreachable and the next probe isn't due yet.
var ErrStillOffline = errors.New("resilience: identity provider still offline")
