package driving

import "errors"

var (
	// ErrSessionAlreadyActive means the driver already has an active session.
	ErrSessionAlreadyActive = errors.New("driving: session already active for driver")

	// ErrSessionNotActive means a mutation was attempted on a stopped or
	// nonexistent session.
	ErrSessionNotActive = errors.New("driving: session not active")

	// ErrStaleSession means the conditional append lost to a concurrent
	// writer. Retried internally with bounded attempts before surfacing.
	ErrStaleSession = errors.New("driving: session modified concurrently")
)
