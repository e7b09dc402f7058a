package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so handlers can pick a status without knowing the backend.
var (
	ErrUnavailable = errors.New("unavailable")
)
