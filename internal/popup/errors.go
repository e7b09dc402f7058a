package popup

import "errors"

// The first two messages are user facing and mirror what the verification
// pages display.
var (
	ErrBlocked        = errors.New("Popup was blocked")        //nolint:staticcheck // user facing
	ErrRedirectFailed = errors.New("Failed to redirect popup") //nolint:staticcheck // user facing
	ErrNoTopContext   = errors.New("no top-level context to relay the request to")
	ErrAbandoned      = errors.New("flow abandoned by a newer attempt")
	ErrMalformed      = errors.New("malformed popup message")
)

// RemoteError is an error reported by the secondary context through a
// POPUP_ERROR or OTP_ERROR message.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "verification failed"
	}
	return e.Message
}
