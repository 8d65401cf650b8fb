package protocol

import "fmt"

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Rule/action layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrNoPermission  = "E_NO_PERMISSION"
	ErrNoResource    = "E_NO_RESOURCE"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrConflict      = "E_CONFLICT"
	ErrBlocked       = "E_BLOCKED"
	ErrStale         = "E_STALE"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrNoPermission:    {},
	ErrNoResource:      {},
	ErrInvalidTarget:   {},
	ErrRateLimit:       {},
	ErrConflict:        {},
	ErrBlocked:         {},
	ErrStale:           {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// ActionError is a server-side rejection of one instant or task.
type ActionError struct {
	Ref     string
	Code    string
	Message string
}

func (e *ActionError) Error() string {
	code := e.Code
	if !IsKnownCode(code) {
		code = ErrInternal
	}
	if e.Message == "" {
		return fmt.Sprintf("%s rejected: %s", e.Ref, code)
	}
	return fmt.Sprintf("%s rejected: %s: %s", e.Ref, code, e.Message)
}
