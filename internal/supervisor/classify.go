package supervisor

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/gorilla/websocket"

	"voxelswarm.ai/internal/capability"
)

// Cause is why a connection ended.
type Cause string

const (
	CauseKicked    Cause = "kicked"
	CauseNetwork   Cause = "network"
	CauseRequested Cause = "requested"
	CauseShutdown  Cause = "shutdown"
)

var (
	// ErrRetriesExhausted is returned by Run once the retry bound is passed.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	// ErrForcedReconnect marks a disconnect the supervisor triggered itself.
	ErrForcedReconnect = errors.New("forced reconnect")
)

// Classify maps the error that ended a connection to its cause.
func Classify(err error) Cause {
	var kick *capability.KickError
	switch {
	case errors.Is(err, context.Canceled):
		return CauseShutdown
	case errors.As(err, &kick):
		return CauseKicked
	case websocket.IsCloseError(err, websocket.ClosePolicyViolation):
		return CauseKicked
	case errors.Is(err, ErrForcedReconnect):
		return CauseRequested
	default:
		return CauseNetwork
	}
}

// Detail gives a short label for network-level errors, used in logs and the
// journal.
func Detail(err error) string {
	var ne net.Error
	var ce *websocket.CloseError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, syscall.ECONNRESET):
		return "reset"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "refused"
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return "unreachable"
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &ne) && ne.Timeout():
		return "timeout"
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return "eof"
	case errors.As(err, &ce):
		return "closed"
	case errors.Is(err, capability.ErrClosed):
		return "closed"
	default:
		return err.Error()
	}
}
