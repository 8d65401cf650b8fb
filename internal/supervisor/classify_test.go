package supervisor

import (
	"context"
	"fmt"
	"io"
	"syscall"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"voxelswarm.ai/internal/capability"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Cause
	}{
		{context.Canceled, CauseShutdown},
		{fmt.Errorf("wrapped: %w", context.Canceled), CauseShutdown},
		{&capability.KickError{Reason: "flying"}, CauseKicked},
		{fmt.Errorf("serve: %w", &capability.KickError{Reason: "x"}), CauseKicked},
		{&websocket.CloseError{Code: websocket.ClosePolicyViolation}, CauseKicked},
		{fmt.Errorf("heartbeat_timeout: %w", ErrForcedReconnect), CauseRequested},
		{syscall.ECONNRESET, CauseNetwork},
		{io.EOF, CauseNetwork},
		{&websocket.CloseError{Code: websocket.CloseAbnormalClosure}, CauseNetwork},
		{nil, CauseNetwork},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.err), "%v", c.err)
	}
}

func TestDetail(t *testing.T) {
	assert.Equal(t, "", Detail(nil))
	assert.Equal(t, "reset", Detail(fmt.Errorf("read: %w", syscall.ECONNRESET)))
	assert.Equal(t, "refused", Detail(fmt.Errorf("dial: %w", syscall.ECONNREFUSED)))
	assert.Equal(t, "unreachable", Detail(syscall.EHOSTUNREACH))
	assert.Equal(t, "timeout", Detail(context.DeadlineExceeded))
	assert.Equal(t, "eof", Detail(io.ErrUnexpectedEOF))
	assert.Equal(t, "closed", Detail(capability.ErrClosed))
	assert.Equal(t, "boom", Detail(fmt.Errorf("boom")))
}
