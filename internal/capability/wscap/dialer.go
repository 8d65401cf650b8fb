// Package wscap implements capability.Dialer over the voxel world websocket
// protocol. Each Session keeps the latest observation, maps capability calls
// onto ACT instants and tasks, and resolves them from the result events of
// later observations.
package wscap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"voxelswarm.ai/internal/capability"
	"voxelswarm.ai/internal/protocol"
)

type Options struct {
	URL              string
	HandshakeTimeout time.Duration
	// RequestTimeout bounds how long a blocking call waits for its result.
	RequestTimeout time.Duration
	// ReadTimeout closes connections that stay silent longer than this.
	ReadTimeout time.Duration
	Logger      *slog.Logger
}

type Dialer struct {
	opts      Options
	validator *protocol.Validator
	logger    *slog.Logger
}

func NewDialer(opts Options) (*Dialer, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("wscap: empty url")
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 90 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	v, err := protocol.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("wscap: %w", err)
	}
	return &Dialer{opts: opts, validator: v, logger: opts.Logger.With("component", "wscap")}, nil
}

func (d *Dialer) Dial(ctx context.Context, identity string) (capability.Session, error) {
	wd := websocket.Dialer{HandshakeTimeout: d.opts.HandshakeTimeout}
	conn, resp, err := wd.DialContext(ctx, d.opts.URL, http.Header{})
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       identity,
		Capabilities: protocol.HelloCapabilities{
			DeltaVoxels: false,
			MaxQueue:    16,
		},
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}

	s := newSession(identity, conn, d)
	go s.readLoop()
	return s, nil
}
