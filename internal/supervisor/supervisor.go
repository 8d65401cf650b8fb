// Package supervisor owns one agent's connection lifecycle: dialing,
// monitoring heartbeats and protocol noise, classifying disconnects and
// scheduling reconnects with bounded exponential backoff.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"voxelswarm.ai/internal/capability"
	"voxelswarm.ai/internal/journal"
)

type State string

const (
	StateConnecting   State = "connecting"
	StateActive       State = "active"
	StateReconnecting State = "reconnecting"
	StateTerminated   State = "terminated"
)

// Handler receives a live session. Attach is called after every successful
// dial, Spawned when the server places the agent in the world, and Detach
// before the session is released. Detach must not return until everything
// started from Attach has stopped.
type Handler interface {
	Attach(ctx context.Context, sess capability.Session)
	Spawned()
	Detach()
}

type Options struct {
	Name        string
	Incarnation string
	Dialer      capability.Dialer
	Schedule    RetrySchedule

	HeartbeatCheck   time.Duration
	HeartbeatSlow    time.Duration
	HeartbeatTimeout time.Duration

	ErrorThreshold int
	ErrorDecay     int
	ErrorLogEvery  int

	Journal journal.Recorder
	Logger  *slog.Logger
	Now     func() time.Time
}

type Supervisor struct {
	opts    Options
	logger  *slog.Logger
	journal journal.Recorder
	now     func() time.Time
	errLog  rate.Sometimes

	state     atomic.Value // State
	attempt   atomic.Int32
	protoErrs atomic.Int32
}

func New(opts Options) *Supervisor {
	if opts.Schedule.MaxAttempts <= 0 {
		opts.Schedule = DefaultRetrySchedule()
	}
	if opts.HeartbeatCheck <= 0 {
		opts.HeartbeatCheck = 5 * time.Second
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 60 * time.Second
	}
	if opts.HeartbeatSlow <= 0 || opts.HeartbeatSlow > opts.HeartbeatTimeout {
		opts.HeartbeatSlow = opts.HeartbeatTimeout * 5 / 6
	}
	if opts.ErrorThreshold <= 0 {
		opts.ErrorThreshold = 50
	}
	if opts.ErrorDecay < 0 {
		opts.ErrorDecay = 0
	}
	if opts.ErrorLogEvery <= 0 {
		opts.ErrorLogEvery = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		opts:    opts,
		logger:  logger.With("component", "supervisor", "agent", opts.Name),
		journal: journal.OrNop(opts.Journal),
		now:     opts.Now,
		errLog:  rate.Sometimes{First: 1, Every: opts.ErrorLogEvery},
	}
	s.state.Store(StateConnecting)
	return s
}

func (s *Supervisor) State() State { return s.state.Load().(State) }

// Attempt is the number of consecutive failed connections since the last spawn.
func (s *Supervisor) Attempt() int { return int(s.attempt.Load()) }

// ProtocolErrors is the current value of the decaying protocol-error counter.
func (s *Supervisor) ProtocolErrors() int { return int(s.protoErrs.Load()) }

func (s *Supervisor) setState(st State) {
	if prev := s.state.Swap(st); prev != st {
		s.logger.Debug("state", "from", prev, "to", st)
	}
}

func (s *Supervisor) record(e journal.Event) {
	e.Agent = s.opts.Name
	e.Incarnation = s.opts.Incarnation
	s.journal.Record(e)
}

// Run keeps the agent connected until ctx is cancelled or the retry bound is
// exhausted. It returns nil on shutdown and an error wrapping
// ErrRetriesExhausted on permanent failure.
func (s *Supervisor) Run(ctx context.Context, h Handler) error {
	defer s.setState(StateTerminated)

	for {
		if s.Attempt() == 0 {
			s.setState(StateConnecting)
		} else {
			s.setState(StateReconnecting)
		}

		var endErr error
		sess, err := s.opts.Dialer.Dial(ctx, s.opts.Name)
		if err != nil {
			endErr = fmt.Errorf("dial: %w", err)
		} else {
			endErr = s.serve(ctx, sess, h)
		}
		if ctx.Err() != nil {
			return nil
		}

		cause := Classify(endErr)
		attempt := int(s.attempt.Add(1))
		s.logger.Info("disconnected", "cause", cause, "detail", Detail(endErr), "attempt", attempt)
		s.record(journal.Event{
			Kind:    journal.KindDisconnected,
			Cause:   string(cause),
			Attempt: attempt,
			Detail:  Detail(endErr),
		})

		if s.opts.Schedule.Exhausted(attempt) {
			s.logger.Warn("giving up", "attempts", attempt-1, "err", endErr)
			return fmt.Errorf("%s: %w (last error: %v)", s.opts.Name, ErrRetriesExhausted, endErr)
		}

		delay := s.opts.Schedule.Delay(attempt)
		s.setState(StateReconnecting)
		s.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
		s.record(journal.Event{
			Kind:    journal.KindRetryScheduled,
			Cause:   string(cause),
			Attempt: attempt,
			DelayMs: delay.Milliseconds(),
		})

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// serve runs one connected session until it ends and returns the error that
// ended it.
func (s *Supervisor) serve(ctx context.Context, sess capability.Session, h Handler) error {
	connCtx, cancel := context.WithCancel(ctx)
	h.Attach(connCtx, sess)

	reason := "disconnected"
	defer func() {
		cancel()
		h.Detach()
		_ = sess.Disconnect(reason)
	}()

	s.protoErrs.Store(0)
	lastBeat := s.now()
	slowWarned := false
	events := sess.Events()

	ticker := time.NewTicker(s.opts.HeartbeatCheck)
	defer ticker.Stop()

	force := func(why string) error {
		reason = why
		s.logger.Warn("forcing reconnect", "reason", why, "protocol_errors", s.ProtocolErrors())
		s.record(journal.Event{Kind: journal.KindForcedReconnect, Detail: why, Attempt: s.Attempt()})
		return fmt.Errorf("%s: %w", why, ErrForcedReconnect)
	}

	for {
		select {
		case <-ctx.Done():
			reason = "shutdown"
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return capability.ErrClosed
			}
			switch ev.Kind {
			case capability.EventSpawned:
				s.attempt.Store(0)
				lastBeat = s.now()
				slowWarned = false
				s.setState(StateActive)
				s.logger.Info("spawned")
				s.record(journal.Event{Kind: journal.KindConnected})
				h.Spawned()
			case capability.EventHeartbeat:
				lastBeat = s.now()
				slowWarned = false
			case capability.EventProtocolError:
				n := int(s.protoErrs.Add(1))
				s.errLog.Do(func() {
					s.logger.Warn("protocol error", "count", n, "err", ev.Err)
				})
				if n >= s.opts.ErrorThreshold {
					return force("protocol_errors")
				}
			case capability.EventKicked:
				reason = "kicked"
				return &capability.KickError{Reason: ev.Reason}
			case capability.EventDisconnected:
				if ev.Err != nil {
					return ev.Err
				}
				return errors.New(nonEmpty(ev.Reason, "disconnected"))
			}

		case <-ticker.C:
			since := s.now().Sub(lastBeat)
			switch {
			case since >= s.opts.HeartbeatTimeout:
				return force("heartbeat_timeout")
			case since >= s.opts.HeartbeatSlow:
				if !slowWarned {
					slowWarned = true
					s.logger.Warn("heartbeat slow", "since", since.Round(time.Millisecond))
				}
			default:
				s.decay()
			}
		}
	}
}

func (s *Supervisor) decay() {
	for {
		cur := s.protoErrs.Load()
		if cur == 0 {
			return
		}
		next := cur - int32(s.opts.ErrorDecay)
		if next < 0 {
			next = 0
		}
		if s.protoErrs.CompareAndSwap(cur, next) {
			return
		}
	}
}

func nonEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
