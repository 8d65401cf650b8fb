package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"voxelswarm.ai/internal/capability"
	"voxelswarm.ai/internal/catalog"
	"voxelswarm.ai/internal/config"
	"voxelswarm.ai/internal/coord"
	"voxelswarm.ai/internal/journal"
	"voxelswarm.ai/internal/logging"
	"voxelswarm.ai/internal/supervisor"
)

type AgentOptions struct {
	Name        string
	Incarnation string
	Dialer      capability.Dialer
	Coord       *coord.Coordinator
	Catalog     *catalog.Catalog
	Agent       config.AgentConfig
	Supervisor  config.SupervisorConfig
	Journal     journal.Recorder
	Logger      *slog.Logger
	// Rand feeds both the controller and the retry jitter. Nil uses math/rand/v2.
	Rand func() float64
}

// Agent is one pool member: a supervisor that keeps the connection alive and
// a controller that acts on each live session.
type Agent struct {
	name        string
	incarnation string
	settle      time.Duration
	tick        time.Duration
	logger      *slog.Logger

	sup  *supervisor.Supervisor
	ctrl *Controller

	// Connection-scoped state, replaced on every Attach.
	mu       sync.Mutex
	spawned  chan struct{}
	spawnOne *sync.Once
	loopDone chan struct{}
}

func NewAgent(opts AgentOptions) *Agent {
	logger := logging.ForAgent(opts.Logger, opts.Name, opts.Incarnation)
	sc := opts.Supervisor
	a := &Agent{
		name:        opts.Name,
		incarnation: opts.Incarnation,
		settle:      opts.Agent.Settle(),
		tick:        opts.Agent.TickInterval(),
		logger:      logger,
	}
	if a.tick <= 0 {
		a.tick = 800 * time.Millisecond
	}
	a.ctrl = NewController(Options{
		Name:    opts.Name,
		Config:  opts.Agent,
		Catalog: opts.Catalog,
		Coord:   opts.Coord,
		Logger:  logger,
		Rand:    opts.Rand,
	})
	a.sup = supervisor.New(supervisor.Options{
		Name:        opts.Name,
		Incarnation: opts.Incarnation,
		Dialer:      opts.Dialer,
		Schedule: supervisor.RetrySchedule{
			Base:        sc.BackoffBase(),
			Growth:      sc.BackoffGrowth,
			Jitter:      sc.BackoffJitter(),
			MaxAttempts: sc.MaxAttempts,
			Rand:        opts.Rand,
		},
		HeartbeatCheck:   sc.HeartbeatCheck(),
		HeartbeatSlow:    sc.HeartbeatSlow(),
		HeartbeatTimeout: sc.HeartbeatTimeout(),
		ErrorThreshold:   sc.ProtocolErrorThreshold,
		ErrorDecay:       sc.ProtocolErrorDecay,
		ErrorLogEvery:    sc.ProtocolErrorLogEvery,
		Journal:          opts.Journal,
		Logger:           logger,
	})
	return a
}

func (a *Agent) Name() string        { return a.name }
func (a *Agent) Incarnation() string { return a.incarnation }

func (a *Agent) State() supervisor.State { return a.sup.State() }
func (a *Agent) Behavior() Behavior      { return a.ctrl.Behavior() }
func (a *Agent) Attempt() int            { return a.sup.Attempt() }

// Run blocks until ctx is cancelled (nil) or reconnects are exhausted.
func (a *Agent) Run(ctx context.Context) error {
	return a.sup.Run(ctx, a)
}

func (a *Agent) Attach(ctx context.Context, sess capability.Session) {
	spawned := make(chan struct{})
	done := make(chan struct{})
	a.mu.Lock()
	a.spawned = spawned
	a.spawnOne = new(sync.Once)
	a.loopDone = done
	a.mu.Unlock()

	a.ctrl.Bind(sess)
	go a.loop(ctx, spawned, done)
}

func (a *Agent) Spawned() {
	a.mu.Lock()
	ch, once := a.spawned, a.spawnOne
	a.mu.Unlock()
	if once != nil {
		once.Do(func() { close(ch) })
	}
}

// Detach runs after the connection context is cancelled. It waits for the
// tick loop and every in-flight action before the session is released.
func (a *Agent) Detach() {
	a.mu.Lock()
	done := a.loopDone
	a.mu.Unlock()
	if done != nil {
		<-done
	}
	a.ctrl.Release()
}

func (a *Agent) loop(ctx context.Context, spawned <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	select {
	case <-ctx.Done():
		return
	case <-spawned:
	}

	settle := time.NewTimer(a.settle)
	select {
	case <-ctx.Done():
		settle.Stop()
		return
	case <-settle.C:
	}
	a.ctrl.EquipGear(ctx)

	t := time.NewTicker(a.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			a.ctrl.Tick(ctx, now)
		}
	}
}
