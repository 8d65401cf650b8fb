// Package pool keeps a population of agents connected to one server. Spawns
// are staggered on a self-rescheduling timer, capacity is never exceeded and
// an agent leaves the registry only when its supervisor gives up or the pool
// shuts down.
package pool

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"voxelswarm.ai/internal/bot"
	"voxelswarm.ai/internal/capability"
	"voxelswarm.ai/internal/catalog"
	"voxelswarm.ai/internal/config"
	"voxelswarm.ai/internal/coord"
	"voxelswarm.ai/internal/journal"
	"voxelswarm.ai/internal/supervisor"
)

// NameSource allocates agent names. names.Generator satisfies it.
type NameSource interface {
	Next(ctx context.Context, taken func(string) bool) string
}

type Options struct {
	Config  config.Config
	Dialer  capability.Dialer
	Names   NameSource
	Catalog *catalog.Catalog
	// Coord is built from Config when nil; target changes are then journaled.
	Coord   *coord.Coordinator
	Journal journal.Recorder
	Logger  *slog.Logger
	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

type AgentStatus struct {
	Name        string
	Incarnation string
	State       supervisor.State
	Behavior    bot.Behavior
	Attempt     int
}

type Snapshot struct {
	Capacity int
	Active   int
	Online   int
	Agents   []AgentStatus
	Target   string
}

type Manager struct {
	cfg     config.Config
	dialer  capability.Dialer
	names   NameSource
	cat     *catalog.Catalog
	coord   *coord.Coordinator
	journal journal.Recorder
	logger  *slog.Logger
	base    *slog.Logger
	rand    func() float64

	// spawnMu serializes spawns and lets shutdown wait for one in progress.
	spawnMu sync.Mutex

	mu     sync.Mutex
	ctx    context.Context
	closed bool
	timer  *time.Timer
	agents map[string]*bot.Agent
	active int
	peak   int
	wg     sync.WaitGroup
}

func New(opts Options) *Manager {
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Manager{
		cfg:     opts.Config,
		dialer:  opts.Dialer,
		names:   opts.Names,
		cat:     opts.Catalog,
		journal: journal.OrNop(opts.Journal),
		logger:  opts.Logger.With("component", "pool"),
		base:    opts.Logger,
		rand:    opts.Rand,
		agents:  make(map[string]*bot.Agent),
	}
	m.coord = opts.Coord
	if m.coord == nil {
		m.coord = coord.New(coord.Options{
			DetectionRadius: opts.Config.Agent.DetectionRadius,
			Timeout:         opts.Config.Agent.TargetTimeout(),
			ConfirmWindow:   2 * opts.Config.Agent.TickInterval(),
			TargetKind:      m.cat.IsTargetKind,
			OnChange:        m.recordTarget,
			Logger:          opts.Logger,
		})
	}
	return m
}

func (m *Manager) Coord() *coord.Coordinator { return m.coord }

// Run spawns the first agent right away and keeps the pool filled until ctx
// is cancelled. It returns after every agent has stopped.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	m.logger.Info("pool starting", "capacity", m.cfg.Capacity, "server", m.cfg.ServerURL())
	m.schedule(0)

	status := time.NewTicker(m.statusInterval())
	defer status.Stop()
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case <-status.C:
			m.logStatus()
		}
	}
}

func (m *Manager) statusInterval() time.Duration {
	if d := m.cfg.StatusInterval(); d > 0 {
		return d
	}
	return 15 * time.Second
}

func (m *Manager) shutdown() {
	m.mu.Lock()
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
	}
	n := len(m.agents)
	m.mu.Unlock()

	m.logger.Info("pool stopping", "agents", n)
	// Holding spawnMu waits out a spawn that already passed its closed check.
	m.spawnMu.Lock()
	defer m.spawnMu.Unlock()
	m.wg.Wait()
	m.logger.Info("pool stopped")
}

func (m *Manager) schedule(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.timer = time.AfterFunc(d, m.RequestSpawn)
}

// NextDelay is the wait before the next spawn attempt when size agents are
// registered.
func (m *Manager) NextDelay(size int) time.Duration {
	return m.cfg.SpawnMinDelay() +
		time.Duration(m.rand()*float64(m.cfg.SpawnRange())) +
		time.Duration(size)*m.cfg.SpawnPerAgentSpacing()
}

// RequestSpawn adds one agent if there is room and schedules the next attempt.
func (m *Manager) RequestSpawn() {
	m.spawnMu.Lock()
	defer m.spawnMu.Unlock()

	m.mu.Lock()
	ctx, closed := m.ctx, m.closed
	if closed || ctx == nil || ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	if m.active >= m.cfg.Capacity {
		m.mu.Unlock()
		m.schedule(m.cfg.SpawnMinDelay())
		return
	}
	m.active++
	if m.active > m.peak {
		m.peak = m.active
	}
	m.mu.Unlock()

	name := m.allocateName(ctx)
	inc := uuid.NewString()
	a := bot.NewAgent(bot.AgentOptions{
		Name:        name,
		Incarnation: inc,
		Dialer:      m.dialer,
		Coord:       m.coord,
		Catalog:     m.cat,
		Agent:       m.cfg.Agent,
		Supervisor:  m.cfg.Supervisor,
		Journal:     m.journal,
		Logger:      m.base,
	})

	m.mu.Lock()
	m.agents[name] = a
	size := len(m.agents)
	m.wg.Add(1)
	m.mu.Unlock()

	m.coord.Register(name)
	m.logger.Info("agent spawned", "agent", name, "incarnation", inc, "active", size, "capacity", m.cfg.Capacity)
	m.journal.Record(journal.Event{Kind: journal.KindSpawned, Agent: name, Incarnation: inc})
	go m.runAgent(ctx, a)

	m.schedule(m.NextDelay(size))
}

func (m *Manager) allocateName(ctx context.Context) string {
	taken := func(n string) bool {
		if m.coord.IsAgent(n) {
			return true
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		_, ok := m.agents[n]
		return ok
	}
	if m.names != nil {
		return m.names.Next(ctx, taken)
	}
	return uuid.NewString()[:8]
}

func (m *Manager) runAgent(ctx context.Context, a *bot.Agent) {
	defer m.wg.Done()
	err := a.Run(ctx)

	m.coord.Unregister(a.Name())
	m.mu.Lock()
	delete(m.agents, a.Name())
	m.active--
	left := m.active
	m.mu.Unlock()

	ev := journal.Event{Kind: journal.KindRemoved, Agent: a.Name(), Incarnation: a.Incarnation(), Cause: string(supervisor.CauseShutdown)}
	if err != nil {
		ev.Cause = "retries_exhausted"
		ev.Detail = err.Error()
		m.logger.Warn("agent removed", "agent", a.Name(), "err", err, "active", left)
	} else {
		m.logger.Debug("agent stopped", "agent", a.Name())
	}
	m.journal.Record(ev)
}

func (m *Manager) recordTarget(c coord.Change) {
	ev := journal.Event{}
	switch {
	case c.Next == nil:
		ev.Kind = journal.KindTargetCleared
		ev.Target = c.Prev.Identity
	case c.Prev == nil:
		ev.Kind = journal.KindTargetAcquired
		ev.Target = c.Next.Identity
		ev.Agent = c.Next.Reporter
	default:
		ev.Kind = journal.KindTargetChanged
		ev.Target = c.Next.Identity
		ev.Agent = c.Next.Reporter
		ev.Detail = "from " + c.Prev.Identity
	}
	m.journal.Record(ev)
}

// Active is the number of agents holding a capacity slot.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Agent returns the registered agent called name.
func (m *Manager) Agent(name string) (*bot.Agent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[name]
	return a, ok
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	s := Snapshot{Capacity: m.cfg.Capacity, Active: m.active}
	agents := make([]*bot.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	m.mu.Unlock()

	for _, a := range agents {
		st := AgentStatus{
			Name:        a.Name(),
			Incarnation: a.Incarnation(),
			State:       a.State(),
			Behavior:    a.Behavior(),
			Attempt:     a.Attempt(),
		}
		if st.State == supervisor.StateActive {
			s.Online++
		}
		s.Agents = append(s.Agents, st)
	}
	sort.Slice(s.Agents, func(i, j int) bool { return s.Agents[i].Name < s.Agents[j].Name })
	if t, ok := m.coord.Current(); ok {
		s.Target = t.Identity
	}
	return s
}

func (m *Manager) logStatus() {
	s := m.Snapshot()
	online := make([]string, 0, s.Online)
	for _, a := range s.Agents {
		if a.State == supervisor.StateActive {
			online = append(online, a.Name)
		}
	}
	target := s.Target
	if target == "" {
		target = "none"
	}
	m.logger.Info("pool status", "online", len(online), "active", s.Active, "capacity", s.Capacity, "agents", online, "target", target)
}
