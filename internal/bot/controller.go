// Package bot drives one agent: a decision tick that reads the pool's shared
// target and either fights or runs survival behaviors, and the Agent type that
// ties a Controller to its connection supervisor.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"voxelswarm.ai/internal/capability"
	"voxelswarm.ai/internal/catalog"
	"voxelswarm.ai/internal/config"
	"voxelswarm.ai/internal/coord"
)

type Behavior string

const (
	BehaviorIdle      Behavior = "idle"
	BehaviorPursuing  Behavior = "pursuing"
	BehaviorEngaging  Behavior = "engaging"
	BehaviorEating    Behavior = "eating"
	BehaviorCrafting  Behavior = "crafting"
	BehaviorGathering Behavior = "gathering"
	BehaviorBuilding  Behavior = "building"
	BehaviorWandering Behavior = "wandering"
	BehaviorEquipping Behavior = "equipping"
)

const (
	eatWaitTicks  = 20
	wanderSpan    = 20.0
	flankMin      = 3.0
	flankSpread   = 4.0
	sprintMin     = 800 * time.Millisecond
	sprintSpread  = 400 * time.Millisecond
	gatherReach   = 2.0
	buildReach    = 3.0
	buildDistance = 2.0
)

var (
	errNoResource = errors.New("no harvestable block in range")
	errNoBlocks   = errors.New("no building blocks in inventory")
)

type Options struct {
	Name    string
	Config  config.AgentConfig
	Catalog *catalog.Catalog
	Coord   *coord.Coordinator
	Logger  *slog.Logger
	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

// Controller is the per-agent decision loop. Tick must be called from a
// single goroutine; long actions run on their own goroutines under the
// actionInProgress guard.
type Controller struct {
	name   string
	cfg    config.AgentConfig
	cat    *catalog.Catalog
	coord  *coord.Coordinator
	logger *slog.Logger
	rand   func() float64

	sess capability.Session

	actionInProgress atomic.Bool
	sprinting        atomic.Bool
	behavior         atomic.Value // Behavior
	wg               sync.WaitGroup

	// Cooldown stamps are only touched by the tick goroutine.
	lastToolCheck time.Time
	lastGather    time.Time
	lastBuild     time.Time
}

func NewController(opts Options) *Controller {
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	if opts.Coord == nil {
		opts.Coord = coord.New(coord.Options{Logger: opts.Logger})
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Controller{
		name:   opts.Name,
		cfg:    opts.Config,
		cat:    opts.Catalog,
		coord:  opts.Coord,
		logger: opts.Logger.With("component", "controller"),
		rand:   opts.Rand,
	}
	c.behavior.Store(BehaviorIdle)
	return c
}

func (c *Controller) Behavior() Behavior { return c.behavior.Load().(Behavior) }

// Busy reports whether a long action is running.
func (c *Controller) Busy() bool { return c.actionInProgress.Load() }

func (c *Controller) setBehavior(b Behavior) {
	if prev := c.behavior.Swap(b); prev != b {
		c.logger.Debug("behavior", "from", prev, "to", b)
	}
}

// Bind hands the controller a live session. It must not be called while
// goroutines started for a previous session are still running.
func (c *Controller) Bind(sess capability.Session) {
	c.sess = sess
	c.setBehavior(BehaviorIdle)
}

// Release waits for every long action and sprint timer to finish and drops
// the session.
func (c *Controller) Release() {
	c.wg.Wait()
	c.sess = nil
}

// Tick runs one decision step.
func (c *Controller) Tick(ctx context.Context, now time.Time) {
	sess := c.sess
	if sess == nil || ctx.Err() != nil {
		return
	}
	if c.actionInProgress.Load() {
		return
	}

	pos := sess.Position()
	visible := sess.Entities()
	c.coord.ReportSighting(coord.Report{Reporter: c.name, From: pos, Candidates: visible, At: now})
	c.coord.ExpireIfStale(now)

	if target, ok := c.coord.Current(); ok {
		c.fight(ctx, sess, pos, visible, target)
		return
	}
	if c.sprinting.Load() {
		_ = sess.SetSprint(false)
	}

	if sess.Vitals().Food < c.cfg.HungerThreshold {
		if food, ok := c.cat.Food(sess.Inventory()); ok {
			if c.startLong(ctx, BehaviorEating, func(ctx context.Context) error { return c.eat(ctx, sess, food) }) {
				return
			}
		}
	}

	if c.survive(ctx, sess, now) {
		return
	}

	if c.rand() < c.cfg.WanderChance {
		c.wander(sess, pos)
		return
	}
	c.setBehavior(BehaviorIdle)
}

// survive starts at most one cooldown-gated long action.
func (c *Controller) survive(ctx context.Context, sess capability.Session, now time.Time) bool {
	if now.Sub(c.lastToolCheck) >= c.cfg.ToolCheckCooldown() {
		c.lastToolCheck = now
		if missing := c.cat.MissingTools(sess.Inventory()); len(missing) > 0 {
			return c.startLong(ctx, BehaviorCrafting, func(ctx context.Context) error {
				return c.craftTools(ctx, sess, missing)
			})
		}
	}
	if now.Sub(c.lastGather) >= c.cfg.GatherCooldown() {
		c.lastGather = now
		return c.startLong(ctx, BehaviorGathering, func(ctx context.Context) error { return c.gather(ctx, sess) })
	}
	if now.Sub(c.lastBuild) >= c.cfg.BuildCooldown() {
		c.lastBuild = now
		return c.startLong(ctx, BehaviorBuilding, func(ctx context.Context) error { return c.build(ctx, sess) })
	}
	return false
}

// startLong runs fn on its own goroutine if no other long action is running.
// Failures and panics stay inside the action.
func (c *Controller) startLong(ctx context.Context, b Behavior, fn func(context.Context) error) bool {
	if !c.actionInProgress.CompareAndSwap(false, true) {
		return false
	}
	c.setBehavior(b)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.actionInProgress.Store(false)
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("action panicked", "action", b, "panic", r)
			}
		}()
		start := time.Now()
		err := fn(ctx)
		switch {
		case err == nil:
			c.logger.Debug("action done", "action", b, "took", time.Since(start).Round(time.Millisecond))
		case ctx.Err() != nil:
			c.logger.Debug("action cancelled", "action", b)
		default:
			c.logger.Warn("action failed", "action", b, "err", err)
		}
	}()
	return true
}

func (c *Controller) fight(ctx context.Context, sess capability.Session, pos capability.Vec3, visible []capability.Entity, t coord.Target) {
	for _, e := range visible {
		if e.Identity() != t.Identity {
			continue
		}
		if pos.DistanceTo(e.Position) <= c.cfg.MeleeRange {
			c.engage(ctx, sess, e)
		} else {
			c.flank(sess, e.Position)
		}
		return
	}
	// Not visible to this agent: close in on where the pool last saw it.
	c.flank(sess, t.Position)
}

func (c *Controller) engage(ctx context.Context, sess capability.Session, e capability.Entity) {
	c.setBehavior(BehaviorEngaging)
	if weapon, ok := c.cat.BestWeapon(sess.Inventory()); ok {
		if err := sess.Equip(ctx, weapon, capability.SlotHand); err != nil {
			c.logger.Debug("equip weapon failed", "item", weapon, "err", err)
		}
	}
	if err := sess.Attack(ctx, e.ID); err != nil {
		c.logger.Debug("attack failed", "target", e.Identity(), "err", err)
	}
	if !c.sprinting.CompareAndSwap(false, true) {
		return
	}
	if err := sess.SetSprint(true); err != nil {
		c.sprinting.Store(false)
		return
	}
	burst := sprintMin + time.Duration(c.rand()*float64(sprintSpread))
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.sprinting.Store(false)
		t := time.NewTimer(burst)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		_ = sess.SetSprint(false)
	}()
}

// flank re-aims the pursuit waypoint at a random angle and standoff around
// the target.
func (c *Controller) flank(sess capability.Session, at capability.Vec3) {
	c.setBehavior(BehaviorPursuing)
	angle := c.rand() * 2 * math.Pi
	r := flankMin + c.rand()*flankSpread
	wp := at.Add(capability.Vec3{X: math.Cos(angle) * r, Z: math.Sin(angle) * r})
	if err := sess.SetGoal(capability.Goal{Position: wp, Range: 1}); err != nil {
		c.logger.Debug("pursuit goal failed", "err", err)
	}
}

func (c *Controller) wander(sess capability.Session, pos capability.Vec3) {
	c.setBehavior(BehaviorWandering)
	wp := pos.Add(capability.Vec3{
		X: (c.rand()*2 - 1) * wanderSpan,
		Z: (c.rand()*2 - 1) * wanderSpan,
	})
	if err := sess.SetGoal(capability.Goal{Position: wp, Range: 1}); err != nil {
		c.logger.Debug("wander goal failed", "err", err)
	}
}
