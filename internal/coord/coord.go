// Package coord holds the state shared by every agent in a pool: the registry
// of agent names and the single combat target the pool is converging on.
//
// A claim for a different target replaces the current one only when it beats
// it on (distance, reporter), so steady reporters settle on the nearest
// hostile no matter in which order their reports arrive. A target nobody has
// confirmed for ConfirmWindow yields to any fresh claim. All target mutations
// go through a compare-and-swap loop on an immutable Target value.
package coord

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"voxelswarm.ai/internal/capability"
)

const (
	DefaultDetectionRadius = 25.0
	DefaultTimeout         = 15 * time.Second
	DefaultConfirmWindow   = 1600 * time.Millisecond
)

// Target is the pool's shared target. Values are never mutated after being
// published.
type Target struct {
	Identity string
	EntityID string
	// Position is where the target was last reported.
	Position capability.Vec3
	// Distance and Reporter rank the claim against rival claims. The reporter
	// keeps them current on every sighting.
	Distance float64
	Reporter string
	LastSeen time.Time
}

// Report is one agent's view of the world on one tick.
type Report struct {
	Reporter   string
	From       capability.Vec3
	Candidates []capability.Entity
	At         time.Time
}

// Change describes a transition of the shared target. Prev or Next is nil
// when there was or will be no target.
type Change struct {
	Prev *Target
	Next *Target
}

type Options struct {
	DetectionRadius float64
	Timeout         time.Duration
	// ConfirmWindow is how long the target may go without any sighting before
	// a farther claim may replace it. Set it a little above the reporters'
	// tick interval.
	ConfirmWindow time.Duration
	// TargetKind restricts which entity kinds may be targeted. Nil allows all.
	TargetKind func(kind string) bool
	// OnChange is called after the target identity changes or is cleared.
	OnChange func(Change)
	Logger   *slog.Logger
}

type Coordinator struct {
	radius   float64
	timeout  time.Duration
	window   time.Duration
	kindOK   func(string) bool
	onChange func(Change)
	logger   *slog.Logger

	mu     sync.RWMutex
	agents map[string]struct{}

	target atomic.Pointer[Target]
}

func New(opts Options) *Coordinator {
	if opts.DetectionRadius <= 0 {
		opts.DetectionRadius = DefaultDetectionRadius
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ConfirmWindow <= 0 {
		opts.ConfirmWindow = DefaultConfirmWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		radius:   opts.DetectionRadius,
		timeout:  opts.Timeout,
		window:   opts.ConfirmWindow,
		kindOK:   opts.TargetKind,
		onChange: opts.OnChange,
		logger:   opts.Logger.With("component", "coord"),
		agents:   make(map[string]struct{}),
	}
}

func (c *Coordinator) Register(name string) {
	c.mu.Lock()
	c.agents[name] = struct{}{}
	c.mu.Unlock()
}

func (c *Coordinator) Unregister(name string) {
	c.mu.Lock()
	delete(c.agents, name)
	c.mu.Unlock()
}

// IsAgent reports whether name belongs to an agent of this pool.
func (c *Coordinator) IsAgent(name string) bool {
	c.mu.RLock()
	_, ok := c.agents[name]
	c.mu.RUnlock()
	return ok
}

// Agents returns the registered names, sorted.
func (c *Coordinator) Agents() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.agents))
	for n := range c.agents {
		out = append(out, n)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Current returns the shared target, if any.
func (c *Coordinator) Current() (Target, bool) {
	t := c.target.Load()
	if t == nil {
		return Target{}, false
	}
	return *t, true
}

func (c *Coordinator) DetectionRadius() float64 { return c.radius }

type candidate struct {
	entity capability.Entity
	dist   float64
}

// eligible returns the hostile candidates within detection radius, ordered by
// (distance, identity).
func (c *Coordinator) eligible(r Report) []candidate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []candidate
	for _, e := range r.Candidates {
		id := e.Identity()
		if id == "" || id == r.Reporter {
			continue
		}
		if _, isAgent := c.agents[id]; isAgent {
			continue
		}
		if e.Name != "" {
			if _, isAgent := c.agents[e.Name]; isAgent {
				continue
			}
		}
		if c.kindOK != nil && !c.kindOK(e.Kind) {
			continue
		}
		d := r.From.DistanceTo(e.Position)
		if math.IsNaN(d) || d > c.radius {
			continue
		}
		out = append(out, candidate{entity: e, dist: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].dist != out[j].dist {
			return out[i].dist < out[j].dist
		}
		return out[i].entity.Identity() < out[j].entity.Identity()
	})
	return out
}

// ReportSighting offers r to the coordinator and returns the target after the
// report has been applied.
func (c *Coordinator) ReportSighting(r Report) (Target, bool) {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	cands := c.eligible(r)

	for {
		cur := c.target.Load()
		next := c.decide(cur, cands, r)
		if next == cur {
			if cur == nil {
				return Target{}, false
			}
			return *cur, true
		}
		if c.target.CompareAndSwap(cur, next) {
			c.notify(cur, next)
			if next == nil {
				return Target{}, false
			}
			return *next, true
		}
	}
}

// decide computes the successor of cur for one report. It returns cur itself
// when nothing changes.
func (c *Coordinator) decide(cur *Target, cands []candidate, r Report) *Target {
	if len(cands) == 0 {
		return cur
	}
	best := cands[0]
	claim := &Target{
		Identity: best.entity.Identity(),
		EntityID: best.entity.ID,
		Position: best.entity.Position,
		Distance: best.dist,
		Reporter: r.Reporter,
		LastSeen: r.At,
	}
	if cur == nil || r.At.Sub(cur.LastSeen) > c.timeout {
		return claim
	}
	if claim.Identity != cur.Identity {
		if beats(claim, cur) || r.At.Sub(cur.LastSeen) > c.window {
			return claim
		}
	}
	return c.refresh(cur, cands, r)
}

// refresh returns a copy of cur updated from a report that sees the current
// target; otherwise cur. Reports older than LastSeen may still improve the
// ranking but never move the target back.
func (c *Coordinator) refresh(cur *Target, cands []candidate, r Report) *Target {
	for _, cd := range cands {
		if cd.entity.Identity() != cur.Identity {
			continue
		}
		next := *cur
		changed := false
		if r.At.After(cur.LastSeen) {
			next.LastSeen = r.At
			next.Position = cd.entity.Position
			if cd.entity.ID != "" {
				next.EntityID = cd.entity.ID
			}
			changed = true
		}
		sighting := &Target{Distance: cd.dist, Reporter: r.Reporter}
		if (r.Reporter == cur.Reporter && changed) || beats(sighting, cur) {
			next.Distance = cd.dist
			next.Reporter = r.Reporter
			changed = true
		}
		if !changed {
			return cur
		}
		return &next
	}
	return cur
}

// beats orders claims by distance, then by reporter name.
func beats(a, b *Target) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Reporter < b.Reporter
}

// ExpireIfStale clears the target when it has not been seen for longer than
// the staleness window. It reports whether a target was cleared.
func (c *Coordinator) ExpireIfStale(now time.Time) bool {
	for {
		cur := c.target.Load()
		if cur == nil || now.Sub(cur.LastSeen) <= c.timeout {
			return false
		}
		if c.target.CompareAndSwap(cur, nil) {
			c.notify(cur, nil)
			return true
		}
	}
}

// Clear drops the target unconditionally.
func (c *Coordinator) Clear() {
	if cur := c.target.Swap(nil); cur != nil {
		c.notify(cur, nil)
	}
}

func (c *Coordinator) notify(prev, next *Target) {
	switch {
	case prev == nil && next == nil:
		return
	case prev != nil && next != nil && prev.Identity == next.Identity:
		return
	case next == nil:
		c.logger.Info("shared target cleared", "target", prev.Identity)
	case prev == nil:
		c.logger.Info("shared target acquired", "target", next.Identity, "reporter", next.Reporter, "distance", next.Distance)
	default:
		c.logger.Info("shared target changed", "from", prev.Identity, "to", next.Identity, "reporter", next.Reporter)
	}
	if c.onChange != nil {
		c.onChange(Change{Prev: prev, Next: next})
	}
}
