package captest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"voxelswarm.ai/internal/capability"
)

// Call is one recorded capability call.
type Call struct {
	Op   string
	Item string
	Slot string
	Pos  capability.Vec3
	N    int
	On   bool
}

// Hook runs at the start of every blocking call. A non-nil error fails the call.
type Hook func(ctx context.Context, c Call) error

// Session never closes its event channel; Disconnect only stops delivery.
// Session methods never hold s.mu while calling into the World.
type Session struct {
	name   string
	world  *World
	events chan capability.Event
	done   chan struct{}
	once   sync.Once
	closed atomic.Bool

	mu         sync.Mutex
	pos        capability.Vec3
	vitals     capability.Vitals
	inv        []capability.ItemStack
	held       string
	sprint     bool
	goal       *capability.Goal
	calls      []Call
	fail       map[string]error
	hook       Hook
	discReason string
}

func newSession(w *World, name string) *Session {
	inv := make([]capability.ItemStack, len(w.Inventory))
	copy(inv, w.Inventory)
	return &Session{
		name:   name,
		world:  w,
		events: make(chan capability.Event, 1024),
		done:   make(chan struct{}),
		pos:    w.Spawn,
		vitals: w.Vitals,
		inv:    inv,
		fail:   make(map[string]error),
	}
}

func (s *Session) Name() string { return s.name }

// Emit delivers ev unless the session is closed.
func (s *Session) Emit(ev capability.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case <-s.done:
	case s.events <- ev:
	}
}

func (s *Session) Spawn()     { s.Emit(capability.Event{Kind: capability.EventSpawned}) }
func (s *Session) Heartbeat() { s.Emit(capability.Event{Kind: capability.EventHeartbeat}) }

func (s *Session) ProtocolError(err error) {
	s.Emit(capability.Event{Kind: capability.EventProtocolError, Err: err})
}

func (s *Session) Kick(reason string) {
	s.Emit(capability.Event{Kind: capability.EventKicked, Reason: reason})
}

// Drop simulates the connection going away underneath the agent.
func (s *Session) Drop(err error) {
	s.Emit(capability.Event{Kind: capability.EventDisconnected, Err: err})
}

func (s *Session) heartbeatLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.Heartbeat()
		}
	}
}

// SetHook installs h for blocking calls.
func (s *Session) SetHook(h Hook) {
	s.mu.Lock()
	s.hook = h
	s.mu.Unlock()
}

// FailOp makes every later call of op return err. A nil err clears it.
func (s *Session) FailOp(op string, err error) {
	s.mu.Lock()
	if err == nil {
		delete(s.fail, op)
	} else {
		s.fail[op] = err
	}
	s.mu.Unlock()
}

func (s *Session) SetPosition(p capability.Vec3) {
	s.mu.Lock()
	s.pos = p
	s.mu.Unlock()
}

func (s *Session) SetVitals(v capability.Vitals) {
	s.mu.Lock()
	s.vitals = v
	s.mu.Unlock()
}

func (s *Session) Give(item string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(item, n)
}

func (s *Session) addLocked(item string, n int) {
	for i := range s.inv {
		if s.inv[i].Item == item {
			s.inv[i].Count += n
			return
		}
	}
	s.inv = append(s.inv, capability.ItemStack{Item: item, Count: n})
}

func (s *Session) takeLocked(item string, n int) bool {
	for i := range s.inv {
		if s.inv[i].Item == item && s.inv[i].Count >= n {
			s.inv[i].Count -= n
			if s.inv[i].Count == 0 {
				s.inv = append(s.inv[:i], s.inv[i+1:]...)
			}
			return true
		}
	}
	return false
}

// Calls returns every recorded call in order.
func (s *Session) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsOf returns the recorded calls of op.
func (s *Session) CallsOf(op string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (s *Session) Held() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

func (s *Session) Sprinting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sprint
}

// Goal returns the last goal set with SetGoal.
func (s *Session) Goal() (capability.Goal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.goal == nil {
		return capability.Goal{}, false
	}
	return *s.goal, true
}

func (s *Session) Closed() bool { return s.closed.Load() }

// DisconnectReason is the reason passed to Disconnect.
func (s *Session) DisconnectReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discReason
}

// begin records c and runs the failure table and hook.
func (s *Session) begin(ctx context.Context, c Call) error {
	if s.closed.Load() {
		return capability.ErrNotConnected
	}
	s.mu.Lock()
	s.calls = append(s.calls, c)
	err := s.fail[c.Op]
	hook := s.hook
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		if err := hook(ctx, c); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *Session) Events() <-chan capability.Event { return s.events }

func (s *Session) Disconnect(reason string) error {
	s.once.Do(func() {
		s.mu.Lock()
		s.discReason = reason
		s.mu.Unlock()
		s.closed.Store(true)
		close(s.done)
	})
	return nil
}

func (s *Session) Position() capability.Vec3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *Session) Vitals() capability.Vitals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vitals
}

func (s *Session) Inventory() []capability.ItemStack {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]capability.ItemStack, len(s.inv))
	copy(out, s.inv)
	return out
}

func (s *Session) Entities() []capability.Entity { return s.world.visibleTo(s.name) }

func (s *Session) BlockAt(pos capability.Vec3) (string, bool) { return s.world.Block(pos) }

func (s *Session) FindBlocks(kinds []string, radius float64) []capability.Vec3 {
	want := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		want[k] = struct{}{}
	}
	from := s.Position()
	s.world.mu.Lock()
	var out []capability.Vec3
	for p, id := range s.world.blocks {
		if _, ok := want[id]; ok && from.DistanceTo(p) <= radius {
			out = append(out, p)
		}
	}
	s.world.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		di, dj := from.DistanceTo(out[i]), from.DistanceTo(out[j])
		if di != dj {
			return di < dj
		}
		return out[i].String() < out[j].String()
	})
	return out
}

func (s *Session) Equip(ctx context.Context, item, slot string) error {
	if err := s.begin(ctx, Call{Op: "equip", Item: item, Slot: slot}); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if capability.Count(s.inv, item) == 0 {
		return errors.New("equip: item not in inventory")
	}
	if slot == capability.SlotHand {
		s.held = item
	}
	return nil
}

func (s *Session) PathfindTo(ctx context.Context, goal capability.Goal) error {
	if err := s.begin(ctx, Call{Op: "pathfind", Pos: goal.Position}); err != nil {
		return err
	}
	s.SetPosition(goal.Position)
	return nil
}

func (s *Session) SetGoal(goal capability.Goal) error {
	if s.closed.Load() {
		return capability.ErrNotConnected
	}
	s.mu.Lock()
	s.calls = append(s.calls, Call{Op: "goal", Pos: goal.Position})
	s.goal = &goal
	s.mu.Unlock()
	return nil
}

func (s *Session) Attack(ctx context.Context, entityID string) error {
	return s.begin(ctx, Call{Op: "attack", Item: entityID})
}

func (s *Session) SetSprint(on bool) error {
	if s.closed.Load() {
		return capability.ErrNotConnected
	}
	s.mu.Lock()
	s.calls = append(s.calls, Call{Op: "sprint", On: on})
	s.sprint = on
	s.mu.Unlock()
	return nil
}

func (s *Session) Harvest(ctx context.Context, pos capability.Vec3) error {
	if err := s.begin(ctx, Call{Op: "harvest", Pos: pos}); err != nil {
		return err
	}
	id, ok := s.world.Block(pos)
	if !ok || id == "AIR" {
		return errors.New("harvest: nothing there")
	}
	s.world.SetBlock(pos, "AIR")
	s.Give(id, 1)
	return nil
}

func (s *Session) PlaceBlock(ctx context.Context, ref, offset capability.Vec3) error {
	at := ref.Add(offset)
	if err := s.begin(ctx, Call{Op: "place", Pos: at}); err != nil {
		return err
	}
	s.mu.Lock()
	held := s.held
	ok := held != "" && s.takeLocked(held, 1)
	if ok && capability.Count(s.inv, held) == 0 {
		s.held = ""
	}
	s.mu.Unlock()
	if !ok {
		return errors.New("place: nothing held")
	}
	s.world.SetBlock(at, held)
	return nil
}

func (s *Session) Craft(ctx context.Context, recipe string, count int) error {
	if err := s.begin(ctx, Call{Op: "craft", Item: recipe, N: count}); err != nil {
		return err
	}
	s.Give(recipe, count)
	return nil
}

func (s *Session) Consume(ctx context.Context) error {
	if err := s.begin(ctx, Call{Op: "consume"}); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held == "" || !s.takeLocked(s.held, 1) {
		return errors.New("consume: nothing held")
	}
	s.vitals.Food += 6
	if s.vitals.Food > 20 {
		s.vitals.Food = 20
	}
	return nil
}

func (s *Session) ReleaseUse() error {
	if s.closed.Load() {
		return capability.ErrNotConnected
	}
	s.mu.Lock()
	s.calls = append(s.calls, Call{Op: "release"})
	s.mu.Unlock()
	return nil
}

func (s *Session) WaitTicks(ctx context.Context, n int) error {
	if err := s.begin(ctx, Call{Op: "wait", N: n}); err != nil {
		return err
	}
	t := time.NewTimer(time.Duration(n) * s.world.TickDuration)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
