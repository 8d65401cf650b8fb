package wscap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voxelswarm.ai/internal/capability"
	"voxelswarm.ai/internal/protocol"
)

var errRequestTimeout = errors.New("request timed out")

type catalogWire struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Name            string          `json:"name"`
	Digest          string          `json:"digest"`
	Data            json.RawMessage `json:"data"`
}

type Session struct {
	name       string
	conn       *websocket.Conn
	validator  *protocol.Validator
	logger     *slog.Logger
	reqTimeout time.Duration
	readTO     time.Duration

	events    chan capability.Event
	done      chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex

	mu       sync.RWMutex
	agentID  string
	palette  []string
	tick     uint64
	spawned  bool
	self     protocol.SelfObs
	inv      []capability.ItemStack
	entities []capability.Entity
	grid     protocol.VoxelGrid
	held     string
	goalTask string
	pending  map[string]chan error
	// obsCh is closed and replaced on every observation.
	obsCh chan struct{}
}

func newSession(name string, conn *websocket.Conn, d *Dialer) *Session {
	return &Session{
		name:       name,
		conn:       conn,
		validator:  d.validator,
		logger:     d.logger.With("agent", name),
		reqTimeout: d.opts.RequestTimeout,
		readTO:     d.opts.ReadTimeout,
		events:     make(chan capability.Event, 256),
		done:       make(chan struct{}),
		pending:    make(map[string]chan error),
		obsCh:      make(chan struct{}),
	}
}

func (s *Session) Events() <-chan capability.Event { return s.events }

// emit delivers ev unless the session has been closed locally.
func (s *Session) emit(ev capability.Event) {
	ev.At = time.Now()
	select {
	case <-s.done:
	case s.events <- ev:
	}
}

func (s *Session) protoErr(err error) {
	s.emit(capability.Event{Kind: capability.EventProtocolError, Err: err})
}

func (s *Session) Disconnect(reason string) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(time.Second))
		err = s.conn.Close()
		s.failPending(capability.ErrClosed)
	})
	return err
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) readLoop() {
	defer s.failPending(capability.ErrClosed)
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.readTO))
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.lost(err)
			return
		}
		s.handleFrame(msg)
	}
}

func (s *Session) lost(err error) {
	if s.closed() {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code == websocket.ClosePolicyViolation {
		s.emit(capability.Event{Kind: capability.EventKicked, Reason: ce.Text, Err: err})
		return
	}
	s.emit(capability.Event{Kind: capability.EventDisconnected, Err: err})
}

func (s *Session) handleFrame(msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.protoErr(fmt.Errorf("decode frame: %w", err))
		return
	}
	if base.ProtocolVersion != "" && !protocol.IsSupportedVersion(base.ProtocolVersion) {
		s.protoErr(fmt.Errorf("%s: unsupported protocol_version %q", base.Type, base.ProtocolVersion))
		return
	}
	if err := s.validator.Validate(base.Type, msg); err != nil {
		s.protoErr(err)
		return
	}

	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			s.protoErr(fmt.Errorf("WELCOME: %w", err))
			return
		}
		s.mu.Lock()
		s.agentID = w.AgentID
		s.mu.Unlock()

	case protocol.TypeCatalog:
		var c catalogWire
		if err := json.Unmarshal(msg, &c); err != nil {
			s.protoErr(fmt.Errorf("CATALOG: %w", err))
			return
		}
		if c.Name != protocol.CatalogBlockPalette {
			return
		}
		var palette []string
		if err := json.Unmarshal(c.Data, &palette); err != nil {
			s.protoErr(fmt.Errorf("CATALOG %s: %w", c.Name, err))
			return
		}
		s.mu.Lock()
		s.palette = palette
		s.mu.Unlock()

	case protocol.TypeObs:
		var o protocol.ObsMsg
		if err := json.Unmarshal(msg, &o); err != nil {
			s.protoErr(fmt.Errorf("OBS: %w", err))
			return
		}
		s.applyObs(o)

	case protocol.TypeAck:
		var a protocol.AckMsg
		if err := json.Unmarshal(msg, &a); err != nil {
			s.protoErr(fmt.Errorf("ACK: %w", err))
			return
		}
		if !a.Accepted {
			s.resolve(a.AckFor, &protocol.ActionError{Ref: a.AckFor, Code: a.Code, Message: a.Message})
		}
	}
}

func (s *Session) applyObs(o protocol.ObsMsg) {
	var grid protocol.VoxelGrid
	haveGrid := false
	if o.Voxels.Data != "" {
		g, err := protocol.DecodeVoxels(o.Voxels)
		if err != nil {
			s.protoErr(fmt.Errorf("OBS %d: %w", o.Tick, err))
		} else {
			grid, haveGrid = g, true
		}
	}

	inv := make([]capability.ItemStack, 0, len(o.Inventory))
	for _, it := range o.Inventory {
		inv = append(inv, capability.ItemStack{Item: it.Item, Count: it.Count})
	}
	ents := make([]capability.Entity, 0, len(o.Entities))
	for _, e := range o.Entities {
		ents = append(ents, capability.Entity{ID: e.ID, Name: e.Name, Kind: e.Type, Position: vec(e.Pos)})
	}

	s.mu.Lock()
	s.tick = o.Tick
	if o.AgentID != "" {
		s.agentID = o.AgentID
	}
	s.self = o.Self
	s.inv = inv
	s.entities = ents
	if haveGrid {
		s.grid = grid
	}
	if o.Equipment.MainHand != "" {
		s.held = o.Equipment.MainHand
	}
	first := !s.spawned
	s.spawned = true
	close(s.obsCh)
	s.obsCh = make(chan struct{})
	s.mu.Unlock()

	for _, ev := range o.Events {
		s.routeEvent(ev)
	}

	if first {
		s.emit(capability.Event{Kind: capability.EventSpawned})
		return
	}
	// Heartbeats are only a liveness signal; drop them rather than stall reads.
	select {
	case s.events <- capability.Event{Kind: capability.EventHeartbeat, At: time.Now()}:
	default:
	}
}

func (s *Session) routeEvent(ev protocol.Event) {
	typ, _ := ev["type"].(string)
	str := func(k string) string {
		v, _ := ev[k].(string)
		return v
	}
	switch typ {
	case protocol.EventTaskDone:
		s.resolve(str("task_id"), nil)
	case protocol.EventTaskFail:
		id := str("task_id")
		s.resolve(id, &protocol.ActionError{Ref: id, Code: str("code"), Message: str("message")})
	case protocol.EventActionResult:
		ref := str("ref")
		if ok, _ := ev["ok"].(bool); ok {
			s.resolve(ref, nil)
			return
		}
		s.resolve(ref, &protocol.ActionError{Ref: ref, Code: str("code"), Message: str("message")})
	}
}

func (s *Session) resolve(id string, err error) {
	if id == "" {
		return
	}
	s.mu.Lock()
	ch, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if ok {
		ch <- err
	}
}

func (s *Session) failPending(err error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]chan error)
	s.mu.Unlock()
	for _, ch := range pending {
		ch <- err
	}
}

func vec(p [3]int) capability.Vec3 {
	return capability.Vec3{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])}
}

func cell(v capability.Vec3) [3]int {
	f := v.Floor()
	return [3]int{int(f.X), int(f.Y), int(f.Z)}
}

func (s *Session) Position() capability.Vec3 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return vec(s.self.Pos)
}

func (s *Session) Vitals() capability.Vitals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return capability.Vitals{Health: s.self.HP, Food: s.self.Hunger, Stamina: s.self.Stamina}
}

func (s *Session) Inventory() []capability.ItemStack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]capability.ItemStack(nil), s.inv...)
}

func (s *Session) Entities() []capability.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]capability.Entity(nil), s.entities...)
}

func (s *Session) BlockAt(pos capability.Vec3) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.grid.At(cell(pos))
	if !ok || int(id) >= len(s.palette) {
		return "", false
	}
	return s.palette[id], true
}

func (s *Session) FindBlocks(kinds []string, radius float64) []capability.Vec3 {
	s.mu.RLock()
	want := make(map[uint16]struct{}, len(kinds))
	for _, k := range kinds {
		for i, b := range s.palette {
			if b == k {
				want[uint16(i)] = struct{}{}
			}
		}
	}
	from := vec(s.self.Pos)
	var out []capability.Vec3
	s.grid.Each(func(p [3]int, id uint16) {
		if _, ok := want[id]; !ok {
			return
		}
		v := vec(p)
		if from.DistanceTo(v) <= radius {
			out = append(out, v)
		}
	})
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return from.DistanceTo(out[i]) < from.DistanceTo(out[j]) })
	return out
}

// act sends one ACT frame.
func (s *Session) act(instants []protocol.InstantReq, tasks []protocol.TaskReq, cancel []string) error {
	if s.closed() {
		return capability.ErrNotConnected
	}
	s.mu.RLock()
	msg := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            s.tick,
		AgentID:         s.agentID,
		Instants:        instants,
		Tasks:           tasks,
		Cancel:          cancel,
	}
	s.mu.RUnlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send ACT: %w", err)
	}
	return nil
}

func newID(prefix string) string { return prefix + "_" + uuid.NewString()[:8] }

// await registers id, runs send and blocks until the result for id arrives.
func (s *Session) await(ctx context.Context, id string, send func() error, onCancel func()) error {
	ch := make(chan error, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	forget := func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}

	if err := send(); err != nil {
		forget()
		return err
	}

	t := time.NewTimer(s.reqTimeout)
	defer t.Stop()
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		forget()
		if onCancel != nil {
			onCancel()
		}
		return ctx.Err()
	case <-s.done:
		return capability.ErrClosed
	case <-t.C:
		forget()
		if onCancel != nil {
			onCancel()
		}
		return fmt.Errorf("%s: %w", id, errRequestTimeout)
	}
}

func (s *Session) instant(ctx context.Context, req protocol.InstantReq) error {
	req.ID = newID("I")
	return s.await(ctx, req.ID, func() error {
		return s.act([]protocol.InstantReq{req}, nil, nil)
	}, nil)
}

func (s *Session) task(ctx context.Context, req protocol.TaskReq) error {
	req.ID = newID("K")
	return s.await(ctx, req.ID, func() error {
		return s.act(nil, []protocol.TaskReq{req}, nil)
	}, func() {
		_ = s.act(nil, nil, []string{req.ID})
	})
}

func (s *Session) Equip(ctx context.Context, item, slot string) error {
	if err := s.instant(ctx, protocol.InstantReq{Type: protocol.InstantEquip, ItemID: item, Slot: slot}); err != nil {
		return err
	}
	if slot == capability.SlotHand {
		s.mu.Lock()
		s.held = item
		s.mu.Unlock()
	}
	return nil
}

func (s *Session) PathfindTo(ctx context.Context, goal capability.Goal) error {
	return s.task(ctx, protocol.TaskReq{Type: protocol.TaskMoveTo, Target: cell(goal.Position), Tolerance: goal.Range})
}

// SetGoal replaces the current free-running movement goal without waiting.
func (s *Session) SetGoal(goal capability.Goal) error {
	id := newID("K")
	s.mu.Lock()
	prev := s.goalTask
	s.goalTask = id
	s.mu.Unlock()
	var cancel []string
	if prev != "" {
		cancel = []string{prev}
	}
	return s.act(nil, []protocol.TaskReq{{
		ID:        id,
		Type:      protocol.TaskMoveTo,
		Target:    cell(goal.Position),
		Tolerance: goal.Range,
	}}, cancel)
}

func (s *Session) Attack(ctx context.Context, entityID string) error {
	return s.instant(ctx, protocol.InstantReq{Type: protocol.InstantAttack, TargetID: entityID})
}

func (s *Session) SetSprint(on bool) error {
	typ := protocol.InstantSprintStop
	if on {
		typ = protocol.InstantSprintStart
	}
	return s.act([]protocol.InstantReq{{ID: newID("I"), Type: typ}}, nil, nil)
}

func (s *Session) Harvest(ctx context.Context, pos capability.Vec3) error {
	return s.task(ctx, protocol.TaskReq{Type: protocol.TaskMine, BlockPos: cell(pos)})
}

func (s *Session) PlaceBlock(ctx context.Context, ref, offset capability.Vec3) error {
	s.mu.RLock()
	item := s.held
	s.mu.RUnlock()
	if item == "" {
		return errors.New("place: nothing held")
	}
	return s.task(ctx, protocol.TaskReq{Type: protocol.TaskPlace, BlockPos: cell(ref.Add(offset)), ItemID: item})
}

func (s *Session) Craft(ctx context.Context, recipe string, count int) error {
	return s.task(ctx, protocol.TaskReq{Type: protocol.TaskCraft, RecipeID: recipe, Count: count})
}

func (s *Session) Consume(ctx context.Context) error {
	s.mu.RLock()
	item := s.held
	s.mu.RUnlock()
	if item == "" {
		return errors.New("consume: nothing held")
	}
	return s.instant(ctx, protocol.InstantReq{Type: protocol.InstantEat, ItemID: item, Count: 1})
}

func (s *Session) ReleaseUse() error {
	return s.act([]protocol.InstantReq{{ID: newID("I"), Type: protocol.InstantRelease}}, nil, nil)
}

// WaitTicks blocks until n more observations have been received.
func (s *Session) WaitTicks(ctx context.Context, n int) error {
	s.mu.RLock()
	target := s.tick + uint64(n)
	s.mu.RUnlock()
	for {
		s.mu.RLock()
		cur, ch := s.tick, s.obsCh
		s.mu.RUnlock()
		if cur >= target {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return capability.ErrClosed
		case <-ch:
		}
	}
}

var _ capability.Session = (*Session)(nil)
