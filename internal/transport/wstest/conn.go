package wstest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voxelswarm.ai/internal/protocol"
)

// Conn is one connected agent as the server sees it.
type Conn struct {
	srv     *Server
	Name    string
	AgentID string

	ws        *websocket.Conn
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	tick     uint64
	pos      [3]int
	hp       int
	hunger   int
	inv      map[string]int
	held     string
	sprint   bool
	pending  []protocol.Event
	acts     []protocol.ActMsg
	paused   bool
	attacked []string
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) send(b []byte) {
	select {
	case <-c.done:
	case c.out <- b:
	}
}

func (c *Conn) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case b := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				cancel()
				return
			}
		}
	}
}

func (c *Conn) obsLoop(ctx context.Context) {
	t := time.NewTicker(c.srv.opts.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-t.C:
			if b := c.nextObs(); b != nil {
				c.send(b)
			}
		}
	}
}

func (c *Conn) nextObs() []byte {
	c.mu.Lock()
	c.tick++
	if c.paused {
		c.mu.Unlock()
		return nil
	}
	obs := protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		Tick:            c.tick,
		AgentID:         c.AgentID,
		Self:            protocol.SelfObs{Pos: c.pos, HP: c.hp, Hunger: c.hunger, Stamina: 1},
		Events:          c.pending,
	}
	c.pending = nil
	for item, n := range c.inv {
		if n > 0 {
			obs.Inventory = append(obs.Inventory, protocol.ItemStack{Item: item, Count: n})
		}
	}
	if c.held != "" {
		obs.Equipment.MainHand = c.held
	}
	c.mu.Unlock()
	sort.Slice(obs.Inventory, func(i, j int) bool { return obs.Inventory[i].Item < obs.Inventory[j].Item })

	// s.mu is never held while taking another Conn's lock.
	s := c.srv
	s.mu.Lock()
	obs.Voxels = protocol.EncodeVoxels(s.grid)
	for _, e := range s.entities {
		obs.Entities = append(obs.Entities, e)
	}
	others := make([]*Conn, 0, len(s.conns))
	for _, other := range s.conns {
		if other != c {
			others = append(others, other)
		}
	}
	s.mu.Unlock()
	for _, other := range others {
		obs.Entities = append(obs.Entities, protocol.EntityObs{ID: other.AgentID, Type: "AGENT", Name: other.Name, Pos: other.Pos()})
	}
	sort.Slice(obs.Entities, func(i, j int) bool { return obs.Entities[i].ID < obs.Entities[j].ID })

	b, _ := json.Marshal(obs)
	return b
}

func (c *Conn) Pos() [3]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// Give adds n of item to the agent's inventory.
func (c *Conn) Give(item string, n int) {
	c.mu.Lock()
	c.inv[item] += n
	c.mu.Unlock()
}

func (c *Conn) SetVitals(hp, hunger int) {
	c.mu.Lock()
	c.hp, c.hunger = hp, hunger
	c.mu.Unlock()
}

func (c *Conn) Held() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held
}

func (c *Conn) Sprinting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sprint
}

// Attacked returns the entity ids the agent attacked.
func (c *Conn) Attacked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.attacked...)
}

// Acts returns every ACT frame received from the agent.
func (c *Conn) Acts() []protocol.ActMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.ActMsg(nil), c.acts...)
}

// PauseObs stops or resumes OBS frames. Ticks keep advancing while paused.
func (c *Conn) PauseObs(paused bool) {
	c.mu.Lock()
	c.paused = paused
	c.mu.Unlock()
}

// SendRaw queues an arbitrary text frame.
func (c *Conn) SendRaw(b []byte) { c.send(b) }

// Kick closes the connection with a policy-violation close frame.
func (c *Conn) Kick(reason string) {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
	c.close()
}

// Drop closes the underlying connection without a close frame.
func (c *Conn) Drop() { c.close() }

// apply executes one ACT frame against the world and queues result events
// for the next observation.
func (c *Conn) apply(act protocol.ActMsg) {
	s := c.srv
	s.mu.Lock()
	fail := make(map[string]string, len(s.fail))
	for k, v := range s.fail {
		fail[k] = v
	}
	s.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.acts = append(c.acts, act)

	for _, in := range act.Instants {
		if code, ok := fail[in.Type]; ok {
			c.pending = append(c.pending, actionResult(in.ID, false, code))
			continue
		}
		ok, code := c.instantLocked(in)
		c.pending = append(c.pending, actionResult(in.ID, ok, code))
	}
	for _, t := range act.Tasks {
		if code, ok := fail[t.Type]; ok {
			c.pending = append(c.pending, taskFail(t.ID, code))
			continue
		}
		if t.Type == protocol.TaskStop {
			continue
		}
		if code := c.taskLocked(t); code != "" {
			c.pending = append(c.pending, taskFail(t.ID, code))
			continue
		}
		c.pending = append(c.pending, protocol.Event{"type": protocol.EventTaskDone, "task_id": t.ID})
	}
}

func (c *Conn) instantLocked(in protocol.InstantReq) (bool, string) {
	switch in.Type {
	case protocol.InstantEquip:
		if c.inv[in.ItemID] <= 0 {
			return false, protocol.ErrNoResource
		}
		if in.Slot == "" || in.Slot == "hand" {
			c.held = in.ItemID
		}
	case protocol.InstantAttack:
		c.attacked = append(c.attacked, in.TargetID)
	case protocol.InstantEat:
		if c.inv[in.ItemID] <= 0 {
			return false, protocol.ErrNoResource
		}
		c.inv[in.ItemID]--
		c.hunger += 6
		if c.hunger > 20 {
			c.hunger = 20
		}
	case protocol.InstantSprintStart:
		c.sprint = true
	case protocol.InstantSprintStop:
		c.sprint = false
	case protocol.InstantRelease:
	default:
		return false, protocol.ErrBadRequest
	}
	return true, ""
}

// taskLocked returns an error code, or "" on success. Caller holds c.mu.
func (c *Conn) taskLocked(t protocol.TaskReq) string {
	s := c.srv
	switch t.Type {
	case protocol.TaskMoveTo:
		c.pos = t.Target
	case protocol.TaskMine:
		s.mu.Lock()
		id, ok := s.grid.At(t.BlockPos)
		if !ok || id == 0 {
			s.mu.Unlock()
			return protocol.ErrInvalidTarget
		}
		s.grid.Set(t.BlockPos, 0)
		block := s.opts.Palette[id]
		s.mu.Unlock()
		c.inv[block]++
	case protocol.TaskPlace:
		if c.inv[t.ItemID] <= 0 {
			return protocol.ErrNoResource
		}
		pid, ok := s.paletteID(t.ItemID)
		if !ok {
			return protocol.ErrBadRequest
		}
		s.mu.Lock()
		cur, inside := s.grid.At(t.BlockPos)
		if !inside || cur != 0 {
			s.mu.Unlock()
			return protocol.ErrBlocked
		}
		s.grid.Set(t.BlockPos, pid)
		s.mu.Unlock()
		c.inv[t.ItemID]--
	case protocol.TaskCraft:
		n := t.Count
		if n <= 0 {
			n = 1
		}
		c.inv[t.RecipeID] += n
	default:
		return protocol.ErrBadRequest
	}
	return ""
}

func actionResult(ref string, ok bool, code string) protocol.Event {
	ev := protocol.Event{"type": protocol.EventActionResult, "ref": ref, "ok": ok}
	if code != "" {
		ev["code"] = code
	}
	return ev
}

func taskFail(id, code string) protocol.Event {
	return protocol.Event{"type": protocol.EventTaskFail, "task_id": id, "code": code}
}
