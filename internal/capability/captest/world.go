// Package captest provides an in-memory capability.Dialer for tests. A World
// holds blocks and entities; every dial creates a scripted Session that
// records the calls made on it and lets tests inject lifecycle events.
package captest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"syscall"
	"time"

	"voxelswarm.ai/internal/capability"
)

type World struct {
	mu       sync.Mutex
	blocks   map[capability.Vec3]string
	entities map[string]capability.Entity
	sessions map[string]*Session
	dials    map[string]int
	failNext int

	// AutoSpawn makes every new session emit a spawned event right away.
	AutoSpawn bool
	// HeartbeatEvery, when positive, makes sessions emit heartbeats on their own.
	HeartbeatEvery time.Duration
	// TickDuration is how long WaitTicks sleeps per tick.
	TickDuration time.Duration
	// Spawn is the position and kit of new sessions.
	Spawn     capability.Vec3
	Vitals    capability.Vitals
	Inventory []capability.ItemStack
}

func NewWorld() *World {
	return &World{
		blocks:       make(map[capability.Vec3]string),
		entities:     make(map[string]capability.Entity),
		sessions:     make(map[string]*Session),
		dials:        make(map[string]int),
		TickDuration: time.Millisecond,
		Vitals:       capability.Vitals{Health: 20, Food: 20, Stamina: 1},
	}
}

// FailDials makes the next n dials fail with a connection-refused error.
func (w *World) FailDials(n int) {
	w.mu.Lock()
	w.failNext = n
	w.mu.Unlock()
}

func (w *World) Dial(ctx context.Context, identity string) (capability.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.dials[identity]++
	if w.failNext > 0 {
		w.failNext--
		w.mu.Unlock()
		return nil, fmt.Errorf("dial %s: %w", identity, syscall.ECONNREFUSED)
	}
	s := newSession(w, identity)
	w.sessions[identity] = s
	autoSpawn, hb := w.AutoSpawn, w.HeartbeatEvery
	w.mu.Unlock()

	if autoSpawn {
		s.Spawn()
	}
	if hb > 0 {
		go s.heartbeatLoop(hb)
	}
	return s, nil
}

// Dials returns how many times identity has dialed.
func (w *World) Dials(identity string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dials[identity]
}

// Session returns the latest session dialed by identity.
func (w *World) Session(identity string) *Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessions[identity]
}

// Sessions returns the names with a live session, sorted.
func (w *World) Sessions() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for n, s := range w.sessions {
		if !s.Closed() {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func (w *World) SetBlock(pos capability.Vec3, id string) {
	w.mu.Lock()
	w.blocks[pos.Floor()] = id
	w.mu.Unlock()
}

func (w *World) Block(pos capability.Vec3) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.blocks[pos.Floor()]
	return id, ok
}

// Fill sets every block in the inclusive box to id.
func (w *World) Fill(from, to capability.Vec3, id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for x := from.X; x <= to.X; x++ {
		for y := from.Y; y <= to.Y; y++ {
			for z := from.Z; z <= to.Z; z++ {
				w.blocks[capability.Vec3{X: x, Y: y, Z: z}.Floor()] = id
			}
		}
	}
}

// PutEntity adds or moves a non-agent entity.
func (w *World) PutEntity(e capability.Entity) {
	w.mu.Lock()
	w.entities[e.ID] = e
	w.mu.Unlock()
}

func (w *World) RemoveEntity(id string) {
	w.mu.Lock()
	delete(w.entities, id)
	w.mu.Unlock()
}

// visibleTo lists world entities plus every other live session as an AGENT.
func (w *World) visibleTo(self string) []capability.Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]capability.Entity, 0, len(w.entities)+len(w.sessions))
	for _, e := range w.entities {
		out = append(out, e)
	}
	for name, s := range w.sessions {
		if name == self || s.Closed() {
			continue
		}
		out = append(out, capability.Entity{ID: "agent-" + name, Name: name, Kind: "AGENT", Position: s.Position()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
