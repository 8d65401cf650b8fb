package capability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("session closed")
)

// KickError reports that the server removed the agent on purpose.
type KickError struct {
	Reason string
}

func (e *KickError) Error() string { return fmt.Sprintf("kicked: %s", e.Reason) }

type Vec3 struct{ X, Y, Z float64 }

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

func (v Vec3) DistanceTo(o Vec3) float64 {
	d := v.Sub(o)
	return math.Sqrt(d.X*d.X + d.Y*d.Y + d.Z*d.Z)
}

// Floor snaps a position to the block grid.
func (v Vec3) Floor() Vec3 {
	return Vec3{math.Floor(v.X), math.Floor(v.Y), math.Floor(v.Z)}
}

func (v Vec3) String() string { return fmt.Sprintf("(%.1f,%.1f,%.1f)", v.X, v.Y, v.Z) }

type Vitals struct {
	Health  int
	Food    int
	Stamina float64
}

type ItemStack struct {
	Item  string
	Count int
}

type Entity struct {
	ID       string
	Name     string
	Kind     string
	Position Vec3
}

// Identity is the name used for coordination; servers that do not send a
// name fall back to the entity id.
func (e Entity) Identity() string {
	if e.Name != "" {
		return e.Name
	}
	return e.ID
}

// Goal is a pathfinding target: reach within Range of Position.
type Goal struct {
	Position Vec3
	Range    float64
}

type EventKind int

const (
	EventSpawned EventKind = iota + 1
	EventDisconnected
	EventKicked
	EventProtocolError
	EventHeartbeat
)

func (k EventKind) String() string {
	switch k {
	case EventSpawned:
		return "spawned"
	case EventDisconnected:
		return "disconnected"
	case EventKicked:
		return "kicked"
	case EventProtocolError:
		return "protocol_error"
	case EventHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind   EventKind
	At     time.Time
	Reason string
	Err    error
}

// Equipment slots.
const (
	SlotHand  = "hand"
	SlotHead  = "head"
	SlotTorso = "torso"
	SlotLegs  = "legs"
	SlotFeet  = "feet"
)

type Dialer interface {
	Dial(ctx context.Context, identity string) (Session, error)
}

type Session interface {
	Events() <-chan Event
	Disconnect(reason string) error

	Position() Vec3
	Vitals() Vitals
	Inventory() []ItemStack
	Entities() []Entity
	// BlockAt returns the block id at pos, or false when pos is not loaded.
	BlockAt(pos Vec3) (string, bool)
	// FindBlocks lists loaded positions holding any of kinds within radius, nearest first.
	FindBlocks(kinds []string, radius float64) []Vec3

	Equip(ctx context.Context, item, slot string) error
	PathfindTo(ctx context.Context, goal Goal) error
	SetGoal(goal Goal) error
	Attack(ctx context.Context, entityID string) error
	SetSprint(on bool) error
	Harvest(ctx context.Context, pos Vec3) error
	PlaceBlock(ctx context.Context, ref, offset Vec3) error
	Craft(ctx context.Context, recipe string, count int) error
	Consume(ctx context.Context) error
	ReleaseUse() error
	WaitTicks(ctx context.Context, n int) error
}

// Count sums the stacks of item in inv.
func Count(inv []ItemStack, item string) int {
	n := 0
	for _, s := range inv {
		if s.Item == item {
			n += s.Count
		}
	}
	return n
}
