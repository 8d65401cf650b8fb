package protocol

type ObsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	AgentID         string `json:"agent_id"`

	Self      SelfObs      `json:"self"`
	Inventory []ItemStack  `json:"inventory"`
	Equipment EquipmentObs `json:"equipment"`

	Voxels   VoxelsObs   `json:"voxels"`
	Entities []EntityObs `json:"entities"`
	Events   []Event     `json:"events"`
	Tasks    []TaskObs   `json:"tasks"`
}

type SelfObs struct {
	Pos     [3]int   `json:"pos"`
	Yaw     int      `json:"yaw"`
	HP      int      `json:"hp"`
	Hunger  int      `json:"hunger"`
	Stamina float64  `json:"stamina"`
	Status  []string `json:"status"`
}

type ItemStack struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

type EquipmentObs struct {
	MainHand string   `json:"main_hand"`
	Armor    []string `json:"armor"`
}

type VoxelsObs struct {
	Center   [3]int `json:"center"`
	Radius   int    `json:"radius"`
	Encoding string `json:"encoding"` // "RLE"; the bot never negotiates DELTA
	Data     string `json:"data,omitempty"`
}

type EntityObs struct {
	ID   string   `json:"id"`
	Type string   `json:"type"` // "AGENT", "PLAYER", "MOB", "ITEM", ...
	Name string   `json:"name,omitempty"`
	Pos  [3]int   `json:"pos"`
	Tags []string `json:"tags,omitempty"`
}

type Event map[string]interface{}

// Event types the client routes to pending requests.
const (
	EventTaskDone     = "TASK_DONE"
	EventTaskFail     = "TASK_FAIL"
	EventActionResult = "ACTION_RESULT"
)

type TaskObs struct {
	TaskID   string  `json:"task_id"`
	Kind     string  `json:"kind"`
	Progress float64 `json:"progress"`
	Target   [3]int  `json:"target,omitempty"`
	EtaTicks int     `json:"eta_ticks,omitempty"`
}

// ACT (client -> server)
type ActMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	AgentID         string       `json:"agent_id"`
	Instants        []InstantReq `json:"instants,omitempty"`
	Tasks           []TaskReq    `json:"tasks,omitempty"`
	Cancel          []string     `json:"cancel,omitempty"`
}

// Instant types used by the bot.
const (
	InstantEquip       = "EQUIP"
	InstantAttack      = "ATTACK"
	InstantEat         = "EAT"
	InstantRelease     = "RELEASE"
	InstantSprintStart = "SPRINT_START"
	InstantSprintStop  = "SPRINT_STOP"
)

type InstantReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	ItemID   string `json:"item_id,omitempty"`
	Slot     string `json:"slot,omitempty"`
	Count    int    `json:"count,omitempty"`
	TargetID string `json:"target_id,omitempty"`
}

// Task types used by the bot.
const (
	TaskMoveTo = "MOVE_TO"
	TaskMine   = "MINE"
	TaskPlace  = "PLACE"
	TaskCraft  = "CRAFT"
	TaskStop   = "STOP"
)

type TaskReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	Target    [3]int  `json:"target,omitempty"`
	Tolerance float64 `json:"tolerance,omitempty"`

	BlockPos [3]int `json:"block_pos,omitempty"`
	RecipeID string `json:"recipe_id,omitempty"`
	Count    int    `json:"count,omitempty"`
	ItemID   string `json:"item_id,omitempty"`
}
