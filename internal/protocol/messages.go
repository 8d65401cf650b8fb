package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	AgentName       string            `json:"agent_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
	Auth            *HelloAuth        `json:"auth,omitempty"`
}

type HelloCapabilities struct {
	DeltaVoxels bool `json:"delta_voxels,omitempty"`
	MaxQueue    int  `json:"max_queue,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	AgentID         string      `json:"agent_id"`
	ResumeToken     string      `json:"resume_token"`
	WorldParams     WorldParams `json:"world_params"`
	CurrentWorldID  string      `json:"current_world_id,omitempty"`
}

type WorldParams struct {
	TickRateHz int   `json:"tick_rate_hz"`
	Height     int   `json:"height"`
	ObsRadius  int   `json:"obs_radius"`
	Seed       int64 `json:"seed"`
}

// CATALOG (server -> client). The bot only consumes the block palette, whose
// data is a JSON array of block ids indexed by palette id.
type CatalogMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Name            string `json:"name"`
	Digest          string `json:"digest"`
	Part            int    `json:"part"`
	TotalParts      int    `json:"total_parts"`
	Data            any    `json:"data"`
}

const CatalogBlockPalette = "block_palette"

// ACK (server -> client) acknowledges or rejects a whole ACT frame.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerTick      uint64 `json:"server_tick,omitempty"`
}
