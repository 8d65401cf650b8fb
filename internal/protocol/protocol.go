package protocol

import "encoding/json"

// Version is the revision this client speaks. 1.0 extends 0.9 with the EAT,
// RELEASE and SPRINT_START/SPRINT_STOP instants; servers that only know 0.9
// close the connection on HELLO.
const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeCatalog = "CATALOG"
	TypeObs     = "OBS"
	TypeAct     = "ACT"
	TypeAck     = "ACK"
)

var supportedVersions = map[string]struct{}{
	"0.9":   {},
	Version: {},
}

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// IsSupportedVersion reports whether frames tagged with v can be decoded by this client.
func IsSupportedVersion(v string) bool {
	_, ok := supportedVersions[v]
	return ok
}
