package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	// client -> server
	TypeCommand     = "command"
	TypeSetNickname = "setNickname"
	TypeChat        = "chat"

	// server -> client
	TypeIdentity        = "identity"
	TypeInitPosition    = "initPosition"
	TypeNarrative       = "narrative"
	TypeSystem          = "system"
	TypeError           = "error"
	TypeAction          = "action"
	TypeActionSummary   = "actionSummary"
	TypePositionUpdate  = "positionUpdate"
	TypeNicknameChanged = "nicknameChanged"
	TypeDeath           = "death"
	TypeYouDied         = "youDied"
	TypeRespawn         = "respawn"
	TypeDiscovery       = "discovery"
	TypeBlueprint       = "blueprint"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
