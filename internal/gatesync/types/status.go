package types

const (
	GateStatusOnline  = "online"
	GateStatusOffline = "offline"
)

// StatusMessage is the gate heartbeat. Unknown gate IDs self-register at
// the center rather than being rejected.
type StatusMessage struct {
	Status   string `json:"status"`
	Location string `json:"location,omitempty"`
}
