package protocol

// Event types.
const (
	EventMessage  = "MESSAGE"
	EventSound    = "SOUND"
	EventPrompt   = "PROMPT"
	EventPreview  = "PREVIEW"
	EventPlaced   = "PLACED"
	EventRollback = "ROLLBACK"
	EventRejected = "REJECTED"
	EventSwept    = "SWEPT"
	EventAudit    = "AUDIT"
)

type Event map[string]interface{}

// EVENT (server -> client): everything that happened to or around the
// receiving mobile during one tick.
type EventMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Tick            uint64  `json:"tick"`
	Events          []Event `json:"events"`
}
