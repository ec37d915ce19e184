package protocol

// Action types.
const (
	ActUseDeed = "USE_DEED"
	ActTarget  = "TARGET"
	ActCancel  = "CANCEL"
	ActAnswer  = "ANSWER"
	ActChop    = "CHOP"
	ActUse     = "USE"
	ActDrop    = "DROP"
	ActMove    = "MOVE"
)

// ACT (client -> server)
type ActMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	Actions         []ActionReq `json:"actions"`
}

// ActionReq is one request inside an ACT. Which fields matter depends on Type:
// USE_DEED names Item; TARGET names Map and Pos; ANSWER carries Accept;
// CHOP names Fixture; USE names Component; DROP names Fixture and either
// Container or Map and Pos; MOVE names Map and Pos.
type ActionReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	Item      uint64 `json:"item,omitempty"`
	Fixture   uint64 `json:"fixture,omitempty"`
	Component uint64 `json:"component,omitempty"`
	Container uint64 `json:"container,omitempty"`
	Map       string `json:"map,omitempty"`
	Pos       [3]int `json:"pos,omitempty"`
	Accept    bool   `json:"accept,omitempty"`
	Text      string `json:"text,omitempty"`
}
