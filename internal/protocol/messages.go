package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	MobileName      string            `json:"mobile_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
	// Observer connections receive every event and may not act.
	Observer bool `json:"observer,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	WorldID         string         `json:"world_id"`
	Tick            uint64         `json:"tick"`
	Mobile          uint64         `json:"mobile,omitempty"`
	Name            string         `json:"name,omitempty"`
	Map             string         `json:"map,omitempty"`
	Pos             [3]int         `json:"pos"`
	WorldParams     WorldParams    `json:"world_params"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type WorldParams struct {
	TickRateHz int `json:"tick_rate_hz"`
	MaxRange   int `json:"max_range"`
	MaxPolls   int `json:"max_polls"`
}

type CatalogDigests struct {
	ItemsDigest    string `json:"items_digest"`
	FixturesDigest string `json:"fixtures_digest"`
	TourneyDigest  string `json:"tourney_digest"`
	TuningDigest   string `json:"tuning_digest,omitempty"`
}

// ACK (server -> client): per-action acceptance.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerTick      uint64 `json:"server_tick,omitempty"`
}
