package protocol

// command (client -> server)
type CommandMsg struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	APIKey  string `json:"apiKey,omitempty"`
	Model   string `json:"model,omitempty"`
}

// setNickname (client -> server)
type SetNicknameMsg struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// chat (client -> server)
type ChatMsg struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// identity (server -> client), sent once after connect.
type IdentityMsg struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	Nickname  string `json:"nickname"`
	Timestamp string `json:"timestamp"`
}

// initPosition (server -> client)
type InitPositionMsg struct {
	Type      string `json:"type"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Z         int    `json:"z"`
	Timestamp string `json:"timestamp"`
}

// narrative (server -> client), free text from the decision service or chat.
type NarrativeMsg struct {
	Type      string `json:"type"`
	Actor     string `json:"actor,omitempty"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// system (server -> client), operational notices (queued, slow down, ...).
type SystemMsg struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// error (server -> client)
type ErrorMsg struct {
	Type      string `json:"type"`
	Code      string `json:"code,omitempty"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// action (server -> client), full result unicast to the acting connection.
type ActionMsg struct {
	Type             string `json:"type"`
	Actor            string `json:"actor"`
	Action           string `json:"action"`
	Result           string `json:"result"`
	Success          bool   `json:"success"`
	Persisted        bool   `json:"persisted"`
	PersistedReason  string `json:"persistedReason,omitempty"`
	PersistedDetails string `json:"persistedDetails,omitempty"`
	Timestamp        string `json:"timestamp"`
}

// actionSummary (server -> client), terse nearby broadcast.
type ActionSummaryMsg struct {
	Type      string `json:"type"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
}

// positionUpdate (server -> client)
type PositionUpdateMsg struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Z         int    `json:"z"`
	Timestamp string `json:"timestamp"`
}

// nicknameChanged (server -> client)
type NicknameChangedMsg struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	Old       string `json:"old"`
	New       string `json:"new"`
	Timestamp string `json:"timestamp"`
}

// death (server -> client, broadcast) / youDied (unicast to the victim)
type DeathMsg struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	Nickname  string `json:"nickname"`
	Cause     string `json:"cause,omitempty"`
	Timestamp string `json:"timestamp"`
}

// respawn (server -> client)
type RespawnMsg struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Z         int    `json:"z"`
	Timestamp string `json:"timestamp"`
}

// discovery (server -> client), a newly registered material.
type DiscoveryMsg struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Finder    string `json:"finder,omitempty"`
	Timestamp string `json:"timestamp"`
}

// blueprint (server -> client), a newly registered object type.
type BlueprintMsg struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Creator   string `json:"creator,omitempty"`
	Timestamp string `json:"timestamp"`
}
