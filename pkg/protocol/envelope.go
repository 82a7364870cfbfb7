package protocol

import "time"

// MonitoringStats is the per-round duration breakdown a client reports with
// every parameter upload. Totals cover completed rounds only.
type MonitoringStats struct {
	Computation    time.Duration `cbor:"computation"     json:"computation"`
	NetworkSend    time.Duration `cbor:"network_send"    json:"network_send"`
	NetworkReceive time.Duration `cbor:"network_receive" json:"network_receive"`
	Idle           time.Duration `cbor:"idle"            json:"idle"`
}

// Auth carries the plaintext credentials a client presents on every request
// to the server.
type Auth struct {
	Username  string `cbor:"username"   json:"username"`
	Token     string `cbor:"token"      json:"token"`
	ProjectID string `cbor:"project_id" json:"project_id"`
}

// JoinRequest claims one of the project's unclaimed tokens for a username.
type JoinRequest struct {
	Auth
	Password string `cbor:"password" json:"password"`
}

type JoinResponse struct {
	Joined bool `cbor:"joined" json:"joined"`
}

type ProjectInfoRequest struct {
	Auth
}

// ProjectInfoResponse describes the project to a joining client, including
// the algorithm-specific configuration bag.
type ProjectInfoResponse struct {
	ProjectID   string `cbor:"project_id"  json:"project_id"`
	Algorithm   string `cbor:"algorithm"   json:"algorithm"`
	Name        string `cbor:"name"        json:"name"`
	Description string `cbor:"description" json:"description"`
	Config      Params `cbor:"config"      json:"config"`
}

type StartedRequest struct {
	Auth
}

type StartedResponse struct {
	Started bool `cbor:"started" json:"started"`
}

// ClientParameters is one participant's contribution to the current round:
// synchronization fields, the (possibly masked) local bag, and monitoring.
type ClientParameters struct {
	Auth
	Step            string          `cbor:"step"             json:"step"`
	CommRound       int             `cbor:"comm_round"       json:"comm_round"`
	OperationStatus OperationStatus `cbor:"operation_status" json:"operation_status"`
	Masked          bool            `cbor:"masked"           json:"masked"`
	Monitoring      MonitoringStats `cbor:"monitoring"       json:"monitoring"`
	Parameters      Params          `cbor:"parameters"       json:"parameters"`
}

// SyncRequest polls for the global parameters of the round after the
// client's own.
type SyncRequest struct {
	Auth
	CommRound int `cbor:"comm_round" json:"comm_round"`
}

// GlobalParameters is the server's answer to a SyncRequest. Parameters is
// populated only when the server's round is one ahead of the client's.
type GlobalParameters struct {
	ProjectID  string        `cbor:"project_id"           json:"project_id"`
	Status     ProjectStatus `cbor:"status"               json:"status"`
	Step       string        `cbor:"step"                 json:"step"`
	CommRound  int           `cbor:"comm_round"           json:"comm_round"`
	Parameters Params        `cbor:"parameters,omitempty" json:"parameters,omitempty"`
}

type ResultRequest struct {
	Auth
}

// NoiseParameters is one participant's raw mask values sent to the
// compensator. All identities are one-way hashes; ServerURL tells the
// compensator where to forward the negated aggregate.
type NoiseParameters struct {
	HashProjectID string    `cbor:"hash_project_id" json:"hash_project_id"`
	HashUsername  string    `cbor:"hash_username"   json:"hash_username"`
	HashToken     string    `cbor:"hash_token"      json:"hash_token"`
	Step          string    `cbor:"step"            json:"step"`
	CommRound     int       `cbor:"comm_round"      json:"comm_round"`
	ServerURL     string    `cbor:"server_url"      json:"server_url"`
	Parameters    Params    `cbor:"parameters"      json:"parameters"`
	DataTypes     DataTypes `cbor:"data_types"      json:"data_types"`
}

// NoiseResponse tells the client whether the compensator accepted the report
// or is still authenticating the project with the server.
type NoiseResponse struct {
	ShouldRetry bool `cbor:"should_retry" json:"should_retry"`
}

type CompensatorAuthRequest struct {
	HashProjectID string `cbor:"hash_project_id" json:"hash_project_id"`
}

type CompensatorAuthResponse struct {
	Authenticated    bool `cbor:"authenticated"     json:"authenticated"`
	ParticipantCount int  `cbor:"participant_count" json:"participant_count"`
}

// CompensationParameters is the compensator's consolidated report for one
// round: the negated type-aware sum of all participants' noise bags plus the
// compensator's own monitoring totals.
type CompensationParameters struct {
	HashProjectID   string          `cbor:"hash_project_id"  json:"hash_project_id"`
	HashUsernames   string          `cbor:"hash_usernames"   json:"hash_usernames"`
	HashTokens      string          `cbor:"hash_tokens"      json:"hash_tokens"`
	Step            string          `cbor:"step"             json:"step"`
	CommRound       int             `cbor:"comm_round"       json:"comm_round"`
	OperationStatus OperationStatus `cbor:"operation_status" json:"operation_status"`
	Computation     time.Duration   `cbor:"computation"      json:"computation"`
	NetworkSend     time.Duration   `cbor:"network_send"     json:"network_send"`
	ClientTraffic   uint64          `cbor:"client_traffic"   json:"client_traffic"`
	Parameters      Params          `cbor:"parameters"       json:"parameters"`
}
