package api

import "time"

// ValueResponse is one subject's aggregated state at a resolved height.
type ValueResponse struct {
	Subject    string `json:"subject"`
	AsOf       uint64 `json:"as_of"`
	Found      bool   `json:"found"`
	Balance    string `json:"balance,omitempty"`
	EventCount uint64 `json:"event_count,omitempty"`
}

// BatchResponse answers a multi-subject query resolved at a single height.
type BatchResponse struct {
	AsOf    uint64          `json:"as_of"`
	Results []ValueResponse `json:"results"`
}

// StatusResponse describes the indexer's current position and health.
type StatusResponse struct {
	State        string `json:"state"`
	CursorHeight uint64 `json:"cursor_height"`
	CursorHash   string `json:"cursor_hash"`
	Subjects     int64  `json:"subjects"`
	LastError    string `json:"last_error,omitempty"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	EngineState  string    `json:"engine_state"`
	CursorHeight uint64    `json:"cursor_height"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
