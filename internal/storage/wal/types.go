package wal

// ============================================================================
// Journal Type Definitions
// Responsibility: Define the records written to the transition journal
// ============================================================================

// EventType defines journal record types
type EventType string

const (
	EventEntering EventType = "ENTERING" // Engine entered a state
	EventLeaving  EventType = "LEAVING"  // Engine left a state
	EventFault    EventType = "FAULT"    // Engine entered Error with a fault code
	EventCommand  EventType = "COMMAND"  // Operator command accepted from a command source
)

// Event represents one journal record
type Event struct {
	Seq         uint64    `json:"seq"`                    // Record sequence number (monotonically increasing)
	Type        EventType `json:"type"`                   // Record type
	State       string    `json:"state"`                  // Print engine state name
	SubState    string    `json:"substate"`               // UI substate name
	Layer       int       `json:"layer,omitempty"`        // Current layer
	TotalLayers int       `json:"total_layers,omitempty"` // Layers in the print
	ErrorCode   int       `json:"error_code,omitempty"`   // Fault code for FAULT records
	Detail      string    `json:"detail,omitempty"`       // Error message or command text
	JobID       string    `json:"job_id,omitempty"`       // Cloud job id, if any
	Timestamp   int64     `json:"timestamp"`              // Unix millisecond timestamp
	Checksum    uint32    `json:"checksum"`               // CRC32 checksum
}

// EventHandler is the function type for processing journal records during Replay
type EventHandler func(event Event) error
