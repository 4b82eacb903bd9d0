package models

import "time"

// Status is the lifecycle state of a production machine.
type Status uint8

const (
	StatusStopped Status = iota
	StatusRunning
	StatusFailed
	StatusMaintenance
)

// String returns the wire form used in status queries.
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "STOPPED"
	case StatusRunning:
		return "RUNNING"
	case StatusFailed:
		return "FAILED"
	case StatusMaintenance:
		return "MAINTENANCE"
	}
	return "INVALID"
}

// ParseStatus is the inverse of Status.String. Unknown strings report false.
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "STOPPED":
		return StatusStopped, true
	case "RUNNING":
		return StatusRunning, true
	case "FAILED":
		return StatusFailed, true
	case "MAINTENANCE":
		return StatusMaintenance, true
	}
	return 0, false
}

// Machine is the controller's record of one production machine.
// Shared between the registry, the controller and the audit store.
type Machine struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Status        Status    `json:"status"`
	LastError     string    `json:"last_error,omitempty"`
	ProducedCount int64     `json:"produced_count"`
	RegisteredAt  time.Time `json:"registered_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	// Revision grows with every lifecycle change, re-registration included.
	Revision uint64 `json:"revision"`
}

// MarshalText lets Status travel as its string form in JSON and CBOR.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the string form written by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	st, ok := ParseStatus(string(b))
	if !ok {
		return &UnknownStatusError{Value: string(b)}
	}
	*s = st
	return nil
}

// UnknownStatusError is returned when decoding an unrecognised status.
type UnknownStatusError struct {
	Value string
}

func (e *UnknownStatusError) Error() string {
	return "unknown machine status " + e.Value
}
