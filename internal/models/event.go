package models

import "time"

// EventKind enumerates everything the controller announces. The set is
// closed: String and Subject switch over every kind, and anything outside the
// range reports Valid() == false.
type EventKind uint8

const (
	EventMachineRegistered EventKind = iota + 1
	EventMachineStarted
	EventMachineStopped
	EventMachineFailed
	EventMachineRepaired
	EventMachineMaintenance
	EventComponentDelivered
	EventComponentRejected
	EventStorageAlert
	EventProductAssembled
	EventStationRegistered

	eventKindEnd
)

// Valid reports whether k is one of the declared kinds.
func (k EventKind) Valid() bool {
	return k >= EventMachineRegistered && k < eventKindEnd
}

func (k EventKind) String() string {
	switch k {
	case EventMachineRegistered:
		return "machine.registered"
	case EventMachineStarted:
		return "machine.started"
	case EventMachineStopped:
		return "machine.stopped"
	case EventMachineFailed:
		return "machine.failed"
	case EventMachineRepaired:
		return "machine.repaired"
	case EventMachineMaintenance:
		return "machine.maintenance"
	case EventComponentDelivered:
		return "component.delivered"
	case EventComponentRejected:
		return "component.rejected"
	case EventStorageAlert:
		return "storage.alert"
	case EventProductAssembled:
		return "product.assembled"
	case EventStationRegistered:
		return "station.registered"
	}
	return "invalid"
}

// Subject is the NATS subject the event is published on.
func (k EventKind) Subject() string {
	return "factory.events." + k.String()
}

// EventForStatus maps a machine status change to the event announcing it.
func EventForStatus(s Status) EventKind {
	switch s {
	case StatusStopped:
		return EventMachineStopped
	case StatusRunning:
		return EventMachineStarted
	case StatusFailed:
		return EventMachineFailed
	case StatusMaintenance:
		return EventMachineMaintenance
	}
	return 0
}

// Event is a single controller announcement.
type Event struct {
	ID      string            `json:"id"`
	Kind    string            `json:"kind"`
	Subject string            `json:"subject"`
	Time    time.Time         `json:"time"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}
