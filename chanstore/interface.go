package chanstore

import (
	"github.com/btcsuite/btcd/wire"
)

// MonitorStatus is the status a monitor persist operation reports back to
// the protocol engine.
type MonitorStatus uint8

const (
	// StatusCompleted signals the write has been durably recorded before
	// returning.
	StatusCompleted MonitorStatus = iota

	// StatusInProgress signals the write continues in the background and
	// completion will be reported through the chain monitor once it is
	// durable.
	StatusInProgress

	// StatusUnrecoverable signals the update can never be persisted and
	// the channel must be force closed.
	StatusUnrecoverable
)

// String returns a human readable identifier for the status.
func (s MonitorStatus) String() string {
	switch s {
	case StatusCompleted:
		return "Completed"
	case StatusInProgress:
		return "InProgress"
	case StatusUnrecoverable:
		return "Unrecoverable"
	default:
		return "Unknown"
	}
}

// ChainMonitor is the subsystem watching the chain on behalf of all channel
// monitors. The persister acknowledges durably stored monitor updates to it
// so the protocol engine can resume progress on the channel.
type ChainMonitor interface {
	// MonitorUpdated signals that the monitor update with the given id
	// for the channel backed by the given funding outpoint has been
	// durably persisted.
	MonitorUpdated(fundingOutpoint wire.OutPoint, updateID uint64) error
}
