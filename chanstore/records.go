package chanstore

import (
	"encoding/json"

	"github.com/btcsuite/btcd/wire"
)

// VersionedValue is the generic envelope wrapping entities whose writes are
// version fenced, such as the channel manager.
type VersionedValue struct {
	// Version of the wrapped value. Strictly increasing across writes.
	Version uint32 `json:"version"`

	// Value is the JSON encoded payload.
	Value json.RawMessage `json:"value"`
}

// HTLCStatus describes the lifecycle state of a payment.
type HTLCStatus uint8

const (
	// HTLCPending is a payment that has been created but not yet sent.
	HTLCPending HTLCStatus = 0

	// HTLCInFlight is a payment currently traversing the network.
	HTLCInFlight HTLCStatus = 1

	// HTLCSucceeded is a settled payment.
	HTLCSucceeded HTLCStatus = 2

	// HTLCFailed is a payment that permanently failed.
	HTLCFailed HTLCStatus = 3
)

// PaymentRecord is the stored representation of a single inbound or
// outbound payment.
type PaymentRecord struct {
	// Preimage proves settlement once known.
	Preimage []byte `json:"preimage,omitempty"`

	// Secret is the payment secret of the invoice, if any.
	Secret []byte `json:"secret,omitempty"`

	// Status is the payment's lifecycle state.
	Status HTLCStatus `json:"status"`

	// AmountMsat is the payment amount in millisatoshi.
	AmountMsat uint64 `json:"amt_msat"`

	// FeePaidMsat is the routing fee paid, for outbound payments.
	FeePaidMsat uint64 `json:"fee_paid_msat,omitempty"`

	// PayeePubKey is the serialized public key of the payee, if known.
	PayeePubKey []byte `json:"payee_pubkey,omitempty"`

	// LastUpdate is the unix timestamp of the last state change.
	LastUpdate int64 `json:"last_update"`
}

// PaymentEntry pairs a payment record with the payment hash it is stored
// under.
type PaymentEntry struct {
	// Hash is the payment hash.
	Hash [32]byte

	// Record is the stored payment state.
	Record *PaymentRecord
}

// ChannelClosure records why and when a channel was closed.
type ChannelClosure struct {
	// ChannelID is the protocol level channel id, if known at close
	// time.
	ChannelID []byte `json:"channel_id,omitempty"`

	// PeerPubKey is the serialized public key of the channel peer, if
	// known.
	PeerPubKey []byte `json:"node_id,omitempty"`

	// Reason is a human readable description of why the channel closed.
	Reason string `json:"reason"`

	// Timestamp is the unix timestamp of the closure.
	Timestamp uint64 `json:"timestamp"`
}

// ClosureEntry pairs a closure record with the user channel id it is stored
// under.
type ClosureEntry struct {
	// UserChannelID is the wallet assigned channel identifier.
	UserChannelID [16]byte

	// Closure is the stored closure record.
	Closure *ChannelClosure
}

// ChannelOpenParams captures the funding parameters of an in-flight channel
// open so an aborted open can be resumed or unwound.
type ChannelOpenParams struct {
	// SatPerVByte is the fee rate the funding transaction targets.
	SatPerVByte float64 `json:"sat_per_vbyte"`

	// AbsoluteFee overrides SatPerVByte with a fixed fee when non-zero.
	AbsoluteFee uint64 `json:"absolute_fee,omitempty"`

	// Utxos restricts coin selection to the given outpoints.
	Utxos []wire.OutPoint `json:"utxos,omitempty"`

	// Labels are applied to the funding transaction once broadcast.
	Labels []string `json:"labels,omitempty"`

	// OpeningTx is the serialized funding transaction once built.
	OpeningTx []byte `json:"opening_tx,omitempty"`
}

// NodeInfo describes a single node in the wallet's node list.
type NodeInfo struct {
	// ChildIndex is the derivation index of the node's key material.
	ChildIndex uint32 `json:"child_index"`

	// Archived is true once the node has been retired.
	Archived bool `json:"archived,omitempty"`
}

// NodeList is the wallet's global record of its nodes. Its embedded version
// field is compared against the remote store's version during
// reconciliation.
type NodeList struct {
	// Version increases on every mutation of the list.
	Version uint32 `json:"version"`

	// Nodes maps node identifiers to their metadata.
	Nodes map[string]NodeInfo `json:"nodes"`
}

// DeviceLock marks which device most recently claimed ownership of the
// wallet state. The timestamp doubles as its reconciliation version.
type DeviceLock struct {
	// Time is the unix timestamp of the last claim.
	Time uint32 `json:"time"`

	// Device identifies the claiming device.
	Device string `json:"device"`
}
