package chanstore

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

// Storage keys. These are a wire-format compatibility contract shared with
// existing deployments and remote store contents, so they must match
// bit-for-bit.
const (
	// ChannelManagerKey is the logical name of the aggregate channel
	// manager record.
	ChannelManagerKey = "manager"

	// MonitorsPrefix is the key prefix of all channel monitor records.
	MonitorsPrefix = "monitors/"

	// PaymentInboundPrefix is the key prefix of inbound payment records.
	PaymentInboundPrefix = "payment_inbound/"

	// PaymentOutboundPrefix is the key prefix of outbound payment
	// records.
	PaymentOutboundPrefix = "payment_outbound/"

	// ChannelOpenParamsPrefix is the key prefix of channel open
	// parameter records.
	ChannelOpenParamsPrefix = "chan_open_params/"

	// ChannelClosurePrefix is the key prefix of channel closure records.
	ChannelClosurePrefix = "channel_closure/"

	// FailedSpendableOutputsKey is the logical name of the record
	// accumulating spendable outputs whose sweep failed.
	FailedSpendableOutputsKey = "failed_spendable_outputs"

	// NodesKey is the key of the global node list record. It carries no
	// per-node suffix.
	NodesKey = "nodes"

	// DeviceLockKey is the key of the global device lock record. It
	// carries no per-node suffix.
	DeviceLockKey = "device_lock"

	// ProbScorerKey is the key of the global pathfinding scorer record.
	// It carries no per-node suffix.
	ProbScorerKey = "prob_scorer"

	// NetworkGraphKey is the key of the global network graph record. It
	// carries no per-node suffix.
	NetworkGraphKey = "network_graph"
)

// NodeIDFromPubKey derives the storage identifier of a node from its
// identity public key.
func NodeIDFromPubKey(pub *btcec.PublicKey) string {
	return hex.EncodeToString(pub.SerializeCompressed())
}

// nodeKey suffixes a logical key name with the owning node's identifier.
func nodeKey(key, nodeID string) string {
	return key + "_" + nodeID
}

// monitorKey returns the storage key of the monitor for the channel backed
// by the given funding outpoint.
func monitorKey(fundingOutpoint wire.OutPoint, nodeID string) string {
	return fmt.Sprintf("%s%s_%d_%s", MonitorsPrefix,
		fundingOutpoint.Hash, fundingOutpoint.Index, nodeID)
}

// paymentKey returns the un-suffixed key of a payment record.
func paymentKey(inbound bool, paymentHash [32]byte) string {
	prefix := PaymentOutboundPrefix
	if inbound {
		prefix = PaymentInboundPrefix
	}

	return prefix + hex.EncodeToString(paymentHash[:])
}

// closureKey returns the un-suffixed key of a channel closure record.
func closureKey(userChannelID [16]byte) string {
	return ChannelClosurePrefix + hex.EncodeToString(userChannelID[:])
}

// openParamsKey returns the un-suffixed key of a channel open parameter
// record.
func openParamsKey(id uint64) string {
	return ChannelOpenParamsPrefix + strconv.FormatUint(id, 10)
}
