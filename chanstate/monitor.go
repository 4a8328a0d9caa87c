package chanstate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ErrShortMonitor is returned when a serialized monitor is too short to
// carry its leading update id.
var ErrShortMonitor = errors.New("serialized monitor too short")

// BalanceKind describes why a monitor still considers an output claimable.
type BalanceKind uint8

const (
	// BalanceClaimableAwaitingConfirmations is a balance that will be
	// spendable once its confirmation requirement has been met.
	BalanceClaimableAwaitingConfirmations BalanceKind = 0

	// BalanceContested is a balance the counterparty may still contest,
	// for example an HTLC whose timeout has not yet passed.
	BalanceContested BalanceKind = 1

	// BalanceClaimable is a balance that is immediately claimable with a
	// sweep transaction.
	BalanceClaimable BalanceKind = 2
)

// Balance is a single claimable output tracked by a channel monitor.
type Balance struct {
	// Kind describes why the balance is still tracked.
	Kind BalanceKind

	// Amount is the claimable value.
	Amount btcutil.Amount
}

// Monitor is the per-channel watchtower state tracking the latest commitment
// transaction and revocation secrets for one channel. It is the only defense
// against a counterparty broadcasting a revoked commitment, so its stored
// version must never move backwards.
type Monitor struct {
	// FundingOutpoint is the outpoint of the output that backs the
	// channel on-chain and serves as its primary identifier.
	FundingOutpoint wire.OutPoint

	// LatestUpdateID is a strictly increasing counter incremented on
	// every state transition of the channel. It doubles as the monitor's
	// storage version.
	LatestUpdateID uint64

	// BestBlock is the hash of the chain tip the monitor was last synced
	// against.
	BestBlock chainhash.Hash

	// Balances is the set of outputs the monitor still considers
	// claimable. Once this set is empty the channel is fully resolved and
	// the monitor no longer needs to be watched.
	Balances []Balance

	// CommitmentState is the serialized commitment and revocation state
	// owned by the channel state machine. It is opaque to the
	// persistence layer.
	CommitmentState []byte
}

// Encode serializes the monitor into the passed io.Writer. The encoding
// leads with the update id so the storage version can be recovered from a
// raw blob without a full decode.
func (m *Monitor) Encode(w io.Writer) error {
	err := WriteElements(
		w, m.LatestUpdateID, m.FundingOutpoint, m.BestBlock,
	)
	if err != nil {
		return err
	}

	if err := WriteElement(w, uint32(len(m.Balances))); err != nil {
		return err
	}
	for _, balance := range m.Balances {
		err := WriteElements(w, uint8(balance.Kind), balance.Amount)
		if err != nil {
			return err
		}
	}

	return WriteElement(w, m.CommitmentState)
}

// DecodeMonitor deserializes a monitor from the passed io.Reader.
func DecodeMonitor(r io.Reader) (*Monitor, error) {
	var m Monitor
	err := ReadElements(
		r, &m.LatestUpdateID, &m.FundingOutpoint, &m.BestBlock,
	)
	if err != nil {
		return nil, err
	}

	var numBalances uint32
	if err := ReadElement(r, &numBalances); err != nil {
		return nil, err
	}
	for i := uint32(0); i < numBalances; i++ {
		var (
			kind   uint8
			amount btcutil.Amount
		)
		if err := ReadElements(r, &kind, &amount); err != nil {
			return nil, err
		}

		m.Balances = append(m.Balances, Balance{
			Kind:   BalanceKind(kind),
			Amount: amount,
		})
	}

	if err := ReadElement(r, &m.CommitmentState); err != nil {
		return nil, err
	}

	return &m, nil
}

// MonitorVersion extracts the update id from a serialized monitor without
// decoding the full state. Used during reconciliation to compare a local
// blob against a remote version without paying for a full decode.
func MonitorVersion(raw []byte) (uint64, error) {
	if len(raw) < 8 {
		return 0, fmt.Errorf("%w: %d bytes", ErrShortMonitor,
			len(raw))
	}

	return byteOrder.Uint64(raw[:8]), nil
}

// SaturateVersion converts a 64 bit monitor update id into the 32 bit
// version used by the versioned stores, saturating at the maximum rather
// than wrapping around to a lower value.
func SaturateVersion(updateID uint64) uint32 {
	if updateID >= math.MaxUint32 {
		return math.MaxUint32
	}

	return uint32(updateID)
}

// StorageVersion returns the monitor's update id saturated to the 32 bit
// version space of the versioned stores.
func (m *Monitor) StorageVersion() uint32 {
	return SaturateVersion(m.LatestUpdateID)
}

// HasClaimableBalances returns true if the monitor still tracks claimable
// outputs and therefore must be loaded and watched.
func (m *Monitor) HasClaimableBalances() bool {
	return len(m.Balances) > 0
}

// Bytes returns the full serialization of the monitor.
func (m *Monitor) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
