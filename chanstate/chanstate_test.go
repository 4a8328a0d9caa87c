package chanstate

import (
	"bytes"
	"math"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

var testHash = chainhash.Hash{0xaa, 0xbb}

// TestMonitorEncodeDecode asserts the monitor serialization round trips
// and that the update id is recoverable from the raw blob.
func TestMonitorEncodeDecode(t *testing.T) {
	t.Parallel()

	monitor := &Monitor{
		FundingOutpoint: wire.OutPoint{Hash: testHash, Index: 2},
		LatestUpdateID:  1234,
		BestBlock:       testHash,
		Balances: []Balance{
			{
				Kind:   BalanceClaimable,
				Amount: btcutil.Amount(10_000),
			},
			{
				Kind:   BalanceContested,
				Amount: btcutil.Amount(5_000),
			},
		},
		CommitmentState: []byte{1, 2, 3},
	}

	raw, err := monitor.Bytes()
	require.NoError(t, err)

	decoded, err := DecodeMonitor(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, monitor, decoded)

	// The update id must be readable without a full decode.
	version, err := MonitorVersion(raw)
	require.NoError(t, err)
	require.Equal(t, uint64(1234), version)
}

// TestMonitorVersionShort asserts that a blob too short to carry an update
// id is rejected.
func TestMonitorVersionShort(t *testing.T) {
	t.Parallel()

	_, err := MonitorVersion([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrShortMonitor)
}

// TestSaturateVersion asserts that update ids truncate to the 32 bit
// version space by capping, never by wrapping.
func TestSaturateVersion(t *testing.T) {
	t.Parallel()

	require.Equal(t, uint32(0), SaturateVersion(0))
	require.Equal(t, uint32(7), SaturateVersion(7))
	require.Equal(
		t, uint32(math.MaxUint32-1),
		SaturateVersion(math.MaxUint32-1),
	)
	require.Equal(
		t, uint32(math.MaxUint32), SaturateVersion(math.MaxUint32),
	)
	require.Equal(
		t, uint32(math.MaxUint32), SaturateVersion(math.MaxUint64),
	)

	monitor := &Monitor{LatestUpdateID: math.MaxUint64}
	require.Equal(t, uint32(math.MaxUint32), monitor.StorageVersion())
}

// TestManagerStateEncodeDecode asserts the manager state serialization
// round trips.
func TestManagerStateEncodeDecode(t *testing.T) {
	t.Parallel()

	state := NewManagerState(&chaincfg.MainNetParams, testHash, 800_000)
	state.ChannelState = []byte{9, 8, 7}

	raw, err := state.Bytes()
	require.NoError(t, err)

	decoded, err := DecodeManagerState(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, state, decoded)
	require.Equal(t, chaincfg.MainNetParams.Net, decoded.Net)
}

// TestSpendableOutputEncodeDecode asserts the output descriptor
// serialization round trips.
func TestSpendableOutputEncodeDecode(t *testing.T) {
	t.Parallel()

	output := &SpendableOutput{
		Outpoint: wire.OutPoint{Hash: testHash, Index: 5},
		PkScript: []byte{0x00, 0x14, 0xab},
		Value:    btcutil.Amount(123_456),
	}

	raw, err := output.Bytes()
	require.NoError(t, err)

	decoded, err := DecodeSpendableOutput(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, output, decoded)
}

// TestHasClaimableBalances asserts the resolved-channel predicate.
func TestHasClaimableBalances(t *testing.T) {
	t.Parallel()

	monitor := &Monitor{}
	require.False(t, monitor.HasClaimableBalances())

	monitor.Balances = []Balance{{Kind: BalanceClaimable, Amount: 1}}
	require.True(t, monitor.HasClaimableBalances())
}
