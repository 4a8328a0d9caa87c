package chanstate

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// SpendableOutput describes an output under the wallet's control that has
// become spendable, typically after a channel has been resolved on-chain.
// Outputs whose initial sweep failed are recorded for later retries.
type SpendableOutput struct {
	// Outpoint is the location of the output on-chain.
	Outpoint wire.OutPoint

	// PkScript is the script the output pays to.
	PkScript []byte

	// Value is the amount carried by the output.
	Value btcutil.Amount
}

// Encode serializes the output descriptor into the passed io.Writer.
func (s *SpendableOutput) Encode(w io.Writer) error {
	return WriteElements(w, s.Outpoint, s.PkScript, s.Value)
}

// DecodeSpendableOutput deserializes an output descriptor from the passed
// io.Reader.
func DecodeSpendableOutput(r io.Reader) (*SpendableOutput, error) {
	var s SpendableOutput
	err := ReadElements(r, &s.Outpoint, &s.PkScript, &s.Value)
	if err != nil {
		return nil, err
	}

	return &s, nil
}

// Bytes returns the full serialization of the output descriptor.
func (s *SpendableOutput) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := s.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
