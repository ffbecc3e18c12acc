package solana

import (
	"encoding/base64"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// DecodeTransactionBase64 decodes a base64 wire transaction, e.g. one
// returned by a custodial signer or submitted to the broadcast endpoint.
// Decode failures are ErrInvalidInstructionData so callers can separate
// bad payloads from RPC trouble.
func DecodeTransactionBase64(txB64 string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(txB64)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction base64: %v", ErrInvalidInstructionData, err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: transaction bytes: %v", ErrInvalidInstructionData, err)
	}
	return tx, nil
}
