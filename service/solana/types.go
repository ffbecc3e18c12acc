package solana

import (
	"encoding/base64"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// TransferPlan describes a single transfer in human units.
// This is our domain model, independent of any wire format.
type TransferPlan struct {
	// Asset is the mint of the asset being moved. NativeMint denotes SOL
	// and bypasses the token-program lookup.
	Asset solana.PublicKey

	// Amount in human units (e.g. "0.07" SOL), converted to base units
	// with the mint's decimals at build time.
	Amount decimal.Decimal

	Recipient solana.PublicKey

	// Memo, when non-empty, is appended as the last program instruction
	// so it never affects account ordering for the preceding ones.
	Memo string

	// FeePercentage is the platform fee in percent of the gross amount,
	// split to the wallet's fee payer as a second instruction. It is never
	// subtracted from the recipient's leg. Zero disables the fee legs.
	FeePercentage float64

	// NoSigner forces an unsigned artifact even when the wallet holds a
	// local signing key.
	NoSigner bool
}

// Validate checks the plan invariants before any RPC work happens.
func (p TransferPlan) Validate() error {
	if p.Asset.IsZero() {
		return fmt.Errorf("transfer plan: asset is required")
	}
	if p.Recipient.IsZero() {
		return fmt.Errorf("transfer plan: recipient is required")
	}
	if p.Amount.Sign() <= 0 {
		return fmt.Errorf("transfer plan: amount must be positive, got %s", p.Amount)
	}
	if p.FeePercentage < 0 || p.FeePercentage >= 100 {
		return fmt.Errorf("transfer plan: fee percentage must be in [0, 100), got %v", p.FeePercentage)
	}
	return nil
}

// RawInstruction is the wire shape of an instruction returned by
// third-party quote endpoints (Jupiter Earn, Recurring). It is carried
// verbatim; Decode is the only transformation applied.
type RawInstruction struct {
	ProgramID string           `json:"programId"`
	Accounts  []RawAccountMeta `json:"accounts"`
	Data      string           `json:"data"` // base64
}

// RawAccountMeta mirrors the account metadata objects inside a
// RawInstruction.
type RawAccountMeta struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

// Decode converts the wire shape into a runnable instruction. Malformed
// pubkeys or base64 payloads yield ErrInvalidInstructionData.
func (ri RawInstruction) Decode() (solana.Instruction, error) {
	programID, err := solana.PublicKeyFromBase58(ri.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("%w: program id %q: %v", ErrInvalidInstructionData, ri.ProgramID, err)
	}

	accounts := make(solana.AccountMetaSlice, 0, len(ri.Accounts))
	for i, a := range ri.Accounts {
		pk, err := solana.PublicKeyFromBase58(a.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("%w: account %d (%q): %v", ErrInvalidInstructionData, i, a.Pubkey, err)
		}
		accounts = append(accounts, solana.NewAccountMeta(pk, a.IsWritable, a.IsSigner))
	}

	data, err := base64.StdEncoding.DecodeString(ri.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: instruction data: %v", ErrInvalidInstructionData, err)
	}

	return solana.NewInstruction(programID, accounts, data), nil
}

// Artifact is the outcome of assembling a transaction: either signed and
// ready to broadcast, or unsigned with placeholder signatures for a
// remote custodial signer to replace.
type Artifact struct {
	Tx     *solana.Transaction
	Signed bool
}

// NewSignedArtifact wraps a locally signed transaction.
func NewSignedArtifact(tx *solana.Transaction) *Artifact {
	return &Artifact{Tx: tx, Signed: true}
}

// NewUnsignedArtifact populates the transaction with zero-value
// placeholder signatures, one per required signer, so the serialized
// bytes carry the exact layout of a signed transaction. The wire format
// demands the signature slots exist before the real signer fills them in.
func NewUnsignedArtifact(tx *solana.Transaction) *Artifact {
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	return &Artifact{Tx: tx, Signed: false}
}

// Base64 returns the serialized transaction in standard base64, the
// encoding custodial signers and broadcast endpoints consume.
func (a *Artifact) Base64() (string, error) {
	raw, err := a.Tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("marshal transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Signature returns the payer signature of a signed artifact, or the
// zero signature for unsigned ones.
func (a *Artifact) Signature() solana.Signature {
	if !a.Signed || len(a.Tx.Signatures) == 0 {
		return solana.Signature{}
	}
	return a.Tx.Signatures[0]
}
