package solana

import "errors"

// Pipeline failures are classified with sentinel errors so callers can
// branch with errors.Is instead of parsing messages. Every stage of the
// assembler wraps its cause in exactly one of these.
var (
	// ErrConfigMissing indicates a required key, URL, or secret is absent
	// or malformed. Fatal; never retried.
	ErrConfigMissing = errors.New("required configuration missing")

	// ErrUnsupportedProgram indicates a mint owned by a program other than
	// SPL-Token or Token-2022.
	ErrUnsupportedProgram = errors.New("unsupported token program")

	// ErrAccountNotFound indicates a missing mint or associated token
	// account. Account creation is the caller's job.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidInstructionData indicates a third-party instruction payload
	// that failed to decode (bad base64, malformed pubkey). Distinct from
	// network failures so callers can tell bad quotes from flaky RPC.
	ErrInvalidInstructionData = errors.New("invalid instruction data")

	// ErrSimulationFailed indicates the draft transaction failed
	// simulation. Surfaced as-is; callers may rerun the whole pipeline
	// with a fresh blockhash.
	ErrSimulationFailed = errors.New("transaction simulation failed")

	// ErrBlockhashFetch indicates the finalized blockhash could not be
	// fetched.
	ErrBlockhashFetch = errors.New("blockhash fetch failed")

	// ErrSigningFailed indicates local signing failed or a delegated
	// signer returned no result.
	ErrSigningFailed = errors.New("signing failed")

	// ErrBroadcastFailed indicates the RPC node rejected the signed
	// transaction, or the transaction failed on-chain.
	ErrBroadcastFailed = errors.New("broadcast failed")
)
