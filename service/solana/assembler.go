package solana

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/brojonat/solforge/service/metrics"
	"github.com/brojonat/solforge/service/priorityfee"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
)

// Assembly policy defaults. All of them are configurable; none is a hard
// invariant.
const (
	DefaultComputeUnitMargin = uint32(100_000)
	DefaultRelayFeeLamports  = uint64(5_000)
	DefaultConfirmTimeout    = 90 * time.Second
	DefaultConfirmInterval   = 2 * time.Second
)

// AssemblerConfig carries the policy knobs for transaction assembly.
// Zero durations and a zero compute-unit margin fall back to the package
// defaults; a zero relay fee disables the relay leg.
type AssemblerConfig struct {
	ComputeUnitMargin uint32
	RelayFeeLamports  uint64
	SkipPreflight     bool
	ConfirmTimeout    time.Duration
	ConfirmInterval   time.Duration
}

// Assembler orchestrates the transfer pipeline: build instructions,
// fetch a finalized blockhash, simulate the draft, size the compute
// budget, optionally price a priority fee, then sign locally or export
// an unsigned artifact for delegated signing. Each request is one
// sequential pass; nothing is cached between calls.
type Assembler struct {
	rpc             RPCClient
	builder         *InstructionBuilder
	priority        priorityfee.Provider
	margin          uint32
	skipPreflight   bool
	confirmTimeout  time.Duration
	confirmInterval time.Duration
	logger          *slog.Logger
	metrics         *metrics.Metrics
	endpoint        string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
}

// NewAssembler creates an assembler. provider may be nil, which disables
// priority-fee pricing entirely. The endpoint parameter is used for
// metrics labeling. If m is nil, no metrics will be recorded.
func NewAssembler(
	rpcClient RPCClient,
	provider priorityfee.Provider,
	cfg AssemblerConfig,
	endpoint string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ComputeUnitMargin == 0 {
		cfg.ComputeUnitMargin = DefaultComputeUnitMargin
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.ConfirmInterval == 0 {
		cfg.ConfirmInterval = DefaultConfirmInterval
	}
	return &Assembler{
		rpc:             rpcClient,
		builder:         NewInstructionBuilder(rpcClient, cfg.RelayFeeLamports, logger),
		priority:        provider,
		margin:          cfg.ComputeUnitMargin,
		skipPreflight:   cfg.SkipPreflight,
		confirmTimeout:  cfg.ConfirmTimeout,
		confirmInterval: cfg.ConfirmInterval,
		logger:          logger,
		metrics:         m,
		endpoint:        endpoint,
	}
}

// AssembleTransfer runs the full pipeline for a TransferPlan. Wallets
// without a local signing key, and plans with NoSigner set, yield an
// unsigned artifact carrying placeholder signatures.
func (a *Assembler) AssembleTransfer(ctx context.Context, wallet *WalletHandle, plan TransferPlan) (*Artifact, error) {
	instructions, err := a.builder.Build(ctx, wallet, plan)
	if err != nil {
		return nil, err
	}
	sign := wallet.CanSign() && !plan.NoSigner
	artifact, err := a.assemble(ctx, wallet, instructions, sign)
	if err != nil {
		return nil, err
	}
	a.recordAssembled(plan.Asset.String(), artifact)
	return artifact, nil
}

// AssembleRaw runs the pipeline over externally supplied instructions
// (earn and DCA quotes) without semantic transformation.
func (a *Assembler) AssembleRaw(ctx context.Context, wallet *WalletHandle, raw []RawInstruction, noSigner bool) (*Artifact, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no instructions supplied", ErrInvalidInstructionData)
	}
	instructions := make([]solana.Instruction, 0, len(raw))
	for _, ri := range raw {
		in, err := ri.Decode()
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, in)
	}
	sign := wallet.CanSign() && !noSigner
	artifact, err := a.assemble(ctx, wallet, instructions, sign)
	if err != nil {
		return nil, err
	}
	a.recordAssembled("raw", artifact)
	return artifact, nil
}

// assemble is the shared tail of the pipeline. instructions arrive in
// their final relative order; this adds the priority-fee instruction at
// index 0 and the compute-unit limit at the end, then signs or exports.
func (a *Assembler) assemble(ctx context.Context, wallet *WalletHandle, instructions []solana.Instruction, sign bool) (*Artifact, error) {
	blockhash, err := a.fetchBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	// First pass: draft without a compute-budget instruction, placeholder
	// signatures so the wire bytes deserialize on the node side.
	draft, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(wallet.Pubkey()))
	if err != nil {
		return nil, fmt.Errorf("build draft transaction: %w", err)
	}
	draft.Signatures = make([]solana.Signature, draft.Message.Header.NumRequiredSignatures)

	consumed, err := a.simulateUnits(ctx, draft)
	if err != nil {
		return nil, err
	}

	limit := consumed + uint64(a.margin)
	if limit > math.MaxUint32 {
		limit = math.MaxUint32
	}

	final := make([]solana.Instruction, 0, len(instructions)+2)

	if a.priority != nil {
		price, err := a.estimatePriorityFee(ctx, draft)
		if err != nil {
			return nil, err
		}
		priceIx, err := computebudget.NewSetComputeUnitPriceInstruction(price).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit price instruction: %w", err)
		}
		final = append(final, priceIx)
	}

	final = append(final, instructions...)

	// Appended last so it never reorders the already-simulated account
	// access list.
	limitIx, err := computebudget.NewSetComputeUnitLimitInstruction(uint32(limit)).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build compute unit limit instruction: %w", err)
	}
	final = append(final, limitIx)

	tx, err := solana.NewTransaction(final, blockhash, solana.TransactionPayer(wallet.Pubkey()))
	if err != nil {
		return nil, fmt.Errorf("build final transaction: %w", err)
	}

	if !sign {
		a.logger.InfoContext(ctx, "assembled unsigned transaction",
			"wallet", wallet.Pubkey().String(),
			"instructions", len(final),
			"compute_unit_limit", limit,
		)
		return NewUnsignedArtifact(tx), nil
	}

	if _, err := tx.Sign(wallet.signerFor); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	a.logger.InfoContext(ctx, "assembled signed transaction",
		"wallet", wallet.Pubkey().String(),
		"instructions", len(final),
		"compute_unit_limit", limit,
		"signature", tx.Signatures[0].String(),
	)
	return NewSignedArtifact(tx), nil
}

// fetchBlockhash requests a finalized-commitment blockhash. Finalized
// minimizes the chance the hash expires before submission.
func (a *Assembler) fetchBlockhash(ctx context.Context) (solana.Hash, error) {
	start := time.Now()
	out, err := a.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	a.recordRPC("GetLatestBlockhash", err, start)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("%w: %v", ErrBlockhashFetch, err)
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, fmt.Errorf("%w: empty response", ErrBlockhashFetch)
	}
	return out.Value.Blockhash, nil
}

// simulateUnits runs the draft through simulation and returns the
// consumed compute units. Simulation problems, including an Err in the
// simulation result, surface as ErrSimulationFailed and are never
// retried here.
func (a *Assembler) simulateUnits(ctx context.Context, tx *solana.Transaction) (uint64, error) {
	start := time.Now()
	out, err := a.rpc.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify: false,
	})
	a.recordRPC("SimulateTransaction", err, start)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSimulationFailed, err)
	}
	if out == nil || out.Value == nil {
		return 0, fmt.Errorf("%w: empty simulation response", ErrSimulationFailed)
	}
	if out.Value.Err != nil {
		a.logger.DebugContext(ctx, "simulation rejected draft",
			"err", out.Value.Err,
			"logs", out.Value.Logs,
		)
		return 0, fmt.Errorf("%w: %v", ErrSimulationFailed, out.Value.Err)
	}
	if out.Value.UnitsConsumed == nil {
		return 0, fmt.Errorf("%w: simulation reported no units consumed", ErrSimulationFailed)
	}
	if a.metrics != nil {
		a.metrics.RecordSimulatedComputeUnits(a.endpoint, float64(*out.Value.UnitsConsumed))
	}
	return *out.Value.UnitsConsumed, nil
}

// estimatePriorityFee prices the compute units via the configured
// provider. The draft is serialized with its placeholder signatures and
// handed over base58-encoded. A provider failure fails the assembly;
// silently defaulting would produce a transaction that may never land.
func (a *Assembler) estimatePriorityFee(ctx context.Context, draft *solana.Transaction) (uint64, error) {
	raw, err := draft.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("marshal draft transaction: %w", err)
	}
	price, err := a.priority.EstimateComputeUnitPrice(ctx, base58.Encode(raw))
	if err != nil {
		return 0, fmt.Errorf("estimate priority fee via %s: %w", a.priority.Name(), err)
	}
	a.logger.DebugContext(ctx, "estimated priority fee",
		"provider", a.priority.Name(),
		"micro_lamports", price,
	)
	if a.metrics != nil {
		a.metrics.RecordPriorityFee(a.priority.Name(), float64(price))
	}
	return price, nil
}

// Broadcast sends a signed artifact and returns its signature. The
// transaction is sent exactly once; retries risk double submission and
// belong to the caller.
func (a *Assembler) Broadcast(ctx context.Context, artifact *Artifact) (solana.Signature, error) {
	if artifact == nil || artifact.Tx == nil {
		return solana.Signature{}, fmt.Errorf("%w: no transaction", ErrBroadcastFailed)
	}
	if !artifact.Signed {
		return solana.Signature{}, fmt.Errorf("%w: transaction is not signed", ErrBroadcastFailed)
	}
	return a.BroadcastTransaction(ctx, artifact.Tx)
}

// BroadcastTransaction sends an already-signed transaction, e.g. one
// returned by a custodial signer.
func (a *Assembler) BroadcastTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	opts := rpc.TransactionOpts{
		SkipPreflight:       a.skipPreflight,
		PreflightCommitment: rpc.CommitmentProcessed,
	}

	start := time.Now()
	sig, err := a.rpc.SendTransactionWithOpts(ctx, tx, opts)
	a.recordRPC("SendTransaction", err, start)
	if a.metrics != nil {
		status := "sent"
		if err != nil {
			status = "error"
		}
		a.metrics.RecordTransactionBroadcast(status)
	}
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}

	a.logger.InfoContext(ctx, "broadcast transaction",
		"signature", sig.String(),
		"skip_preflight", a.skipPreflight,
	)
	return sig, nil
}

func (a *Assembler) recordRPC(method string, err error, start time.Time) {
	if a.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	a.metrics.RecordRPCCall(method, status, a.endpoint, time.Since(start).Seconds())
}

func (a *Assembler) recordAssembled(asset string, artifact *Artifact) {
	if a.metrics == nil {
		return
	}
	mode := "unsigned"
	if artifact.Signed {
		mode = "signed"
	}
	a.metrics.RecordTransferAssembled(asset, mode)
}
