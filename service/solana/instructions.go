package solana

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// Well-known Solana program and mint addresses
var (
	// NativeMint is the sentinel mint for native SOL. Plans carrying it
	// bypass the token-program lookup.
	NativeMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

	// Token2022ProgramID is the Token Extensions program. Mints owned
	// by it need their transfers routed there instead of the legacy
	// token program.
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

	// MemoProgramID is the SPL memo program.
	MemoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")
)

// TransferChecked discriminant, shared by both token programs.
const tokenInstructionTransferChecked = uint8(12)

// Mint account layout, shared by both token programs (Token-2022
// extensions live past the base layout):
// [0..36]  mint authority (u32 option tag + 32 bytes)
// [36..44] supply (u64 LE)
// [44]     decimals (u8)
// [45]     is_initialized (u8)
// [46..82] freeze authority
const (
	mintDecimalsOffset = 44
	mintAccountMinLen  = 46
)

// NativeDecimals is the decimal precision of SOL (1 SOL = 1e9 lamports).
const NativeDecimals = uint8(9)

// InstructionBuilder resolves token programs and associated accounts
// against a live RPC connection and emits the ordered instruction list
// for a TransferPlan. Order is fixed: primary transfer, optional fee
// legs, optional memo. Compute-budget and priority-fee instructions are
// added later by the assembler.
type InstructionBuilder struct {
	rpc              RPCClient
	relayFeeLamports uint64
	logger           *slog.Logger
}

// NewInstructionBuilder creates a builder. relayFeeLamports is the fixed
// lamport transfer added alongside the token fee leg to compensate the
// fee payer's off-chain account lookups; zero disables it.
func NewInstructionBuilder(rpcClient RPCClient, relayFeeLamports uint64, logger *slog.Logger) *InstructionBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &InstructionBuilder{
		rpc:              rpcClient,
		relayFeeLamports: relayFeeLamports,
		logger:           logger,
	}
}

// Build returns the plan's instructions in their fixed order. Token
// plans resolve the owning program and both associated token accounts on
// every call; ownership can change, so the lookup is never cached.
func (b *InstructionBuilder) Build(ctx context.Context, wallet *WalletHandle, plan TransferPlan) ([]solana.Instruction, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if plan.Asset.Equals(NativeMint) {
		return b.buildNative(ctx, wallet, plan)
	}
	return b.buildToken(ctx, wallet, plan)
}

func (b *InstructionBuilder) buildNative(ctx context.Context, wallet *WalletHandle, plan TransferPlan) ([]solana.Instruction, error) {
	lamports, err := BaseUnits(plan.Amount, NativeDecimals)
	if err != nil {
		return nil, err
	}

	instructions := []solana.Instruction{
		system.NewTransferInstruction(lamports, wallet.Pubkey(), plan.Recipient).Build(),
	}

	if feePayer, ok := wallet.FeePayer(); ok && plan.FeePercentage > 0 {
		fee := feeUnits(lamports, plan.FeePercentage)
		if fee > 0 {
			instructions = append(instructions,
				system.NewTransferInstruction(fee, wallet.Pubkey(), feePayer.PublicKey()).Build(),
			)
			b.logger.DebugContext(ctx, "added native fee leg",
				"fee_lamports", fee,
				"fee_percentage", plan.FeePercentage,
				"fee_payer", feePayer.PublicKey().String(),
			)
		}
	}

	if plan.Memo != "" {
		instructions = append(instructions, newMemoInstruction(plan.Memo, wallet.Pubkey()))
	}

	return instructions, nil
}

func (b *InstructionBuilder) buildToken(ctx context.Context, wallet *WalletHandle, plan TransferPlan) ([]solana.Instruction, error) {
	info, err := b.resolveMint(ctx, plan.Asset)
	if err != nil {
		return nil, err
	}

	amount, err := BaseUnits(plan.Amount, info.decimals)
	if err != nil {
		return nil, err
	}

	source, err := deriveAssociatedTokenAddress(wallet.Pubkey(), plan.Asset, info.program)
	if err != nil {
		return nil, fmt.Errorf("derive source token account: %w", err)
	}
	if err := b.requireAccount(ctx, source, "source token account"); err != nil {
		return nil, err
	}

	dest, err := deriveAssociatedTokenAddress(plan.Recipient, plan.Asset, info.program)
	if err != nil {
		return nil, fmt.Errorf("derive destination token account: %w", err)
	}
	if err := b.requireAccount(ctx, dest, "destination token account"); err != nil {
		return nil, err
	}

	instructions := []solana.Instruction{
		newTransferCheckedInstruction(info.program, source, plan.Asset, dest, wallet.Pubkey(), amount, info.decimals),
	}

	if feePayer, ok := wallet.FeePayer(); ok && plan.FeePercentage > 0 {
		fee := feeUnits(amount, plan.FeePercentage)
		if fee > 0 {
			feeDest, err := deriveAssociatedTokenAddress(feePayer.PublicKey(), plan.Asset, info.program)
			if err != nil {
				return nil, fmt.Errorf("derive fee token account: %w", err)
			}
			if err := b.requireAccount(ctx, feeDest, "fee token account"); err != nil {
				return nil, err
			}
			instructions = append(instructions,
				newTransferCheckedInstruction(info.program, source, plan.Asset, feeDest, wallet.Pubkey(), fee, info.decimals),
			)
			// The fixed relay transfer compensates the fee payer for the
			// account lookups it performs off-chain.
			if b.relayFeeLamports > 0 {
				instructions = append(instructions,
					system.NewTransferInstruction(b.relayFeeLamports, wallet.Pubkey(), feePayer.PublicKey()).Build(),
				)
			}
			b.logger.DebugContext(ctx, "added token fee legs",
				"fee_base_units", fee,
				"fee_percentage", plan.FeePercentage,
				"relay_lamports", b.relayFeeLamports,
				"fee_payer", feePayer.PublicKey().String(),
			)
		}
	}

	if plan.Memo != "" {
		instructions = append(instructions, newMemoInstruction(plan.Memo, wallet.Pubkey()))
	}

	return instructions, nil
}

// mintInfo is the per-request result of the mandatory mint lookup.
type mintInfo struct {
	program  solana.PublicKey
	decimals uint8
}

// resolveMint reads the mint account and classifies its owning program.
// An owner outside the two known token programs always yields
// ErrUnsupportedProgram, never a silently-wrong instruction.
func (b *InstructionBuilder) resolveMint(ctx context.Context, mint solana.PublicKey) (mintInfo, error) {
	out, err := b.rpc.GetAccountInfo(ctx, mint)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return mintInfo{}, fmt.Errorf("%w: mint %s", ErrAccountNotFound, mint)
		}
		return mintInfo{}, fmt.Errorf("fetch mint %s: %w", mint, err)
	}
	if out == nil || out.Value == nil {
		return mintInfo{}, fmt.Errorf("%w: mint %s", ErrAccountNotFound, mint)
	}

	owner := out.Value.Owner
	if !owner.Equals(solana.TokenProgramID) && !owner.Equals(Token2022ProgramID) {
		return mintInfo{}, fmt.Errorf("%w: mint %s is owned by %s", ErrUnsupportedProgram, mint, owner)
	}

	data := out.Value.Data.GetBinary()
	if len(data) < mintAccountMinLen {
		return mintInfo{}, fmt.Errorf("mint %s account data too short: %d bytes", mint, len(data))
	}
	decimals := data[mintDecimalsOffset]

	b.logger.DebugContext(ctx, "resolved mint",
		"mint", mint.String(),
		"program", owner.String(),
		"decimals", decimals,
	)

	return mintInfo{program: owner, decimals: decimals}, nil
}

// requireAccount fails with ErrAccountNotFound when the account does not
// exist on-chain. Creation is the caller's job.
func (b *InstructionBuilder) requireAccount(ctx context.Context, account solana.PublicKey, label string) error {
	out, err := b.rpc.GetAccountInfo(ctx, account)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return fmt.Errorf("%w: %s %s", ErrAccountNotFound, label, account)
		}
		return fmt.Errorf("fetch %s %s: %w", label, account, err)
	}
	if out == nil || out.Value == nil {
		return fmt.Errorf("%w: %s %s", ErrAccountNotFound, label, account)
	}
	return nil
}

// deriveAssociatedTokenAddress derives the associated token account for
// an owner and mint. The owning token program is part of the seeds, so
// Token-2022 accounts live at different addresses than SPL-Token ones.
func deriveAssociatedTokenAddress(owner, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{owner.Bytes(), tokenProgram.Bytes(), mint.Bytes()},
		solana.SPLAssociatedTokenAccountProgramID,
	)
	return addr, err
}

// newTransferCheckedInstruction encodes a TransferChecked instruction.
// Data layout: [0] = instruction type (12), [1..9] = amount (u64 LE),
// [9] = decimals. Account order: source, mint, destination, authority.
// Hand-encoded so the same instruction serves both token programs.
func newTransferCheckedInstruction(
	tokenProgram solana.PublicKey,
	source solana.PublicKey,
	mint solana.PublicKey,
	destination solana.PublicKey,
	authority solana.PublicKey,
	amount uint64,
	decimals uint8,
) solana.Instruction {
	data := make([]byte, 10)
	data[0] = tokenInstructionTransferChecked
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(source, true, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(destination, true, false),
		solana.NewAccountMeta(authority, false, true),
	}

	return solana.NewInstruction(tokenProgram, accounts, data)
}

// newMemoInstruction encodes a memo as raw UTF-8 bytes with the sender
// as the sole signer account.
func newMemoInstruction(memo string, signer solana.PublicKey) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(signer, false, true),
	}
	return solana.NewInstruction(MemoProgramID, accounts, []byte(memo))
}

// BaseUnits converts a human-unit amount to base units:
// floor(amount * 10^decimals). Exact decimal arithmetic, no float
// rounding ("0.07" at 9 decimals is exactly 70000000).
func BaseUnits(amount decimal.Decimal, decimals uint8) (uint64, error) {
	shifted := amount.Shift(int32(decimals)).Floor()
	if shifted.Sign() <= 0 {
		return 0, fmt.Errorf("amount %s rounds to zero at %d decimals", amount, decimals)
	}
	v := shifted.BigInt()
	if !v.IsUint64() {
		return 0, fmt.Errorf("amount %s overflows uint64 at %d decimals", amount, decimals)
	}
	return v.Uint64(), nil
}

// feeUnits computes the platform fee in base units:
// floor(baseUnits * feePercentage / 100).
func feeUnits(baseUnits uint64, feePercentage float64) uint64 {
	fee := decimal.NewFromUint64(baseUnits).
		Mul(decimal.NewFromFloat(feePercentage)).
		Div(decimal.NewFromInt(100)).
		Floor()
	v := fee.BigInt()
	if !v.IsUint64() {
		return 0
	}
	return v.Uint64()
}
