package solana

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testAccount builds an rpc.Account the same way the RPC layer does:
// through its JSON representation. Account data fields are unexported,
// so this is the supported construction path.
func testAccount(t *testing.T, owner solana.PublicKey, data []byte) *rpc.Account {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"lamports":   uint64(2_039_280),
		"owner":      owner.String(),
		"data":       []string{base64.StdEncoding.EncodeToString(data), "base64"},
		"executable": false,
	})
	require.NoError(t, err)
	var acct rpc.Account
	require.NoError(t, json.Unmarshal(payload, &acct))
	return &acct
}

// mintAccount builds a minimal mint account with the given decimals at
// the documented layout offset.
func mintAccount(t *testing.T, program solana.PublicKey, decimals uint8) *rpc.Account {
	t.Helper()
	data := make([]byte, 82)
	data[mintDecimalsOffset] = decimals
	data[45] = 1 // is_initialized
	return testAccount(t, program, data)
}

func newTestBuilder(mock *mockRPCClient) *InstructionBuilder {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewInstructionBuilder(mock, DefaultRelayFeeLamports, logger)
}

func selfCustodyWallet(t *testing.T) (*WalletHandle, solana.PrivateKey) {
	t.Helper()
	key := solana.NewWallet().PrivateKey
	wallet, err := NewWalletHandle(key.String())
	require.NoError(t, err)
	return wallet, key
}

func withFeePayer(t *testing.T, wallet *WalletHandle) solana.PrivateKey {
	t.Helper()
	feeKey := solana.NewWallet().PrivateKey
	_, err := wallet.WithFeePayer(feeKey.String())
	require.NoError(t, err)
	return feeKey
}

func TestBuild_NativeWithFeeAndMemo(t *testing.T) {
	ctx := context.Background()
	wallet, _ := selfCustodyWallet(t)
	feeKey := withFeePayer(t, wallet)
	recipient := solana.NewWallet().PublicKey()

	builder := newTestBuilder(&mockRPCClient{})

	plan := TransferPlan{
		Asset:         NativeMint,
		Amount:        decimal.RequireFromString("1.0"),
		Recipient:     recipient,
		Memo:          "order-42",
		FeePercentage: 0.85,
	}

	instructions, err := builder.Build(ctx, wallet, plan)
	require.NoError(t, err)
	require.Len(t, instructions, 3)

	// Fixed order: transfer, fee, memo.
	assert.True(t, instructions[0].ProgramID().Equals(system.ProgramID))
	assert.True(t, instructions[1].ProgramID().Equals(system.ProgramID))
	assert.True(t, instructions[2].ProgramID().Equals(MemoProgramID))

	// Primary leg carries the full gross amount.
	data, err := instructions[0].Data()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 12)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(data[0:4]))
	assert.Equal(t, uint64(1_000_000_000), binary.LittleEndian.Uint64(data[4:12]))

	// Fee leg: 0.85% of 1 SOL, never subtracted from the recipient leg.
	feeData, err := instructions[1].Data()
	require.NoError(t, err)
	assert.Equal(t, uint64(8_500_000), binary.LittleEndian.Uint64(feeData[4:12]))
	feeAccounts := instructions[1].Accounts()
	require.Len(t, feeAccounts, 2)
	assert.True(t, feeAccounts[1].PublicKey.Equals(feeKey.PublicKey()))

	memoData, err := instructions[2].Data()
	require.NoError(t, err)
	assert.Equal(t, []byte("order-42"), memoData)
}

func TestBuild_NativeWithoutFeePayer(t *testing.T) {
	ctx := context.Background()
	wallet, _ := selfCustodyWallet(t)
	recipient := solana.NewWallet().PublicKey()

	builder := newTestBuilder(&mockRPCClient{})

	plan := TransferPlan{
		Asset:         NativeMint,
		Amount:        decimal.RequireFromString("0.5"),
		Recipient:     recipient,
		FeePercentage: 0.85, // no fee payer configured, so no fee leg
	}

	instructions, err := builder.Build(ctx, wallet, plan)
	require.NoError(t, err)
	require.Len(t, instructions, 1)
	assert.True(t, instructions[0].ProgramID().Equals(system.ProgramID))
}

func TestBuild_TokenTransferWithFeeLegs(t *testing.T) {
	ctx := context.Background()
	wallet, _ := selfCustodyWallet(t)
	feeKey := withFeePayer(t, wallet)
	recipient := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	source, err := deriveAssociatedTokenAddress(wallet.Pubkey(), mint, solana.TokenProgramID)
	require.NoError(t, err)
	dest, err := deriveAssociatedTokenAddress(recipient, mint, solana.TokenProgramID)
	require.NoError(t, err)
	feeDest, err := deriveAssociatedTokenAddress(feeKey.PublicKey(), mint, solana.TokenProgramID)
	require.NoError(t, err)

	mock := &mockRPCClient{
		accounts: map[solana.PublicKey]*rpc.Account{
			mint:    mintAccount(t, solana.TokenProgramID, 6),
			source:  testAccount(t, solana.TokenProgramID, make([]byte, 165)),
			dest:    testAccount(t, solana.TokenProgramID, make([]byte, 165)),
			feeDest: testAccount(t, solana.TokenProgramID, make([]byte, 165)),
		},
	}
	builder := newTestBuilder(mock)

	plan := TransferPlan{
		Asset:         mint,
		Amount:        decimal.RequireFromString("25"),
		Recipient:     recipient,
		Memo:          "invoice 7",
		FeePercentage: 0.85,
	}

	instructions, err := builder.Build(ctx, wallet, plan)
	require.NoError(t, err)
	require.Len(t, instructions, 4)

	// transferChecked main leg: source, mint, dest, authority.
	assert.True(t, instructions[0].ProgramID().Equals(solana.TokenProgramID))
	data, err := instructions[0].Data()
	require.NoError(t, err)
	require.Len(t, data, 10)
	assert.Equal(t, tokenInstructionTransferChecked, data[0])
	assert.Equal(t, uint64(25_000_000), binary.LittleEndian.Uint64(data[1:9]))
	assert.Equal(t, uint8(6), data[9])

	accounts := instructions[0].Accounts()
	require.Len(t, accounts, 4)
	assert.True(t, accounts[0].PublicKey.Equals(source))
	assert.True(t, accounts[1].PublicKey.Equals(mint))
	assert.True(t, accounts[2].PublicKey.Equals(dest))
	assert.True(t, accounts[3].PublicKey.Equals(wallet.Pubkey()))
	assert.True(t, accounts[3].IsSigner)

	// Token fee leg to the fee payer's associated account.
	assert.True(t, instructions[1].ProgramID().Equals(solana.TokenProgramID))
	feeData, err := instructions[1].Data()
	require.NoError(t, err)
	assert.Equal(t, uint64(212_500), binary.LittleEndian.Uint64(feeData[1:9]))
	feeAccounts := instructions[1].Accounts()
	assert.True(t, feeAccounts[2].PublicKey.Equals(feeDest))

	// Fixed relay transfer alongside the token fee leg.
	assert.True(t, instructions[2].ProgramID().Equals(system.ProgramID))
	relayData, err := instructions[2].Data()
	require.NoError(t, err)
	assert.Equal(t, DefaultRelayFeeLamports, binary.LittleEndian.Uint64(relayData[4:12]))

	// Memo appended last so it never reorders the preceding accounts.
	assert.True(t, instructions[3].ProgramID().Equals(MemoProgramID))
}

func TestBuild_Token2022UsesOwningProgram(t *testing.T) {
	ctx := context.Background()
	wallet, _ := selfCustodyWallet(t)
	recipient := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	source, err := deriveAssociatedTokenAddress(wallet.Pubkey(), mint, Token2022ProgramID)
	require.NoError(t, err)
	dest, err := deriveAssociatedTokenAddress(recipient, mint, Token2022ProgramID)
	require.NoError(t, err)

	mock := &mockRPCClient{
		accounts: map[solana.PublicKey]*rpc.Account{
			mint:   mintAccount(t, Token2022ProgramID, 9),
			source: testAccount(t, Token2022ProgramID, make([]byte, 165)),
			dest:   testAccount(t, Token2022ProgramID, make([]byte, 165)),
		},
	}
	builder := newTestBuilder(mock)

	plan := TransferPlan{
		Asset:     mint,
		Amount:    decimal.RequireFromString("0.07"),
		Recipient: recipient,
	}

	instructions, err := builder.Build(ctx, wallet, plan)
	require.NoError(t, err)
	require.Len(t, instructions, 1)
	assert.True(t, instructions[0].ProgramID().Equals(Token2022ProgramID))

	data, err := instructions[0].Data()
	require.NoError(t, err)
	assert.Equal(t, uint64(70_000_000), binary.LittleEndian.Uint64(data[1:9]))
	assert.Equal(t, uint8(9), data[9])
}

func TestBuild_UnknownMintOwnerFails(t *testing.T) {
	ctx := context.Background()
	wallet, _ := selfCustodyWallet(t)
	mint := solana.NewWallet().PublicKey()
	bogusProgram := solana.NewWallet().PublicKey()

	mock := &mockRPCClient{
		accounts: map[solana.PublicKey]*rpc.Account{
			mint: mintAccount(t, bogusProgram, 6),
		},
	}
	builder := newTestBuilder(mock)

	plan := TransferPlan{
		Asset:     mint,
		Amount:    decimal.RequireFromString("1"),
		Recipient: solana.NewWallet().PublicKey(),
	}

	_, err := builder.Build(ctx, wallet, plan)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedProgram)
}

func TestBuild_MissingMintFails(t *testing.T) {
	ctx := context.Background()
	wallet, _ := selfCustodyWallet(t)

	builder := newTestBuilder(&mockRPCClient{})

	plan := TransferPlan{
		Asset:     solana.NewWallet().PublicKey(),
		Amount:    decimal.RequireFromString("1"),
		Recipient: solana.NewWallet().PublicKey(),
	}

	_, err := builder.Build(ctx, wallet, plan)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestBuild_MissingDestinationAccountFails(t *testing.T) {
	ctx := context.Background()
	wallet, _ := selfCustodyWallet(t)
	recipient := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	source, err := deriveAssociatedTokenAddress(wallet.Pubkey(), mint, solana.TokenProgramID)
	require.NoError(t, err)

	// Recipient's associated token account deliberately absent.
	mock := &mockRPCClient{
		accounts: map[solana.PublicKey]*rpc.Account{
			mint:   mintAccount(t, solana.TokenProgramID, 6),
			source: testAccount(t, solana.TokenProgramID, make([]byte, 165)),
		},
	}
	builder := newTestBuilder(mock)

	plan := TransferPlan{
		Asset:     mint,
		Amount:    decimal.RequireFromString("1"),
		Recipient: recipient,
	}

	_, err = builder.Build(ctx, wallet, plan)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.Contains(t, err.Error(), "destination token account")
}

func TestBuild_InvalidPlan(t *testing.T) {
	ctx := context.Background()
	wallet, _ := selfCustodyWallet(t)
	builder := newTestBuilder(&mockRPCClient{})

	tests := []struct {
		name string
		plan TransferPlan
	}{
		{
			name: "zero amount",
			plan: TransferPlan{
				Asset:     NativeMint,
				Amount:    decimal.Zero,
				Recipient: solana.NewWallet().PublicKey(),
			},
		},
		{
			name: "negative amount",
			plan: TransferPlan{
				Asset:     NativeMint,
				Amount:    decimal.RequireFromString("-1"),
				Recipient: solana.NewWallet().PublicKey(),
			},
		},
		{
			name: "missing recipient",
			plan: TransferPlan{
				Asset:  NativeMint,
				Amount: decimal.RequireFromString("1"),
			},
		},
		{
			name: "fee percentage out of range",
			plan: TransferPlan{
				Asset:         NativeMint,
				Amount:        decimal.RequireFromString("1"),
				Recipient:     solana.NewWallet().PublicKey(),
				FeePercentage: 100,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := builder.Build(ctx, wallet, tc.plan)
			assert.Error(t, err)
		})
	}
}

func TestBaseUnits(t *testing.T) {
	tests := []struct {
		amount   string
		decimals uint8
		want     uint64
	}{
		{"0.07", 9, 70_000_000},
		{"1.0", 9, 1_000_000_000},
		{"25", 6, 25_000_000},
		{"0.000001", 6, 1},
		{"1.9999999999", 9, 1_999_999_999}, // floored, never rounded up
	}

	for _, tc := range tests {
		got, err := BaseUnits(decimal.RequireFromString(tc.amount), tc.decimals)
		require.NoError(t, err, "amount %s", tc.amount)
		assert.Equal(t, tc.want, got, "amount %s at %d decimals", tc.amount, tc.decimals)
	}
}

func TestBaseUnits_RoundsToZero(t *testing.T) {
	_, err := BaseUnits(decimal.RequireFromString("0.1"), 0)
	assert.Error(t, err)
}

func TestFeeUnits(t *testing.T) {
	assert.Equal(t, uint64(8_500_000), feeUnits(1_000_000_000, 0.85))
	assert.Equal(t, uint64(212_500), feeUnits(25_000_000, 0.85))
	assert.Equal(t, uint64(0), feeUnits(10, 0.85)) // floors to zero
}

func TestRawInstruction_Decode(t *testing.T) {
	program := solana.NewWallet().PublicKey()
	account := solana.NewWallet().PublicKey()

	raw := RawInstruction{
		ProgramID: program.String(),
		Accounts: []RawAccountMeta{
			{Pubkey: account.String(), IsSigner: true, IsWritable: true},
		},
		Data: base64.StdEncoding.EncodeToString([]byte{1, 2, 3}),
	}

	ix, err := raw.Decode()
	require.NoError(t, err)
	assert.True(t, ix.ProgramID().Equals(program))

	accounts := ix.Accounts()
	require.Len(t, accounts, 1)
	assert.True(t, accounts[0].PublicKey.Equals(account))
	assert.True(t, accounts[0].IsSigner)
	assert.True(t, accounts[0].IsWritable)

	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}

func TestRawInstruction_DecodeErrors(t *testing.T) {
	valid := solana.NewWallet().PublicKey().String()

	tests := []struct {
		name string
		raw  RawInstruction
	}{
		{
			name: "bad program id",
			raw:  RawInstruction{ProgramID: "not-a-pubkey", Data: ""},
		},
		{
			name: "bad account pubkey",
			raw: RawInstruction{
				ProgramID: valid,
				Accounts:  []RawAccountMeta{{Pubkey: "!!!"}},
			},
		},
		{
			name: "bad base64 data",
			raw:  RawInstruction{ProgramID: valid, Data: "%%%not-base64%%%"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.raw.Decode()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInstructionData)
		})
	}
}
