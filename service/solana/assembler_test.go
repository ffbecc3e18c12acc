package solana

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient is a canned-response RPCClient. Each field pins what
// the corresponding call returns; no call-order bookkeeping.
type mockRPCClient struct {
	blockhash    solana.Hash
	blockhashErr error

	accounts   map[solana.PublicKey]*rpc.Account
	accountErr error

	unitsConsumed uint64
	simulateErr   error       // transport-level failure
	simulateTxErr interface{} // Err field inside the simulation result
	simulatedTx   *solana.Transaction

	sendSig solana.Signature
	sendErr error
	sentTx  *solana.Transaction

	statuses  []*rpc.SignatureStatusesResult // consumed one per poll
	statusErr error
}

func (m *mockRPCClient) GetLatestBlockhash(
	ctx context.Context,
	commitment rpc.CommitmentType,
) (*rpc.GetLatestBlockhashResult, error) {
	if m.blockhashErr != nil {
		return nil, m.blockhashErr
	}
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash:            m.blockhash,
			LastValidBlockHeight: 1000,
		},
	}, nil
}

func (m *mockRPCClient) GetAccountInfo(
	ctx context.Context,
	account solana.PublicKey,
) (*rpc.GetAccountInfoResult, error) {
	if m.accountErr != nil {
		return nil, m.accountErr
	}
	acct, ok := m.accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: acct}, nil
}

func (m *mockRPCClient) SimulateTransactionWithOpts(
	ctx context.Context,
	tx *solana.Transaction,
	opts *rpc.SimulateTransactionOpts,
) (*rpc.SimulateTransactionResponse, error) {
	if m.simulateErr != nil {
		return nil, m.simulateErr
	}
	m.simulatedTx = tx
	units := m.unitsConsumed
	return &rpc.SimulateTransactionResponse{
		Value: &rpc.SimulateTransactionResult{
			Err:           m.simulateTxErr,
			UnitsConsumed: &units,
		},
	}, nil
}

func (m *mockRPCClient) SendTransactionWithOpts(
	ctx context.Context,
	tx *solana.Transaction,
	opts rpc.TransactionOpts,
) (solana.Signature, error) {
	if m.sendErr != nil {
		return solana.Signature{}, m.sendErr
	}
	m.sentTx = tx
	return m.sendSig, nil
}

func (m *mockRPCClient) GetSignatureStatuses(
	ctx context.Context,
	searchTransactionHistory bool,
	signatures ...solana.Signature,
) (*rpc.GetSignatureStatusesResult, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	var status *rpc.SignatureStatusesResult
	if len(m.statuses) > 0 {
		status = m.statuses[0]
		m.statuses = m.statuses[1:]
	}
	return &rpc.GetSignatureStatusesResult{
		Value: []*rpc.SignatureStatusesResult{status},
	}, nil
}

// stubPriorityProvider satisfies priorityfee.Provider without HTTP.
type stubPriorityProvider struct {
	price uint64
	err   error
	// last transaction handed to the provider, base58
	gotTx string
}

func (s *stubPriorityProvider) EstimateComputeUnitPrice(ctx context.Context, txBase58 string) (uint64, error) {
	s.gotTx = txBase58
	if s.err != nil {
		return 0, s.err
	}
	return s.price, nil
}

func (s *stubPriorityProvider) Name() string { return "stub" }

var testBlockhash = solana.MustHashFromBase58("So11111111111111111111111111111111111111112")

func newTestAssembler(mock *mockRPCClient, provider *stubPriorityProvider) *Assembler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := AssemblerConfig{
		RelayFeeLamports: DefaultRelayFeeLamports,
		ConfirmTimeout:   500 * time.Millisecond,
		ConfirmInterval:  10 * time.Millisecond,
	}
	if provider == nil {
		return NewAssembler(mock, nil, cfg, "test", nil, logger)
	}
	return NewAssembler(mock, provider, cfg, "test", nil, logger)
}

// compiledPrograms maps each compiled instruction to its program id.
func compiledPrograms(t *testing.T, tx *solana.Transaction) []solana.PublicKey {
	t.Helper()
	programs := make([]solana.PublicKey, 0, len(tx.Message.Instructions))
	for _, ci := range tx.Message.Instructions {
		require.Less(t, int(ci.ProgramIDIndex), len(tx.Message.AccountKeys))
		programs = append(programs, tx.Message.AccountKeys[ci.ProgramIDIndex])
	}
	return programs
}

func TestAssembleTransfer_InstructionOrder(t *testing.T) {
	ctx := context.Background()
	wallet, _ := selfCustodyWallet(t)
	withFeePayer(t, wallet)

	mock := &mockRPCClient{
		blockhash:     testBlockhash,
		unitsConsumed: 150_000,
	}
	assembler := newTestAssembler(mock, nil)

	plan := TransferPlan{
		Asset:         NativeMint,
		Amount:        decimal.RequireFromString("1.0"),
		Recipient:     solana.NewWallet().PublicKey(),
		Memo:          "m",
		FeePercentage: 0.85,
	}

	artifact, err := assembler.AssembleTransfer(ctx, wallet, plan)
	require.NoError(t, err)
	require.True(t, artifact.Signed)

	// Without a provider: [transfer, fee, memo, computeBudget].
	programs := compiledPrograms(t, artifact.Tx)
	require.Len(t, programs, 4)
	assert.True(t, programs[0].Equals(system.ProgramID))
	assert.True(t, programs[1].Equals(system.ProgramID))
	assert.True(t, programs[2].Equals(MemoProgramID))
	assert.True(t, programs[3].Equals(computebudget.ProgramID))
}

func TestAssembleTransfer_PriorityFeeFirst(t *testing.T) {
	ctx := context.Background()
	wallet, _ := selfCustodyWallet(t)

	mock := &mockRPCClient{
		blockhash:     testBlockhash,
		unitsConsumed: 150_000,
	}
	provider := &stubPriorityProvider{price: 1234}
	assembler := newTestAssembler(mock, provider)

	plan := TransferPlan{
		Asset:     NativeMint,
		Amount:    decimal.RequireFromString("1.0"),
		Recipient: solana.NewWallet().PublicKey(),
	}

	artifact, err := assembler.AssembleTransfer(ctx, wallet, plan)
	require.NoError(t, err)
	require.NotEmpty(t, provider.gotTx, "provider should receive the base58 draft")

	// Priority fee instruction lands at index 0.
	programs := compiledPrograms(t, artifact.Tx)
	require.Len(t, programs, 3)
	assert.True(t, programs[0].Equals(computebudget.ProgramID))
	assert.True(t, programs[1].Equals(system.ProgramID))
	assert.True(t, programs[2].Equals(computebudget.ProgramID))

	// SetComputeUnitPrice carries the provider's price.
	priceData := artifact.Tx.Message.Instructions[0].Data
	require.Len(t, []byte(priceData), 9)
	assert.Equal(t, byte(3), priceData[0])
	assert.Equal(t, uint64(1234), binary.LittleEndian.Uint64(priceData[1:9]))
}

func TestAssembleTransfer_ComputeUnitCeiling(t *testing.T) {
	ctx := context.Background()
	wallet, _ := selfCustodyWallet(t)

	mock := &mockRPCClient{
		blockhash:     testBlockhash,
		unitsConsumed: 200_000,
	}
	assembler := newTestAssembler(mock, nil)

	plan := TransferPlan{
		Asset:     NativeMint,
		Amount:    decimal.RequireFromString("0.1"),
		Recipient: solana.NewWallet().PublicKey(),
	}

	artifact, err := assembler.AssembleTransfer(ctx, wallet, plan)
	require.NoError(t, err)

	// Ceiling = simulated units + margin; last instruction encodes it.
	instructions := artifact.Tx.Message.Instructions
	limitData := []byte(instructions[len(instructions)-1].Data)
	require.Len(t, limitData, 5)
	assert.Equal(t, byte(2), limitData[0])
	assert.Equal(t, uint32(300_000), binary.LittleEndian.Uint32(limitData[1:5]))
}

func TestAssembleTransfer_PriorityFeeFailureAborts(t *testing.T) {
	ctx := context.Background()
	wallet, _ := selfCustodyWallet(t)

	mock := &mockRPCClient{
		blockhash:     testBlockhash,
		unitsConsumed: 150_000,
	}
	provider := &stubPriorityProvider{err: assert.AnError}
	assembler := newTestAssembler(mock, provider)

	plan := TransferPlan{
		Asset:     NativeMint,
		Amount:    decimal.RequireFromString("1.0"),
		Recipient: solana.NewWallet().PublicKey(),
	}

	// No silent default: the whole assembly fails.
	_, err := assembler.AssembleTransfer(ctx, wallet, plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "estimate priority fee")
}

func TestAssembleTransfer_DelegatedProducesPlaceholder(t *testing.T) {
	ctx := context.Background()
	wallet, err := NewDelegatedWalletHandle(solana.NewWallet().PublicKey().String())
	require.NoError(t, err)

	mock := &mockRPCClient{
		blockhash:     testBlockhash,
		unitsConsumed: 150_000,
	}
	assembler := newTestAssembler(mock, nil)

	plan := TransferPlan{
		Asset:     NativeMint,
		Amount:    decimal.RequireFromString("1.0"),
		Recipient: solana.NewWallet().PublicKey(),
	}

	artifact, err := assembler.AssembleTransfer(ctx, wallet, plan)
	require.NoError(t, err)
	assert.False(t, artifact.Signed)

	// Placeholder signatures: correct count, all zero bytes.
	require.Len(t, artifact.Tx.Signatures, int(artifact.Tx.Message.Header.NumRequiredSignatures))
	for _, sig := range artifact.Tx.Signatures {
		assert.Equal(t, solana.Signature{}, sig)
	}

	// The artifact round-trips through its base64 export.
	encoded, err := artifact.Base64()
	require.NoError(t, err)
	decoded, err := DecodeTransactionBase64(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(artifact.Tx.Signatures), len(decoded.Signatures))
}

func TestAssembleTransfer_NoSignerOverridesLocalKey(t *testing.T) {
	ctx := context.Background()
	wallet, _ := selfCustodyWallet(t)

	mock := &mockRPCClient{
		blockhash:     testBlockhash,
		unitsConsumed: 100_000,
	}
	assembler := newTestAssembler(mock, nil)

	plan := TransferPlan{
		Asset:     NativeMint,
		Amount:    decimal.RequireFromString("1.0"),
		Recipient: solana.NewWallet().PublicKey(),
		NoSigner:  true,
	}

	artifact, err := assembler.AssembleTransfer(ctx, wallet, plan)
	require.NoError(t, err)
	assert.False(t, artifact.Signed)
}

func TestAssembleTransfer_BlockhashFailure(t *testing.T) {
	ctx := context.Background()
	wallet, _ := selfCustodyWallet(t)

	mock := &mockRPCClient{blockhashErr: assert.AnError}
	assembler := newTestAssembler(mock, nil)

	plan := TransferPlan{
		Asset:     NativeMint,
		Amount:    decimal.RequireFromString("1.0"),
		Recipient: solana.NewWallet().PublicKey(),
	}

	_, err := assembler.AssembleTransfer(ctx, wallet, plan)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlockhashFetch)
}

func TestAssembleTransfer_SimulationFailure(t *testing.T) {
	ctx := context.Background()
	wallet, _ := selfCustodyWallet(t)

	mock := &mockRPCClient{
		blockhash:     testBlockhash,
		simulateTxErr: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
	}
	assembler := newTestAssembler(mock, nil)

	plan := TransferPlan{
		Asset:     NativeMint,
		Amount:    decimal.RequireFromString("1.0"),
		Recipient: solana.NewWallet().PublicKey(),
	}

	_, err := assembler.AssembleTransfer(ctx, wallet, plan)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSimulationFailed)
}

func TestAssembleTransfer_SimulatedDraftHasNoComputeBudget(t *testing.T) {
	ctx := context.Background()
	wallet, _ := selfCustodyWallet(t)

	mock := &mockRPCClient{
		blockhash:     testBlockhash,
		unitsConsumed: 100_000,
	}
	assembler := newTestAssembler(mock, nil)

	plan := TransferPlan{
		Asset:     NativeMint,
		Amount:    decimal.RequireFromString("1.0"),
		Recipient: solana.NewWallet().PublicKey(),
	}

	_, err := assembler.AssembleTransfer(ctx, wallet, plan)
	require.NoError(t, err)

	// The simulated draft must not contain a compute-budget instruction.
	require.NotNil(t, mock.simulatedTx)
	for _, program := range compiledPrograms(t, mock.simulatedTx) {
		assert.False(t, program.Equals(computebudget.ProgramID))
	}
	// And it carried a placeholder signature so the bytes deserialize.
	require.Len(t, mock.simulatedTx.Signatures, int(mock.simulatedTx.Message.Header.NumRequiredSignatures))
}

func TestAssembleRaw(t *testing.T) {
	ctx := context.Background()
	wallet, _ := selfCustodyWallet(t)

	program := solana.NewWallet().PublicKey()
	raw := []RawInstruction{
		{
			ProgramID: program.String(),
			Accounts: []RawAccountMeta{
				{Pubkey: wallet.Pubkey().String(), IsSigner: true, IsWritable: true},
			},
			Data: "AQID", // [1, 2, 3]
		},
	}

	mock := &mockRPCClient{
		blockhash:     testBlockhash,
		unitsConsumed: 80_000,
	}
	assembler := newTestAssembler(mock, nil)

	artifact, err := assembler.AssembleRaw(ctx, wallet, raw, false)
	require.NoError(t, err)
	require.True(t, artifact.Signed)

	programs := compiledPrograms(t, artifact.Tx)
	require.Len(t, programs, 2)
	assert.True(t, programs[0].Equals(program))
	assert.True(t, programs[1].Equals(computebudget.ProgramID))
}

func TestAssembleRaw_DecodeFailure(t *testing.T) {
	ctx := context.Background()
	wallet, _ := selfCustodyWallet(t)

	mock := &mockRPCClient{blockhash: testBlockhash}
	assembler := newTestAssembler(mock, nil)

	_, err := assembler.AssembleRaw(ctx, wallet, []RawInstruction{{ProgramID: "junk"}}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInstructionData)

	_, err = assembler.AssembleRaw(ctx, wallet, nil, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInstructionData)
}

func TestBroadcast(t *testing.T) {
	ctx := context.Background()
	wallet, _ := selfCustodyWallet(t)

	sentSig := solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
	mock := &mockRPCClient{
		blockhash:     testBlockhash,
		unitsConsumed: 100_000,
		sendSig:       sentSig,
	}
	assembler := newTestAssembler(mock, nil)

	plan := TransferPlan{
		Asset:     NativeMint,
		Amount:    decimal.RequireFromString("1.0"),
		Recipient: solana.NewWallet().PublicKey(),
	}

	artifact, err := assembler.AssembleTransfer(ctx, wallet, plan)
	require.NoError(t, err)

	sig, err := assembler.Broadcast(ctx, artifact)
	require.NoError(t, err)
	assert.Equal(t, sentSig, sig)
	assert.Same(t, artifact.Tx, mock.sentTx)
}

func TestBroadcast_RefusesUnsigned(t *testing.T) {
	ctx := context.Background()
	wallet, err := NewDelegatedWalletHandle(solana.NewWallet().PublicKey().String())
	require.NoError(t, err)

	mock := &mockRPCClient{
		blockhash:     testBlockhash,
		unitsConsumed: 100_000,
	}
	assembler := newTestAssembler(mock, nil)

	plan := TransferPlan{
		Asset:     NativeMint,
		Amount:    decimal.RequireFromString("1.0"),
		Recipient: solana.NewWallet().PublicKey(),
	}

	artifact, err := assembler.AssembleTransfer(ctx, wallet, plan)
	require.NoError(t, err)

	_, err = assembler.Broadcast(ctx, artifact)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBroadcastFailed)
	assert.Nil(t, mock.sentTx, "nothing should reach the RPC layer")
}

func TestBroadcast_RPCRejection(t *testing.T) {
	ctx := context.Background()
	wallet, _ := selfCustodyWallet(t)

	mock := &mockRPCClient{
		blockhash:     testBlockhash,
		unitsConsumed: 100_000,
		sendErr:       assert.AnError,
	}
	assembler := newTestAssembler(mock, nil)

	plan := TransferPlan{
		Asset:     NativeMint,
		Amount:    decimal.RequireFromString("1.0"),
		Recipient: solana.NewWallet().PublicKey(),
	}

	artifact, err := assembler.AssembleTransfer(ctx, wallet, plan)
	require.NoError(t, err)

	_, err = assembler.Broadcast(ctx, artifact)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBroadcastFailed)
}
