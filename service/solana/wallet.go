package solana

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// WalletHandle identifies the account a transfer is built for, along
// with whatever key material the caller holds. A handle with a signing
// key signs locally; a handle with only an address is in delegated mode
// and produces unsigned artifacts for a custodial signer to countersign.
// An optional fee-payer keypair receives the platform fee legs; it is
// not the transaction payer.
type WalletHandle struct {
	address    solana.PublicKey
	signingKey *solana.PrivateKey
	feePayer   *solana.PrivateKey
}

// NewWalletHandle builds a self-custody handle from a base58-encoded
// ed25519 private key. The effective address is derived from the key.
func NewWalletHandle(signingKey string) (*WalletHandle, error) {
	key, err := solana.PrivateKeyFromBase58(signingKey)
	if err != nil {
		return nil, fmt.Errorf("%w: signing key: %v", ErrConfigMissing, err)
	}
	return &WalletHandle{
		address:    key.PublicKey(),
		signingKey: &key,
	}, nil
}

// NewDelegatedWalletHandle builds a handle for an address whose key
// lives with a custodial signing service. It can never sign locally.
func NewDelegatedWalletHandle(address string) (*WalletHandle, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("%w: wallet address %q: %v", ErrConfigMissing, address, err)
	}
	return &WalletHandle{address: pk}, nil
}

// WithFeePayer attaches a second funded keypair that receives the
// platform fee instructions. It returns the handle for chaining.
func (w *WalletHandle) WithFeePayer(feePayerKey string) (*WalletHandle, error) {
	key, err := solana.PrivateKeyFromBase58(feePayerKey)
	if err != nil {
		return nil, fmt.Errorf("%w: fee payer key: %v", ErrConfigMissing, err)
	}
	w.feePayer = &key
	return w, nil
}

// Pubkey returns the effective payer address.
func (w *WalletHandle) Pubkey() solana.PublicKey {
	return w.address
}

// CanSign reports whether a local signing key is present.
func (w *WalletHandle) CanSign() bool {
	return w.signingKey != nil
}

// SignMessage signs raw message bytes with the local ed25519 key.
// Calling it on a delegated handle is a programming error and panics;
// callers gate on CanSign.
func (w *WalletHandle) SignMessage(msg []byte) (solana.Signature, error) {
	if w.signingKey == nil {
		panic("solana: SignMessage called on a delegated wallet handle")
	}
	sig, err := w.signingKey.Sign(msg)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return sig, nil
}

// FeePayer returns the fee-payer keypair, if configured.
func (w *WalletHandle) FeePayer() (solana.PrivateKey, bool) {
	if w.feePayer == nil {
		return solana.PrivateKey{}, false
	}
	return *w.feePayer, true
}

// SignTransaction fills the signature slots the handle holds keys for,
// leaving other slots untouched. The message must list at least one of
// the handle's keys among its required signers.
func (w *WalletHandle) SignTransaction(tx *solana.Transaction) error {
	if !w.CanSign() {
		return fmt.Errorf("%w: wallet holds no local signing key", ErrSigningFailed)
	}
	if _, err := tx.PartialSign(w.signerFor); err != nil {
		return fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return nil
}

// signerFor resolves the private key for a required signer pubkey. It
// feeds solana.Transaction.Sign, which asks once per signer slot.
func (w *WalletHandle) signerFor(key solana.PublicKey) *solana.PrivateKey {
	if w.signingKey != nil && w.signingKey.PublicKey().Equals(key) {
		return w.signingKey
	}
	if w.feePayer != nil && w.feePayer.PublicKey().Equals(key) {
		return w.feePayer
	}
	return nil
}
