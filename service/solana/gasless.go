package solana

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// SignGasless applies the payer-split signing order used when a funded
// payer covers fees for a transaction moving someone else's assets: the
// payer signs the message bytes first, then the user, and the signature
// list is populated as exactly [payer, user] to match the message's
// declared signer order. Reversed order fails signature verification
// even though both signatures are individually valid.
func SignGasless(payer, user solana.PrivateKey, tx *solana.Transaction) error {
	if tx == nil {
		return fmt.Errorf("%w: no transaction", ErrSigningFailed)
	}
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(payer.PublicKey()) {
		return fmt.Errorf("%w: message fee payer %s is not the gasless payer %s",
			ErrSigningFailed, firstAccountKey(tx), payer.PublicKey())
	}
	if tx.Message.Header.NumRequiredSignatures < 2 {
		return fmt.Errorf("%w: message declares %d required signatures, gasless needs 2",
			ErrSigningFailed, tx.Message.Header.NumRequiredSignatures)
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	payerSig, err := payer.Sign(msg)
	if err != nil {
		return fmt.Errorf("%w: payer signature: %v", ErrSigningFailed, err)
	}
	userSig, err := user.Sign(msg)
	if err != nil {
		return fmt.Errorf("%w: user signature: %v", ErrSigningFailed, err)
	}

	tx.Signatures = []solana.Signature{payerSig, userSig}
	return nil
}

func firstAccountKey(tx *solana.Transaction) string {
	if len(tx.Message.AccountKeys) == 0 {
		return "<none>"
	}
	return tx.Message.AccountKeys[0].String()
}
