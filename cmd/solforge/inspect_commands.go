package main

import (
	"fmt"

	solanalib "github.com/brojonat/solforge/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/mr-tron/base58"
	"github.com/urfave/cli/v2"
)

// inspectedTransaction is the decoded JSON view of a wire transaction.
type inspectedTransaction struct {
	Signatures         []inspectedSignature   `json:"signatures"`
	FeePayer           string                 `json:"fee_payer"`
	RecentBlockhash    string                 `json:"recent_blockhash"`
	RequiredSignatures int                    `json:"required_signatures"`
	Instructions       []inspectedInstruction `json:"instructions"`
}

// inspectedSignature marks placeholder (all-zero) signatures so unsigned
// artifacts are recognizable at a glance.
type inspectedSignature struct {
	Signature   string `json:"signature"`
	Placeholder bool   `json:"placeholder"`
}

type inspectedInstruction struct {
	Program     string   `json:"program"`
	ProgramName string   `json:"program_name,omitempty"`
	Accounts    []string `json:"accounts"`
	DataBase58  string   `json:"data_base58"`
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Decode a base64 transaction and print its contents",
		ArgsUsage: "TRANSACTION_BASE64",
		Description: `Decodes a wire transaction without touching the network. Works on both
signed transactions and unsigned artifacts (whose signature slots hold
placeholders). The transaction may also be piped on stdin.

Example:
  solforge transfer -r 7xKX... -a 0.1 --no-sign --json | \
    jq -r .transaction_base64 | solforge inspect --jq '.instructions'`,
		Action: func(c *cli.Context) error {
			txB64, err := readTransactionArg(c)
			if err != nil {
				return err
			}

			tx, err := solanalib.DecodeTransactionBase64(txB64)
			if err != nil {
				return fmt.Errorf("failed to decode transaction: %w", err)
			}

			view := newInspectedTransaction(tx)

			if c.Bool("json") || c.String("jq") != "" {
				return outputJSON(c, view)
			}

			fmt.Printf("Fee payer:       %s\n", view.FeePayer)
			fmt.Printf("Blockhash:       %s\n", view.RecentBlockhash)
			fmt.Printf("Required sigs:   %d\n", view.RequiredSignatures)
			for i, sig := range view.Signatures {
				if sig.Placeholder {
					fmt.Printf("Signature %d:     (placeholder)\n", i)
				} else {
					fmt.Printf("Signature %d:     %s\n", i, sig.Signature)
				}
			}
			for i, ix := range view.Instructions {
				fmt.Printf("─────────────────────────────────────────────────────\n")
				fmt.Printf("Instruction #%d\n", i)
				if ix.ProgramName != "" {
					fmt.Printf("Program:   %s (%s)\n", ix.Program, ix.ProgramName)
				} else {
					fmt.Printf("Program:   %s\n", ix.Program)
				}
				for _, account := range ix.Accounts {
					fmt.Printf("Account:   %s\n", account)
				}
				fmt.Printf("Data:      %s\n", ix.DataBase58)
			}
			return nil
		},
	}
}

func newInspectedTransaction(tx *solanago.Transaction) *inspectedTransaction {
	view := &inspectedTransaction{
		RecentBlockhash:    tx.Message.RecentBlockhash.String(),
		RequiredSignatures: int(tx.Message.Header.NumRequiredSignatures),
	}
	if len(tx.Message.AccountKeys) > 0 {
		view.FeePayer = tx.Message.AccountKeys[0].String()
	}

	for _, sig := range tx.Signatures {
		view.Signatures = append(view.Signatures, inspectedSignature{
			Signature:   sig.String(),
			Placeholder: sig.IsZero(),
		})
	}

	for _, ix := range tx.Message.Instructions {
		decoded := inspectedInstruction{
			DataBase58: base58.Encode(ix.Data),
		}
		if program, err := tx.Message.Program(ix.ProgramIDIndex); err == nil {
			decoded.Program = program.String()
			decoded.ProgramName = programName(program)
		}
		for _, accountIndex := range ix.Accounts {
			if account, err := tx.Message.Account(accountIndex); err == nil {
				decoded.Accounts = append(decoded.Accounts, account.String())
			}
		}
		view.Instructions = append(view.Instructions, decoded)
	}
	return view
}

// programName labels the programs transfers are assembled from; other
// programs render with an empty name.
func programName(program solanago.PublicKey) string {
	switch {
	case program.Equals(solanago.SystemProgramID):
		return "system"
	case program.Equals(solanago.TokenProgramID):
		return "spl-token"
	case program.Equals(solanalib.Token2022ProgramID):
		return "token-2022"
	case program.Equals(solanago.SPLAssociatedTokenAccountProgramID):
		return "associated-token-account"
	case program.Equals(solanalib.MemoProgramID):
		return "memo"
	case program.Equals(computebudget.ProgramID):
		return "compute-budget"
	}
	return ""
}
