package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/brojonat/solforge/client"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// newAPIClient builds a transfer service client from the global
// --server-url flag. Client logs go to stderr so stdout stays parseable.
func newAPIClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

// readTransactionArg returns the first positional argument, or the
// whole of stdin when the argument is missing or "-". Lets signed
// artifacts pipe between commands.
func readTransactionArg(c *cli.Context) (string, error) {
	arg := c.Args().First()
	if arg != "" && arg != "-" {
		return arg, nil
	}
	raw, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read transaction from stdin: %w", err)
	}
	tx := strings.TrimSpace(string(raw))
	if tx == "" {
		return "", fmt.Errorf("no transaction provided (pass it as an argument or on stdin)")
	}
	return tx, nil
}

func transferCommand() *cli.Command {
	return &cli.Command{
		Name:  "transfer",
		Usage: "Assemble (and optionally sign and broadcast) a transfer from the service wallet",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "recipient",
				Aliases:  []string{"r"},
				Usage:    "Recipient wallet address",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "amount",
				Aliases:  []string{"a"},
				Usage:    "Amount in human units (e.g. 0.25)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "asset",
				Usage: "\"sol\" or an SPL token mint address",
				Value: "sol",
			},
			&cli.StringFlag{
				Name:    "memo",
				Aliases: []string{"m"},
				Usage:   "Memo to attach to the transfer",
			},
			&cli.BoolFlag{
				Name:  "no-sign",
				Usage: "Export an unsigned transaction instead of signing",
			},
			&cli.BoolFlag{
				Name:    "broadcast",
				Aliases: []string{"b"},
				Usage:   "Broadcast the signed transaction",
			},
			&cli.BoolFlag{
				Name:  "await",
				Usage: "Block until the transfer confirms or fails (implies --broadcast)",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "How long to wait with --await",
				Value:   2 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			apiClient := newAPIClient(c)

			result, err := apiClient.CreateTransfer(c.Context, client.CreateTransferRequest{
				Recipient: c.String("recipient"),
				Asset:     c.String("asset"),
				Amount:    c.String("amount"),
				Memo:      c.String("memo"),
				NoSign:    c.Bool("no-sign"),
				Broadcast: c.Bool("broadcast") || c.Bool("await"),
			})
			if err != nil {
				return fmt.Errorf("failed to create transfer: %w", err)
			}

			if !c.Bool("await") {
				if c.Bool("json") {
					return outputJSON(c, result)
				}
				printCreateResult(result)
				return nil
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			fmt.Fprintf(os.Stderr, "Waiting for transfer %s...\n", result.Transfer.ID)
			event, err := apiClient.Await(ctx, result.Transfer.WalletAddress, func(ev *client.TransferEvent) bool {
				return ev.TransferID == result.Transfer.ID &&
					(ev.Status == "confirmed" || ev.Status == "failed")
			})
			if err != nil {
				return fmt.Errorf("failed to await transfer: %w", err)
			}

			if c.Bool("json") {
				if err := outputJSON(c, event); err != nil {
					return err
				}
			} else {
				printTransferEvent(event)
			}
			if event.Status == "failed" {
				return fmt.Errorf("transfer failed: %s", event.FailureReason)
			}
			return nil
		},
	}
}

func signCommand() *cli.Command {
	return &cli.Command{
		Name:      "sign",
		Usage:     "Sign a base64 transaction through the server's signing endpoint",
		ArgsUsage: "TRANSACTION_BASE64",
		Description: `Signs an assembled transaction. Without --wallet-id the server signs
with its local key; with one, signing is delegated to the custodial
bridge. Use --user to resolve a wallet id from a Privy user id first.

The transaction may also be piped on stdin.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "wallet-id",
				Aliases: []string{"w"},
				Usage:   "Custodial wallet id to sign with (empty = server's local key)",
			},
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "Privy user id whose delegated wallet should sign",
			},
		},
		Action: func(c *cli.Context) error {
			txB64, err := readTransactionArg(c)
			if err != nil {
				return err
			}

			walletID := c.String("wallet-id")
			if walletID == "" && c.String("user") != "" {
				wallet, err := findDelegatedWallet(c, c.String("user"))
				if err != nil {
					return err
				}
				walletID = wallet.WalletID
				fmt.Fprintf(os.Stderr, "Resolved wallet %s (%s)\n", wallet.WalletID, wallet.Address)
			}

			result, err := newAPIClient(c).SignTransaction(c.Context, txB64, walletID)
			if err != nil {
				return fmt.Errorf("failed to sign transaction: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, result)
			}
			fmt.Fprintf(os.Stderr, "✓ Signed via %s signer (signature %s)\n", result.Signer, result.Signature)
			fmt.Println(result.TransactionBase64)
			return nil
		},
	}
}

func broadcastCommand() *cli.Command {
	return &cli.Command{
		Name:      "broadcast",
		Usage:     "Broadcast a signed base64 transaction",
		ArgsUsage: "TRANSACTION_BASE64",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "transfer-id",
				Usage: "Journal entry to associate the broadcast with",
			},
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Hand the broadcast to the durable submission workflow",
			},
		},
		Action: func(c *cli.Context) error {
			txB64, err := readTransactionArg(c)
			if err != nil {
				return err
			}

			result, err := newAPIClient(c).BroadcastTransaction(c.Context, txB64, c.String("transfer-id"), c.Bool("durable"))
			if err != nil {
				return fmt.Errorf("failed to broadcast transaction: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, result)
			}
			if result.WorkflowID != "" {
				fmt.Printf("✓ Broadcast accepted (workflow: %s)\n", result.WorkflowID)
			} else {
				fmt.Printf("✓ Broadcast sent (signature: %s)\n", result.Signature)
			}
			return nil
		},
	}
}

func feeEstimateCommand() *cli.Command {
	return &cli.Command{
		Name:      "estimate",
		Usage:     "Price the compute-unit rate for a draft transaction",
		ArgsUsage: "TRANSACTION_BASE64",
		Action: func(c *cli.Context) error {
			txB64, err := readTransactionArg(c)
			if err != nil {
				return err
			}

			estimate, err := newAPIClient(c).EstimateFee(c.Context, txB64)
			if err != nil {
				return fmt.Errorf("failed to estimate fee: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, estimate)
			}
			fmt.Printf("Provider:           %s\n", estimate.Provider)
			fmt.Printf("Compute unit price: %d micro-lamports\n", estimate.ComputeUnitPrice)
			return nil
		},
	}
}

func awaitCommand() *cli.Command {
	return &cli.Command{
		Name:  "await",
		Usage: "Block until a transfer event matching the given filters arrives",
		Description: `Subscribes to the wallet's transfer event stream and waits for an
event where every --must-jq filter evaluates truthy. With no filters
the first event matches. Example:

  solforge await --wallet 7xKX... \
    --must-jq '.status == "confirmed"' \
    --must-jq '.amount | tonumber >= 0.5'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "wallet",
				Aliases: []string{"w"},
				Usage:   "Wallet address to follow (empty = all wallets)",
			},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "gojq expression the event must satisfy (repeatable, all must hold)",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "How long to wait before giving up",
				Value:   5 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			matchers := make([]*gojq.Code, 0, len(c.StringSlice("must-jq")))
			for _, expr := range c.StringSlice("must-jq") {
				query, err := gojq.Parse(expr)
				if err != nil {
					return fmt.Errorf("parse jq filter %q: %w", expr, err)
				}
				code, err := gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("compile jq filter %q: %w", expr, err)
				}
				matchers = append(matchers, code)
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			event, err := newAPIClient(c).Await(ctx, c.String("wallet"), func(ev *client.TransferEvent) bool {
				return eventMatches(ev, matchers)
			})
			if err != nil {
				return fmt.Errorf("failed to await transfer event: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, event)
			}
			printTransferEvent(event)
			return nil
		},
	}
}

// eventMatches reports whether every compiled filter evaluates truthy
// against the event. Filter errors count as non-matches so one odd
// event doesn't kill a long wait.
func eventMatches(event *client.TransferEvent, matchers []*gojq.Code) bool {
	if len(matchers) == 0 {
		return true
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return false
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return false
	}

	for _, code := range matchers {
		result, ok := code.Run(decoded).Next()
		if !ok {
			return false
		}
		if _, isErr := result.(error); isErr {
			return false
		}
		if !isTruthy(result) {
			return false
		}
	}
	return true
}

func printCreateResult(result *client.CreateTransferResult) {
	t := result.Transfer
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Transfer:  %s\n", t.ID)
	fmt.Printf("Wallet:    %s\n", t.WalletAddress)
	fmt.Printf("Recipient: %s\n", t.Recipient)
	fmt.Printf("Amount:    %s %s\n", t.Amount.String(), t.Asset)
	fmt.Printf("Status:    %s\n", t.Status)
	if result.Signature != "" {
		fmt.Printf("Signature: %s\n", result.Signature)
	}
	if result.WorkflowID != "" {
		fmt.Printf("Workflow:  %s\n", result.WorkflowID)
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	if !result.Signed {
		fmt.Println(result.TransactionBase64)
	}
}

func printTransferEvent(event *client.TransferEvent) {
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Transfer:  %s\n", event.TransferID)
	fmt.Printf("Wallet:    %s\n", event.WalletAddress)
	fmt.Printf("Recipient: %s\n", event.Recipient)
	fmt.Printf("Amount:    %s %s\n", event.Amount.String(), event.Asset)
	fmt.Printf("Status:    %s\n", event.Status)
	if event.Signature != "" {
		fmt.Printf("Signature: %s\n", event.Signature)
	}
	if event.FailureReason != "" {
		fmt.Printf("Failure:   %s\n", event.FailureReason)
	}
	fmt.Printf("Published: %s\n", event.PublishedAt.Format(time.RFC3339))
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}
