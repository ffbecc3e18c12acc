package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/solforge/service/jupiter"
	"github.com/brojonat/solforge/service/priorityfee"
	solanalib "github.com/brojonat/solforge/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

func jupCommand() *cli.Command {
	return &cli.Command{
		Name:  "jup",
		Usage: "Jupiter earn and swap-order commands",
		Subcommands: []*cli.Command{
			{
				Name:  "earn",
				Usage: "Jupiter Lend earn positions",
				Subcommands: []*cli.Command{
					earnTokensCommand(),
					earnPositionsCommand(),
					earnEarningsCommand(),
					earnActionCommand("deposit", "Deposit into an earn vault"),
					earnActionCommand("withdraw", "Withdraw from an earn vault"),
					earnShareActionCommand("mint", "Mint vault shares"),
					earnShareActionCommand("redeem", "Redeem vault shares"),
				},
			},
			{
				Name:  "trigger",
				Usage: "Jupiter limit orders",
				Subcommands: []*cli.Command{
					triggerCreateOrderCommand(),
					triggerOrdersCommand(),
					triggerCancelOrderCommand(),
					triggerCancelOrdersCommand(),
					triggerExecuteCommand(),
				},
			},
			{
				Name:  "recurring",
				Usage: "Jupiter DCA orders",
				Subcommands: []*cli.Command{
					recurringCreateOrderCommand(),
					recurringOrdersCommand(),
					recurringCancelOrderCommand(),
					recurringExecuteCommand(),
				},
			},
		},
	}
}

// jupiterFlags are the API flags shared by every Jupiter command.
func jupiterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "jupiter-url",
			Usage:   "Jupiter API host",
			EnvVars: []string{"JUPITER_BASE_URL"},
			Value:   "https://lite-api.jup.ag",
		},
		&cli.StringFlag{
			Name:    "api-key",
			Usage:   "Jupiter API key (empty = lite tier)",
			EnvVars: []string{"JUPITER_API_KEY"},
		},
	}
}

// assemblerFlags configure the local pipeline used by commands that
// turn Jupiter instructions into transactions.
func assemblerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "rpc-url",
			Usage:   "Solana RPC endpoint",
			EnvVars: []string{"SOLANA_RPC_URL"},
		},
		&cli.StringFlag{
			Name:    "signing-key",
			Usage:   "Base58 private key to sign with",
			EnvVars: []string{"SOLANA_SIGNING_KEY"},
		},
		&cli.StringFlag{
			Name:  "signer",
			Usage: "Signer address for an unsigned artifact (when no key is available)",
		},
		&cli.StringFlag{
			Name:    "priority-fee-provider",
			Usage:   "Priority fee provider (auto, helius, static, none)",
			EnvVars: []string{"PRIORITY_FEE_PROVIDER"},
			Value:   "none",
		},
	}
}

func stderrLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newEarnClient(c *cli.Context) *jupiter.Earn {
	return jupiter.NewEarn(c.String("jupiter-url"), c.String("api-key"), nil, stderrLogger())
}

func newTriggerClient(c *cli.Context) *jupiter.Trigger {
	return jupiter.NewTrigger(c.String("jupiter-url"), c.String("api-key"), nil, stderrLogger())
}

func newRecurringClient(c *cli.Context) *jupiter.Recurring {
	return jupiter.NewRecurring(c.String("jupiter-url"), c.String("api-key"), nil, stderrLogger())
}

// resolveJupWallet builds the wallet handle earn assembly signs with: a
// signing handle from --signing-key, or an address-only handle from
// --signer that yields placeholder-signed artifacts.
func resolveJupWallet(c *cli.Context) (*solanalib.WalletHandle, error) {
	if key := c.String("signing-key"); key != "" {
		return solanalib.NewWalletHandle(key)
	}
	if addr := c.String("signer"); addr != "" {
		return solanalib.NewDelegatedWalletHandle(addr)
	}
	return nil, fmt.Errorf("either --signing-key or --signer is required")
}

func newCLIAssembler(c *cli.Context) (*solanalib.Assembler, error) {
	rpcURL := c.String("rpc-url")
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc-url is required (set SOLANA_RPC_URL env var or use --rpc-url)")
	}
	logger := stderrLogger()
	provider, err := priorityfee.ForEndpoint(c.String("priority-fee-provider"), rpcURL, 0, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure priority fee provider: %w", err)
	}
	return solanalib.NewAssembler(solanalib.NewRPCClient(rpcURL), provider, solanalib.AssemblerConfig{}, "cli", nil, logger), nil
}

func earnTokensCommand() *cli.Command {
	return &cli.Command{
		Name:  "tokens",
		Usage: "List the earn vault tokens",
		Flags: jupiterFlags(),
		Action: func(c *cli.Context) error {
			tokens, err := newEarnClient(c).Tokens(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list earn tokens: %w", err)
			}
			return outputJSON(c, tokens)
		},
	}
}

func earnPositionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "positions",
		Usage: "Show earn positions for one or more users",
		Flags: append(jupiterFlags(),
			&cli.StringSliceFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "Wallet address (repeatable)",
				Required: true,
			},
		),
		Action: func(c *cli.Context) error {
			positions, err := newEarnClient(c).Positions(c.Context, c.StringSlice("user"))
			if err != nil {
				return fmt.Errorf("failed to list earn positions: %w", err)
			}
			return outputJSON(c, positions)
		},
	}
}

func earnEarningsCommand() *cli.Command {
	return &cli.Command{
		Name:  "earnings",
		Usage: "Show accrued earnings for a user's positions",
		Flags: append(jupiterFlags(),
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "Wallet address",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "position",
				Usage: "Position address (repeatable; empty = all)",
			},
		),
		Action: func(c *cli.Context) error {
			earnings, err := newEarnClient(c).Earnings(c.Context, c.String("user"), c.StringSlice("position"))
			if err != nil {
				return fmt.Errorf("failed to fetch earnings: %w", err)
			}
			return outputJSON(c, earnings)
		},
	}
}

// earnActionCommand builds the deposit and withdraw commands; both
// fetch an instruction from Jupiter and run it through the assembly
// pipeline.
func earnActionCommand(name, usage string) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: append(append(jupiterFlags(), assemblerFlags()...),
			&cli.StringFlag{
				Name:     "asset",
				Usage:    "Asset symbol or mint address (e.g. USDC)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "amount",
				Aliases:  []string{"a"},
				Usage:    "Amount in base units",
				Required: true,
			},
			&cli.BoolFlag{
				Name:    "broadcast",
				Aliases: []string{"b"},
				Usage:   "Broadcast the signed transaction",
			},
		),
		Action: func(c *cli.Context) error {
			wallet, err := resolveJupWallet(c)
			if err != nil {
				return err
			}

			earn := newEarnClient(c)
			var instruction *solanalib.RawInstruction
			if name == "deposit" {
				instruction, err = earn.DepositInstruction(c.Context, c.String("asset"), wallet.Pubkey().String(), c.String("amount"))
			} else {
				instruction, err = earn.WithdrawInstruction(c.Context, c.String("asset"), wallet.Pubkey().String(), c.String("amount"))
			}
			if err != nil {
				return fmt.Errorf("failed to fetch %s instruction: %w", name, err)
			}

			return runEarnInstruction(c, wallet, instruction)
		},
	}
}

// earnShareActionCommand builds the mint and redeem commands, which
// move vault shares directly instead of underlying asset amounts.
func earnShareActionCommand(name, usage string) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: append(append(jupiterFlags(), assemblerFlags()...),
			&cli.StringFlag{
				Name:     "asset",
				Usage:    "Asset symbol or mint address (e.g. USDC)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "shares",
				Usage:    "Vault shares in base units",
				Required: true,
			},
			&cli.BoolFlag{
				Name:    "broadcast",
				Aliases: []string{"b"},
				Usage:   "Broadcast the signed transaction",
			},
		),
		Action: func(c *cli.Context) error {
			wallet, err := resolveJupWallet(c)
			if err != nil {
				return err
			}

			earn := newEarnClient(c)
			var instruction *solanalib.RawInstruction
			if name == "mint" {
				instruction, err = earn.MintInstruction(c.Context, c.String("asset"), wallet.Pubkey().String(), c.String("shares"))
			} else {
				instruction, err = earn.RedeemInstruction(c.Context, c.String("asset"), wallet.Pubkey().String(), c.String("shares"))
			}
			if err != nil {
				return fmt.Errorf("failed to fetch %s instruction: %w", name, err)
			}

			return runEarnInstruction(c, wallet, instruction)
		},
	}
}

// runEarnInstruction pushes a fetched earn instruction through the
// assembly pipeline, then prints the artifact or broadcasts it.
func runEarnInstruction(c *cli.Context, wallet *solanalib.WalletHandle, instruction *solanalib.RawInstruction) error {
	assembler, err := newCLIAssembler(c)
	if err != nil {
		return err
	}
	artifact, err := assembler.AssembleRaw(c.Context, wallet, []solanalib.RawInstruction{*instruction}, !wallet.CanSign())
	if err != nil {
		return fmt.Errorf("failed to assemble transaction: %w", err)
	}
	txB64, err := artifact.Base64()
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}

	if c.Bool("broadcast") {
		if !artifact.Signed {
			return fmt.Errorf("cannot broadcast an unsigned artifact (provide --signing-key)")
		}
		signature, err := assembler.Broadcast(c.Context, artifact)
		if err != nil {
			return fmt.Errorf("failed to broadcast: %w", err)
		}
		if c.Bool("json") {
			return outputJSON(c, map[string]string{"signature": signature.String()})
		}
		fmt.Printf("✓ Broadcast sent (signature: %s)\n", signature)
		return nil
	}

	if c.Bool("json") {
		return outputJSON(c, map[string]interface{}{
			"transaction_base64": txB64,
			"signed":             artifact.Signed,
		})
	}
	fmt.Println(txB64)
	return nil
}

func triggerCreateOrderCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-order",
		Usage: "Place a limit order and print the transaction to sign",
		Flags: append(jupiterFlags(),
			&cli.StringFlag{Name: "input-mint", Usage: "Mint sold", Required: true},
			&cli.StringFlag{Name: "output-mint", Usage: "Mint bought", Required: true},
			&cli.StringFlag{Name: "maker", Usage: "Order owner address", Required: true},
			&cli.StringFlag{Name: "payer", Usage: "Fee payer address (defaults to maker)"},
			&cli.StringFlag{Name: "making-amount", Usage: "Base units offered", Required: true},
			&cli.StringFlag{Name: "taking-amount", Usage: "Base units demanded", Required: true},
			&cli.DurationFlag{Name: "expires-in", Usage: "Order lifetime (zero = no expiry)"},
			&cli.IntFlag{Name: "fee-bps", Usage: "Integrator fee in basis points"},
			&cli.StringFlag{Name: "fee-account", Usage: "Referral token account for the fee"},
		),
		Action: func(c *cli.Context) error {
			var expiredAt int64
			if d := c.Duration("expires-in"); d > 0 {
				expiredAt = time.Now().Add(d).Unix()
			}

			order, err := newTriggerClient(c).CreateOrder(c.Context, jupiter.CreateTriggerOrderParams{
				InputMint:    c.String("input-mint"),
				OutputMint:   c.String("output-mint"),
				Maker:        c.String("maker"),
				Payer:        c.String("payer"),
				MakingAmount: c.String("making-amount"),
				TakingAmount: c.String("taking-amount"),
				ExpiredAt:    expiredAt,
				FeeBps:       c.Int("fee-bps"),
				FeeAccount:   c.String("fee-account"),
			})
			if err != nil {
				return fmt.Errorf("failed to create trigger order: %w", err)
			}
			return printOrderResponse(c, order)
		},
	}
}

func triggerOrdersCommand() *cli.Command {
	return &cli.Command{
		Name:  "orders",
		Usage: "List a user's limit orders",
		Flags: append(jupiterFlags(),
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Wallet address", Required: true},
			&cli.StringFlag{Name: "status", Usage: "Filter: active or history", Value: "active"},
			&cli.IntFlag{Name: "page", Usage: "Result page", Value: 1},
		),
		Action: func(c *cli.Context) error {
			orders, err := newTriggerClient(c).Orders(c.Context, c.String("user"), c.String("status"), c.Int("page"))
			if err != nil {
				return fmt.Errorf("failed to list trigger orders: %w", err)
			}
			return outputJSON(c, orders)
		},
	}
}

func triggerCancelOrderCommand() *cli.Command {
	return &cli.Command{
		Name:  "cancel-order",
		Usage: "Cancel a limit order and print the transaction to sign",
		Flags: append(jupiterFlags(),
			&cli.StringFlag{Name: "maker", Usage: "Order owner address", Required: true},
			&cli.StringFlag{Name: "order", Usage: "Order account address", Required: true},
			&cli.StringFlag{Name: "payer", Usage: "Fee payer address (defaults to maker)"},
		),
		Action: func(c *cli.Context) error {
			order, err := newTriggerClient(c).CancelOrder(c.Context, c.String("maker"), c.String("order"), c.String("payer"))
			if err != nil {
				return fmt.Errorf("failed to cancel trigger order: %w", err)
			}
			return printOrderResponse(c, order)
		},
	}
}

func triggerCancelOrdersCommand() *cli.Command {
	return &cli.Command{
		Name:  "cancel-orders",
		Usage: "Cancel several (or all) limit orders in one batch",
		Flags: append(jupiterFlags(),
			&cli.StringFlag{Name: "maker", Usage: "Order owner address", Required: true},
			&cli.StringSliceFlag{Name: "order", Usage: "Order account address (repeatable; empty = all active)"},
			&cli.StringFlag{Name: "payer", Usage: "Fee payer address (defaults to maker)"},
		),
		Action: func(c *cli.Context) error {
			result, err := newTriggerClient(c).CancelOrders(c.Context, c.String("maker"), c.StringSlice("order"), c.String("payer"))
			if err != nil {
				return fmt.Errorf("failed to cancel trigger orders: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, result)
			}
			fmt.Fprintf(os.Stderr, "Request ID: %s\n", result.RequestID)
			for _, tx := range result.Transactions {
				fmt.Println(tx)
			}
			return nil
		},
	}
}

func triggerExecuteCommand() *cli.Command {
	return executeCommand("trigger", func(c *cli.Context, signedTxB64, requestID string) (*jupiter.ExecuteResponse, error) {
		return newTriggerClient(c).Execute(c.Context, signedTxB64, requestID)
	})
}

func recurringCreateOrderCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-order",
		Usage: "Open a DCA order and print the transaction to sign",
		Flags: append(jupiterFlags(),
			&cli.StringFlag{Name: "input-mint", Usage: "Mint sold", Required: true},
			&cli.StringFlag{Name: "output-mint", Usage: "Mint bought", Required: true},
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Order owner address", Required: true},
			&cli.Uint64Flag{Name: "in-amount", Usage: "Total base units to sell", Required: true},
			&cli.IntFlag{Name: "orders", Usage: "Number of executions", Required: true},
			&cli.DurationFlag{Name: "interval", Usage: "Time between executions", Required: true},
			&cli.Float64Flag{Name: "min-price", Usage: "Skip executions below this price"},
			&cli.Float64Flag{Name: "max-price", Usage: "Skip executions above this price"},
		),
		Action: func(c *cli.Context) error {
			order, err := newRecurringClient(c).CreateOrder(c.Context, jupiter.CreateRecurringOrderParams{
				InputMint:       c.String("input-mint"),
				OutputMint:      c.String("output-mint"),
				User:            c.String("user"),
				InAmount:        c.Uint64("in-amount"),
				NumberOfOrders:  c.Int("orders"),
				IntervalSeconds: int64(c.Duration("interval").Seconds()),
				MinPrice:        c.Float64("min-price"),
				MaxPrice:        c.Float64("max-price"),
			})
			if err != nil {
				return fmt.Errorf("failed to create recurring order: %w", err)
			}
			return printOrderResponse(c, order)
		},
	}
}

func recurringOrdersCommand() *cli.Command {
	return &cli.Command{
		Name:  "orders",
		Usage: "List a user's DCA orders",
		Flags: append(jupiterFlags(),
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Wallet address", Required: true},
			&cli.StringFlag{Name: "status", Usage: "Filter: active or history", Value: "active"},
			&cli.IntFlag{Name: "page", Usage: "Result page", Value: 1},
		),
		Action: func(c *cli.Context) error {
			orders, err := newRecurringClient(c).Orders(c.Context, c.String("user"), c.String("status"), c.Int("page"))
			if err != nil {
				return fmt.Errorf("failed to list recurring orders: %w", err)
			}
			return outputJSON(c, orders)
		},
	}
}

func recurringCancelOrderCommand() *cli.Command {
	return &cli.Command{
		Name:  "cancel-order",
		Usage: "Cancel a DCA order and print the transaction to sign",
		Flags: append(jupiterFlags(),
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Order owner address", Required: true},
			&cli.StringFlag{Name: "order", Usage: "Order account address", Required: true},
			&cli.StringFlag{Name: "payer", Usage: "Fee payer address (defaults to user)"},
		),
		Action: func(c *cli.Context) error {
			order, err := newRecurringClient(c).CancelOrder(c.Context, c.String("user"), c.String("order"), c.String("payer"))
			if err != nil {
				return fmt.Errorf("failed to cancel recurring order: %w", err)
			}
			return printOrderResponse(c, order)
		},
	}
}

func recurringExecuteCommand() *cli.Command {
	return executeCommand("recurring", func(c *cli.Context, signedTxB64, requestID string) (*jupiter.ExecuteResponse, error) {
		return newRecurringClient(c).Execute(c.Context, signedTxB64, requestID)
	})
}

// executeCommand builds the execute subcommand for both order APIs.
// The order transaction names the sponsoring payer as fee payer and the
// user as second signer, so both keys sign gasless-style before the
// transaction goes back to Jupiter for broadcast.
func executeCommand(kind string, run func(c *cli.Context, signedTxB64, requestID string) (*jupiter.ExecuteResponse, error)) *cli.Command {
	return &cli.Command{
		Name:      "execute",
		Usage:     "Sign an order transaction and hand it back to Jupiter for broadcast",
		ArgsUsage: "TRANSACTION_BASE64",
		Flags: append(jupiterFlags(),
			&cli.StringFlag{
				Name:     "request-id",
				Usage:    "Request id from the create or cancel response",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "payer-key",
				Usage:   "Base58 private key of the sponsoring fee payer",
				EnvVars: []string{"SOLANA_FEE_PAYER_KEY"},
			},
			&cli.StringFlag{
				Name:    "user-key",
				Usage:   "Base58 private key of the order owner",
				EnvVars: []string{"SOLANA_SIGNING_KEY"},
			},
		),
		Action: func(c *cli.Context) error {
			txB64, err := readTransactionArg(c)
			if err != nil {
				return err
			}

			tx, err := solanalib.DecodeTransactionBase64(txB64)
			if err != nil {
				return fmt.Errorf("failed to decode transaction: %w", err)
			}

			if c.String("user-key") == "" {
				return fmt.Errorf("user-key is required (set SOLANA_SIGNING_KEY env var or use --user-key)")
			}
			userKey, err := solanago.PrivateKeyFromBase58(c.String("user-key"))
			if err != nil {
				return fmt.Errorf("invalid user key: %w", err)
			}

			if payerKeyB58 := c.String("payer-key"); payerKeyB58 != "" {
				payerKey, err := solanago.PrivateKeyFromBase58(payerKeyB58)
				if err != nil {
					return fmt.Errorf("invalid payer key: %w", err)
				}
				if err := solanalib.SignGasless(payerKey, userKey, tx); err != nil {
					return fmt.Errorf("failed to sign: %w", err)
				}
			} else {
				wallet, err := solanalib.NewWalletHandle(userKey.String())
				if err != nil {
					return err
				}
				if err := wallet.SignTransaction(tx); err != nil {
					return fmt.Errorf("failed to sign: %w", err)
				}
			}

			signedTxB64, err := solanalib.NewSignedArtifact(tx).Base64()
			if err != nil {
				return fmt.Errorf("failed to encode transaction: %w", err)
			}

			result, err := run(c, signedTxB64, c.String("request-id"))
			if err != nil {
				return fmt.Errorf("failed to execute %s order: %w", kind, err)
			}

			if c.Bool("json") {
				return outputJSON(c, result)
			}
			if result.Error != "" {
				return fmt.Errorf("execute failed (%d): %s", result.Code, result.Error)
			}
			fmt.Printf("✓ Order executed (status: %s, signature: %s)\n", result.Status, result.Signature)
			return nil
		},
	}
}

func printOrderResponse(c *cli.Context, order *jupiter.OrderResponse) error {
	if c.Bool("json") {
		return outputJSON(c, order)
	}
	if order.Order != "" {
		fmt.Fprintf(os.Stderr, "Order:      %s\n", order.Order)
	}
	fmt.Fprintf(os.Stderr, "Request ID: %s\n", order.RequestID)
	fmt.Println(order.Transaction)
	return nil
}
