package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// Populated by -ldflags at release time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "solforge",
		Usage: "Solana transfer assembly and signing service CLI",
		Description: `A command-line tool for operating and debugging the solforge service.

Use this CLI to run the server and worker, create and track transfers,
sign and broadcast transactions, tail lifecycle events, and inspect
encoded transactions.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Long-running processes
			serveCommand(),
			workerCommand(),
			// Transfer commands (HTTP API)
			transferCommand(),
			signCommand(),
			broadcastCommand(),
			awaitCommand(),
			// Priority fee commands
			{
				Name:  "fee",
				Usage: "Priority fee commands",
				Subcommands: []*cli.Command{
					feeEstimateCommand(),
				},
			},
			// Journal inspection and migration
			{
				Name:  "db",
				Usage: "Database inspection and migration commands",
				Subcommands: []*cli.Command{
					dbMigrateCommand(),
					dbTransfersCommand(),
					dbGetTransferCommand(),
				},
			},
			// NATS transfer event commands
			{
				Name:  "events",
				Usage: "Transfer lifecycle event commands",
				Subcommands: []*cli.Command{
					eventsTailCommand(),
					eventsStreamInfoCommand(),
				},
			},
			// Privy wallet directory commands
			{
				Name:  "wallets",
				Usage: "Delegated wallet directory commands",
				Subcommands: []*cli.Command{
					walletsFindCommand(),
					walletsCreateCommand(),
				},
			},
			// Reconcile schedule management
			{
				Name:  "schedule",
				Usage: "Reconcile schedule management commands",
				Subcommands: []*cli.Command{
					scheduleCreateCommand(),
					scheduleDeleteCommand(),
				},
			},
			// Jupiter commands
			jupCommand(),
			// Transaction decoding
			inspectCommand(),
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
				},
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "solforge server URL",
				EnvVars: []string{"SOLFORGE_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "gojq filter applied to JSON output",
			},
		},
	}
}

// outputJSON writes v to stdout as indented JSON, first passing it
// through the global --jq filter when one is set.
func outputJSON(c *cli.Context, v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	expr := c.String("jq")
	if expr == "" {
		return encoder.Encode(v)
	}

	query, err := gojq.Parse(expr)
	if err != nil {
		return fmt.Errorf("parse jq filter %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return fmt.Errorf("compile jq filter %q: %w", expr, err)
	}

	// Round-trip through encoding/json so gojq sees plain maps and
	// slices rather than our structs.
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("failed to unmarshal output: %w", err)
	}

	iter := code.Run(decoded)
	for {
		result, ok := iter.Next()
		if !ok {
			break
		}
		if filterErr, isErr := result.(error); isErr {
			return fmt.Errorf("jq filter failed: %w", filterErr)
		}
		if err := encoder.Encode(result); err != nil {
			return err
		}
	}
	return nil
}

// isTruthy reports whether a gojq result counts as a match: anything
// but nil and false does, matching jq's own truthiness rules.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
