package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solforge/service/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func dbMigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the transfer journal schema",
		Action: func(c *cli.Context) error {
			dbURL := c.String("database-url")
			if dbURL == "" {
				return fmt.Errorf("database-url is required: pass --database-url or set DATABASE_URL")
			}

			ctx := context.Background()
			pool, err := pgxpool.New(ctx, dbURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("failed to ping database: %w", err)
			}
			if err := db.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("failed to apply migrations: %w", err)
			}

			fmt.Println("✓ Migrations applied")
			return nil
		},
	}
}

func dbTransfersCommand() *cli.Command {
	return &cli.Command{
		Name:    "transfers",
		Usage:   "List journaled transfers",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "wallet",
				Aliases: []string{"w"},
				Usage:   "Filter by source wallet address",
			},
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (assembled, signed, broadcast, confirmed, failed)",
			},
			&cli.StringFlag{
				Name:  "since",
				Usage: "Only transfers created at or after this RFC3339 time",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of transfers",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			var transfers []*db.Transfer

			wallet := c.String("wallet")
			status := c.String("status")
			sinceStr := c.String("since")

			switch {
			case wallet != "" && sinceStr != "":
				since, err := time.Parse(time.RFC3339, sinceStr)
				if err != nil {
					return fmt.Errorf("parse --since as RFC3339: %w", err)
				}
				transfers, err = store.ListTransfersSince(context.Background(), wallet, since)
				if err != nil {
					return fmt.Errorf("failed to list transfers: %w", err)
				}
			case wallet != "":
				transfers, err = store.ListTransfersByWallet(context.Background(), db.ListTransfersByWalletParams{
					WalletAddress: wallet,
					Limit:         int32(c.Int("limit")),
					Offset:        0,
				})
				if err != nil {
					return fmt.Errorf("failed to list transfers: %w", err)
				}
			case status != "":
				transfers, err = store.ListTransfersByStatus(context.Background(), status, int32(c.Int("limit")))
				if err != nil {
					return fmt.Errorf("failed to list transfers: %w", err)
				}
			default:
				return fmt.Errorf("please specify --wallet or --status to list transfers")
			}

			if c.Bool("json") {
				return outputJSON(c, transferViews(transfers))
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tRECIPIENT\tAMOUNT\tASSET\tSTATUS\tSIGNATURE\tCREATED")
			for _, t := range transfers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					t.ID,
					t.Recipient,
					t.Amount.String(),
					t.Asset,
					t.Status,
					formatOptional(t.Signature),
					t.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d transfers\n", len(transfers))
			return nil
		},
	}
}

func dbGetTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Get one transfer by id or signature",
		ArgsUsage: "<transfer-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "signature",
				Usage: "Look up by broadcast signature instead of id",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			var transfer *db.Transfer
			if sig := c.String("signature"); sig != "" {
				transfer, err = store.GetTransferBySignature(context.Background(), sig)
				if err != nil {
					return fmt.Errorf("failed to get transfer: %w", err)
				}
			} else {
				if c.NArg() != 1 {
					return fmt.Errorf("requires exactly one argument: transfer id (or use --signature)")
				}
				id, err := uuid.Parse(c.Args().First())
				if err != nil {
					return fmt.Errorf("invalid transfer id: %w", err)
				}
				transfer, err = store.GetTransfer(context.Background(), id)
				if err != nil {
					return fmt.Errorf("failed to get transfer: %w", err)
				}
			}

			if c.Bool("json") {
				return outputJSON(c, newTransferView(transfer))
			}

			fmt.Printf("ID:         %s\n", transfer.ID)
			fmt.Printf("Wallet:     %s\n", transfer.WalletAddress)
			fmt.Printf("Recipient:  %s\n", transfer.Recipient)
			fmt.Printf("Amount:     %s %s\n", transfer.Amount.String(), transfer.Asset)
			fmt.Printf("Memo:       %s\n", formatOptional(transfer.Memo))
			fmt.Printf("Status:     %s\n", transfer.Status)
			fmt.Printf("Signature:  %s\n", formatOptional(transfer.Signature))
			if transfer.FailureReason != nil {
				fmt.Printf("Failure:    %s\n", *transfer.FailureReason)
			}
			fmt.Printf("Created:    %s\n", transfer.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Updated:    %s\n", transfer.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

// transferView is the JSON shape for journal rows, matching the HTTP
// API's field names so --jq filters work the same against both.
type transferView struct {
	ID            string    `json:"id"`
	WalletAddress string    `json:"wallet_address"`
	Recipient     string    `json:"recipient"`
	Asset         string    `json:"asset"`
	Amount        string    `json:"amount"`
	Memo          *string   `json:"memo,omitempty"`
	Signature     *string   `json:"signature,omitempty"`
	Status        string    `json:"status"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func newTransferView(t *db.Transfer) *transferView {
	return &transferView{
		ID:            t.ID.String(),
		WalletAddress: t.WalletAddress,
		Recipient:     t.Recipient,
		Asset:         t.Asset,
		Amount:        t.Amount.String(),
		Memo:          t.Memo,
		Signature:     t.Signature,
		Status:        t.Status,
		FailureReason: t.FailureReason,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func transferViews(transfers []*db.Transfer) []*transferView {
	views := make([]*transferView, 0, len(transfers))
	for _, t := range transfers {
		views = append(views, newTransferView(t))
	}
	return views
}

func formatOptional(s *string) string {
	if s == nil || *s == "" {
		return "(none)"
	}
	return *s
}

// getStore opens a pool for one command invocation; the returned func
// closes it.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required: pass --database-url or set DATABASE_URL")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }
	return store, closer, nil
}
