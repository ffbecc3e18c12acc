package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/brojonat/solforge/service/privy"
	"github.com/urfave/cli/v2"
)

// privyFlags are the credential flags shared by every command that
// talks to the wallet directory.
func privyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "privy-app-id",
			Usage:   "Privy application id",
			EnvVars: []string{"PRIVY_APP_ID"},
		},
		&cli.StringFlag{
			Name:    "privy-app-secret",
			Usage:   "Privy application secret",
			EnvVars: []string{"PRIVY_APP_SECRET"},
		},
		&cli.StringFlag{
			Name:    "privy-url",
			Usage:   "Privy wallet API host (empty = production)",
			EnvVars: []string{"PRIVY_BASE_URL"},
		},
		&cli.StringFlag{
			Name:    "privy-auth-url",
			Usage:   "Privy user API host (empty = production)",
			EnvVars: []string{"PRIVY_AUTH_URL"},
		},
	}
}

func newDirectory(c *cli.Context) (*privy.Directory, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return privy.NewDirectory(
		c.String("privy-url"),
		c.String("privy-auth-url"),
		c.String("privy-app-id"),
		c.String("privy-app-secret"),
		nil,
		logger,
	)
}

// findDelegatedWallet resolves a Privy user id to their delegated
// embedded wallet. Used by the sign command's --user flag.
func findDelegatedWallet(c *cli.Context, userID string) (*privy.EmbeddedWallet, error) {
	directory, err := newDirectory(c)
	if err != nil {
		return nil, err
	}
	wallet, err := directory.FindEmbeddedWallet(c.Context, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find delegated wallet: %w", err)
	}
	return wallet, nil
}

// walletView is the JSON shape for directory lookups.
type walletView struct {
	WalletID string `json:"wallet_id"`
	Address  string `json:"address"`
}

func walletsFindCommand() *cli.Command {
	return &cli.Command{
		Name:      "find",
		Usage:     "Find a user's delegated embedded wallet",
		ArgsUsage: "<privy-user-id>",
		Flags:     privyFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: Privy user id")
			}

			wallet, err := findDelegatedWallet(c, c.Args().First())
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c, walletView{WalletID: wallet.WalletID, Address: wallet.Address})
			}
			fmt.Printf("Wallet ID: %s\n", wallet.WalletID)
			fmt.Printf("Address:   %s\n", wallet.Address)
			return nil
		},
	}
}

func walletsCreateCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Provision a new delegated wallet for a user",
		ArgsUsage: "<privy-user-id>",
		Flags: append(privyFlags(),
			&cli.StringFlag{
				Name:  "owner",
				Usage: "Owning entity id (empty = assign to the user directly)",
			},
		),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: Privy user id")
			}

			directory, err := newDirectory(c)
			if err != nil {
				return err
			}
			wallet, err := directory.CreateWallet(c.Context, c.Args().First(), c.String("owner"))
			if err != nil {
				return fmt.Errorf("failed to create wallet: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, walletView{WalletID: wallet.WalletID, Address: wallet.Address})
			}
			fmt.Printf("✓ Wallet created\n")
			fmt.Printf("Wallet ID: %s\n", wallet.WalletID)
			fmt.Printf("Address:   %s\n", wallet.Address)
			return nil
		},
	}
}
