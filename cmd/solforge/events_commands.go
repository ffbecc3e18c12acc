package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/solforge/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// eventsTailCommand follows transfer lifecycle events from JetStream.
func eventsTailCommand() *cli.Command {
	return &cli.Command{
		Name:      "tail",
		Usage:     "Tail transfer lifecycle events for a wallet",
		ArgsUsage: "[wallet_address]",
		Description: `Connects to NATS JetStream and prints every lifecycle event as the
worker and server publish them. Without a wallet address, events for
all wallets are shown. Events are published to transfers.{wallet}.

Example:
  solforge events tail DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Use a durable consumer so the cursor survives restarts",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Name for the durable consumer",
				Value: "solforge-cli",
			},
		},
		Action: func(c *cli.Context) error {
			subject := natspkg.StreamSubjects
			if c.NArg() > 0 {
				subject = natspkg.SubjectFor(c.Args().First())
			}

			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			// The banner goes to stderr so stdout stays clean for piping.
			jsonOutput := c.Bool("json")
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "tailing %s on %s, Ctrl-C to stop\n\n", subject, c.String("nats-url"))
			}

			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
			}
			if c.Bool("durable") {
				consumerConfig.Durable = c.String("consumer-name")
				consumerConfig.Name = c.String("consumer-name")
			}

			cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, consumerConfig)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			msgChan := make(chan jetstream.Msg, 10)
			go func() {
				_, _ = cons.Consume(func(msg jetstream.Msg) {
					msgChan <- msg
				})
			}()

			count := 0
			for {
				select {
				case msg := <-msgChan:
					var event natspkg.TransferEvent
					if err := json.Unmarshal(msg.Data(), &event); err != nil {
						fmt.Fprintf(os.Stderr, "skipping malformed event: %v\n", err)
						msg.Ack()
						continue
					}

					count++

					if jsonOutput {
						data, _ := json.Marshal(event)
						fmt.Println(string(data))
					} else {
						fmt.Printf("#%d  %s  %s\n", count, event.PublishedAt.Format(time.RFC3339), event.Status)
						fmt.Printf("    %s -> %s  %s %s\n", event.WalletAddress, event.Recipient, event.Amount, event.Asset)
						if event.Signature != "" {
							fmt.Printf("    sig: %s\n", event.Signature)
						}
						if event.FailureReason != "" {
							fmt.Printf("    failed: %s\n", event.FailureReason)
						}
						if event.Memo != "" {
							fmt.Printf("    memo: %s\n", event.Memo)
						}
						fmt.Println()
					}

					msg.Ack()

				case <-sigChan:
					if !jsonOutput {
						fmt.Fprintf(os.Stderr, "\n%d event(s) received\n", count)
					}
					return nil
				}
			}
		},
	}
}

// eventsStreamInfoCommand shows information about the TRANSFERS stream.
func eventsStreamInfoCommand() *cli.Command {
	return &cli.Command{
		Name:  "stream-info",
		Usage: "Inspect the TRANSFERS JetStream stream",
		Description: `Print the stream's configuration and current state: subjects,
retention, message and byte counts, and attached consumers.

Example:
  solforge events stream-info`,
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(context.Background(), natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("look up stream %s: %w", natspkg.StreamName, err)
			}

			info, err := stream.Info(context.Background())
			if err != nil {
				return fmt.Errorf("fetch stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, info)
			}

			fmt.Printf("%s: %s storage, max age %s\n", info.Config.Name, info.Config.Storage, info.Config.MaxAge)
			fmt.Printf("  subjects:  %v\n", info.Config.Subjects)
			fmt.Printf("  messages:  %d (%d bytes), seq %d through %d\n",
				info.State.Msgs, info.State.Bytes, info.State.FirstSeq, info.State.LastSeq)
			fmt.Printf("  consumers: %d\n", info.State.Consumers)
			return nil
		},
	}
}
