package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/chipin/chipin/service/nats"
	"github.com/chipin/chipin/service/transfer"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand subscribes to transfer events for a user.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to transfer events for a user",
		ArgsUsage: "[user_id]",
		Description: `Subscribe to real-time transfer events published to NATS JetStream.

This command connects to NATS and streams transfer events for the specified user.
Events are published to the subject: transfers.{user_id}
Omit the user ID to stream events for all users.

Example:
  chipin nats subscribe user-123 --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "chipin-cli",
			},
		},
		Action: func(c *cli.Context) error {
			userID := c.Args().First()
			natsURL := c.String("nats-url")
			durable := c.Bool("durable")
			consumerName := c.String("consumer-name")
			jsonOutput := c.Bool("json")

			return streamTransferEvents(userID, natsURL, durable, consumerName, jsonOutput)
		},
	}
}

// streamTransferEvents connects to NATS and streams transfer events.
func streamTransferEvents(userID, natsURL string, durable bool, consumerName string, jsonOutput bool) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	subject := natspkg.StreamSubjects
	if userID != "" {
		subject = fmt.Sprintf("transfers.%s", userID)
	}

	if !jsonOutput {
		fmt.Printf("📡 Subscribing to: %s\n", subject)
		fmt.Printf("   NATS: %s\n", natsURL)
		if durable {
			fmt.Printf("   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Printf("\nWaiting for transfers... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}

	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
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
				if !jsonOutput {
					fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				}
				msg.Ack()
				continue
			}

			count++

			if jsonOutput {
				data, _ := json.Marshal(event)
				fmt.Println(string(data))
			} else {
				printTransferEvent(count, event)
			}

			msg.Ack()

		case <-sigChan:
			if !jsonOutput {
				fmt.Printf("\n\n✅ Received %d transfers\n", count)
				fmt.Println("Shutting down...")
			}
			return nil
		}
	}
}

func printTransferEvent(count int, event natspkg.TransferEvent) {
	fmt.Printf("─────────────────────────────────────────────────────\n")
	if count > 0 {
		fmt.Printf("Transfer #%d\n", count)
		fmt.Printf("─────────────────────────────────────────────────────\n")
	}
	fmt.Printf("ID:           %s\n", event.TransferID)
	fmt.Printf("Context:      %s\n", event.TransferContext)
	fmt.Printf("User:         %s\n", event.UserID)
	fmt.Printf("Amount:       %s %s\n", transfer.FormatAmount(event.Amount, transfer.USDCDecimals), event.Currency)
	fmt.Printf("Status:       %s\n", event.Status)
	if event.DestinationAddress != "" {
		fmt.Printf("Destination:  %s\n", event.DestinationAddress)
	}
	if event.PooledWalletID != "" {
		fmt.Printf("Pooled:       %s\n", event.PooledWalletID)
	}
	if event.Signature != "" {
		fmt.Printf("Signature:    %s\n", event.Signature)
	}
	if event.ErrorMessage != "" {
		fmt.Printf("Error:        %s (%s)\n", event.ErrorMessage, event.ErrorKind)
	}
	if event.Memo != "" {
		fmt.Printf("Memo:         %s\n", event.Memo)
	}
	fmt.Printf("Published:    %s\n", event.PublishedAt.Format(time.RFC3339))
	fmt.Printf("\n")
}

// balancesCommand subscribes to live balance updates.
func balancesCommand() *cli.Command {
	return &cli.Command{
		Name:      "balances",
		Usage:     "Subscribe to live balance updates",
		ArgsUsage: "[wallet_address]",
		Description: `Subscribe to live wallet balance updates published to core NATS.

Updates are published to the subject: balances.{wallet_address}
Omit the address to stream updates for all wallets.

Example:
  chipin nats balances DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
		},
		Action: func(c *cli.Context) error {
			natsURL := c.String("nats-url")
			jsonOutput := c.Bool("json")

			subject := natspkg.BalanceSubjectPrefix + ">"
			if addr := c.Args().First(); addr != "" {
				subject = natspkg.BalanceSubjectPrefix + addr
			}

			nc, err := nats.Connect(natsURL)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			if !jsonOutput {
				fmt.Printf("📡 Subscribing to: %s\n\n", subject)
			}

			updates := make(chan *nats.Msg, 10)
			sub, err := nc.ChanSubscribe(subject, updates)
			if err != nil {
				return fmt.Errorf("failed to subscribe: %w", err)
			}
			defer sub.Unsubscribe()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			for {
				select {
				case msg := <-updates:
					var update natspkg.BalanceUpdate
					if err := json.Unmarshal(msg.Data, &update); err != nil {
						fmt.Fprintf(os.Stderr, "Error parsing update: %v\n", err)
						continue
					}

					if jsonOutput {
						data, _ := json.Marshal(update)
						fmt.Println(string(data))
					} else {
						fmt.Printf("%s  %s = %s USDC\n",
							update.ObservedAt.Format(time.RFC3339),
							update.WalletAddress,
							transfer.FormatAmount(update.Amount, transfer.USDCDecimals),
						)
					}

				case <-sigChan:
					return nil
				}
			}
		},
	}
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the TRANSFERS JetStream stream",
		Description: `Show information about the JetStream stream including:
- Message count
- Consumers
- Storage usage
- Stream configuration

Example:
  chipin nats inspect-stream`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
		},
		Action: func(c *cli.Context) error {
			natsURL := c.String("nats-url")
			jsonOutput := c.Bool("json")

			nc, err := nats.Connect(natsURL)
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
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(info, "", "  ")
				fmt.Println(string(data))
			} else {
				fmt.Printf("Stream: %s\n", info.Config.Name)
				fmt.Printf("─────────────────────────────────────────────────────\n")
				fmt.Printf("Description:  %s\n", info.Config.Description)
				fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
				fmt.Printf("Messages:     %d\n", info.State.Msgs)
				fmt.Printf("Bytes:        %d\n", info.State.Bytes)
				fmt.Printf("First Seq:    %d\n", info.State.FirstSeq)
				fmt.Printf("Last Seq:     %d\n", info.State.LastSeq)
				fmt.Printf("Consumers:    %d\n", info.State.Consumers)
				fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
				fmt.Printf("Storage:      %s\n", info.Config.Storage)
				fmt.Printf("\n")
			}

			return nil
		},
	}
}
