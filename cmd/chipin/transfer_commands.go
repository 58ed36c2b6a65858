package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/chipin/chipin/client"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func transferCommands() *cli.Command {
	return &cli.Command{
		Name:  "transfer",
		Usage: "HTTP client commands for submitting and inspecting transfers",
		Subcommands: []*cli.Command{
			submitCommand(),
			getCommand(),
			listCommand(),
			balanceCommand(),
			awaitTransferCommand(),
		},
	}
}

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Submit a transfer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://localhost:8080",
				Usage:   "HTTP server URL",
				EnvVars: []string{"SERVER_URL"},
			},
			&cli.StringFlag{
				Name:     "context",
				Aliases:  []string{"c"},
				Usage:    "Transfer context (send_1to1, fair_split_contribution, spend_split_payment, split_wallet_sweep, shared_wallet_funding, shared_wallet_withdrawal, autosave_sweep)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User ID submitting the transfer",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "amount",
				Aliases:  []string{"a"},
				Usage:    "Amount in USDC (e.g. 12.50)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "to",
				Usage: "Recipient wallet address",
			},
			&cli.StringFlag{
				Name:  "to-name",
				Usage: "Recipient display name",
			},
			&cli.StringFlag{
				Name:  "memo",
				Usage: "Transfer memo",
			},
			&cli.StringFlag{
				Name:  "request-id",
				Usage: "Idempotency key for send_1to1 transfers",
			},
			&cli.StringFlag{
				Name:  "split-wallet",
				Usage: "Split wallet ID (fair_split_contribution, spend_split_payment, split_wallet_sweep)",
			},
			&cli.StringFlag{
				Name:  "shared-wallet",
				Usage: "Shared wallet ID (shared_wallet_funding, shared_wallet_withdrawal)",
			},
			&cli.StringFlag{
				Name:  "split-id",
				Usage: "Split ID the contribution belongs to",
			},
			&cli.StringFlag{
				Name:  "bill-id",
				Usage: "Bill ID the payment settles",
			},
			&cli.BoolFlag{
				Name:  "settlement",
				Usage: "Mark a send_1to1 transfer as a debt settlement",
			},
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Poll until the transfer reaches a resolved status",
			},
		},
		Action: func(c *cli.Context) error {
			cl := getClient(c)

			req := client.SubmitRequest{
				Context: c.String("context"),
				UserID:  c.String("user"),
				Amount:  c.String("amount"),
				Memo:    c.String("memo"),
				Destination: client.Destination{
					RecipientAddress:   c.String("to"),
					RecipientName:      c.String("to-name"),
					RequestID:          c.String("request-id"),
					IsSettlement:       c.Bool("settlement"),
					SplitWalletID:      c.String("split-wallet"),
					SharedWalletID:     c.String("shared-wallet"),
					SplitID:            c.String("split-id"),
					BillID:             c.String("bill-id"),
					DestinationAddress: c.String("to"),
				},
			}

			ctx := context.Background()
			result, err := cl.Submit(ctx, req)
			if err != nil {
				return fmt.Errorf("failed to submit transfer: %w", err)
			}

			t := &result.Transfer
			if c.Bool("wait") && !t.Resolved() {
				t, err = cl.Await(ctx, t.ID, 0)
				if err != nil {
					return fmt.Errorf("failed to await transfer: %w", err)
				}
			}

			if c.Bool("json") {
				return outputJSON(map[string]any{
					"transfer":  t,
					"result":    result.Result,
					"duplicate": result.Duplicate,
				})
			}

			if result.Duplicate {
				fmt.Printf("↻ Replayed prior attempt (request id matched)\n")
			}
			printTransfer(t)
			return nil
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Get a transfer by ID",
		ArgsUsage: "<transfer-id>",
		Flags: []cli.Flag{
			serverFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transfer ID")
			}

			cl := getClient(c)
			t, err := cl.GetTransfer(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get transfer: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(t)
			}

			printTransfer(t)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List a user's transfers",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User ID to list transfers for",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of transfers",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Offset into the result set",
			},
		},
		Action: func(c *cli.Context) error {
			cl := getClient(c)
			transfers, err := cl.ListTransfers(context.Background(), c.String("user"), c.Int("limit"), c.Int("offset"))
			if err != nil {
				return fmt.Errorf("failed to list transfers: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(transfers)
			}

			for _, t := range transfers {
				fmt.Printf("%s  %-26s %12s  %-18s %s\n",
					t.CreatedAt.Format(time.RFC3339),
					t.Context,
					t.AmountDisplay,
					t.Status,
					t.ID,
				)
			}
			fmt.Fprintf(os.Stderr, "\nTotal: %d transfers\n", len(transfers))
			return nil
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Resolve a spendable balance",
		ArgsUsage: "[wallet_address]",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "User ID (required for shared wallet withdrawals)",
			},
			&cli.StringFlag{
				Name:    "context",
				Aliases: []string{"c"},
				Usage:   "Transfer context the balance is for",
			},
			&cli.StringFlag{
				Name:  "shared-wallet",
				Usage: "Shared wallet ID (shared_wallet_withdrawal)",
			},
		},
		Action: func(c *cli.Context) error {
			cl := getClient(c)
			balance, err := cl.GetBalance(context.Background(), client.BalanceQuery{
				Address:        c.Args().First(),
				UserID:         c.String("user"),
				Context:        c.String("context"),
				SharedWalletID: c.String("shared-wallet"),
			})
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(balance)
			}

			fmt.Printf("Balance:  %s USDC\n", balance.Display)
			fmt.Printf("Source:   %s\n", balance.Source)
			if balance.WalletAddress != "" {
				fmt.Printf("Wallet:   %s\n", balance.WalletAddress)
			}
			if !balance.ObservedAt.IsZero() {
				fmt.Printf("Observed: %s\n", balance.ObservedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func awaitTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until a transfer reaches a resolved status",
		ArgsUsage: "<transfer-id>",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Usage:   "jq filter expression the resolved transfer must satisfy (can be specified multiple times, all must match)",
				Aliases: []string{"jq"},
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait for resolution",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Value: 2 * time.Second,
				Usage: "How often to poll the server",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transfer ID")
			}

			id := c.Args().First()
			jqFilters := c.StringSlice("must-jq")
			jsonOutput := c.Bool("json")

			// Compile jq filters up front so a bad expression fails fast
			compiledJQFilters := make([]*gojq.Code, len(jqFilters))
			for i, filter := range jqFilters {
				query, err := gojq.Parse(filter)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
				}
				compiledJQFilters[i], err = gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
				}
			}

			cl := getClient(c)

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Waiting for transfer %s to resolve...\n", id)
				for _, filter := range jqFilters {
					fmt.Fprintf(os.Stderr, "  jq Filter: %s\n", filter)
				}
				fmt.Fprintf(os.Stderr, "  Timeout: %v\n\n", c.Duration("timeout"))
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			t, err := cl.Await(ctx, id, c.Duration("poll-interval"))
			if err != nil {
				return fmt.Errorf("failed to await transfer: %w", err)
			}

			if len(compiledJQFilters) > 0 {
				ok, err := matchesJQ(t, compiledJQFilters)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("transfer %s resolved but did not match the jq filters (status: %s)", t.ID, t.Status)
				}
			}

			if jsonOutput {
				return outputJSON(t)
			}

			printTransfer(t)
			return nil
		},
	}
}

// matchesJQ runs the compiled filters against the transfer's JSON form.
// All filters must evaluate to a truthy value.
func matchesJQ(t *client.Transfer, filters []*gojq.Code) (bool, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return false, fmt.Errorf("failed to marshal transfer: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("failed to unmarshal transfer: %w", err)
	}

	for _, code := range filters {
		iter := code.Run(doc)
		v, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if _, isErr := v.(error); isErr {
			return false, nil
		}
		if !isTruthy(v) {
			return false, nil
		}
	}
	return true, nil
}

// isTruthy follows jq semantics: null and false are falsy, everything else
// (numbers, strings, objects, arrays) is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func printTransfer(t *client.Transfer) {
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("ID:          %s\n", t.ID)
	fmt.Printf("Context:     %s\n", t.Context)
	fmt.Printf("User:        %s\n", t.UserID)
	fmt.Printf("Amount:      %s %s\n", t.AmountDisplay, t.Currency)
	fmt.Printf("Status:      %s\n", t.Status)

	if t.DestinationAddress != "" {
		fmt.Printf("Destination: %s\n", t.DestinationAddress)
	}
	if t.DestinationName != "" {
		fmt.Printf("To:          %s\n", t.DestinationName)
	}
	if t.PooledWalletID != "" {
		fmt.Printf("Pooled:      %s\n", t.PooledWalletID)
	}
	if t.Signature != "" {
		fmt.Printf("Signature:   %s\n", t.Signature)
	}
	if t.ErrorMessage != "" {
		fmt.Printf("Error:       %s\n", t.ErrorMessage)
	}
	if t.Memo != "" {
		fmt.Printf("Memo:        %s\n", t.Memo)
	}

	fmt.Printf("Created:     %s\n", t.CreatedAt.Format(time.RFC3339))
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

func serverFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Value:   "http://localhost:8080",
		Usage:   "HTTP server URL",
		EnvVars: []string{"SERVER_URL"},
	}
}

func getClient(c *cli.Context) *client.Client {
	serverURL := c.String("server")
	if serverURL == "" {
		serverURL = c.String("server-url")
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(serverURL, nil, logger)
}
