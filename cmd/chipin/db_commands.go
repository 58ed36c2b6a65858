package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/chipin/chipin/service/db"
	"github.com/chipin/chipin/service/transfer"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listTransfersCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-transfers",
		Usage:   "List transfers for a user",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User ID to list transfers for",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (success, definite_failure, transient_failure, uncertain_success, failure, pending)",
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

			transfers, err := store.ListTransfersByUser(context.Background(), db.ListTransfersByUserParams{
				UserID: c.String("user"),
				Limit:  int32(c.Int("limit")),
				Offset: 0,
			})
			if err != nil {
				return fmt.Errorf("failed to list transfers: %w", err)
			}

			// Filter by status if specified
			statusFilter := c.String("status")
			if statusFilter != "" {
				filtered := make([]*db.Transfer, 0)
				for _, t := range transfers {
					if t.Status == statusFilter {
						filtered = append(filtered, t)
					}
				}
				transfers = filtered
			}

			if c.Bool("json") {
				return outputJSON(transfers)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCONTEXT\tAMOUNT\tSTATUS\tSIGNATURE\tCREATED")
			for _, t := range transfers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					t.ID,
					t.TransferContext,
					transfer.FormatAmount(t.Amount, transfer.USDCDecimals),
					t.Status,
					derefOr(t.Signature, "-"),
					t.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d transfers\n", len(transfers))
			return nil
		},
	}
}

func getTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-transfer",
		Usage:     "Get transfer details",
		Aliases:   []string{"get"},
		ArgsUsage: "<transfer-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transfer ID")
			}

			id := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			t, err := store.GetTransfer(context.Background(), id)
			if err != nil {
				return fmt.Errorf("failed to get transfer: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(t)
			}

			// Pretty output
			fmt.Printf("ID:          %s\n", t.ID)
			fmt.Printf("Context:     %s\n", t.TransferContext)
			fmt.Printf("User:        %s\n", t.UserID)
			fmt.Printf("Amount:      %s %s\n", transfer.FormatAmount(t.Amount, transfer.USDCDecimals), t.Currency)
			fmt.Printf("Status:      %s\n", t.Status)
			fmt.Printf("Destination: %s\n", derefOr(t.DestinationAddress, "(none)"))
			fmt.Printf("Pooled:      %s\n", derefOr(t.PooledWalletID, "(none)"))
			fmt.Printf("Request ID:  %s\n", derefOr(t.RequestID, "(none)"))
			fmt.Printf("Signature:   %s\n", derefOr(t.Signature, "(none)"))
			if t.ErrorMessage != nil && *t.ErrorMessage != "" {
				fmt.Printf("Error:       %s (%s)\n", *t.ErrorMessage, derefOr(t.ErrorKind, "unknown"))
			}
			fmt.Printf("Created:     %s\n", t.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Updated:     %s\n", t.UpdatedAt.Format(time.RFC3339))

			return nil
		},
	}
}

func listUnresolvedCommand() *cli.Command {
	return &cli.Command{
		Name:  "list-unresolved",
		Usage: "List pending and uncertain transfers awaiting reconciliation",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "min-age",
				Usage: "Only show transfers not updated within this duration",
				Value: 30 * time.Second,
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of transfers",
				Value:   100,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			cutoff := time.Now().Add(-c.Duration("min-age"))
			transfers, err := store.ListUnresolvedTransfers(context.Background(), cutoff, int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list unresolved transfers: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(transfers)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSER\tSTATUS\tSIGNATURE\tUPDATED")
			for _, t := range transfers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					t.ID,
					t.UserID,
					t.Status,
					derefOr(t.Signature, "-"),
					t.UpdatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d unresolved transfers\n", len(transfers))
			return nil
		},
	}
}

func getPooledWalletCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-pooled-wallet",
		Usage:     "Get pooled wallet details and member shares",
		ArgsUsage: "<wallet-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: pooled wallet ID")
			}

			id := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			wallet, err := store.GetPooledWallet(context.Background(), id)
			if err != nil {
				return fmt.Errorf("failed to get pooled wallet: %w", err)
			}

			members, err := store.ListSharedWalletMembers(context.Background(), id)
			if err != nil {
				return fmt.Errorf("failed to list members: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]any{
					"wallet":  wallet,
					"members": members,
				})
			}

			fmt.Printf("ID:      %s\n", wallet.ID)
			fmt.Printf("Kind:    %s\n", wallet.Kind)
			fmt.Printf("Address: %s\n", wallet.ChainAddress)
			fmt.Printf("Label:   %s\n", derefOr(wallet.Label, "(none)"))
			fmt.Printf("Created: %s\n", wallet.CreatedAt.Format(time.RFC3339))

			if len(members) > 0 {
				fmt.Printf("\nMembers:\n")
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "USER\tCONTRIBUTED\tWITHDRAWN")
				for _, m := range members {
					fmt.Fprintf(w, "%s\t%s\t%s\n",
						m.UserID,
						transfer.FormatAmount(m.Contributed, transfer.USDCDecimals),
						transfer.FormatAmount(m.Withdrawn, transfer.USDCDecimals),
					)
				}
				w.Flush()
			}

			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations",
		Action: func(c *cli.Context) error {
			dbURL := c.String("database-url")
			if dbURL == "" {
				dbURL = os.Getenv("DATABASE_URL")
			}
			if dbURL == "" {
				return fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
			}

			ctx := context.Background()
			pool, err := pgxpool.New(ctx, dbURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			if err := db.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Println("✓ Migrations applied")
			return nil
		},
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
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

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Helper function to format optional strings
func derefOr(s *string, fallback string) string {
	if s != nil && *s != "" {
		return *s
	}
	return fallback
}
