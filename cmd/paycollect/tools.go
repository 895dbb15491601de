package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/susu3304/paycollect/internal/alloc"
	"github.com/susu3304/paycollect/internal/config"
	"github.com/susu3304/paycollect/internal/roster"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			database, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			database.Close()
			fmt.Println("Migrations applied")
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch the roster once and store it if it changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			database, err := openDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			sheetClient, err := newSheets(ctx, cfg)
			if err != nil {
				return err
			}

			return runSync(ctx, cmd.OutOrStdout(), newSynchronizer(cfg, sheetClient, database, nil), database)
		},
	}
}

// rosterLoader reads the stored roster row.
type rosterLoader interface {
	LoadRoster(ctx context.Context) (*roster.Snapshot, error)
}

// runSync primes syncer with the stored roster so "changed" reflects the
// difference between the source and the database.
func runSync(ctx context.Context, out io.Writer, syncer *roster.Synchronizer, store rosterLoader) error {
	stored, err := store.LoadRoster(ctx)
	if err != nil && !errors.Is(err, roster.ErrUnavailable) {
		return err
	}
	syncer.Prime(stored)

	changed, err := syncer.SyncOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "changed: %t\n", changed)

	snap, err := store.LoadRoster(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func quoteCmd() *cobra.Command {
	var (
		participants int
		amount       int64
		ratio        float64
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Print the payment schedule for a roster size and total",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ratio <= 0 || ratio > 1 {
				return fmt.Errorf("ratio must be in (0, 1], got %v", ratio)
			}
			if participants < 0 || amount < 0 {
				return fmt.Errorf("participants and amount must not be negative")
			}
			return printSchedule(cmd.OutOrStdout(), participants, amount, ratio)
		},
	}

	cmd.Flags().IntVarP(&participants, "participants", "n", 0, "Total participants")
	cmd.Flags().Int64VarP(&amount, "amount", "a", 0, "Total amount to collect")
	cmd.Flags().Float64VarP(&ratio, "ratio", "r", 1, "Decay ratio between consecutive shares")
	_ = cmd.MarkFlagRequired("participants")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func printSchedule(out io.Writer, participants int, amount int64, ratio float64) error {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Order", "Amount"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	var sum int64
	for i, a := range alloc.Schedule(participants, amount, ratio) {
		table.Append([]string{fmt.Sprintf("#%d", i+1), strconv.FormatInt(a, 10)})
		sum += a
	}
	table.Append([]string{"total", strconv.FormatInt(sum, 10)})
	table.Append([]string{"step", fmt.Sprintf("%.2f%%", alloc.DecayPercent(ratio))})
	table.Render()
	return nil
}
