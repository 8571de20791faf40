package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"lookingglass/internal/journal"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	Database    string
	SelectionID string
	EventID     string
	Limit       int
	PruneOlder  time.Duration
}

// JournalEntry is the JSON form of one journaled transition.
type JournalEntry struct {
	Seq         int64  `json:"seq"`
	SelectionID string `json:"selection_id"`
	EventID     string `json:"event_id"`
	From        string `json:"from"`
	To          string `json:"to"`
	Trigger     string `json:"trigger"`
	Token       int64  `json:"token"`
	At          string `json:"at"`
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the transition journal",
		Long: `List transitions recorded in a SQLite journal, most recent last.

Examples:
  lookingglass-sim journal --db ~/.local/state/lookingglass/journal.db
  lookingglass-sim journal --db ./journal.db --event evt-42 --limit 20
  lookingglass-sim journal --db ./journal.db --prune-older-than 720h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the journal database (required)")
	cmd.Flags().StringVar(&opts.SelectionID, "selection", "", "only this selection")
	cmd.Flags().StringVar(&opts.EventID, "event", "", "only this reflection event")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "most recent transitions to show (0 for all)")
	cmd.Flags().DurationVar(&opts.PruneOlder, "prune-older-than", 0, "delete transitions older than this before listing")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runJournal(cmd *cobra.Command, opts *JournalOptions) error {
	if _, err := os.Stat(opts.Database); errors.Is(err, os.ErrNotExist) {
		return NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", opts.Database))
	}
	store, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	if opts.PruneOlder > 0 {
		removed, err := store.Prune(ctx, time.Now().Add(-opts.PruneOlder))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to prune journal", err)
		}
		if opts.Format != "json" {
			fmt.Fprintf(out, "pruned %d transitions\n", removed)
		}
	}

	entries, err := store.List(ctx, journal.ListOptions{
		SelectionID: opts.SelectionID,
		EventID:     opts.EventID,
		Limit:       opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list journal", err)
	}

	if opts.Format == "json" {
		rows := make([]JournalEntry, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, JournalEntry{
				Seq:         e.Seq,
				SelectionID: e.SelectionID,
				EventID:     e.EventID,
				From:        string(e.From),
				To:          string(e.To),
				Trigger:     string(e.Trigger),
				Token:       e.Token,
				At:          e.At.UTC().Format(time.RFC3339Nano),
			})
		}
		return writeJSON(out, "ok", rows)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No transitions recorded.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%6d  %s  %-12s  %s -> %s (%s)\n",
			e.Seq, e.At.Local().Format("2006-01-02 15:04:05.000"), e.EventID, e.From, e.To, e.Trigger)
	}
	return nil
}
