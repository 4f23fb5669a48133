package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"wasmkey/internal/history"
	"wasmkey/internal/ui"
)

var (
	flagHistoryLimit int
	flagPick         bool
	flagClear        bool
	flagRemove       string
	flagYes          bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List, re-run or clear past extractions",
	Args:  cobra.NoArgs,
	RunE:  historyRun,
}

func init() {
	f := historyCmd.Flags()
	f.IntVarP(&flagHistoryLimit, "limit", "n", 20, "Entries to show (0 for all)")
	f.BoolVar(&flagPick, "pick", false, "Pick an entry with fzf and extract it again")
	f.BoolVar(&flagClear, "clear", false, "Delete every entry")
	f.StringVar(&flagRemove, "remove", "", "Delete the entry for this source id")
	f.BoolVarP(&flagYes, "yes", "y", false, "Do not ask before clearing")
	historyCmd.MarkFlagsMutuallyExclusive("pick", "clear", "remove")
}

func historyRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	path, err := cfg.HistoryPath()
	if err != nil {
		return err
	}
	store, err := history.Open(path)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer store.Close()

	switch {
	case flagClear:
		if !flagYes {
			ok, err := ui.Confirm(ctx, "Clear all history?")
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		n, err := store.Clear(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries.\n", n)
		return nil

	case flagRemove != "":
		return store.Remove(ctx, flagRemove)
	}

	entries, err := store.List(ctx, flagHistoryLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No history entries found.")
		return nil
	}

	if !flagPick {
		if ok, err := writeStructured(cmd.OutOrStdout(), entries); ok {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderHistory(entries))
		return nil
	}

	idx, err := ui.Select(ctx, "History", history.FormatForDisplay(entries))
	if errors.Is(err, ui.ErrCancelled) {
		return nil
	}
	if err != nil {
		return err
	}
	selected := entries[idx]
	logger.Debug("re-running " + selected.Xrax)

	x, cleanup, err := newExtractor(ctx, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	started := time.Now()
	res, err := x.Extract(ctx, selected.Input)
	// the store is open even with history recording disabled
	if cfg.History {
		record(ctx, store, selected.Input, res, err, started)
	}
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), ui.RenderError(err))
		return err
	}
	if ok, err := writeStructured(cmd.OutOrStdout(), res); ok {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderResult(res))
	return nil
}
