// Package ui holds the interactive pieces of the CLI: an fzf picker, lipgloss
// tables and the batch progress view.
//
// Items are piped to fzf via stdin as plain text. No preview commands or
// shell-evaluated strings carry remote data.
package ui

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ErrCancelled is returned when the user aborts a prompt.
var ErrCancelled = errors.New("selection cancelled")

// fzf runs fzf with args, feeding it stdin, and returns its output. exit 1
// (no match) is not an error; 130 (esc, ctrl+c) is ErrCancelled.
func fzf(ctx context.Context, stdin string, args ...string) (string, error) {
	path, err := exec.LookPath("fzf")
	if err != nil {
		return "", fmt.Errorf("fzf not found in PATH: %w", err)
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Stdout = &out
	cmd.Stderr = os.Stderr

	err = cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
	case errors.As(err, &exitErr) && exitErr.ExitCode() == 130:
		return "", ErrCancelled
	default:
		return "", fmt.Errorf("fzf failed: %w", err)
	}
	return out.String(), nil
}

// Select presents items via fzf and returns the selected item's index.
func Select(ctx context.Context, prompt string, items []string) (int, error) {
	if len(items) == 0 {
		return -1, fmt.Errorf("no items to select from")
	}

	// index<TAB>item; only the item is shown
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = strconv.Itoa(i) + "\t" + strings.ReplaceAll(item, "\n", " ")
	}

	out, err := fzf(ctx, strings.Join(lines, "\n")+"\n",
		"--prompt", prompt+" > ",
		"--height", "40%",
		"--reverse",
		"--with-nth", "2..",
		"--delimiter", "\t",
		"--no-multi",
		"--cycle",
	)
	if err != nil {
		return -1, err
	}

	field, _, _ := strings.Cut(strings.TrimSpace(out), "\t")
	if field == "" {
		return -1, fmt.Errorf("no selection made")
	}
	idx, err := strconv.Atoi(field)
	if err != nil {
		return -1, fmt.Errorf("parsing selection index: %w", err)
	}
	if idx < 0 || idx >= len(items) {
		return -1, fmt.Errorf("selection index %d out of range", idx)
	}
	return idx, nil
}

// Confirm asks a yes/no question via fzf.
func Confirm(ctx context.Context, prompt string) (bool, error) {
	idx, err := Select(ctx, prompt, []string{"Yes", "No"})
	if err != nil {
		return false, err
	}
	return idx == 0, nil
}

// Input prompts for free text: the typed query is fzf's first output line.
func Input(ctx context.Context, prompt string) (string, error) {
	out, err := fzf(ctx, "",
		"--prompt", prompt+" > ",
		"--height", "10%",
		"--reverse",
		"--print-query",
		"--no-info",
	)
	if err != nil {
		return "", err
	}

	query, _, _ := strings.Cut(out, "\n")
	if query = strings.TrimSpace(query); query == "" {
		return "", fmt.Errorf("no input provided")
	}
	return query, nil
}
