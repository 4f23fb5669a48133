package cmd

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"wasmkey/internal/extract"
	"wasmkey/internal/httputil"
	"wasmkey/internal/ui"
)

var (
	flagParallel int
	flagOutDir   string
)

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Extract every embed listed in a file",
	Long: `Reads one embed URL or source id per line. Blank lines and lines starting
with # are skipped. Use - to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: batchRun,
}

func init() {
	batchCmd.Flags().IntVarP(&flagParallel, "parallel", "p", 2, "Embeds extracted concurrently")
	batchCmd.Flags().StringVar(&flagOutDir, "out-dir", "", "Write one result file per embed into this directory")
}

// batchReporter receives per-item progress.
type batchReporter interface {
	Started(i int)
	Done(i int, err error, elapsed time.Duration)
}

type logReporter struct {
	inputs []string
}

func (r logReporter) Started(i int) {
	logger.Info("extracting", zap.Int("item", i+1), zap.String("input", r.inputs[i]))
}

func (r logReporter) Done(i int, err error, elapsed time.Duration) {
	if err != nil {
		logger.Warn("extraction failed", zap.Int("item", i+1), zap.String("input", r.inputs[i]), zap.Error(err))
		return
	}
	logger.Info("extracted", zap.Int("item", i+1), zap.String("input", r.inputs[i]), zap.Duration("took", elapsed))
}

func batchRun(cmd *cobra.Command, args []string) error {
	if flagParallel < 1 {
		return fmt.Errorf("--parallel must be at least 1")
	}
	inputs, err := readBatch(args[0])
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no embeds in %s", args[0])
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	x, cleanup, err := newExtractor(ctx, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := openHistory()
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	var (
		mu      sync.Mutex
		results = make([]*extract.Result, len(inputs))
		failed  int
	)
	work := func(rep batchReporter) {
		var wg sync.WaitGroup
		sem := make(chan struct{}, flagParallel)
		for i, input := range inputs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					mu.Lock()
					failed++
					mu.Unlock()
					rep.Done(i, ctx.Err(), 0)
					return
				}
				defer func() { <-sem }()

				rep.Started(i)
				started := time.Now()
				res, err := x.Extract(ctx, input)
				record(ctx, store, input, res, err, started)
				if err == nil && flagOutDir != "" {
					err = writeResultFile(flagOutDir, res)
				}

				mu.Lock()
				results[i] = res
				if err != nil {
					failed++
				}
				mu.Unlock()
				rep.Done(i, err, time.Since(started))
			}()
		}
		wg.Wait()
	}

	if f, ok := cmd.ErrOrStderr().(*os.File); ok && term.IsTerminal(int(f.Fd())) && flagOutput == "text" {
		view := ui.NewBatchView(inputs, f)
		finished := make(chan struct{})
		go func() {
			work(view)
			close(finished)
		}()
		interrupted, err := view.Run()
		if interrupted || err != nil {
			cancel()
		}
		<-finished
		if err != nil {
			return err
		}
	} else {
		work(logReporter{inputs: inputs})
	}

	if flagOutput != "text" {
		var ok []*extract.Result
		for _, r := range results {
			if r != nil {
				ok = append(ok, r)
			}
		}
		if _, err := writeStructured(cmd.OutOrStdout(), ok); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d embeds failed", failed, len(inputs))
	}
	return nil
}

// readBatch returns the non-comment lines of path, or stdin for "-".
func readBatch(path string) ([]string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	return parseBatch(data), nil
}

func parseBatch(data []byte) []string {
	var inputs []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		inputs = append(inputs, line)
	}
	return inputs
}

// writeResultFile stores res as <id>.json, or .yaml with -o yaml.
func writeResultFile(dir string, res *extract.Result) error {
	ext := ".json"
	if flagOutput == "yaml" {
		ext = ".yaml"
	}
	path, err := httputil.SafeOutputPath(dir, res.Embed.Xrax+ext)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	var buf bytes.Buffer
	format := "json"
	if flagOutput == "yaml" {
		format = "yaml"
	}
	if _, err := encode(&buf, format, res); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
