package cmd

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wasmkey/internal/extract"
	"wasmkey/internal/runner"
	"wasmkey/internal/ui"
)

var flagShowPayload bool

var tokenCmd = &cobra.Command{
	Use:   "token <embed-url | id>",
	Short: "Run the wasm module and print pid, kversion and kid",
	Args:  cobra.ExactArgs(1),
	RunE:  tokenRun,
}

func init() {
	tokenCmd.Flags().BoolVar(&flagShowPayload, "payload", false, "Also print the navigate payload (base64)")
}

type tokenOutput struct {
	Embed   extract.Embed `json:"embed" yaml:"embed"`
	Token   *runner.Token `json:"token" yaml:"token"`
	Payload string        `json:"payload,omitempty" yaml:"payload,omitempty"`
}

func tokenRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	x, cleanup, err := newExtractor(ctx, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	started := time.Now()
	res, payload, err := x.Token(ctx, args[0])
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), ui.RenderError(err))
		return err
	}
	logger.Debug("token ready", zap.String("xrax", res.Embed.Xrax), zap.Duration("took", time.Since(started)))

	res.Token.Payload = nil
	out := tokenOutput{Embed: res.Embed, Token: res.Token}
	if flagShowPayload {
		out.Payload = base64.StdEncoding.EncodeToString(payload)
	}
	if ok, err := writeStructured(cmd.OutOrStdout(), out); ok {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderResult(res))
	if out.Payload != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "payload  %s\n", out.Payload)
	}
	return nil
}
