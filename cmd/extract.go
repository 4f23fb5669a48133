package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wasmkey/internal/extract"
	"wasmkey/internal/player"
	"wasmkey/internal/subtitle"
	"wasmkey/internal/ui"
)

var (
	flagSubsDir   string
	flagPlay      bool
	flagPlayer    string
	flagSkipIntro bool
)

var extractCmd = &cobra.Command{
	Use:   "extract [embed-url | id]",
	Short: "Resolve an embed into its decrypted stream sources",
	Long: `Runs the full pipeline for one embed: fetch the page, run the wasm module
for a token, call getSources and decrypt the result. Without an argument
the embed is read interactively.`,
	Args: cobra.MaximumNArgs(1),
	RunE: extractRun,
}

func init() {
	f := extractCmd.Flags()
	f.StringVar(&flagSubsDir, "subs-dir", "", "Download the preferred-language subtitle into this directory")
	f.BoolVar(&flagPlay, "play", false, "Open the stream in a media player")
	f.StringVarP(&flagPlayer, "player", "p", "", "Player: mpv | vlc | iina | celluloid")
	f.BoolVar(&flagSkipIntro, "skip-intro", false, "Start playback after the intro")
}

func extractRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var input string
	if len(args) == 1 {
		input = args[0]
	} else {
		var err error
		input, err = ui.Input(ctx, "Embed URL or id")
		if err != nil {
			return err
		}
	}

	store, err := openHistory()
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	x, cleanup, err := newExtractor(ctx, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	started := time.Now()
	res, err := x.Extract(ctx, input)
	record(ctx, store, input, res, err, started)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), ui.RenderError(err))
		return err
	}
	logger.Debug("extracted", zap.String("xrax", res.Embed.Xrax), zap.Duration("took", time.Since(started)))

	var subPath string
	if flagSubsDir != "" {
		if subPath, err = saveSubtitle(cmd, res); err != nil {
			return err
		}
	}

	if flagPlay {
		return play(cmd, res, subPath)
	}

	if ok, err := writeStructured(cmd.OutOrStdout(), res); ok {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderResult(res))
	return nil
}

func saveSubtitle(cmd *cobra.Command, res *extract.Result) (string, error) {
	if res.Stream == nil {
		return "", nil
	}
	sub := subtitle.BestMatch(res.Stream.Subtitles, cfg.SubsLanguage)
	if sub == nil {
		logger.Info("no subtitle track", zap.String("language", cfg.SubsLanguage))
		return "", nil
	}
	path, err := subtitle.Save(cmd.Context(), newClient(), *sub, flagSubsDir)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "subtitle saved to %s\n", path)
	return path, nil
}

// play blocks until the player exits. A downloaded subtitle is preferred
// over the remote tracks.
func play(cmd *cobra.Command, res *extract.Result, subPath string) error {
	name := cfg.Player
	if flagPlayer != "" {
		name = flagPlayer
	}
	t, err := player.FromResult(res, cfg.UserAgent, flagSkipIntro || cfg.SkipIntro)
	if err != nil {
		return err
	}
	if subPath != "" {
		t.Subtitles = []string{subPath}
	} else if sub := subtitle.BestMatch(res.Stream.Subtitles, cfg.SubsLanguage); sub != nil {
		t.Subtitles = []string{sub.URL}
	}
	logger.Info("playing", zap.String("player", name), zap.String("stream", t.URL))
	return player.Play(cmd.Context(), player.New(name), t)
}
