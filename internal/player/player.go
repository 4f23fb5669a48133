// Package player hands an extracted stream to a local media player.
// Players are launched with explicit argument slices; nothing goes through
// a shell.
package player

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"wasmkey/internal/extract"
)

// Target is what a player needs to open a stream. The provider's CDN
// rejects playlist requests without the embed page as Referer.
type Target struct {
	URL       string
	Title     string
	Referer   string
	UserAgent string
	Subtitles []string // URLs or local paths; the first is selected
	Start     int      // seconds
}

// FromResult builds a Target for res. With skipIntro the playback starts
// at the end of a valid intro segment.
func FromResult(res *extract.Result, userAgent string, skipIntro bool) (Target, error) {
	if res == nil || res.Stream == nil || res.Stream.URL == "" {
		return Target{}, fmt.Errorf("no stream to play")
	}
	t := Target{
		URL:       res.Stream.URL,
		Title:     res.Embed.Xrax,
		Referer:   res.Embed.Origin + "/",
		UserAgent: userAgent,
	}
	for _, sub := range res.Stream.Subtitles {
		if sub.Default {
			t.Subtitles = append([]string{sub.URL}, t.Subtitles...)
			continue
		}
		t.Subtitles = append(t.Subtitles, sub.URL)
	}
	if skipIntro && res.Stream.Intro.Valid() {
		t.Start = res.Stream.Intro.End
	}
	return t, nil
}

// Player launches one kind of media player.
type Player interface {
	Name() string
	Available() bool
	Args(t Target) []string
}

// New returns the player for name. Unknown names get mpv.
func New(name string) Player {
	switch name {
	case "vlc":
		return vlc{}
	case "iina", "celluloid":
		return mpvLike{name: name}
	default:
		return mpvLike{name: "mpv"}
	}
}

// Play runs p on t and waits for it to exit. Quitting the player is not
// an error.
func Play(ctx context.Context, p Player, t Target) error {
	if !p.Available() {
		return fmt.Errorf("%s not found in PATH", p.Name())
	}
	cmd := exec.CommandContext(ctx, p.Name(), p.Args(t)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return nil
		}
		return fmt.Errorf("running %s: %w", p.Name(), err)
	}
	return nil
}

// mpvLike covers mpv and the players that accept its flags.
type mpvLike struct {
	name string
}

func (m mpvLike) Name() string { return m.name }

func (m mpvLike) Available() bool {
	_, err := exec.LookPath(m.name)
	return err == nil
}

func (m mpvLike) Args(t Target) []string {
	args := []string{
		t.URL,
		"--force-media-title=" + t.Title,
		"--referrer=" + t.Referer,
	}
	if t.UserAgent != "" {
		args = append(args, "--user-agent="+t.UserAgent)
	}
	if t.Start > 0 {
		args = append(args, "--start=+"+strconv.Itoa(t.Start))
	}
	for _, sub := range t.Subtitles {
		args = append(args, "--sub-file="+sub)
	}
	return args
}

type vlc struct{}

func (vlc) Name() string { return "vlc" }

func (vlc) Available() bool {
	_, err := exec.LookPath("vlc")
	return err == nil
}

func (vlc) Args(t Target) []string {
	args := []string{
		t.URL,
		"--meta-title", t.Title,
		"--http-referrer", t.Referer,
		"--play-and-exit",
	}
	if t.UserAgent != "" {
		args = append(args, "--http-user-agent", t.UserAgent)
	}
	if t.Start > 0 {
		args = append(args, "--start-time="+strconv.Itoa(t.Start))
	}
	// vlc takes a single subtitle file
	if len(t.Subtitles) > 0 {
		args = append(args, "--sub-file", t.Subtitles[0])
	}
	return args
}
