// Package extract runs yt-dlp to list formats and download artifacts into a
// session directory.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lrstanley/go-ytdlp"

	"github.com/cordum/mediadrop/core/artifact"
	"github.com/cordum/mediadrop/core/infra/logging"
)

const (
	outputTemplate  = "%(title)s.%(ext)s"
	defaultMaxAudio = 3
)

var ErrNoOutput = errors.New("yt-dlp produced no output")

// Ytdlp implements the lifecycle Downloader and MetadataSource on top of
// the yt-dlp binary.
type Ytdlp struct {
	cookieFile string
	maxAudio   int
}

type Option func(*Ytdlp)

// WithCookieFile passes a Netscape cookie jar to every invocation.
func WithCookieFile(path string) Option {
	return func(y *Ytdlp) { y.cookieFile = strings.TrimSpace(path) }
}

// WithMaxAudio caps how many audio tracks are combined into the format listing.
func WithMaxAudio(n int) Option {
	return func(y *Ytdlp) {
		if n > 0 {
			y.maxAudio = n
		}
	}
}

func New(opts ...Option) *Ytdlp {
	y := &Ytdlp{maxAudio: defaultMaxAudio}
	for _, opt := range opts {
		opt(y)
	}
	return y
}

func (y *Ytdlp) command() *ytdlp.Command {
	cmd := ytdlp.New().NoPlaylist()
	if y.cookieFile != "" {
		cmd = cmd.Cookies(y.cookieFile)
	}
	return cmd
}

// Download fetches source in the requested format into dir and returns the
// produced file name. An empty name is returned when yt-dlp did not report one.
func (y *Ytdlp) Download(ctx context.Context, source, format, dir string) (string, error) {
	cmd := y.command().
		Format(format).
		RestrictFilenames().
		Output(filepath.Join(dir, outputTemplate))

	result, err := cmd.Run(ctx, source)
	if err != nil {
		return "", fmt.Errorf("yt-dlp download: %w", err)
	}
	info, err := result.GetExtractedInfo()
	if err != nil || len(info) == 0 || info[0].Filename == nil {
		logging.Warn("extract", "download filename not reported", "source", source)
		return "", nil
	}
	return filepath.Base(*info[0].Filename), nil
}

// Extract lists the downloadable formats and subtitles for source.
func (y *Ytdlp) Extract(ctx context.Context, source string) (artifact.Metadata, error) {
	result, err := y.command().
		SkipDownload().
		DumpSingleJSON().
		Run(ctx, source)
	if err != nil {
		return artifact.Metadata{}, fmt.Errorf("yt-dlp extract: %w", err)
	}
	if result == nil || strings.TrimSpace(result.Stdout) == "" {
		return artifact.Metadata{}, ErrNoOutput
	}
	return ParseInfo([]byte(result.Stdout), y.maxAudio)
}
