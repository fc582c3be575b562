// Package ytdlp shells out to the yt-dlp binary to download a URL's audio
// track and convert it to the requested format. ffmpeg must be on PATH for
// the conversion step.
package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tunepull/internal/core"
)

const outputTemplate = "audio.%(ext)s"

// Config selects the binary and default media parameters.
type Config struct {
	// Binary is the yt-dlp executable name or path (default "yt-dlp").
	Binary string `mapstructure:"binary" yaml:"binary"`
	// Quality is the yt-dlp format selector (default "bestaudio/best").
	Quality string `mapstructure:"quality" yaml:"quality"`
	// Format is the output audio codec (default "mp3").
	Format string `mapstructure:"format" yaml:"format"`
	// Bitrate is the target bitrate in kbps for lossy formats (default "192").
	Bitrate string `mapstructure:"bitrate" yaml:"bitrate"`
}

// Client implements core.Extractor on top of the yt-dlp CLI.
type Client struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a Client. It does not verify the binary is installed; use
// CheckDependencies for that.
func New(cfg Config, logger *zap.Logger) *Client {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = "yt-dlp"
	}
	if strings.TrimSpace(cfg.Quality) == "" {
		cfg.Quality = "bestaudio/best"
	}
	if strings.TrimSpace(cfg.Format) == "" {
		cfg.Format = "mp3"
	}
	if strings.TrimSpace(cfg.Bitrate) == "" {
		cfg.Bitrate = "192"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, logger: logger}
}

// CheckDependencies verifies yt-dlp and ffmpeg are reachable on PATH.
func (c *Client) CheckDependencies() error {
	if _, err := exec.LookPath(c.cfg.Binary); err != nil {
		return fmt.Errorf("missing dependency: %s is not installed or not on PATH", c.cfg.Binary)
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("missing dependency: ffmpeg is required for audio conversion and was not found on PATH")
	}
	return nil
}

// MediaInfo is the subset of yt-dlp -J output the client cares about.
type MediaInfo struct {
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
}

// Probe fetches metadata without downloading.
func (c *Client) Probe(ctx context.Context, rawURL string) (MediaInfo, error) {
	args := []string{"--no-playlist", "-J", rawURL}
	cmd := exec.CommandContext(ctx, c.cfg.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return MediaInfo{}, fmt.Errorf("yt-dlp probe failed: %w: %s",
			err, strings.TrimSpace(stderr.String()))
	}
	var info MediaInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return MediaInfo{}, fmt.Errorf("parse yt-dlp metadata: %w", err)
	}
	return info, nil
}

// Extract downloads the URL's audio into req.OutputDir, reporting samples via
// onProgress as yt-dlp prints them. Cancelling ctx kills the subprocess.
func (c *Client) Extract(ctx context.Context, req core.ExtractRequest, onProgress core.ProgressFunc) (core.ExtractResult, error) {
	quality := req.Quality
	if strings.TrimSpace(quality) == "" || quality == "best" {
		quality = c.cfg.Quality
	}
	format := req.Format
	if strings.TrimSpace(format) == "" {
		format = c.cfg.Format
	}

	info, err := c.Probe(ctx, req.URL)
	if err != nil {
		return core.ExtractResult{}, core.NewExtractionError("unable to extract media information", err)
	}

	args := []string{
		"--no-playlist",
		"--newline",
		"--restrict-filenames",
		"-f", quality,
		"-x",
		"--audio-format", format,
		"--audio-quality", c.cfg.Bitrate + "K",
		"-P", req.OutputDir,
		"-o", outputTemplate,
		req.URL,
	}
	if err := c.run(ctx, args, onProgress); err != nil {
		if ctx.Err() != nil {
			return core.ExtractResult{}, ctx.Err()
		}
		return core.ExtractResult{}, core.NewExtractionError("download failed", err)
	}

	outputPath, size, err := findOutput(req.OutputDir, format)
	if err != nil {
		return core.ExtractResult{}, core.NewExtractionError("output file missing", err)
	}
	return core.ExtractResult{
		OutputPath: outputPath,
		SizeBytes:  size,
		Duration:   time.Duration(info.Duration * float64(time.Second)),
		Title:      info.Title,
	}, nil
}

// run streams the subprocess output line by line so progress samples reach
// the caller while the download is still going.
func (c *Client) run(ctx context.Context, args []string, onProgress core.ProgressFunc) error {
	cmd := exec.CommandContext(ctx, c.cfg.Binary, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("setup stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.cfg.Binary, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdoutPipe)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			sample, ok := ParseLine(line)
			if !ok {
				continue
			}
			c.logger.Debug("extraction progress",
				zap.Float64("percent", sample.Percent),
				zap.String("stage", sample.Stage),
			)
			if onProgress != nil {
				onProgress(core.Snapshot{
					Percent:         sample.Percent,
					DownloadedBytes: sample.DownloadedBytes,
					TotalBytes:      sample.TotalBytes,
					Stage:           sample.Stage,
					UpdatedAt:       time.Now().UTC(),
				})
			}
		}
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s failed: %w: %s",
			c.cfg.Binary, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// findOutput locates the converted file. The output template pins the stem
// to "audio", so the match is by extension.
func findOutput(dir, format string) (string, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, fmt.Errorf("read output directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.TrimPrefix(filepath.Ext(entry.Name()), ".") != format {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return "", 0, fmt.Errorf("stat output file: %w", err)
		}
		return filepath.Join(dir, entry.Name()), info.Size(), nil
	}
	return "", 0, fmt.Errorf("no .%s file in %s", format, dir)
}

// yt-dlp redraws progress lines with carriage returns unless --newline is
// set; tolerate both.
func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
