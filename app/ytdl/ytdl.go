package ytdl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lysyi3m/cast-comb/app/feed"
	"github.com/lysyi3m/cast-comb/app/model"
)

const (
	DefaultDownloadTimeout = 10 * time.Minute
	UpdatePeriod           = 24 * time.Hour
)

// ErrTooManyRequests signals that the remote host rate-limited us. Callers
// stop sending download requests for the current run and retry next time.
var ErrTooManyRequests = fmt.Errorf("%s", http.StatusText(http.StatusTooManyRequests))

// ProgressFunc receives progress events while a download is running.
// stage is one of "downloading", "encoding"; percent is 0-100; total may be
// 0 when the size is unknown; speed is a human string like "1.2MiB/s".
type ProgressFunc func(stage string, percent float64, downloaded, total int64, speed string)

// Config is the downloader configuration section.
type Config struct {
	// SelfUpdate toggles a self update at startup and every 24 hours
	SelfUpdate bool `yaml:"self_update,omitempty" json:"self_update"`
	// UpdateChannel selects the update channel: stable, nightly or master
	UpdateChannel string `yaml:"update_channel,omitempty" json:"update_channel,omitempty"`
	// UpdateVersion locks updates to a version ("channel@tag" or "tag")
	UpdateVersion string `yaml:"update_version,omitempty" json:"update_version,omitempty"`
	// Timeout in minutes for a single download to finish
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// CustomBinary is a custom downloader path, allows using forks
	CustomBinary string `yaml:"custom_binary,omitempty" json:"custom_binary,omitempty"`
}

// PlaylistMetadataThumbnail is a single thumbnail variant in the metadata dump.
type PlaylistMetadataThumbnail struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Resolution string `json:"resolution"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// PlaylistMetadata is the channel/playlist level metadata dump.
type PlaylistMetadata struct {
	ID          string                      `json:"id"`
	Title       string                      `json:"title"`
	Description string                      `json:"description"`
	Thumbnails  []PlaylistMetadataThumbnail `json:"thumbnails"`
	Channel     string                      `json:"channel"`
	ChannelID   string                      `json:"channel_id"`
	ChannelURL  string                      `json:"channel_url"`
	WebpageURL  string                      `json:"webpage_url"`
	Entries     []PlaylistEntry             `json:"entries"`
}

// PlaylistEntry is a single item of a flat playlist dump.
type PlaylistEntry struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Duration    float64 `json:"duration"`
	URL         string  `json:"url"`
	WebpageURL  string  `json:"webpage_url"`
	Timestamp   int64   `json:"timestamp"`
	UploadDate  string  `json:"upload_date"`
	Thumbnails  []PlaylistMetadataThumbnail `json:"thumbnails"`
}

// YoutubeDl wraps the external downloader binary. A dedicated mutex
// serializes self updates against invocations so the binary is never
// replaced mid-download.
type YoutubeDl struct {
	path          string
	timeout       time.Duration
	updateChannel string
	updateVersion string
	updateLock    sync.Mutex
}

func New(ctx context.Context, cfg Config) (*YoutubeDl, error) {
	var (
		path string
		err  error
	)

	if cfg.CustomBinary != "" {
		path = cfg.CustomBinary

		// Never self update a custom binary
		slog.Warn("Using custom downloader binary, turning self updates off", "path", path)
		cfg.SelfUpdate = false
	} else {
		path, err = exec.LookPath("yt-dlp")
		if err != nil {
			return nil, fmt.Errorf("yt-dlp binary not found: %w", err)
		}

		slog.Debug("Found downloader binary", "path", path)
	}

	if cfg.UpdateChannel == "" {
		cfg.UpdateChannel = "stable"
	}

	timeout := DefaultDownloadTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Minute
	}

	slog.Debug("Download timeout configured", "minutes", int(timeout.Minutes()))

	ytdl := &YoutubeDl{
		path:          path,
		timeout:       timeout,
		updateChannel: cfg.UpdateChannel,
		updateVersion: cfg.UpdateVersion,
	}

	version, err := ytdl.exec(ctx, "--version")
	if err != nil {
		return nil, fmt.Errorf("could not run downloader binary: %w", err)
	}

	slog.Info("Using downloader", "version", strings.TrimSpace(version))

	if err := ytdl.ensureDependencies(ctx); err != nil {
		return nil, err
	}

	if cfg.SelfUpdate {
		// Initial blocking update at launch
		if err := ytdl.Update(ctx); err != nil {
			slog.Error("Failed to update downloader", "error", err)
		}

		go func() {
			for {
				time.Sleep(UpdatePeriod)

				if err := ytdl.Update(context.Background()); err != nil {
					slog.Error("Downloader self update failed", "error", err)
				}
			}
		}()
	}

	return ytdl, nil
}

func (dl *YoutubeDl) ensureDependencies(ctx context.Context) error {
	found := false

	for _, transcoder := range []string{"ffmpeg", "avconv"} {
		path, err := exec.LookPath(transcoder)
		if err != nil {
			continue
		}

		output, err := exec.CommandContext(ctx, path, "-version").CombinedOutput()
		if err != nil {
			return fmt.Errorf("could not get %s version: %w", transcoder, err)
		}

		found = true
		slog.Info("Found transcoder", "binary", transcoder, "version", firstLine(string(output)))
	}

	if !found {
		return fmt.Errorf("either ffmpeg or avconv is required")
	}

	return nil
}

func (dl *YoutubeDl) Version(ctx context.Context) (string, error) {
	return dl.exec(ctx, "--version")
}

// Update runs the downloader self update. Serialized with downloads via
// updateLock.
func (dl *YoutubeDl) Update(ctx context.Context) error {
	dl.updateLock.Lock()
	defer dl.updateLock.Unlock()

	var args []string

	switch {
	case dl.updateVersion != "":
		slog.Info("Updating downloader to pinned version", "version", dl.updateVersion)
		args = []string{"--update-to", dl.updateVersion, "--verbose"}
	case dl.updateChannel != "" && dl.updateChannel != "stable":
		slog.Info("Updating downloader channel", "channel", dl.updateChannel)
		args = []string{"--update-to", dl.updateChannel, "--verbose"}
	default:
		slog.Info("Updating downloader to latest stable version")
		args = []string{"--update", "--verbose"}
	}

	output, err := dl.exec(ctx, args...)
	if err != nil {
		slog.Error("Self update failed", "output", output)
		return fmt.Errorf("failed to self update downloader: %w", err)
	}

	slog.Debug("Self update finished", "output", output)
	return nil
}

// PlaylistMetadata fetches channel-level metadata without items.
func (dl *YoutubeDl) PlaylistMetadata(ctx context.Context, url string) (PlaylistMetadata, error) {
	slog.Debug("Fetching playlist metadata", "url", url)

	args := []string{
		"--playlist-items", "0",
		"-J",            // JSON output
		"-q",            // quiet mode
		"--no-warnings", // suppress warnings
		url,
	}

	dl.updateLock.Lock()
	defer dl.updateLock.Unlock()

	output, err := dl.exec(ctx, args...)
	if err != nil {
		if strings.Contains(output, "HTTP Error 429") {
			return PlaylistMetadata{}, ErrTooManyRequests
		}

		slog.Error("Metadata fetch failed", "url", url, "output", output)
		return PlaylistMetadata{}, fmt.Errorf("failed to fetch playlist metadata: %s", firstLine(output))
	}

	var metadata PlaylistMetadata
	if err := json.Unmarshal([]byte(output), &metadata); err != nil {
		return PlaylistMetadata{}, fmt.Errorf("failed to decode playlist metadata: %w", err)
	}

	return metadata, nil
}

// PlaylistItems fetches the first count items of a playlist as a flat dump.
func (dl *YoutubeDl) PlaylistItems(ctx context.Context, url string, count int, newestFirst bool) (PlaylistMetadata, error) {
	slog.Debug("Fetching playlist items", "url", url, "count", count)

	args := []string{
		"--flat-playlist",
		"-J",
		"-q",
		"--no-warnings",
	}
	if count > 0 {
		args = append(args, "--playlist-items", fmt.Sprintf("1:%d", count))
	}
	if newestFirst {
		args = append(args, "--playlist-reverse")
	}
	args = append(args, url)

	dl.updateLock.Lock()
	defer dl.updateLock.Unlock()

	output, err := dl.exec(ctx, args...)
	if err != nil {
		if strings.Contains(output, "HTTP Error 429") {
			return PlaylistMetadata{}, ErrTooManyRequests
		}

		slog.Error("Playlist fetch failed", "url", url, "output", output)
		return PlaylistMetadata{}, fmt.Errorf("failed to fetch playlist items: %s", firstLine(output))
	}

	var metadata PlaylistMetadata
	if err := json.Unmarshal([]byte(output), &metadata); err != nil {
		return PlaylistMetadata{}, fmt.Errorf("failed to decode playlist dump: %w", err)
	}

	return metadata, nil
}

// Download fetches one episode into a temporary directory and returns a
// reader over the finished file. Closing the reader removes the directory;
// on error the directory is removed before returning.
func (dl *YoutubeDl) Download(ctx context.Context, feedConfig *feed.Config, episode *model.Episode, progress ProgressFunc) (r io.ReadCloser, err error) {
	tmpDir, err := os.MkdirTemp("", "castcomb-")
	if err != nil {
		return nil, fmt.Errorf("failed to get temp dir for download: %w", err)
	}

	defer func() {
		if err != nil {
			if err1 := os.RemoveAll(tmpDir); err1 != nil {
				slog.Error("Could not remove temp dir", "dir", tmpDir, "error", err1)
			}
		}
	}()

	// Output template, the downloader fills in the final extension
	filePath := filepath.Join(tmpDir, fmt.Sprintf("%s.%s", episode.ID, "%(ext)s"))

	args := buildArgs(feedConfig, episode, filePath)

	dl.updateLock.Lock()
	defer dl.updateLock.Unlock()

	output, err := dl.execWithProgress(ctx, progress, args...)
	if err != nil {
		if strings.Contains(output, "HTTP Error 429") {
			return nil, ErrTooManyRequests
		}

		slog.Error("Download failed", "episode", episode.ID, "output", output)
		return nil, fmt.Errorf("download failed: %s", firstLine(output))
	}

	ext := "mp4"
	if feedConfig.Format == model.FormatAudio {
		ext = "mp3"
	}
	if feedConfig.Format == model.FormatCustom {
		ext = feedConfig.CustomFormat.Extension
	}

	f, err := os.Open(filepath.Join(tmpDir, fmt.Sprintf("%s.%s", episode.ID, ext)))
	if err != nil {
		return nil, fmt.Errorf("failed to open downloaded file: %w", err)
	}

	return &tempFile{File: f, dir: tmpDir}, nil
}

func (dl *YoutubeDl) exec(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, dl.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, dl.path, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("failed to execute downloader: %w", err)
	}

	return string(output), nil
}

// execWithProgress runs the downloader and feeds its stderr through the
// progress parser line by line.
func (dl *YoutubeDl) execWithProgress(ctx context.Context, progress ProgressFunc, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, dl.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, dl.path, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start downloader: %w", err)
	}

	var outputBuilder strings.Builder
	stderrDone := make(chan struct{})

	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			outputBuilder.WriteString(line)
			outputBuilder.WriteString("\n")

			if progress != nil {
				parseProgressLine(line, progress)
			}
		}
	}()

	// Stdout is mostly empty for downloads
	stdoutScanner := bufio.NewScanner(stdout)
	for stdoutScanner.Scan() {
		line := stdoutScanner.Text()
		outputBuilder.WriteString(line)
		outputBuilder.WriteString("\n")

		if progress != nil {
			parseProgressLine(line, progress)
		}
	}

	err = cmd.Wait()
	<-stderrDone

	output := outputBuilder.String()
	if err != nil {
		return output, fmt.Errorf("failed to execute downloader: %w", err)
	}

	return output, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// tempFile wraps the downloaded file so that closing it removes the whole
// temporary directory.
type tempFile struct {
	*os.File
	dir string
}

func (f *tempFile) Close() error {
	err := f.File.Close()

	if err1 := os.RemoveAll(f.dir); err1 != nil {
		slog.Error("Could not remove temp dir", "dir", f.dir, "error", err1)
	}

	return err
}
