// Package transcode converts audio the player cannot decode into MP3 and
// reads tags through ffprobe.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ipoddock/internal/config"
	"ipoddock/internal/devicedb"
	"ipoddock/internal/logging"
	"ipoddock/internal/media/ffprobe"
	"ipoddock/internal/services"
	"ipoddock/internal/textutil"
)

// Transcoder shells out to ffmpeg and ffprobe.
type Transcoder struct {
	formats map[string]struct{}
	bitrate int
	ffmpeg  string
	ffprobe string
	workDir string
	logger  *slog.Logger
}

// New builds a Transcoder from the audio and paths sections of cfg.
func New(cfg *config.Config, logger *slog.Logger) *Transcoder {
	formats := make(map[string]struct{}, len(cfg.Audio.SupportedFormats))
	for _, f := range cfg.Audio.SupportedFormats {
		formats[strings.ToLower(f)] = struct{}{}
	}
	return &Transcoder{
		formats: formats,
		bitrate: cfg.Audio.Bitrate,
		ffmpeg:  cfg.Audio.FFmpegBinary,
		ffprobe: cfg.Audio.FFprobeBinary,
		workDir: cfg.Paths.WorkDir,
		logger:  logging.NewComponentLogger(logger, "transcode"),
	}
}

// IsCompatible reports whether the player decodes path natively.
func (t *Transcoder) IsCompatible(path string) bool {
	_, ok := t.formats[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Convert transcodes path to MP3 in the work directory and validates the
// result. The caller owns the returned file and releases it with Cleanup.
func (t *Transcoder) Convert(ctx context.Context, path string) (string, error) {
	if err := os.MkdirAll(t.workDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTranscode, "transcode", "convert", "create work dir", err)
	}
	base := textutil.SanitizeToken(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	dest := filepath.Join(t.workDir, fmt.Sprintf("%s-%s.mp3", base, uuid.NewString()[:8]))

	start := time.Now()
	args := []string{"-y", "-i", path, "-vn", "-codec:a", "libmp3lame", "-b:a", fmt.Sprintf("%dk", t.bitrate), dest}
	cmd := exec.CommandContext(ctx, t.ffmpeg, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(dest)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", services.Wrap(services.ErrTranscode, "transcode", "convert", "interrupted", ctxErr)
		}
		return "", services.Wrap(services.ErrTranscode, "transcode", "convert",
			fmt.Sprintf("ffmpeg failed: %s", lastLine(string(output))), err)
	}

	result, err := ffprobe.Inspect(ctx, t.ffprobe, dest)
	if err != nil {
		_ = os.Remove(dest)
		return "", services.Wrap(services.ErrTranscode, "transcode", "validate", "probe output", err)
	}
	if result.AudioStreamCount() == 0 {
		_ = os.Remove(dest)
		return "", services.Wrap(services.ErrTranscode, "transcode", "validate", "output has no audio stream", nil)
	}
	if d := result.DurationSeconds(); math.IsNaN(d) || d <= 0 {
		_ = os.Remove(dest)
		return "", services.Wrap(services.ErrTranscode, "transcode", "validate", "output has no duration", nil)
	}

	t.logger.Info("transcoded",
		logging.String("source", filepath.Base(path)),
		logging.String("output", filepath.Base(dest)),
		logging.Int("bitrate_kbps", t.bitrate),
		logging.Duration("elapsed", time.Since(start)),
	)
	return dest, nil
}

// Cleanup removes a file produced by Convert. Paths outside the work
// directory are ignored.
func (t *Transcoder) Cleanup(path string) {
	if path == "" {
		return
	}
	rel, err := filepath.Rel(t.workDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		t.logger.Debug("work file cleanup failed", logging.String("path", path), logging.Error(err))
	}
}

// Probe reads tags and duration from path.
func (t *Transcoder) Probe(ctx context.Context, path string) (devicedb.TrackMetadata, error) {
	result, err := ffprobe.Inspect(ctx, t.ffprobe, path)
	if err != nil {
		return devicedb.TrackMetadata{}, services.Wrap(services.ErrExternalTool, "transcode", "probe", filepath.Base(path), err)
	}
	meta := devicedb.TrackMetadata{
		Title:       result.Tag("title"),
		Artist:      firstNonEmpty(result.Tag("artist"), result.Tag("album_artist")),
		Album:       result.Tag("album"),
		Genre:       result.Tag("genre"),
		TrackNumber: parseTrackNumber(result.Tag("track")),
	}
	if d := result.DurationSeconds(); !math.IsNaN(d) && d > 0 {
		meta.DurationMS = int64(d * 1000)
	}
	return meta, nil
}

// parseTrackNumber accepts "3" and "3/12".
func parseTrackNumber(value string) int {
	value = strings.TrimSpace(value)
	if i := strings.IndexByte(value, '/'); i >= 0 {
		value = value[:i]
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
