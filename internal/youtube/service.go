// =============================================================================
// ICBU Broker - YouTube Downloader
// =============================================================================
//
// This module downloads a video and a separate audio track with yt-dlp and
// records the result in meta.json:
//
//   <download_dir>/<video_id>/video.mp4   (merged to mp4 when split)
//   <download_dir>/<video_id>/audio.m4a   (best audio, optional)
//   <download_dir>/<video_id>/meta.json
//
// FORMAT SELECTION:
//   A known quality ("720p") selects the best stream no taller than the
//   target, mp4 first, then any container, then any mp4, then anything.
//   When that expression fails the download is retried with "best".
//
// An audio failure does not fail the download, and a meta.json write
// failure is only logged.
//
// =============================================================================

package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/billlvtech/icbu-broker/pkg/utils"
)

// File names inside a video directory.
const (
	MetaFile       = "meta.json"
	VideoFile      = "video.mp4"
	AudioFile      = "audio.m4a"
	videoTemplate  = "video.%(ext)s"
	audioTemplate  = "audio.%(ext)s"
	fallbackFormat = "best"
	audioFormat    = "bestaudio[ext=m4a]/bestaudio"
)

// DefaultQuality is used when a request names no quality.
const DefaultQuality = "720p"

var qualityHeights = map[string]int{
	"360p":  360,
	"480p":  480,
	"720p":  720,
	"1080p": 1080,
	"2160p": 2160,
}

// ExtractVideoID returns the id of a watch or youtu.be URL. Anything else
// gets a random 10 character id.
func ExtractVideoID(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err == nil {
		if v := u.Query().Get("v"); utils.ValidID(v) {
			return v
		}
		if strings.Contains(u.Host, "youtu.be") {
			if id := strings.Trim(u.Path, "/"); utils.ValidID(id) {
				return id
			}
		}
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// BuildFormat returns the yt-dlp format expression for quality.
func BuildFormat(quality string) string {
	if h, ok := qualityHeights[quality]; ok {
		return fmt.Sprintf("best[height<=%d][ext=mp4]/best[height<=%d]/best[ext=mp4]/best", h, h)
	}
	return "best[ext=mp4]/best"
}

// VideoMeta is the content of meta.json.
type VideoMeta struct {
	VideoID      string  `json:"video_id"`
	Title        string  `json:"title"`
	Duration     float64 `json:"duration"`
	Thumbnail    string  `json:"thumbnail"`
	Quality      string  `json:"quality"`
	Dir          string  `json:"dir"`
	VideoRelPath string  `json:"video_rel_path"`
	AudioRelPath *string `json:"audio_rel_path"`
	VideoPath    string  `json:"video_path"`
	AudioPath    *string `json:"audio_path"`
	FileSize     *int64  `json:"filesize"`
	AudioSize    *int64  `json:"audio_size"`
}

// Downloader is what the task manager runs.
type Downloader interface {
	Download(ctx context.Context, rawURL, quality string) (*VideoMeta, error)
}

// =============================================================================
// YT-DLP RUNNER
// =============================================================================

// Runner executes yt-dlp and returns its stdout.
type Runner interface {
	Run(ctx context.Context, args []string) ([]byte, error)
}

// ExecRunner runs a yt-dlp binary.
type ExecRunner struct {
	Binary string
}

// Run executes the binary with args.
func (r ExecRunner) Run(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("%s: %w", r.Binary, err)
		}
		return nil, fmt.Errorf("%s: %w: %s", r.Binary, err, msg)
	}
	return stdout.Bytes(), nil
}

// downloadInfo is the subset of the yt-dlp info JSON that is used.
type downloadInfo struct {
	Title      string  `json:"title"`
	Duration   float64 `json:"duration"`
	Thumbnail  string  `json:"thumbnail"`
	Filename   string  `json:"filename"`
	LegacyFile string  `json:"_filename"`
}

func (d downloadInfo) path() string {
	if d.Filename != "" {
		return d.Filename
	}
	return d.LegacyFile
}

// =============================================================================
// SERVICE
// =============================================================================

// Options configures a Service.
type Options struct {
	DownloadDir string
	Proxy       string
}

// Service downloads videos into a FileManager root.
type Service struct {
	files  *utils.FileManager
	runner Runner
	proxy  string
	logger *zap.Logger
}

var _ Downloader = (*Service)(nil)

// NewService creates a downloader.
func NewService(opts Options, runner Runner, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		files:  utils.NewFileManager(opts.DownloadDir),
		runner: runner,
		proxy:  opts.Proxy,
		logger: logger,
	}
}

// Files exposes the download root.
func (s *Service) Files() *utils.FileManager {
	return s.files
}

func (s *Service) args(rawURL, format, outtmpl string, merge bool) []string {
	args := []string{
		"--no-simulate", "--dump-json",
		"--quiet", "--no-progress", "--no-playlist",
		"-f", format,
		"-o", outtmpl,
	}
	if merge {
		args = append(args, "--merge-output-format", "mp4")
	}
	if s.proxy != "" {
		args = append(args, "--proxy", s.proxy)
	}
	return append(args, rawURL)
}

func (s *Service) downloadOnce(ctx context.Context, rawURL, format, outtmpl string, merge bool) (*downloadInfo, string, error) {
	s.logger.Info("yt-dlp download started",
		zap.String("url", rawURL),
		zap.String("format", format),
		zap.String("output", outtmpl),
		zap.Bool("proxy", s.proxy != ""),
	)

	out, err := s.runner.Run(ctx, s.args(rawURL, format, outtmpl, merge))
	if err != nil {
		s.logger.Error("yt-dlp download failed", zap.String("url", rawURL), zap.Error(err))
		return nil, "", err
	}

	var info downloadInfo
	if err := json.Unmarshal(lastLine(out), &info); err != nil {
		return nil, "", fmt.Errorf("unreadable yt-dlp output: %w", err)
	}

	path := info.path()
	if merge && path != "" {
		base := strings.TrimSuffix(path, filepath.Ext(path))
		if mp4 := base + ".mp4"; !strings.EqualFold(filepath.Ext(path), ".mp4") && utils.FileExists(mp4) {
			path = mp4
		}
	}
	s.logger.Info("yt-dlp download finished", zap.String("output", path))
	return &info, path, nil
}

// lastLine returns the final non-empty line; yt-dlp prints one JSON object
// per downloaded entry.
func lastLine(out []byte) []byte {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	return lines[len(lines)-1]
}

// Download fetches url at quality and writes meta.json.
func (s *Service) Download(ctx context.Context, rawURL, quality string) (*VideoMeta, error) {
	if quality == "" {
		quality = DefaultQuality
	}
	if err := s.files.EnsureRoot(); err != nil {
		return nil, err
	}

	videoID := ExtractVideoID(rawURL)
	dir, err := s.files.EnsureItemDir(videoID)
	if err != nil {
		return nil, err
	}

	info, videoPath, err := s.downloadOnce(ctx, rawURL, BuildFormat(quality), filepath.Join(dir, videoTemplate), true)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("primary format failed, retrying with fallback", zap.String("format", fallbackFormat))
		info, videoPath, err = s.downloadOnce(ctx, rawURL, fallbackFormat, filepath.Join(dir, videoTemplate), true)
		if err != nil {
			return nil, fmt.Errorf("download video: %w", err)
		}
	}

	if !strings.EqualFold(filepath.Ext(videoPath), ".mp4") {
		if candidate := filepath.Join(dir, VideoFile); utils.FileExists(candidate) {
			videoPath = candidate
		}
	}

	meta := &VideoMeta{
		VideoID:      videoID,
		Title:        info.Title,
		Duration:     info.Duration,
		Thumbnail:    info.Thumbnail,
		Quality:      quality,
		Dir:          dir,
		VideoRelPath: VideoFile,
		VideoPath:    videoPath,
		FileSize:     sizeOf(videoPath),
	}

	if _, audioPath, err := s.downloadOnce(ctx, rawURL, audioFormat, filepath.Join(dir, audioTemplate), false); err == nil {
		rel := AudioFile
		meta.AudioRelPath = &rel
		meta.AudioPath = &audioPath
		meta.AudioSize = sizeOf(audioPath)
	} else {
		s.logger.Warn("audio download failed", zap.String("video_id", videoID), zap.Error(err))
	}

	if err := s.files.WriteJSON(videoID, MetaFile, meta); err != nil {
		s.logger.Error("failed to write meta.json", zap.String("video_id", videoID), zap.Error(err))
	}
	return meta, nil
}

func sizeOf(path string) *int64 {
	if path == "" {
		return nil
	}
	size, err := utils.GetFileSize(path)
	if err != nil {
		return nil
	}
	return &size
}

// =============================================================================
// FILE RESOLUTION
// =============================================================================

// File kinds accepted by ResolveFile.
const (
	KindVideo = "video"
	KindAudio = "audio"
)

var (
	ErrInvalidKind   = errors.New("invalid type")
	ErrMetaNotFound  = errors.New("not found")
	ErrFileNotExists = errors.New("file not exists")
)

// PathNotInMetaError is returned when meta.json has no path for the kind.
type PathNotInMetaError struct {
	Key string
}

func (e *PathNotInMetaError) Error() string {
	return e.Key + " not in meta"
}

// ResolveFile locates a downloaded file through meta.json. Relative paths
// resolve inside the video directory. Paths outside the download root are
// refused.
func (s *Service) ResolveFile(videoID, kind string) (string, error) {
	if kind != KindVideo && kind != KindAudio {
		return "", ErrInvalidKind
	}

	var meta map[string]any
	if err := s.files.ReadJSON(videoID, MetaFile, &meta); err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, utils.ErrUnsafePath) {
			return "", ErrMetaNotFound
		}
		return "", err
	}

	key := kind + "_path"
	path, _ := meta[key].(string)
	if path == "" {
		return "", &PathNotInMetaError{Key: key}
	}

	if !filepath.IsAbs(path) {
		dir, err := s.files.ItemDir(videoID)
		if err != nil {
			return "", ErrMetaNotFound
		}
		if path, err = utils.SafeJoin(dir, path); err != nil {
			return "", ErrFileNotExists
		}
	}

	if !s.files.Contains(path) || !utils.FileExists(path) {
		return "", ErrFileNotExists
	}
	return path, nil
}
