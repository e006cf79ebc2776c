// Package ffmpeg provides FFmpeg binary detection, encoder selection and
// command construction for the publish stage.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/matchcast/internal/util"
)

// DefaultProbeTimeout bounds each query against the ffmpeg binary.
const DefaultProbeTimeout = 10 * time.Second

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// BinaryInfo contains information about the FFmpeg installation.
type BinaryInfo struct {
	FFmpegPath   string   `json:"ffmpeg_path"`
	Version      string   `json:"version"`
	MajorVersion int      `json:"major_version"`
	MinorVersion int      `json:"minor_version"`
	BuildInfo    string   `json:"build_info,omitempty"`
	Encoders     []string `json:"encoders,omitempty"`
}

// BinaryDetector locates ffmpeg and caches what it reports about itself.
type BinaryDetector struct {
	configuredPath string
	probeTimeout   time.Duration

	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a new binary detector. configuredPath may be
// empty, in which case the env override, ./ffmpeg and PATH are searched.
func NewBinaryDetector(configuredPath string) *BinaryDetector {
	return &BinaryDetector{
		configuredPath: configuredPath,
		probeTimeout:   DefaultProbeTimeout,
		cacheTTL:       5 * time.Minute,
	}
}

// WithProbeTimeout sets the timeout applied to each ffmpeg query.
func (d *BinaryDetector) WithProbeTimeout(timeout time.Duration) *BinaryDetector {
	if timeout > 0 {
		d.probeTimeout = timeout
	}
	return d
}

// Path resolves the ffmpeg binary location.
func (d *BinaryDetector) Path() (string, error) {
	return util.FindBinary("ffmpeg", d.configuredPath, util.FFmpegBinaryEnv)
}

// Detect detects the FFmpeg binary, its version and compiled-in encoders.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	path, err := d.Path()
	if err != nil {
		return nil, err
	}

	info := &BinaryInfo{FFmpegPath: path}

	version, err := d.getVersion(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	info.Version = version.Full
	info.MajorVersion = version.Major
	info.MinorVersion = version.Minor
	info.BuildInfo = version.BuildInfo

	encoders, err := d.getEncoders(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("listing ffmpeg encoders: %w", err)
	}
	info.Encoders = encoders

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// ListEncoders returns the encoder names compiled into ffmpeg.
// It fails when the binary is missing or the query errors or times out.
func (d *BinaryDetector) ListEncoders(ctx context.Context) ([]string, error) {
	path, err := d.Path()
	if err != nil {
		return nil, err
	}
	return d.getEncoders(ctx, path)
}

type versionInfo struct {
	Full      string
	Major     int
	Minor     int
	BuildInfo string
}

func (d *BinaryDetector) getVersion(ctx context.Context, ffmpegPath string) (*versionInfo, error) {
	output, err := d.query(ctx, ffmpegPath, "-hide_banner", "-version")
	if err != nil {
		return nil, err
	}
	return parseVersion(output)
}

func (d *BinaryDetector) getEncoders(ctx context.Context, ffmpegPath string) ([]string, error) {
	output, err := d.query(ctx, ffmpegPath, "-hide_banner", "-encoders")
	if err != nil {
		return nil, err
	}
	return parseEncoders(output), nil
}

// query runs ffmpeg with the probe timeout and returns its stdout.
func (d *BinaryDetector) query(ctx context.Context, ffmpegPath string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.probeTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, ffmpegPath, args...).Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("ffmpeg %s timed out after %s", strings.Join(args, " "), d.probeTimeout)
		}
		return "", err
	}
	return string(output), nil
}

// parseVersion extracts version details from `ffmpeg -version` output.
// Handles "ffmpeg version 6.0", "ffmpeg version n6.0-2-g..." and "6.0.1".
func parseVersion(output string) (*versionInfo, error) {
	info := &versionInfo{}

	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.HasPrefix(line, "ffmpeg version"):
			parts := strings.Fields(line)
			if len(parts) >= 3 {
				info.Full = parts[2]
				if m := versionRegex.FindStringSubmatch(parts[2]); len(m) >= 3 {
					info.Major, _ = strconv.Atoi(m[1])
					info.Minor, _ = strconv.Atoi(m[2])
				}
			}
		case strings.HasPrefix(line, "built with"):
			info.BuildInfo = strings.TrimPrefix(line, "built with ")
		}
	}

	if info.Full == "" {
		return nil, errors.New("failed to parse ffmpeg version")
	}
	return info, nil
}

// parseEncoders extracts encoder names from `ffmpeg -encoders` output.
//
// Lines after the "------" separator look like:
//
//	V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC (codec h264)
func parseEncoders(output string) []string {
	var encoders []string
	inEncoderList := false

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "------") {
			inEncoderList = true
			continue
		}
		if !inEncoderList {
			continue
		}

		line = strings.TrimLeft(line, " ")
		if len(line) < 8 {
			continue
		}
		if line[0] != 'V' && line[0] != 'A' && line[0] != 'S' {
			continue
		}

		if parts := strings.Fields(line[6:]); len(parts) >= 1 {
			encoders = append(encoders, parts[0])
		}
	}

	return encoders
}
