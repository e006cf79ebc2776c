// Package util provides shared utility functions.
package util

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// ErrBinaryNotFound is returned when no executable candidate exists.
var ErrBinaryNotFound = errors.New("binary not found")

// Environment variables that override external tool lookup.
const (
	FFmpegBinaryEnv = "MATCHCAST_FFMPEG_BINARY"
	YtdlpBinaryEnv  = "MATCHCAST_YTDLP_BINARY"
)

// FindBinary searches for an executable binary by name.
// Search order:
//  1. configured path (if non-empty)
//  2. environment variable (if envVar is non-empty and set)
//  3. ./name (current directory, useful for development)
//  4. name on PATH (via exec.LookPath)
//
// Each candidate is verified to exist and be executable before being returned.
func FindBinary(name, configured, envVar string) (string, error) {
	if configured != "" && isExecutable(configured) {
		return configured, nil
	}

	if envVar != "" {
		if envPath := os.Getenv(envVar); envPath != "" && isExecutable(envPath) {
			return envPath, nil
		}
	}

	localPath := "./" + name
	if isExecutable(localPath) {
		return localPath, nil
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("%s: %w", name, ErrBinaryNotFound)
}

// isExecutable checks if a file exists and is executable by the current user.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
