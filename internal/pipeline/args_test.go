package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetrievalArgs(t *testing.T) {
	args := RetrievalArgs("bestvideo[height<=720]+bestaudio/best", "abc123")
	assert.Equal(t, []string{
		"--no-warnings",
		"-f", "bestvideo[height<=720]+bestaudio/best",
		"-o", "-",
		"https://www.youtube.com/watch?v=abc123",
	}, args)
}

func TestSinkURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		token    string
		expected string
	}{
		{"no token", "rtmp://live.example.com/app", "", "rtmp://live.example.com/app"},
		{"no query", "rtmp://live.example.com/app", "abc", "rtmp://live.example.com/app?token=abc"},
		{"existing query", "rtmp://live.example.com/app?key=1", "abc", "rtmp://live.example.com/app?key=1&token=abc"},
		{"escaped token", "rtmp://live.example.com/app", "a b&c", "rtmp://live.example.com/app?token=a+b%26c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SinkURL(tt.base, tt.token))
		})
	}
}
