package pipeline

import (
	"net/url"
	"strings"
)

// WatchURLPrefix is prepended to video IDs to form the retrieval URL.
const WatchURLPrefix = "https://www.youtube.com/watch?v="

// WatchURL returns the retrieval URL for a video ID.
func WatchURL(videoID string) string {
	return WatchURLPrefix + videoID
}

// RetrievalArgs builds yt-dlp arguments that stream the selected format to stdout.
func RetrievalArgs(format, videoID string) []string {
	return []string{"--no-warnings", "-f", format, "-o", "-", WatchURL(videoID)}
}

// SinkURL appends the access token to the sink URL as a query parameter.
func SinkURL(base, token string) string {
	if token == "" {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + url.QueryEscape(token)
}
