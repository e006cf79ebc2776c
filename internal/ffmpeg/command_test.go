package ffmpeg

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandBuilder_Build(t *testing.T) {
	args := NewCommandBuilder().
		LogLevel("info").
		Input("in.mp4").
		VideoCodec("copy").
		Output("out.flv").
		Build()

	assert.Equal(t, []string{"-loglevel", "info", "-i", "in.mp4", "-c:v", "copy", "out.flv"}, args)
}

func TestPublishArgs(t *testing.T) {
	opts := PublishOptions{
		VideoBitrate: "2500k",
		AudioBitrate: "128k",
		Preset:       "veryfast",
		VAAPIDevice:  "/dev/dri/renderD128",
		SinkURL:      "rtmp://restreamer:1935/live/external.stream?token=abc",
	}

	tests := []struct {
		name    string
		profile EncoderProfile
		want    []string
	}{
		{
			name:    "software encoder gets preset",
			profile: SoftwareProfile(),
			want: []string{
				"-hide_banner", "-loglevel", "warning",
				"-re", "-i", "pipe:0",
				"-c:v", "libx264", "-preset", "veryfast",
				"-b:v", "2500k", "-c:a", "aac", "-b:a", "128k",
				"-f", "flv", "rtmp://restreamer:1935/live/external.stream?token=abc",
			},
		},
		{
			name:    "nvenc carries its extra args and no software preset",
			profile: EncoderProfile{Name: "h264_nvenc", ExtraArgs: []string{"-preset", "p4"}, HWAccel: HWAccelNVENC},
			want: []string{
				"-hide_banner", "-loglevel", "warning",
				"-re", "-i", "pipe:0",
				"-c:v", "h264_nvenc", "-preset", "p4",
				"-b:v", "2500k", "-c:a", "aac", "-b:a", "128k",
				"-f", "flv", "rtmp://restreamer:1935/live/external.stream?token=abc",
			},
		},
		{
			name:    "vaapi adds render device before input",
			profile: EncoderProfile{Name: "h264_vaapi", HWAccel: HWAccelVAAPI},
			want: []string{
				"-hide_banner", "-loglevel", "warning",
				"-vaapi_device", "/dev/dri/renderD128",
				"-re", "-i", "pipe:0",
				"-c:v", "h264_vaapi",
				"-b:v", "2500k", "-c:a", "aac", "-b:a", "128k",
				"-f", "flv", "rtmp://restreamer:1935/live/external.stream?token=abc",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PublishArgs(tt.profile, opts))
		})
	}
}

func TestProcessMonitor_SamplesSelf(t *testing.T) {
	pm := NewProcessMonitor(os.Getpid())
	pm.SetInterval(10 * time.Millisecond)
	pm.Start()
	pm.Start() // second start is a no-op

	require.Eventually(t, func() bool {
		return pm.Stats().MemoryRSSBytes > 0
	}, 2*time.Second, 10*time.Millisecond)

	pm.Stop()
	pm.Stop()

	stats := pm.Stats()
	assert.Equal(t, os.Getpid(), stats.PID)
	assert.Greater(t, stats.MemoryRSSMB, 0.0)
	assert.False(t, stats.LastUpdated.IsZero())
}
