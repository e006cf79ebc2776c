package ffmpeg

// CommandBuilder builds the argument list for an ffmpeg invocation.
type CommandBuilder struct {
	hideBanner bool
	logLevel   string
	globalArgs []string
	inputArgs  []string
	input      string
	outputArgs []string
	output     string
}

// NewCommandBuilder creates a new FFmpeg command builder.
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{logLevel: "error"}
}

// HideBanner suppresses the ffmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.hideBanner = true
	return b
}

// LogLevel sets the FFmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// VAAPIDevice selects the VA-API render device used by vaapi encoders.
func (b *CommandBuilder) VAAPIDevice(device string) *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-vaapi_device", device)
	return b
}

// ReadRealtime reads the input at its native frame rate (-re).
func (b *CommandBuilder) ReadRealtime() *CommandBuilder {
	b.inputArgs = append(b.inputArgs, "-re")
	return b
}

// Input sets the input URL or pipe.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// VideoCodec sets the video encoder.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// VideoPreset sets the encoder preset.
func (b *CommandBuilder) VideoPreset(preset string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-preset", preset)
	return b
}

// OutputArgs appends raw output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// VideoBitrate sets the video bitrate.
func (b *CommandBuilder) VideoBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:v", bitrate)
	return b
}

// AudioCodec sets the audio encoder.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// AudioBitrate sets the audio bitrate.
func (b *CommandBuilder) AudioBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:a", bitrate)
	return b
}

// Format sets the output container format.
func (b *CommandBuilder) Format(format string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-f", format)
	return b
}

// Output sets the output URL.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build returns the arguments in ffmpeg's positional order: global options,
// input options, input, output options, output.
func (b *CommandBuilder) Build() []string {
	var args []string

	if b.hideBanner {
		args = append(args, "-hide_banner")
	}
	args = append(args, "-loglevel", b.logLevel)
	args = append(args, b.globalArgs...)

	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)

	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	return args
}

// PublishOptions configures a stdin-to-RTMP publish invocation.
type PublishOptions struct {
	VideoBitrate string
	AudioBitrate string
	Preset       string // libx264 only
	VAAPIDevice  string
	SinkURL      string
}

// PublishArgs builds the ffmpeg arguments that read media from stdin,
// transcode it with profile and push FLV to the sink.
func PublishArgs(profile EncoderProfile, opts PublishOptions) []string {
	b := NewCommandBuilder().HideBanner().LogLevel("warning")

	if profile.NeedsVAAPIDevice() && opts.VAAPIDevice != "" {
		b.VAAPIDevice(opts.VAAPIDevice)
	}

	b.ReadRealtime().Input("pipe:0").VideoCodec(profile.Name)
	if profile.IsSoftware() && opts.Preset != "" {
		b.VideoPreset(opts.Preset)
	}

	return b.OutputArgs(profile.Args()...).
		VideoBitrate(opts.VideoBitrate).
		AudioCodec("aac").
		AudioBitrate(opts.AudioBitrate).
		Format("flv").
		Output(opts.SinkURL).
		Build()
}
