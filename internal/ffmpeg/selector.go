package ffmpeg

import (
	"context"
	"log/slog"
	"slices"
)

// EncoderLister reports the encoders available in the encode tool.
type EncoderLister interface {
	ListEncoders(ctx context.Context) ([]string, error)
}

// EncoderSelector picks the encoder profile once at startup. The profile is
// never re-probed; later encode failures are reported by the pipeline.
type EncoderSelector struct {
	lister EncoderLister
	logger *slog.Logger
}

// NewEncoderSelector creates a new encoder selector.
func NewEncoderSelector(lister EncoderLister, logger *slog.Logger) *EncoderSelector {
	if logger == nil {
		logger = slog.Default()
	}
	return &EncoderSelector{lister: lister, logger: logger}
}

// Select returns the first hardware encoder for pref that ffmpeg reports,
// falling back to software when pref is none, ffmpeg is unavailable, the
// probe fails, or no candidate is compiled in.
func (s *EncoderSelector) Select(ctx context.Context, pref HWAccelType) EncoderProfile {
	if pref == HWAccelNone {
		s.logger.Info("software encoding requested",
			slog.String("encoder", SoftwareEncoder),
		)
		return SoftwareProfile()
	}

	wanted := candidates(pref)
	if len(wanted) == 0 {
		s.logger.Warn("no hardware encoders known for preference, using software",
			slog.String("hw_accel", string(pref)),
		)
		return SoftwareProfile()
	}

	available, err := s.lister.ListEncoders(ctx)
	if err != nil {
		s.logger.Warn("encoder probe failed, falling back to software encoding",
			slog.String("hw_accel", string(pref)),
			slog.String("error", err.Error()),
		)
		return SoftwareProfile()
	}

	for _, enc := range wanted {
		present := slices.Contains(available, enc.Name)
		s.logger.Debug("checking hardware encoder",
			slog.String("encoder", enc.Name),
			slog.Bool("present", present),
		)
		if present {
			s.logger.Info("hardware encoder selected",
				slog.String("encoder", enc.Name),
				slog.String("hw_accel", string(enc.HWAccel)),
			)
			return EncoderProfile{Name: enc.Name, ExtraArgs: enc.Args(), HWAccel: enc.HWAccel}
		}
	}

	s.logger.Info("no hardware encoder available, using software encoding",
		slog.String("hw_accel", string(pref)),
		slog.String("encoder", SoftwareEncoder),
	)
	return SoftwareProfile()
}
