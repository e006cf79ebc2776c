package ffmpeg

import (
	"fmt"
	"slices"
	"strings"
)

// HWAccelType is an encoder acceleration preference.
type HWAccelType string

const (
	HWAccelAuto         HWAccelType = "auto"
	HWAccelNone         HWAccelType = "none"
	HWAccelNVENC        HWAccelType = "nvenc"        // NVIDIA
	HWAccelVideoToolbox HWAccelType = "videotoolbox" // macOS
	HWAccelVAAPI        HWAccelType = "vaapi"        // VA-API (Linux)
)

// SoftwareEncoder is used whenever no hardware encoder is usable.
const SoftwareEncoder = "libx264"

// EncoderProfile is the video encoder chosen for the lifetime of the process.
type EncoderProfile struct {
	Name      string      `json:"name"`
	ExtraArgs []string    `json:"extra_args,omitempty"`
	HWAccel   HWAccelType `json:"hw_accel"`
}

// IsSoftware reports whether the profile uses the software encoder.
func (p EncoderProfile) IsSoftware() bool {
	return p.Name == SoftwareEncoder
}

// NeedsVAAPIDevice reports whether ffmpeg must be given a VA-API render device.
func (p EncoderProfile) NeedsVAAPIDevice() bool {
	return strings.Contains(p.Name, "vaapi")
}

// Args returns a copy of the profile's extra encoder arguments.
func (p EncoderProfile) Args() []string {
	return slices.Clone(p.ExtraArgs)
}

// SoftwareProfile returns the software encoder profile.
func SoftwareProfile() EncoderProfile {
	return EncoderProfile{Name: SoftwareEncoder, HWAccel: HWAccelNone}
}

// hwEncoders lists the H.264 hardware encoders in auto-selection priority order.
var hwEncoders = []EncoderProfile{
	{Name: "h264_nvenc", ExtraArgs: []string{"-preset", "p4"}, HWAccel: HWAccelNVENC},
	{Name: "h264_videotoolbox", HWAccel: HWAccelVideoToolbox},
	{Name: "h264_vaapi", HWAccel: HWAccelVAAPI},
}

// ParseHWAccel validates an acceleration preference.
func ParseHWAccel(s string) (HWAccelType, error) {
	accel := HWAccelType(strings.ToLower(strings.TrimSpace(s)))
	switch accel {
	case HWAccelAuto, HWAccelNone, HWAccelNVENC, HWAccelVideoToolbox, HWAccelVAAPI:
		return accel, nil
	case "":
		return HWAccelAuto, nil
	}
	return "", fmt.Errorf("unknown hw_accel %q", s)
}

// candidates returns the hardware encoders to try for a preference, in order.
func candidates(pref HWAccelType) []EncoderProfile {
	switch pref {
	case HWAccelNone:
		return nil
	case HWAccelAuto:
		return slices.Clone(hwEncoders)
	}
	for _, enc := range hwEncoders {
		if enc.HWAccel == pref {
			return []EncoderProfile{enc}
		}
	}
	return nil
}
