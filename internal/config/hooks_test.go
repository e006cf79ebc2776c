package config

import (
	"reflect"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecondsOrDurationHook(t *testing.T) {
	hook := SecondsOrDurationHook()

	tests := []struct {
		name     string
		input    any
		expected time.Duration
	}{
		{"int seconds", 10, 10 * time.Second},
		{"float seconds", 0.5, 500 * time.Millisecond},
		{"numeric string", "2.5", 2500 * time.Millisecond},
		{"duration string", "1m30s", 90 * time.Second},
		{"millisecond string", "250ms", 250 * time.Millisecond},
		{"empty string", "", 0},
		{"already a duration", 3 * time.Second, 3 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := hook(reflect.TypeOf(tt.input), durationType, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestSecondsOrDurationHook_InvalidString(t *testing.T) {
	hook := SecondsOrDurationHook()
	_, err := hook(reflect.TypeOf(""), durationType, "soon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestSecondsOrDurationHook_IgnoresOtherTargets(t *testing.T) {
	hook := SecondsOrDurationHook()
	out, err := hook(reflect.TypeOf(5), reflect.TypeOf(0), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, out)
}

func TestExpandString(t *testing.T) {
	t.Setenv("MATCHCAST_TEST_HOST", "restreamer")
	t.Setenv("MATCHCAST_TEST_EMPTY", "")

	out, err := ExpandString("rtmp://${MATCHCAST_TEST_HOST}:1935/live")
	require.NoError(t, err)
	assert.Equal(t, "rtmp://restreamer:1935/live", out)

	out, err = ExpandString("prefix-${MATCHCAST_TEST_EMPTY}-suffix")
	require.NoError(t, err)
	assert.Equal(t, "prefix--suffix", out)

	out, err = ExpandString("no references here")
	require.NoError(t, err)
	assert.Equal(t, "no references here", out)

	_, err = ExpandString("${MATCHCAST_TEST_NOPE_A}/${MATCHCAST_TEST_NOPE_B}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MATCHCAST_TEST_NOPE_A, MATCHCAST_TEST_NOPE_B")
}

func TestExpandEnv_StringLists(t *testing.T) {
	t.Setenv("MATCHCAST_TEST_EVENT", "2024casj")

	v := viper.New()
	v.Set("filters.events", []any{"${MATCHCAST_TEST_EVENT}", "2024cafr"})

	require.NoError(t, ExpandEnv(v))
	assert.Equal(t, []any{"2024casj", "2024cafr"}, v.Get("filters.events"))
}
