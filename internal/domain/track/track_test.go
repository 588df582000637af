package track

import (
	"math"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrack_Validate(t *testing.T) {
	tests := []struct {
		name    string
		track   Track
		wantErr bool
	}{
		{
			name:  "https url",
			track: Track{ID: "t1", URL: "https://example.com/a.mp3"},
		},
		{
			name:  "http url",
			track: Track{ID: "t1", URL: "http://example.com/a.mp3"},
		},
		{
			name:  "file url",
			track: Track{ID: "t1", URL: "file:///music/a.flac"},
		},
		{
			name:  "absolute path",
			track: Track{ID: "t1", URL: "/music/a.flac"},
		},
		{
			name:    "empty url",
			track:   Track{ID: "t1"},
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			track:   Track{ID: "t1", URL: "ftp://example.com/a.mp3"},
			wantErr: true,
		},
		{
			name:    "negative duration",
			track:   Track{ID: "t1", URL: "https://example.com/a.mp3", DurationMs: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.track.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTrack))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTrack_LocalPath(t *testing.T) {
	tr := Track{URL: "file:///music/a.flac"}
	assert.True(t, tr.IsLocal())
	assert.Equal(t, "/music/a.flac", tr.LocalPath())

	remote := Track{URL: "https://example.com/a.mp3"}
	assert.False(t, remote.IsLocal())
}

func TestDecodeTrack(t *testing.T) {
	tr, err := DecodeTrack(map[string]any{
		"id":         "track-1",
		"url":        "https://example.com/a.mp3",
		"title":      "Song",
		"artwork":    "https://example.com/a.jpg",
		"durationMs": float64(180000),
		"genre":      "ambient",
	})
	require.NoError(t, err)

	assert.Equal(t, "track-1", tr.ID)
	assert.Equal(t, "Song", tr.Title)
	assert.Equal(t, int64(180000), tr.DurationMs)
	assert.Equal(t, 3*time.Minute, tr.Duration())
	assert.Equal(t, "ambient", tr.Extra["genre"])
}

func TestDecodeOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		o, err := DecodeOptions(nil)
		require.NoError(t, err)
		assert.True(t, o.ShouldAutoPlay())
		assert.Equal(t, CacheDefault, o.CachePolicy)
		assert.Equal(t, time.Duration(0), o.StartPosition())
	})

	t.Run("explicit values", func(t *testing.T) {
		o, err := DecodeOptions(map[string]any{
			"startPositionMs": float64(5000),
			"autoPlay":        false,
			"headers":         map[string]any{"Authorization": "Bearer x"},
			"cachePolicy":     "none",
		})
		require.NoError(t, err)
		assert.False(t, o.ShouldAutoPlay())
		assert.Equal(t, 5*time.Second, o.StartPosition())
		assert.Equal(t, "Bearer x", o.Headers["Authorization"])
		assert.Equal(t, CacheNone, o.CachePolicy)
	})

	t.Run("invalid cache policy", func(t *testing.T) {
		_, err := DecodeOptions(map[string]any{"cachePolicy": "sometimes"})
		assert.Error(t, err)
	})

	t.Run("negative start position", func(t *testing.T) {
		_, err := DecodeOptions(map[string]any{"startPositionMs": float64(-10)})
		assert.Error(t, err)
	})
}

func TestDecodeAmbientOptions(t *testing.T) {
	o, err := DecodeAmbientOptions(map[string]any{
		"url":    "https://example.com/rain.ogg",
		"volume": 0.3,
	})
	require.NoError(t, err)
	assert.True(t, o.ShouldLoop())
	require.NotNil(t, o.Volume)
	assert.InDelta(t, 0.3, *o.Volume, 1e-9)
	assert.Equal(t, "https://example.com/rain.ogg", o.AsTrack().URL)

	_, err = DecodeAmbientOptions(map[string]any{"loop": true})
	assert.Error(t, err, "url is required")
}

func TestMsToDuration(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want time.Duration
	}{
		{name: "zero", in: 0, want: 0},
		{name: "positive", in: 1500, want: 1500 * time.Millisecond},
		{name: "negative", in: -20, want: -20 * time.Millisecond},
		{name: "largest exact", in: maxMs, want: time.Duration(maxMs) * time.Millisecond},
		{name: "one past largest", in: maxMs + 1, want: math.MaxInt64},
		{name: "max int64", in: math.MaxInt64, want: math.MaxInt64},
		{name: "min int64", in: math.MinInt64, want: math.MinInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MsToDuration(tt.in))
		})
	}
}
