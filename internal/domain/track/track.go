// Package track provides the Track domain entity and per-play options.
package track

import (
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// ErrInvalidTrack is returned when a track cannot be accepted for playback.
var ErrInvalidTrack = errors.New("invalid track")

// Track represents a playable audio item.
// A Track is immutable once accepted by a controller.
type Track struct {
	ID         string         `mapstructure:"id"`
	URL        string         `mapstructure:"url" validate:"required"`
	Title      string         `mapstructure:"title"`
	Artist     string         `mapstructure:"artist"`
	Album      string         `mapstructure:"album"`
	Artwork    string         `mapstructure:"artwork"`
	DurationMs int64          `mapstructure:"durationMs" validate:"gte=0"` // 0 when unknown
	Extra      map[string]any `mapstructure:",remain"`
}

// Duration returns the declared track duration (0 when unknown).
func (t Track) Duration() time.Duration {
	return MsToDuration(t.DurationMs)
}

// IsLocal reports whether the URL points at the local filesystem.
func (t Track) IsLocal() bool {
	return strings.HasPrefix(t.URL, "file://") || filepath.IsAbs(t.URL)
}

// LocalPath returns the filesystem path for local URLs.
func (t Track) LocalPath() string {
	return strings.TrimPrefix(t.URL, "file://")
}

// Validate checks that the track can be handed to a media loader.
func (t Track) Validate() error {
	if err := validator.New().Struct(t); err != nil {
		return errors.Mark(errors.Wrap(err, "track validation failed"), ErrInvalidTrack)
	}
	if t.IsLocal() {
		return nil
	}
	if !strings.HasPrefix(t.URL, "http://") && !strings.HasPrefix(t.URL, "https://") {
		return errors.Mark(errors.Newf("unsupported url scheme: %s", t.URL), ErrInvalidTrack)
	}
	return nil
}

// CachePolicy controls how remote resources are fetched.
type CachePolicy string

const (
	CacheDefault CachePolicy = "default" // Let intermediaries decide
	CacheNone    CachePolicy = "none"    // Always revalidate
	CacheForce   CachePolicy = "force"   // Prefer any cached copy
)

// Options are the per-play options. Scoped to a single Play call.
type Options struct {
	StartPositionMs int64             `mapstructure:"startPositionMs" validate:"gte=0"`
	AutoPlay        *bool             `mapstructure:"autoPlay"`
	Headers         map[string]string `mapstructure:"headers"`
	CachePolicy     CachePolicy       `mapstructure:"cachePolicy" default:"default" validate:"oneof=default none force"`
}

// ShouldAutoPlay returns whether playback starts right after loading.
// Defaults to true when not set.
func (o Options) ShouldAutoPlay() bool {
	return o.AutoPlay == nil || *o.AutoPlay
}

// StartPosition returns the requested start position.
func (o Options) StartPosition() time.Duration {
	return MsToDuration(o.StartPositionMs)
}

// maxMs is the largest millisecond count a time.Duration can hold.
const maxMs = math.MaxInt64 / int64(time.Millisecond)

// MsToDuration converts milliseconds to a Duration, saturating instead of
// overflowing.
func MsToDuration(ms int64) time.Duration {
	switch {
	case ms > maxMs:
		return math.MaxInt64
	case ms < -maxMs:
		return math.MinInt64
	default:
		return time.Duration(ms) * time.Millisecond
	}
}

// AmbientOptions are the options for the ambient sound channel.
type AmbientOptions struct {
	URL     string            `mapstructure:"url" validate:"required"`
	Loop    *bool             `mapstructure:"loop"`
	Volume  *float64          `mapstructure:"volume"`
	Headers map[string]string `mapstructure:"headers"`
}

// ShouldLoop returns whether the ambient sound restarts when it ends.
// Defaults to true when not set.
func (o AmbientOptions) ShouldLoop() bool {
	return o.Loop == nil || *o.Loop
}

// AsTrack returns a Track view of the ambient source for media loaders.
func (o AmbientOptions) AsTrack() Track {
	return Track{ID: "ambient", URL: o.URL}
}

// DecodeTrack decodes a loosely typed boundary map into a Track.
func DecodeTrack(m map[string]any) (Track, error) {
	var t Track
	if err := decode(m, &t); err != nil {
		return Track{}, errors.Wrap(err, "failed to decode track")
	}
	return t, nil
}

// DecodeOptions decodes a loosely typed boundary map into Options.
// A nil map yields the defaults.
func DecodeOptions(m map[string]any) (Options, error) {
	var o Options
	if err := decode(m, &o); err != nil {
		return Options{}, errors.Wrap(err, "failed to decode options")
	}
	if err := defaults.Set(&o); err != nil {
		return Options{}, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(o); err != nil {
		return Options{}, errors.Wrap(err, "options validation failed")
	}
	return o, nil
}

// DecodeAmbientOptions decodes a loosely typed boundary map into AmbientOptions.
func DecodeAmbientOptions(m map[string]any) (AmbientOptions, error) {
	var o AmbientOptions
	if err := decode(m, &o); err != nil {
		return AmbientOptions{}, errors.Wrap(err, "failed to decode ambient options")
	}
	if err := validator.New().Struct(o); err != nil {
		return AmbientOptions{}, errors.Wrap(err, "ambient options validation failed")
	}
	return o, nil
}

func decode(input map[string]any, out any) error {
	if input == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
