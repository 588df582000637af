package media

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/audiopro/internal/domain/track"
)

// durationHeader carries the media duration in seconds on some servers.
const durationHeader = "X-Content-Duration"

// Prober acquires a Playhead after checking that the track source is
// reachable: a stat for local files, a HEAD request for remote URLs.
type Prober struct {
	client    *http.Client
	probeHTTP bool
}

// NewProber creates a Prober. When probeHTTP is false, remote URLs are
// accepted without a request.
func NewProber(client *http.Client, probeHTTP bool) *Prober {
	if client == nil {
		client = http.DefaultClient
	}
	return &Prober{client: client, probeHTTP: probeHTTP}
}

// Load implements Loader.
func (p *Prober) Load(ctx context.Context, t track.Track, opts track.Options) (Resource, error) {
	if err := t.Validate(); err != nil {
		return nil, errors.Mark(err, ErrAcquisition)
	}

	duration := t.Duration()
	if t.IsLocal() {
		if err := p.statLocal(t.LocalPath()); err != nil {
			return nil, err
		}
	} else if p.probeHTTP {
		probed, err := p.probeRemote(ctx, t.URL, opts)
		if err != nil {
			return nil, err
		}
		if duration == 0 {
			duration = probed
		}
	}

	zlog.Debug().Msgf("media: acquired resource: track=%s url=%s duration=%v", t.ID, t.URL, duration)
	return NewPlayhead(duration), nil
}

func (p *Prober) statLocal(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to open %s", path), ErrAcquisition)
	}
	if info.IsDir() {
		return errors.Mark(errors.Newf("%s is a directory", path), ErrAcquisition)
	}
	return nil
}

// probeRemote issues a HEAD request and returns the advertised duration
// (0 when the server does not advertise one).
func (p *Prober) probeRemote(ctx context.Context, url string, opts track.Options) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, errors.Mark(errors.Wrap(err, "failed to build request"), ErrAcquisition)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	switch opts.CachePolicy {
	case track.CacheNone:
		req.Header.Set("Cache-Control", "no-cache")
	case track.CacheForce:
		req.Header.Set("Cache-Control", "max-stale")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, errors.Mark(errors.Wrapf(err, "failed to reach %s", url), ErrAcquisition)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return 0, errors.Mark(errors.Newf("unexpected status %d from %s", resp.StatusCode, url), ErrAcquisition)
	}

	if v := resp.Header.Get(durationHeader); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second)), nil
		}
		zlog.Debug().Msgf("media: ignoring malformed %s header: %q", durationHeader, v)
	}
	return 0, nil
}
