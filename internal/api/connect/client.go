package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a typed client for the audio service.
type Client struct {
	httpClient connect.HTTPClient
	baseURL    string
	opts       []connect.ClientOption
}

// NewClient creates a client for the service at baseURL. A non-empty token
// is sent with every request.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	if token != "" {
		opts = append(opts, connect.WithInterceptors(NewTokenClientInterceptor(token)))
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		opts:       opts,
	}
}

// Play starts a new session. trackMap and optionsMap use the same keys as
// the bridge payloads.
func (c *Client) Play(ctx context.Context, trackMap, optionsMap map[string]any) error {
	fields := map[string]any{}
	if trackMap != nil {
		fields["track"] = trackMap
	}
	if optionsMap != nil {
		fields["options"] = optionsMap
	}
	return c.callStruct(ctx, PlayProcedure, fields)
}

// Pause pauses the main session.
func (c *Client) Pause(ctx context.Context) error { return c.callEmpty(ctx, PauseProcedure) }

// Resume resumes the main session.
func (c *Client) Resume(ctx context.Context) error { return c.callEmpty(ctx, ResumeProcedure) }

// Stop stops the main session.
func (c *Client) Stop(ctx context.Context) error { return c.callEmpty(ctx, StopProcedure) }

// Clear releases the main session.
func (c *Client) Clear(ctx context.Context) error { return c.callEmpty(ctx, ClearProcedure) }

// SeekTo seeks the main session to positionMs.
func (c *Client) SeekTo(ctx context.Context, positionMs int64) error {
	return c.callStruct(ctx, SeekToProcedure, map[string]any{"positionMs": positionMs})
}

// SeekForward seeks the main session forward by amountMs.
func (c *Client) SeekForward(ctx context.Context, amountMs int64) error {
	return c.callStruct(ctx, SeekForwardProcedure, map[string]any{"amountMs": amountMs})
}

// SeekBack seeks the main session back by amountMs.
func (c *Client) SeekBack(ctx context.Context, amountMs int64) error {
	return c.callStruct(ctx, SeekBackProcedure, map[string]any{"amountMs": amountMs})
}

// SetPlaybackSpeed sets the main session speed.
func (c *Client) SetPlaybackSpeed(ctx context.Context, speed float64) error {
	return c.callStruct(ctx, SetPlaybackSpeedProcedure, map[string]any{"speed": speed})
}

// SetVolume sets the main session volume.
func (c *Client) SetVolume(ctx context.Context, volume float64) error {
	return c.callStruct(ctx, SetVolumeProcedure, map[string]any{"volume": volume})
}

// Remote sends a remote-control command (next, prev, play, pause, seek).
func (c *Client) Remote(ctx context.Context, command string, positionMs int64) error {
	return c.callStruct(ctx, RemoteProcedure, map[string]any{"command": command, "positionMs": positionMs})
}

// AmbientPlay starts the ambient sound.
func (c *Client) AmbientPlay(ctx context.Context, optionsMap map[string]any) error {
	return c.callStruct(ctx, AmbientPlayProcedure, map[string]any{"options": optionsMap})
}

// AmbientStop stops the ambient sound.
func (c *Client) AmbientStop(ctx context.Context) error { return c.callEmpty(ctx, AmbientStopProcedure) }

// AmbientPause pauses the ambient sound.
func (c *Client) AmbientPause(ctx context.Context) error { return c.callEmpty(ctx, AmbientPauseProcedure) }

// AmbientResume resumes the ambient sound.
func (c *Client) AmbientResume(ctx context.Context) error {
	return c.callEmpty(ctx, AmbientResumeProcedure)
}

// AmbientSetVolume sets the ambient volume.
func (c *Client) AmbientSetVolume(ctx context.Context, volume float64) error {
	return c.callStruct(ctx, AmbientSetVolumeProcedure, map[string]any{"volume": volume})
}

// AmbientSeekTo seeks the ambient sound to positionMs.
func (c *Client) AmbientSeekTo(ctx context.Context, positionMs int64) error {
	return c.callStruct(ctx, AmbientSeekToProcedure, map[string]any{"positionMs": positionMs})
}

// State returns the state of both channels as a loosely typed map.
func (c *Client) State(ctx context.Context) (map[string]any, error) {
	resp, err := unary[emptypb.Empty, structpb.Struct](ctx, c, GetStateProcedure, &emptypb.Empty{})
	if err != nil {
		return nil, err
	}
	return resp.AsMap(), nil
}

// SubscribeEvents opens the event stream. Each message is passed to fn in
// order until the stream ends, ctx is cancelled or fn returns an error.
func (c *Client) SubscribeEvents(ctx context.Context, fn func(map[string]any) error) error {
	client := connect.NewClient[emptypb.Empty, structpb.Struct](c.httpClient, c.baseURL+SubscribeEventsProcedure, c.opts...)
	stream, err := client.CallServerStream(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return errors.Wrap(err, "failed to subscribe to events")
	}
	defer stream.Close()

	for stream.Receive() {
		if err := fn(stream.Msg().AsMap()); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "event stream failed")
	}
	return nil
}

func (c *Client) callEmpty(ctx context.Context, procedure string) error {
	_, err := unary[emptypb.Empty, emptypb.Empty](ctx, c, procedure, &emptypb.Empty{})
	return err
}

func (c *Client) callStruct(ctx context.Context, procedure string, fields map[string]any) error {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return errors.Wrapf(err, "failed to encode request for %s", procedure)
	}
	_, err = unary[structpb.Struct, emptypb.Empty](ctx, c, procedure, msg)
	return err
}

func unary[Req, Res any](ctx context.Context, c *Client, procedure string, msg *Req) (*Res, error) {
	client := connect.NewClient[Req, Res](c.httpClient, c.baseURL+procedure, c.opts...)
	resp, err := client.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, errors.Wrapf(err, "call %s failed", procedure)
	}
	return resp.Msg, nil
}
