// Package connect provides Connect RPC service implementations.
package connect

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/audiopro/internal/app/bridge"
	"github.com/osa030/audiopro/internal/app/notification"
)

// ServiceName is the fully-qualified name of the audio service.
const ServiceName = "audiopro.v1.AudioService"

// Procedure paths of the audio service.
const (
	PlayProcedure             = "/" + ServiceName + "/Play"
	PauseProcedure            = "/" + ServiceName + "/Pause"
	ResumeProcedure           = "/" + ServiceName + "/Resume"
	StopProcedure             = "/" + ServiceName + "/Stop"
	ClearProcedure            = "/" + ServiceName + "/Clear"
	SeekToProcedure           = "/" + ServiceName + "/SeekTo"
	SeekForwardProcedure      = "/" + ServiceName + "/SeekForward"
	SeekBackProcedure         = "/" + ServiceName + "/SeekBack"
	SetPlaybackSpeedProcedure = "/" + ServiceName + "/SetPlaybackSpeed"
	SetVolumeProcedure        = "/" + ServiceName + "/SetVolume"
	AmbientPlayProcedure      = "/" + ServiceName + "/AmbientPlay"
	AmbientStopProcedure      = "/" + ServiceName + "/AmbientStop"
	AmbientPauseProcedure     = "/" + ServiceName + "/AmbientPause"
	AmbientResumeProcedure    = "/" + ServiceName + "/AmbientResume"
	AmbientSetVolumeProcedure = "/" + ServiceName + "/AmbientSetVolume"
	AmbientSeekToProcedure    = "/" + ServiceName + "/AmbientSeekTo"
	RemoteProcedure           = "/" + ServiceName + "/Remote"
	GetStateProcedure         = "/" + ServiceName + "/GetState"
	SubscribeEventsProcedure  = "/" + ServiceName + "/SubscribeEvents"
)

type (
	unaryCommand = func(context.Context, *connect.Request[emptypb.Empty]) (*connect.Response[emptypb.Empty], error)
	unaryStruct  = func(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[emptypb.Empty], error)
)

// AudioService implements the AudioService RPC on top of a bridge.
type AudioService struct {
	bridge *bridge.Bridge
}

// NewAudioService creates a new AudioService.
func NewAudioService(b *bridge.Bridge) *AudioService {
	return &AudioService{bridge: b}
}

// Handler returns the service path prefix and its HTTP handler, ready to
// be mounted on a mux.
func (s *AudioService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	b := s.bridge
	mux := http.NewServeMux()

	commands := map[string]func(){
		PauseProcedure:         b.Pause,
		ResumeProcedure:        b.Resume,
		StopProcedure:          b.Stop,
		ClearProcedure:         b.Clear,
		AmbientStopProcedure:   b.AmbientStop,
		AmbientPauseProcedure:  b.AmbientPause,
		AmbientResumeProcedure: b.AmbientResume,
	}
	for procedure, fn := range commands {
		mux.Handle(procedure, connect.NewUnaryHandler(procedure, command(fn), opts...))
	}

	numeric := map[string]struct {
		field string
		apply func(float64)
	}{
		SeekToProcedure:           {"positionMs", func(v float64) { b.SeekTo(toMs(v)) }},
		SeekForwardProcedure:      {"amountMs", func(v float64) { b.SeekForward(toMs(v)) }},
		SeekBackProcedure:         {"amountMs", func(v float64) { b.SeekBack(toMs(v)) }},
		SetPlaybackSpeedProcedure: {"speed", b.SetPlaybackSpeed},
		SetVolumeProcedure:        {"volume", b.SetVolume},
		AmbientSetVolumeProcedure: {"volume", b.AmbientSetVolume},
		AmbientSeekToProcedure:    {"positionMs", func(v float64) { b.AmbientSeekTo(toMs(v)) }},
	}
	for procedure, n := range numeric {
		mux.Handle(procedure, connect.NewUnaryHandler(procedure, numberCommand(n.field, n.apply), opts...))
	}

	mux.Handle(PlayProcedure, connect.NewUnaryHandler(PlayProcedure, unaryStruct(s.Play), opts...))
	mux.Handle(AmbientPlayProcedure, connect.NewUnaryHandler(AmbientPlayProcedure, unaryStruct(s.AmbientPlay), opts...))
	mux.Handle(RemoteProcedure, connect.NewUnaryHandler(RemoteProcedure, unaryStruct(s.Remote), opts...))
	mux.Handle(GetStateProcedure, connect.NewUnaryHandler(GetStateProcedure, s.GetState, opts...))
	mux.Handle(SubscribeEventsProcedure, connect.NewServerStreamHandler(SubscribeEventsProcedure, s.SubscribeEvents, opts...))

	return "/" + ServiceName + "/", mux
}

// Play handles {track, options} play requests.
func (s *AudioService) Play(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[emptypb.Empty], error) {
	trackMap, err := structField(req.Msg, "track", true)
	if err != nil {
		return nil, err
	}
	optionsMap, err := structField(req.Msg, "options", false)
	if err != nil {
		return nil, err
	}
	if err := s.bridge.Play(trackMap, optionsMap); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// AmbientPlay handles {options} ambient play requests.
func (s *AudioService) AmbientPlay(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[emptypb.Empty], error) {
	optionsMap, err := structField(req.Msg, "options", true)
	if err != nil {
		return nil, err
	}
	if err := s.bridge.AmbientPlay(optionsMap); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// Remote handles {command, positionMs} remote-control requests.
func (s *AudioService) Remote(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[emptypb.Empty], error) {
	cmd, ok := req.Msg.GetFields()["command"]
	if !ok || cmd.GetStringValue() == "" {
		return nil, invalidArgument(errors.New("missing field: command"))
	}
	var position float64
	if _, ok := req.Msg.GetFields()["positionMs"]; ok {
		v, err := numberField(req.Msg, "positionMs")
		if err != nil {
			return nil, err
		}
		position = v
	}
	if err := s.bridge.HandleRemote(cmd.GetStringValue(), toMs(position)); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// GetState returns the state of both channels.
func (s *AudioService) GetState(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(stateToMap(s.bridge.State()))
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// SubscribeEvents streams the event channel, starting with the current state.
// The state is captured after the subscription is registered, so no event
// is lost between the two.
func (s *AudioService) SubscribeEvents(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
	stream *connect.ServerStream[structpb.Struct],
) error {
	adapter := &notificationStreamAdapter{stream: stream}
	subscriptionID, done := s.bridge.SubscribeWithInitial(adapter, func(sequenceNo uint64) error {
		initial, err := structpb.NewStruct(initialStateToMap(sequenceNo, s.bridge.State()))
		if err != nil {
			return connect.NewError(connect.CodeInternal, err)
		}
		return stream.Send(initial)
	})
	defer s.bridge.Unsubscribe(subscriptionID)

	select {
	case <-ctx.Done():
	case <-done:
	case <-s.bridge.Done():
	}
	return nil
}

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
type notificationStreamAdapter struct {
	stream *connect.ServerStream[structpb.Struct]
}

func (a *notificationStreamAdapter) Send(n notification.Notification) error {
	msg, err := structpb.NewStruct(notificationToMap(n))
	if err != nil {
		zlog.Warn().Msgf("connect: failed to encode event, skipping: type=%s err=%v", n.Event.Type, err)
		return nil
	}
	return a.stream.Send(msg)
}

func command(fn func()) unaryCommand {
	return func(context.Context, *connect.Request[emptypb.Empty]) (*connect.Response[emptypb.Empty], error) {
		fn()
		return connect.NewResponse(&emptypb.Empty{}), nil
	}
}

func numberCommand(field string, fn func(float64)) unaryStruct {
	return func(_ context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[emptypb.Empty], error) {
		v, err := numberField(req.Msg, field)
		if err != nil {
			return nil, err
		}
		fn(v)
		return connect.NewResponse(&emptypb.Empty{}), nil
	}
}

func toConnectError(err error) error {
	if errors.Is(err, bridge.ErrInvalidArgument) {
		return connect.NewError(connect.CodeInvalidArgument, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

func invalidArgument(err error) error {
	return connect.NewError(connect.CodeInvalidArgument, err)
}
