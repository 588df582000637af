package connect

import (
	"math"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/audiopro/internal/app/bridge"
	"github.com/osa030/audiopro/internal/app/notification"
	"github.com/osa030/audiopro/internal/domain/event"
	"github.com/osa030/audiopro/internal/domain/track"
)

// InitialStateType is the type of the first message on an event stream.
const InitialStateType = "INITIAL_STATE"

func numberField(msg *structpb.Struct, key string) (float64, error) {
	v, ok := msg.GetFields()[key]
	if !ok {
		return 0, invalidArgument(errors.Newf("missing field: %s", key))
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, invalidArgument(errors.Newf("field %s must be a number", key))
	}
	return n.NumberValue, nil
}

// toMs converts a wire number to milliseconds, saturating at the int64
// range. NaN yields 0.
func toMs(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(v)
	}
}

// structField returns the nested object at key. A missing optional field
// yields nil.
func structField(msg *structpb.Struct, key string, required bool) (map[string]any, error) {
	v, ok := msg.GetFields()[key]
	if !ok {
		if required {
			return nil, invalidArgument(errors.Newf("missing field: %s", key))
		}
		return nil, nil
	}
	s, ok := v.GetKind().(*structpb.Value_StructValue)
	if !ok {
		return nil, invalidArgument(errors.Newf("field %s must be an object", key))
	}
	return s.StructValue.AsMap(), nil
}

func notificationToMap(n notification.Notification) map[string]any {
	e := n.Event
	m := map[string]any{
		"channel":    event.ChannelName,
		"type":       e.Type.String(),
		"source":     string(e.Source),
		"sequenceNo": int64(n.SequenceNo),
		"payload":    payloadToMap(e.Type, e.Payload),
	}
	if e.Trigger != event.TriggerNone {
		m["triggerSource"] = string(e.Trigger)
	}
	return m
}

func payloadToMap(typ event.Type, p event.Payload) map[string]any {
	m := map[string]any{
		"state":      p.State,
		"positionMs": p.PositionMs,
		"durationMs": p.DurationMs,
	}
	if p.Track != nil {
		m["track"] = trackToMap(*p.Track)
	}
	if typ == event.PlaybackSpeedChanged {
		m["speed"] = p.Speed
	}
	if p.Error != "" {
		m["error"] = p.Error
		m["errorCode"] = p.ErrorCode.String()
	}
	return m
}

func trackToMap(t track.Track) map[string]any {
	m := map[string]any{
		"id":         t.ID,
		"url":        t.URL,
		"title":      t.Title,
		"artist":     t.Artist,
		"album":      t.Album,
		"artwork":    t.Artwork,
		"durationMs": t.DurationMs,
	}
	for k, v := range t.Extra {
		if _, err := structpb.NewValue(v); err == nil {
			m[k] = v
		}
	}
	return m
}

func stateToMap(s bridge.State) map[string]any {
	main := map[string]any{
		"sessionId":  s.Main.SessionID,
		"state":      s.Main.Status.String(),
		"positionMs": s.Main.Position.Milliseconds(),
		"durationMs": s.Main.Duration.Milliseconds(),
		"speed":      s.Main.Speed,
		"volume":     s.Main.Volume,
	}
	if s.Main.Track != nil {
		main["track"] = trackToMap(*s.Main.Track)
	}
	return map[string]any{
		"main": main,
		"ambient": map[string]any{
			"state":      s.Ambient.Status.String(),
			"url":        s.Ambient.URL,
			"loop":       s.Ambient.Loop,
			"positionMs": s.Ambient.Position.Milliseconds(),
			"durationMs": s.Ambient.Duration.Milliseconds(),
			"volume":     s.Ambient.Volume,
		},
	}
}

func initialStateToMap(sequenceNo uint64, s bridge.State) map[string]any {
	return map[string]any{
		"channel":    event.ChannelName,
		"type":       InitialStateType,
		"sequenceNo": int64(sequenceNo),
		"payload":    stateToMap(s),
	}
}
