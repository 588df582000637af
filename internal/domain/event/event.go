// Package event defines the events delivered to the boundary event channel.
package event

import "github.com/osa030/audiopro/internal/domain/track"

// ChannelName is the single named channel events are delivered on.
const ChannelName = "AudioProEvent"

// Type represents an event type.
type Type int

const (
	StateChanged         Type = iota // Status changed
	TrackEnded                       // Track played to its end
	PlaybackError                    // Resource acquisition or runtime failure
	Progress                         // Periodic position report
	SeekComplete                     // Seek applied
	RemoteNext                       // Remote "next" command received
	RemotePrev                       // Remote "previous" command received
	PlaybackSpeedChanged             // Playback speed changed
	AmbientStateChanged              // Ambient status changed
	AmbientTrackEnded                // Non-looping ambient sound ended
	AmbientError                     // Ambient acquisition failure
)

// String returns the wire name of the event type.
func (t Type) String() string {
	switch t {
	case StateChanged:
		return "STATE_CHANGED"
	case TrackEnded:
		return "TRACK_ENDED"
	case PlaybackError:
		return "PLAYBACK_ERROR"
	case Progress:
		return "PROGRESS"
	case SeekComplete:
		return "SEEK_COMPLETE"
	case RemoteNext:
		return "REMOTE_NEXT"
	case RemotePrev:
		return "REMOTE_PREV"
	case PlaybackSpeedChanged:
		return "PLAYBACK_SPEED_CHANGED"
	case AmbientStateChanged:
		return "AMBIENT_STATE_CHANGED"
	case AmbientTrackEnded:
		return "AMBIENT_TRACK_ENDED"
	case AmbientError:
		return "AMBIENT_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Source discriminates the controller an event originates from.
type Source string

const (
	SourceMain    Source = "main"
	SourceAmbient Source = "ambient"
)

// TriggerSource tags whether an event was initiated by the user or the system.
type TriggerSource string

const (
	TriggerNone   TriggerSource = ""
	TriggerUser   TriggerSource = "USER"
	TriggerSystem TriggerSource = "SYSTEM"
)

// Payload carries the event data. Only the fields relevant to the event
// type are set.
type Payload struct {
	State      string       // Status wire name (state events)
	Track      *track.Track // Current track, nil when none
	PositionMs int64
	DurationMs int64
	Speed      float64
	Error      string
	ErrorCode  ErrorCode
}

// ErrorCode classifies PlaybackError and AmbientError events.
type ErrorCode int

const (
	ErrorCodeUnknown      ErrorCode = iota
	ErrorCodeInvalidTrack           // Track or options rejected before loading
	ErrorCodeAcquisition            // Resource could not be acquired
	ErrorCodePlayback               // Resource failed while playing
)

// String returns the wire name of the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeInvalidTrack:
		return "INVALID_TRACK"
	case ErrorCodeAcquisition:
		return "ACQUISITION"
	case ErrorCodePlayback:
		return "PLAYBACK"
	default:
		return "UNKNOWN"
	}
}

// Event represents a single notification to the boundary.
type Event struct {
	Type    Type
	Source  Source
	Trigger TriggerSource
	Payload Payload
}

// Sink receives events. Publish must not block.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Publish calls f(e).
func (f SinkFunc) Publish(e Event) { f(e) }

// Discard is a Sink that drops every event.
var Discard Sink = SinkFunc(func(Event) {})
