// Package playback provides the main audio session controller.
package playback

// Status represents the playback status of the session.
//
//	          play            ready          pause
//	 IDLE ─────────▶ LOADING ───────▶ PLAYING ◀──────▶ PAUSED
//	                   │  ▲   fail       │    resume     │
//	                   │  └── play ── ERROR ◀── fail ────┤
//	                   │                 ▲               │
//	                   └── stop ─▶ STOPPED ◀── stop/end ─┘
//
// Exactly one status holds at a time. clear resets any status to IDLE.
type Status int

const (
	StatusIdle    Status = iota // No session
	StatusLoading               // Resource being acquired
	StatusPlaying               // Playing
	StatusPaused                // Paused with a loaded resource
	StatusStopped               // Stopped, resource released
	StatusError                 // Failed until the next play
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusLoading:
		return "LOADING"
	case StatusPlaying:
		return "PLAYING"
	case StatusPaused:
		return "PAUSED"
	case StatusStopped:
		return "STOPPED"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// HasTrack reports whether a track is attached in this status.
func (s Status) HasTrack() bool {
	return s != StatusIdle && s != StatusStopped
}

// Command is an input to the state machine.
type Command int

const (
	CmdPlay        Command = iota // Start loading a new track
	CmdReady                      // Resource acquired, autoplay
	CmdReadyPaused                // Resource acquired, no autoplay
	CmdFail                       // Acquisition or runtime failure
	CmdPause
	CmdResume
	CmdStop
	CmdEnd // Track played to its end
	CmdSeek
	CmdClear
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CmdPlay:
		return "play"
	case CmdReady:
		return "ready"
	case CmdReadyPaused:
		return "ready_paused"
	case CmdFail:
		return "fail"
	case CmdPause:
		return "pause"
	case CmdResume:
		return "resume"
	case CmdStop:
		return "stop"
	case CmdEnd:
		return "end"
	case CmdSeek:
		return "seek"
	case CmdClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Transition returns the status reached by applying cmd in status from.
// ok is false for invalid transitions, which callers ignore.
func Transition(from Status, cmd Command) (to Status, ok bool) {
	switch cmd {
	case CmdPlay:
		return StatusLoading, true
	case CmdClear:
		return StatusIdle, true
	case CmdReady:
		if from == StatusLoading {
			return StatusPlaying, true
		}
	case CmdReadyPaused:
		if from == StatusLoading {
			return StatusPaused, true
		}
	case CmdFail:
		if from == StatusLoading || from == StatusPlaying || from == StatusPaused {
			return StatusError, true
		}
	case CmdPause:
		if from == StatusPlaying {
			return StatusPaused, true
		}
	case CmdResume:
		if from == StatusPaused {
			return StatusPlaying, true
		}
	case CmdStop:
		if from == StatusLoading || from == StatusPlaying || from == StatusPaused {
			return StatusStopped, true
		}
	case CmdEnd:
		if from == StatusPlaying {
			return StatusStopped, true
		}
	case CmdSeek:
		if from == StatusPlaying || from == StatusPaused {
			return from, true
		}
	}
	return from, false
}
