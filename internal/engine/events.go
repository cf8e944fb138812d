package engine

import "time"

// Status is the PlayerEngine's coarse playback state (spec §4.H).
type Status int

const (
	Stopped Status = iota
	Playing
	Paused
)

func (s Status) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// TrackMeta identifies a queue entry; tag/lyric metadata is an
// out-of-scope front-end concern (spec.md §1 Non-goals).
type TrackMeta struct {
	URL   string
	Index int
}

// TrackErrorKind classifies why a track was aborted.
type TrackErrorKind int

const (
	TrackErrorFetch TrackErrorKind = iota
	TrackErrorDecode
)

func (k TrackErrorKind) String() string {
	if k == TrackErrorFetch {
		return "fetch_failed"
	}
	return "decode_error"
}

// Event is the tagged union of outbound control-surface notifications
// (spec §4.I). Exactly one concrete type is populated per Event value.
type Event struct {
	Progress       *ProgressEvent
	TrackChanged   *TrackChangedEvent
	StateChanged   *StateChangedEvent
	VolumeChanged  *VolumeChangedEvent
	SpeedChanged   *SpeedChangedEvent
	GaplessChanged *GaplessChangedEvent
	TrackError     *TrackErrorEvent
	Eos            *EosEvent
	SpeedFallback  *SpeedFallbackEvent
	FatalDevice    *FatalDeviceEvent
}

type ProgressEvent struct {
	Position      time.Duration
	TotalDuration time.Duration
	HasTotal      bool
}

type TrackChangedEvent struct{ Track TrackMeta }

type StateChangedEvent struct{ Status Status }

type VolumeChangedEvent struct{ Percent int }

type SpeedChangedEvent struct{ Factor float64 }

type GaplessChangedEvent struct{ Enabled bool }

type TrackErrorEvent struct {
	Kind  TrackErrorKind
	Track TrackMeta
	Err   error
}

type EosEvent struct{}

// SpeedFallbackEvent fires once per session the first time Stretch mode
// is requested but unavailable (spec §9 "Speed backend selection").
type SpeedFallbackEvent struct{}

// FatalDeviceEvent fires when OutputSink's one reopen attempt after
// DeviceLost also fails (spec §7 Device error handling).
type FatalDeviceEvent struct{ Err error }
