// Package control implements the Control Surface (spec §4.I, §6): a
// duplex, language-neutral wire protocol for driving a PlayerEngine.
// Each message is a length-prefixed frame (u32 big-endian length,
// JSON payload); the payload's "type" field tags which Command or
// Event variant it carries.
package control

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

const maxFrameBytes = 1 << 20 // 1 MiB; a command/event frame is always tiny

// CommandType tags an inbound Command frame.
type CommandType string

const (
	CmdPlay          CommandType = "play"
	CmdPause         CommandType = "pause"
	CmdResume        CommandType = "resume"
	CmdTogglePause   CommandType = "toggle_pause"
	CmdStop          CommandType = "stop"
	CmdSkip          CommandType = "skip"
	CmdPrevious      CommandType = "previous"
	CmdSeek          CommandType = "seek"
	CmdSetVolume     CommandType = "set_volume"
	CmdVolumeUp      CommandType = "volume_up"
	CmdVolumeDown    CommandType = "volume_down"
	CmdSetSpeed      CommandType = "set_speed"
	CmdSpeedUp       CommandType = "speed_up"
	CmdSpeedDown     CommandType = "speed_down"
	CmdSetGapless    CommandType = "set_gapless"
	CmdSetLoopMode   CommandType = "set_loop_mode"
	CmdSubscribe     CommandType = "subscribe_events"
	CmdSnapshot      CommandType = "snapshot"
)

// Command is an inbound wire frame (spec §4.I "Inbound commands").
// Only the fields relevant to Type are populated.
type Command struct {
	Type CommandType `json:"type"`

	Queue      []string `json:"queue,omitempty"`
	StartIndex int      `json:"start_index,omitempty"`

	SeekSeconds  float64 `json:"seek_seconds,omitempty"`
	SeekAbsolute bool    `json:"seek_absolute,omitempty"`

	VolumePercent int `json:"volume_percent,omitempty"`

	SpeedFactor float64 `json:"speed_factor,omitempty"`

	Gapless bool `json:"gapless,omitempty"`

	LoopMode string `json:"loop_mode,omitempty"`
}

// EventType tags an outbound Event frame.
type EventType string

const (
	EvtProgress      EventType = "progress"
	EvtTrackChanged  EventType = "track_changed"
	EvtStateChanged  EventType = "state_changed"
	EvtVolumeChanged EventType = "volume_changed"
	EvtSpeedChanged  EventType = "speed_changed"
	EvtGaplessChanged EventType = "gapless_changed"
	EvtTrackError    EventType = "track_error"
	EvtEos           EventType = "eos"
	EvtSpeedFallback EventType = "speed_fallback"
	EvtFatalDevice   EventType = "fatal_device"
	EvtSnapshot      EventType = "snapshot"
)

// WireEvent is an outbound wire frame (spec §4.I "Outbound events").
type WireEvent struct {
	Type EventType `json:"type"`

	PositionSeconds      float64 `json:"position_seconds,omitempty"`
	TotalDurationSeconds float64 `json:"total_duration_seconds,omitempty"`
	HasTotal             bool    `json:"has_total,omitempty"`

	TrackURL   string `json:"track_url,omitempty"`
	TrackIndex int    `json:"track_index,omitempty"`

	Status string `json:"status,omitempty"`

	VolumePercent int `json:"volume_percent,omitempty"`

	SpeedFactor float64 `json:"speed_factor,omitempty"`

	Gapless bool `json:"gapless,omitempty"`

	ErrorKind string `json:"error_kind,omitempty"`
	ErrorText string `json:"error_text,omitempty"`

	Snapshot *SnapshotPayload `json:"snapshot,omitempty"`
}

// SnapshotPayload answers a CmdSnapshot request.
type SnapshotPayload struct {
	Status               string  `json:"status"`
	QueueIndex           int     `json:"queue_index"`
	QueueLen             int     `json:"queue_len"`
	PositionSeconds      float64 `json:"position_seconds"`
	TotalDurationSeconds float64 `json:"total_duration_seconds"`
	HasTotal             bool    `json:"has_total"`
	VolumePercent        int     `json:"volume_percent"`
	SpeedFactor          float64 `json:"speed_factor"`
	Gapless              bool    `json:"gapless"`
	LoopMode             string  `json:"loop_mode"`
}

// writeFrame writes a u32-big-endian-length-prefixed JSON payload.
func writeFrame(w io.Writer, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("control: marshal frame: %w", err)
	}
	if len(payload) > maxFrameBytes {
		return fmt.Errorf("control: frame too large (%d bytes)", len(payload))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("control: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("control: write frame payload: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed JSON payload and decodes it into v.
func readFrame(r io.Reader, v interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return fmt.Errorf("control: frame too large (%d bytes)", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("control: read frame payload: %w", err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("control: unmarshal frame: %w", err)
	}
	return nil
}
