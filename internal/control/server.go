package control

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/glebovdev/streamcore/internal/config"
	"github.com/glebovdev/streamcore/internal/engine"
	"github.com/rs/zerolog/log"
)

// Server accepts control-surface connections and dispatches Commands to
// an Engine, broadcasting its Events back as WireEvent frames.
type Server struct {
	eng      *engine.Engine
	listener net.Listener

	wg       sync.WaitGroup
	closing  chan struct{}
	closeOnce sync.Once
}

// Listen parses addr ("tcp://host:port" or "unix:///path") and starts
// accepting connections against eng. Call Serve to run the accept loop.
func Listen(addr string, eng *engine.Engine) (*Server, error) {
	network, address, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}
	if network == "unix" {
		_ = removeStaleSocket(address)
	}

	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("control: listen %s: %w", addr, err)
	}

	return &Server{eng: eng, listener: ln, closing: make(chan struct{})}, nil
}

func parseAddr(addr string) (network, address string, err error) {
	switch {
	case strings.HasPrefix(addr, "tcp://"):
		return "tcp", strings.TrimPrefix(addr, "tcp://"), nil
	case strings.HasPrefix(addr, "unix://"):
		return "unix", strings.TrimPrefix(addr, "unix://"), nil
	default:
		return "", "", fmt.Errorf("control: unrecognized address scheme %q (want tcp:// or unix://)", addr)
	}
}

// removeStaleSocket clears a leftover socket file from an unclean
// shutdown. If something is actually listening on it, Listen below
// will fail with "address already in use" as expected.
func removeStaleSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return os.Remove(path)
}

// Addr returns the bound network address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve runs the accept loop until Close is called. Each connection is
// served on its own goroutine and may issue commands concurrently with
// other connections; the Engine itself serializes them FIFO onto its
// single command loop (spec §4.I "commands are FIFO").
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closing:
				return nil
			default:
				return fmt.Errorf("control: accept: %w", err)
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// Close stops accepting new connections, waits for in-flight ones to
// drain, and closes the listener.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { close(s.closing) })
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("control: connection opened")

	sub := s.eng.Subscribe()
	defer sub.Close()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			select {
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				if err := writeFrame(conn, toWireEvent(ev)); err != nil {
					return
				}
			case <-s.closing:
				return
			}
		}
	}()

	for {
		var cmd Command
		if err := readFrame(conn, &cmd); err != nil {
			break
		}
		s.dispatch(conn, cmd)
	}

	<-writeDone
	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("control: connection closed")
}

func (s *Server) dispatch(conn net.Conn, cmd Command) {
	switch cmd.Type {
	case CmdPlay:
		s.eng.Play(cmd.Queue, cmd.StartIndex)
	case CmdPause:
		s.eng.Pause()
	case CmdResume:
		s.eng.Resume()
	case CmdTogglePause:
		s.eng.TogglePause()
	case CmdStop:
		s.eng.Stop()
	case CmdSkip:
		s.eng.Skip()
	case CmdPrevious:
		s.eng.Previous()
	case CmdSeek:
		s.eng.Seek(time.Duration(cmd.SeekSeconds*float64(time.Second)), cmd.SeekAbsolute)
	case CmdSetVolume:
		s.eng.SetVolume(cmd.VolumePercent)
	case CmdVolumeUp:
		s.eng.VolumeUp()
	case CmdVolumeDown:
		s.eng.VolumeDown()
	case CmdSetSpeed:
		s.eng.SetSpeed(cmd.SpeedFactor)
	case CmdSpeedUp:
		s.eng.SpeedUp()
	case CmdSpeedDown:
		s.eng.SpeedDown()
	case CmdSetGapless:
		s.eng.SetGapless(cmd.Gapless)
	case CmdSetLoopMode:
		s.eng.SetLoopMode(config.LoopMode(cmd.LoopMode))
	case CmdSnapshot:
		_ = writeFrame(conn, toSnapshotEvent(s.eng.Snapshot()))
	case CmdSubscribe:
		// A no-op: every connection is already subscribed for its
		// lifetime (see serveConn); present so clients that expect an
		// explicit opt-in command still work.
	default:
		log.Warn().Str("type", string(cmd.Type)).Msg("control: unrecognized command")
	}
}

func toWireEvent(ev engine.Event) WireEvent {
	switch {
	case ev.Progress != nil:
		return WireEvent{
			Type:                 EvtProgress,
			PositionSeconds:      ev.Progress.Position.Seconds(),
			TotalDurationSeconds: ev.Progress.TotalDuration.Seconds(),
			HasTotal:             ev.Progress.HasTotal,
		}
	case ev.TrackChanged != nil:
		return WireEvent{Type: EvtTrackChanged, TrackURL: ev.TrackChanged.Track.URL, TrackIndex: ev.TrackChanged.Track.Index}
	case ev.StateChanged != nil:
		return WireEvent{Type: EvtStateChanged, Status: ev.StateChanged.Status.String()}
	case ev.VolumeChanged != nil:
		return WireEvent{Type: EvtVolumeChanged, VolumePercent: ev.VolumeChanged.Percent}
	case ev.SpeedChanged != nil:
		return WireEvent{Type: EvtSpeedChanged, SpeedFactor: ev.SpeedChanged.Factor}
	case ev.GaplessChanged != nil:
		return WireEvent{Type: EvtGaplessChanged, Gapless: ev.GaplessChanged.Enabled}
	case ev.TrackError != nil:
		we := WireEvent{
			Type:       EvtTrackError,
			TrackURL:   ev.TrackError.Track.URL,
			TrackIndex: ev.TrackError.Track.Index,
			ErrorKind:  ev.TrackError.Kind.String(),
		}
		if ev.TrackError.Err != nil {
			we.ErrorText = ev.TrackError.Err.Error()
		}
		return we
	case ev.Eos != nil:
		return WireEvent{Type: EvtEos}
	case ev.SpeedFallback != nil:
		return WireEvent{Type: EvtSpeedFallback}
	case ev.FatalDevice != nil:
		we := WireEvent{Type: EvtFatalDevice}
		if ev.FatalDevice.Err != nil {
			we.ErrorText = ev.FatalDevice.Err.Error()
		}
		return we
	default:
		return WireEvent{}
	}
}

func toSnapshotEvent(s engine.EngineSnapshot) WireEvent {
	return WireEvent{
		Type: EvtSnapshot,
		Snapshot: &SnapshotPayload{
			Status:               s.Status.String(),
			QueueIndex:           s.QueueIndex,
			QueueLen:             s.QueueLen,
			PositionSeconds:      s.Position.Seconds(),
			TotalDurationSeconds: s.TotalDuration.Seconds(),
			HasTotal:             s.HasTotal,
			VolumePercent:        s.Volume,
			SpeedFactor:          s.Speed,
			Gapless:              s.Gapless,
			LoopMode:             string(s.LoopMode),
		},
	}
}
