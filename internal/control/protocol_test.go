package control

import (
	"bytes"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	cmd := Command{Type: CmdPlay, Queue: []string{"file:///a.mp3", "file:///b.mp3"}, StartIndex: 1}

	var buf bytes.Buffer
	if err := writeFrame(&buf, cmd); err != nil {
		t.Fatalf("writeFrame() error = %v", err)
	}

	var got Command
	if err := readFrame(&buf, &got); err != nil {
		t.Fatalf("readFrame() error = %v", err)
	}

	if got.Type != cmd.Type || got.StartIndex != cmd.StartIndex || len(got.Queue) != len(cmd.Queue) {
		t.Errorf("readFrame() = %+v, want %+v", got, cmd)
	}
}

func TestReadFrameTruncatedLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0})
	var got Command
	if err := readFrame(buf, &got); err == nil {
		t.Error("readFrame() with truncated length, want error")
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, Command{Type: CmdStop}); err != nil {
		t.Fatalf("writeFrame() error = %v", err)
	}
	truncated := bytes.NewBuffer(buf.Bytes()[:buf.Len()-1])

	var got Command
	if err := readFrame(truncated, &got); err == nil {
		t.Error("readFrame() with truncated payload, want error")
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	huge := make([]string, 0, maxFrameBytes)
	for i := 0; i < 100000; i++ {
		huge = append(huge, "file:///some/reasonably/long/path/to/a/track.flac")
	}
	cmd := Command{Type: CmdPlay, Queue: huge}

	var buf bytes.Buffer
	if err := writeFrame(&buf, cmd); err == nil {
		t.Error("writeFrame() with oversized payload, want error")
	}
}

func TestParseAddr(t *testing.T) {
	tests := []struct {
		addr        string
		wantNetwork string
		wantAddress string
		wantErr     bool
	}{
		{"tcp://[::1]:50101", "tcp", "[::1]:50101", false},
		{"unix:///tmp/streamcore.sock", "unix", "/tmp/streamcore.sock", false},
		{"bogus://nope", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			network, address, err := parseAddr(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseAddr(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
			if err == nil && (network != tt.wantNetwork || address != tt.wantAddress) {
				t.Errorf("parseAddr(%q) = (%q, %q), want (%q, %q)", tt.addr, network, address, tt.wantNetwork, tt.wantAddress)
			}
		})
	}
}
