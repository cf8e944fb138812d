package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestOpenDownloadsFullBodyWithoutSeek(t *testing.T) {
	body := strings.Repeat("abcdefgh", 1024) // 8KiB
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "8192")
		if r.Method == http.MethodHead {
			return
		}
		w.Write([]byte(body))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f, pf, err := Open(ctx, srv.URL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	reader := pf.NewReader()
	if !reader.WaitForByte(8191, 2*time.Second) {
		t.Fatal("download did not complete in time")
	}

	buf := make([]byte, len(body))
	n, err := reader.ReadAt(0, buf)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != len(body) || string(buf) != body {
		t.Fatalf("downloaded body mismatch: got %d bytes", n)
	}
}

func TestRequestBytesRestartsFarAheadGET(t *testing.T) {
	const size = 64 * 1024
	body := make([]byte, size)
	for i := range body {
		body[i] = byte(i)
	}

	var sawRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "65536")
			return
		}
		sawRange = r.Header.Get("Range")
		if rng := r.Header.Get("Range"); rng != "" {
			var offset int
			if _, err := fmt.Sscanf(rng, "bytes=%d-", &offset); err == nil {
				w.WriteHeader(http.StatusPartialContent)
				w.Write(body[offset:])
				return
			}
		}
		w.Write(body)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f, pf, err := Open(ctx, srv.URL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	f.RequestBytes(60000)

	reader := pf.NewReader()
	if !reader.WaitForByte(size-1, 2*time.Second) {
		t.Fatal("seek-ahead GET did not complete in time")
	}
	if sawRange == "" {
		t.Error("expected a Range header on the restarted GET")
	}
}
