package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebovdev/streamcore/internal/decode"
)

func TestHashURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"simple URL", "http://example.com/track.mp3"},
		{"URL with query params", "http://example.com/track.mp3?session=abc"},
		{"empty string", ""},
		{"https URL", "https://stream.example.com/live.ogg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := hashURL(tt.url)

			if len(result) != 32 {
				t.Errorf("hashURL(%q) length = %d, want 32", tt.url, len(result))
			}

			for _, c := range result {
				if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
					t.Errorf("hashURL(%q) contains non-hex character: %c", tt.url, c)
				}
			}
		})
	}
}

func TestHashURLConsistency(t *testing.T) {
	url := "http://example.com/stream/groovesalad"

	hash1 := hashURL(url)
	hash2 := hashURL(url)

	if hash1 != hash2 {
		t.Errorf("hashURL is not consistent: %q != %q", hash1, hash2)
	}
}

func TestHashURLUniqueness(t *testing.T) {
	url1 := "http://example.com/track1.mp3"
	url2 := "http://example.com/track2.mp3"

	hash1 := hashURL(url1)
	hash2 := hashURL(url2)

	if hash1 == hash2 {
		t.Errorf("Different URLs produced same hash: %q", hash1)
	}
}

func testMetadata() ProbeMetadata {
	return ProbeMetadata{
		Format: decode.FormatMP3,
		Spec: decode.StreamSpec{
			SampleRate: 44100,
			Channels:   2,
			Format:     decode.SampleFormatF32,
		},
		TotalDuration: 3*time.Minute + 12*time.Second,
		HasDuration:   true,
	}
}

func TestSaveAndGetProbe(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  DefaultExpiry,
	}

	testURL := "http://example.com/test-track.mp3"
	meta := testMetadata()

	if err := cache.SaveProbe(testURL, meta); err != nil {
		t.Fatalf("SaveProbe() error = %v", err)
	}

	got := cache.GetProbe(testURL)
	if got == nil {
		t.Fatal("GetProbe() returned nil, expected metadata")
	}

	if got.Format != meta.Format {
		t.Errorf("GetProbe().Format = %v, want %v", got.Format, meta.Format)
	}
	if got.Spec != meta.Spec {
		t.Errorf("GetProbe().Spec = %+v, want %+v", got.Spec, meta.Spec)
	}
	if got.TotalDuration != meta.TotalDuration {
		t.Errorf("GetProbe().TotalDuration = %v, want %v", got.TotalDuration, meta.TotalDuration)
	}
	if got.HasDuration != meta.HasDuration {
		t.Errorf("GetProbe().HasDuration = %v, want %v", got.HasDuration, meta.HasDuration)
	}
}

func TestGetProbeNonExistent(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  DefaultExpiry,
	}

	if result := cache.GetProbe("http://example.com/nonexistent.mp3"); result != nil {
		t.Error("GetProbe() for nonexistent URL should return nil")
	}
}

func TestGetProbeExpired(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  1 * time.Millisecond,
	}

	testURL := "http://example.com/expired-track.mp3"
	meta := testMetadata()

	if err := cache.SaveProbe(testURL, meta); err != nil {
		t.Fatalf("SaveProbe() error = %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if result := cache.GetProbe(testURL); result != nil {
		t.Error("GetProbe() for expired entry should return nil")
	}

	filename := hashURL(testURL) + ".json"
	probePath := filepath.Join(tmpDir, ProbeSubdir, filename)
	if _, err := os.Stat(probePath); !os.IsNotExist(err) {
		t.Error("Expired probe file should have been deleted")
	}
}

func TestGetProbeCorruptJSON(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  DefaultExpiry,
	}

	testURL := "http://example.com/corrupt.mp3"
	dir := filepath.Join(tmpDir, ProbeSubdir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	path := filepath.Join(dir, hashURL(testURL)+".json")
	if err := os.WriteFile(path, []byte("not json"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if result := cache.GetProbe(testURL); result != nil {
		t.Error("GetProbe() for corrupt entry should return nil")
	}
}

func TestCleanExpired(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  1 * time.Millisecond,
	}

	meta := testMetadata()
	urls := []string{
		"http://example.com/track1.mp3",
		"http://example.com/track2.mp3",
		"http://example.com/track3.mp3",
	}

	for _, url := range urls {
		if err := cache.SaveProbe(url, meta); err != nil {
			t.Fatalf("SaveProbe(%q) error = %v", url, err)
		}
	}

	time.Sleep(10 * time.Millisecond)

	if err := cache.CleanExpired(); err != nil {
		t.Fatalf("CleanExpired() error = %v", err)
	}

	probeDir := filepath.Join(tmpDir, ProbeSubdir)
	entries, err := os.ReadDir(probeDir)
	if err != nil {
		t.Fatalf("Failed to read probe directory: %v", err)
	}

	if len(entries) != 0 {
		t.Errorf("CleanExpired() left %d files, want 0", len(entries))
	}
}

func TestCleanExpiredKeepsValidFiles(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  24 * time.Hour,
	}

	meta := testMetadata()
	testURL := "http://example.com/valid-track.mp3"

	if err := cache.SaveProbe(testURL, meta); err != nil {
		t.Fatalf("SaveProbe() error = %v", err)
	}

	if err := cache.CleanExpired(); err != nil {
		t.Fatalf("CleanExpired() error = %v", err)
	}

	if result := cache.GetProbe(testURL); result == nil {
		t.Error("CleanExpired() should not remove valid (non-expired) entries")
	}
}

func TestCleanExpiredNonExistentDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  DefaultExpiry,
	}

	if err := cache.CleanExpired(); err != nil {
		t.Errorf("CleanExpired() should not error on non-existent directory, got %v", err)
	}
}

func TestGetCacheDir(t *testing.T) {
	dir, err := GetCacheDir()
	if err != nil {
		t.Fatalf("GetCacheDir() error = %v", err)
	}

	if dir == "" {
		t.Error("GetCacheDir() returned empty string")
	}

	if !filepath.IsAbs(dir) {
		t.Errorf("GetCacheDir() = %q, want absolute path", dir)
	}

	if filepath.Base(dir) != AppName {
		t.Errorf("GetCacheDir() directory name = %q, want %q", filepath.Base(dir), AppName)
	}
}

func TestNewCache(t *testing.T) {
	cache, err := NewCache()
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	if cache == nil {
		t.Fatal("NewCache() returned nil")
	} else {
		if cache.baseDir == "" {
			t.Error("NewCache() cache.baseDir is empty")
		}
		if cache.expiry != DefaultExpiry {
			t.Errorf("NewCache() cache.expiry = %v, want %v", cache.expiry, DefaultExpiry)
		}
	}
}

func TestSaveProbeCreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  DefaultExpiry,
	}

	testURL := "http://example.com/track.mp3"
	meta := testMetadata()

	if err := cache.SaveProbe(testURL, meta); err != nil {
		t.Fatalf("SaveProbe() error = %v", err)
	}

	probeDir := filepath.Join(tmpDir, ProbeSubdir)
	info, err := os.Stat(probeDir)
	if err != nil {
		t.Fatalf("Probe directory was not created: %v", err)
	}

	if !info.IsDir() {
		t.Error("ProbeSubdir should be a directory")
	}
}

func TestSaveProbeLeavesNoTempFiles(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  DefaultExpiry,
	}

	if err := cache.SaveProbe("http://example.com/track.mp3", testMetadata()); err != nil {
		t.Fatalf("SaveProbe() error = %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(tmpDir, ProbeSubdir))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}

	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("SaveProbe() left a temp file behind: %s", e.Name())
		}
	}
}

func TestMultipleProbesSameCache(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  DefaultExpiry,
	}

	entries := map[string]ProbeMetadata{
		"http://example.com/track1.mp3":  {Format: decode.FormatMP3, Spec: decode.StreamSpec{SampleRate: 44100, Channels: 2, Format: decode.SampleFormatF32}, TotalDuration: time.Minute, HasDuration: true},
		"http://example.com/track2.flac": {Format: decode.FormatFLAC, Spec: decode.StreamSpec{SampleRate: 48000, Channels: 2, Format: decode.SampleFormatF32}, TotalDuration: 2 * time.Minute, HasDuration: true},
		"http://example.com/live.ogg":    {Format: decode.FormatVorbis, Spec: decode.StreamSpec{SampleRate: 44100, Channels: 2, Format: decode.SampleFormatF32}, HasDuration: false},
	}

	for url, meta := range entries {
		if err := cache.SaveProbe(url, meta); err != nil {
			t.Fatalf("SaveProbe(%q) error = %v", url, err)
		}
	}

	for url, want := range entries {
		got := cache.GetProbe(url)
		if got == nil {
			t.Errorf("GetProbe(%q) returned nil", url)
			continue
		}
		if got.Format != want.Format || got.HasDuration != want.HasDuration {
			t.Errorf("GetProbe(%q) = %+v, want %+v", url, got, want)
		}
	}
}
