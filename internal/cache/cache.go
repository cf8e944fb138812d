// Package cache provides disk caching of decoded container metadata
// (format, StreamSpec, duration), keyed by source URL. The engine writes
// an entry after each remote open but does not read entries back, so
// every open still probes the source.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebovdev/streamcore/internal/decode"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultExpiry is how long a cached probe result is trusted before
	// being treated as stale (7 days; remote objects rarely change
	// format in place, but do get replaced).
	DefaultExpiry = 7 * 24 * time.Hour
	// ProbeSubdir is the subdirectory for cached probe metadata.
	ProbeSubdir = "probe"
	// AppName is used for the cache directory name.
	AppName = "streamcore"
)

// ProbeMetadata is everything about a track the decoder needs without
// re-reading container headers: the probed format, its StreamSpec, and
// total duration if the container reported one.
type ProbeMetadata struct {
	Format        decode.Format     `json:"format"`
	Spec          decode.StreamSpec `json:"spec"`
	TotalDuration time.Duration     `json:"total_duration"`
	HasDuration   bool              `json:"has_duration"`
}

// Cache manages disk-based caching of ProbeMetadata.
type Cache struct {
	baseDir string
	expiry  time.Duration
}

// NewCache creates a new Cache instance with the default expiry.
func NewCache() (*Cache, error) {
	cacheDir, err := GetCacheDir()
	if err != nil {
		return nil, err
	}

	return &Cache{
		baseDir: cacheDir,
		expiry:  DefaultExpiry,
	}, nil
}

// GetCacheDir returns the platform-specific cache directory for the application.
func GetCacheDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user cache directory: %w", err)
	}

	cacheDir := filepath.Join(userCacheDir, AppName)
	return cacheDir, nil
}

func (c *Cache) ensureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

func hashURL(url string) string {
	hash := md5.Sum([]byte(url))
	return hex.EncodeToString(hash[:])
}

func (c *Cache) probePath(url string) string {
	return filepath.Join(c.baseDir, ProbeSubdir, hashURL(url)+".json")
}

// GetProbe retrieves cached probe metadata for url. Returns nil if not
// found or expired.
func (c *Cache) GetProbe(url string) *ProbeMetadata {
	path := c.probePath(url)

	info, err := os.Stat(path)
	if err != nil {
		return nil
	}

	if time.Since(info.ModTime()) > c.expiry {
		if err := os.Remove(path); err != nil {
			log.Debug().Err(err).Str("file", path).Msg("cache: failed to remove expired probe entry")
		}
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var meta ProbeMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		log.Debug().Err(err).Str("file", path).Msg("cache: failed to decode probe entry")
		return nil
	}

	return &meta
}

// SaveProbe stores probe metadata for url.
func (c *Cache) SaveProbe(url string, meta ProbeMetadata) error {
	dir := filepath.Join(c.baseDir, ProbeSubdir)
	if err := c.ensureDir(dir); err != nil {
		return fmt.Errorf("cache: create probe directory: %w", err)
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("cache: encode probe entry: %w", err)
	}

	path := c.probePath(url)
	tmp, err := os.CreateTemp(dir, ".probe-*.tmp")
	if err != nil {
		return fmt.Errorf("cache: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("cache: rename probe entry: %w", err)
	}
	tmpPath = ""
	return nil
}

// CleanExpired removes cache files older than the expiry duration.
func (c *Cache) CleanExpired() error {
	dir := filepath.Join(c.baseDir, ProbeSubdir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	now := time.Now()
	var removed, failed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Debug().Err(err).Str("file", entry.Name()).Msg("Failed to get file info")
			continue
		}

		if now.Sub(info.ModTime()) > c.expiry {
			filePath := filepath.Join(dir, entry.Name())
			if err := os.Remove(filePath); err != nil {
				log.Debug().Err(err).Str("file", filePath).Msg("Failed to remove expired cache file")
				failed++
			} else {
				removed++
			}
		}
	}

	if removed > 0 || failed > 0 {
		log.Debug().Int("removed", removed).Int("failed", failed).Msg("Cache cleanup completed")
	}

	return nil
}
