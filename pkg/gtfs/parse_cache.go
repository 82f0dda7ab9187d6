package gtfs

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
)

// DefaultCacheDir is used when no cache directory is configured.
func DefaultCacheDir() string {
	return filepath.Join(os.TempDir(), "tripgen-gtfs-cache")
}

func DataFingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func parsedCachePath(cacheDir, fingerprint string) string {
	return filepath.Join(cacheDir, fmt.Sprintf("gtfs_feed_%s.gob.gz", fingerprint))
}

func LoadParsedFeed(cacheDir, fingerprint string) (*Feed, string, error) {
	path := parsedCachePath(cacheDir, fingerprint)
	f, err := os.Open(path)
	if err != nil {
		return nil, path, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, path, errors.Wrap(err, "open cache")
	}
	defer zr.Close()

	var feed Feed
	if err := gob.NewDecoder(zr).Decode(&feed); err != nil {
		return nil, path, errors.Wrap(err, "decode cache")
	}

	if feed.Stops == nil {
		return nil, path, errors.New("parsed cache is incomplete")
	}

	return &feed, path, nil
}

func SaveParsedFeed(cacheDir, fingerprint string, feed *Feed) (string, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", err
	}

	path := parsedCachePath(cacheDir, fingerprint)
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", err
	}

	zw, err := gzip.NewWriterLevel(f, gzip.BestSpeed)
	if err != nil {
		f.Close()
		return "", err
	}

	encErr := gob.NewEncoder(zw).Encode(feed)
	closeErr := zw.Close()
	fileCloseErr := f.Close()
	for _, err := range []error{encErr, closeErr, fileCloseErr} {
		if err != nil {
			_ = os.Remove(tmpPath)
			return "", errors.Wrap(err, "write cache")
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}

	return path, nil
}

// Load downloads (or reads) a feed and parses it, reusing a parsed copy
// under cacheDir when the archive bytes are unchanged.
func Load(ctx context.Context, source, cacheDir string, logger *slog.Logger) (*Feed, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cacheDir == "" {
		cacheDir = DefaultCacheDir()
	}
	start := time.Now()

	reader, data, err := NewDownloader(source, logger).Download(ctx)
	if err != nil {
		return nil, err
	}

	fingerprint := DataFingerprint(data)
	feed, cachePath, cacheErr := LoadParsedFeed(cacheDir, fingerprint)
	if cacheErr == nil {
		logger.Info("loaded parsed GTFS cache", "path", cachePath)
		return feed, nil
	}

	logger.Info("parsed GTFS cache miss, parsing ZIP", "path", cachePath, "error", cacheErr)
	feed, err = NewParser(logger).Parse(reader)
	if err != nil {
		return nil, err
	}
	if savedPath, saveErr := SaveParsedFeed(cacheDir, fingerprint, feed); saveErr != nil {
		logger.Warn("failed to persist parsed GTFS cache", "error", saveErr)
	} else {
		logger.Info("persisted parsed GTFS cache", "path", savedPath)
	}

	logger.Info("GTFS feed ready",
		"stops", len(feed.Stops),
		"shapes", len(feed.Shapes),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return feed, nil
}
