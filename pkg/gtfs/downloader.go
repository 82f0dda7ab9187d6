package gtfs

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

type Downloader struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewDownloader(url string, logger *slog.Logger) *Downloader {
	return &Downloader{
		url: url,
		client: &http.Client{
			Timeout: 2 * time.Minute,
		},
		logger: logger.With("component", "gtfs_downloader"),
	}
}

// Download fetches the feed archive. A source without an http(s) scheme is
// read from the local filesystem instead.
func (d *Downloader) Download(ctx context.Context) (*zip.Reader, []byte, error) {
	start := time.Now()
	d.logger.Info("starting GTFS download", "source", d.url)

	var data []byte
	var err error
	if strings.HasPrefix(d.url, "http://") || strings.HasPrefix(d.url, "https://") {
		data, err = d.fetch(ctx)
	} else {
		data, err = os.ReadFile(d.url)
		err = errors.Wrap(err, "read gtfs archive")
	}
	if err != nil {
		d.logger.Error("failed to load GTFS",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, nil, err
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		d.logger.Error("failed to open ZIP archive", "error", err)
		return nil, nil, errors.Wrap(err, "open zip")
	}

	d.logger.Info("GTFS download completed",
		"size_mb", fmt.Sprintf("%.2f", float64(len(data))/(1024*1024)),
		"files_in_archive", len(reader.File),
		"total_duration_ms", time.Since(start).Milliseconds(),
	)

	return reader, data, nil
}

func (d *Downloader) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", "tripgen/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "download gtfs")
	}
	defer resp.Body.Close()

	d.logger.Debug("received HTTP response",
		"status_code", resp.StatusCode,
		"content_length", resp.ContentLength,
		"content_type", resp.Header.Get("Content-Type"),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("unexpected status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return data, nil
}
