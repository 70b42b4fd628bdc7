package models

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DownloadFile streams url to destPath via a temp-file-then-rename, the
// way the teacher's models.DownloadFile does, reporting progress at most
// every 500ms.
func DownloadFile(ctx context.Context, url, destPath string, expectedSize int64, onProgress ProgressFunc) error {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("build request: %w", err)
	}

	client := &http.Client{Timeout: 0}
	resp, err := client.Do(req)
	if err != nil {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	totalSize := resp.ContentLength
	if totalSize <= 0 && expectedSize > 0 {
		totalSize = expectedSize
	}

	reader := &progressReader{reader: resp.Body, totalSize: totalSize, onProgress: onProgress}
	if _, err := io.Copy(out, reader); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write file: %w", err)
	}
	out.Close()

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

// progressReader wraps an io.Reader, reporting cumulative progress no more
// than twice a second.
type progressReader struct {
	reader     io.Reader
	totalSize  int64
	downloaded int64
	onProgress ProgressFunc
	lastReport time.Time
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.downloaded += int64(n)
		now := time.Now()
		if pr.onProgress != nil && pr.totalSize > 0 && (now.Sub(pr.lastReport) >= 500*time.Millisecond || err == io.EOF) {
			pr.lastReport = now
			pr.onProgress(float64(pr.downloaded) / float64(pr.totalSize) * 100)
		}
	}
	return n, err
}
