package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

var (
	errFetchTimeout = errors.New("image download timed out")
	errNotAnImage   = errors.New("response is not a decodable image")
)

// fetchTimeout bounds a single image download.
const fetchTimeout = 10 * time.Second

var fetchClient = &http.Client{Timeout: fetchTimeout}

// fetchImage downloads the image at url and verifies it decodes as one
// of the supported formats before returning its bytes.
func fetchImage(ctx context.Context, url string) ([]byte, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("unsupported URL scheme: %s", url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := fetchClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, errFetchTimeout
		}
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUploadSize+1))
	if err != nil {
		if isTimeout(err) {
			return nil, errFetchTimeout
		}
		return nil, fmt.Errorf("read image body: %w", err)
	}
	if len(data) > maxUploadSize {
		return nil, fmt.Errorf("image exceeds %d byte limit", maxUploadSize)
	}

	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, errNotAnImage
	}
	return data, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
