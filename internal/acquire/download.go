package acquire

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// HTTPDownloader fetches models with a plain GET. It does not resume partial
// downloads; a failed transfer leaves nothing at dst.
type HTTPDownloader struct {
	client *http.Client
}

// NewHTTPDownloader returns a downloader using client, or a default client
// whose deadlines come from the request context.
func NewHTTPDownloader(client *http.Client) *HTTPDownloader {
	if client == nil {
		tr := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		client = &http.Client{Transport: tr, Timeout: 0}
	}
	return &HTTPDownloader{client: client}
}

func (h *HTTPDownloader) Download(ctx context.Context, rawURL, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("download http error: %s: %s", resp.Status, string(b))
	}
	_, err = writeFileAtomic(ctx, dst, resp.Body)
	return err
}
