package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/paulmach/orb/geojson"
)

// maxBody caps downloaded datasets.
const maxBody = 64 << 20

// HTTP downloads GeoJSON from a URL template, e.g.
// "https://example.org/static/{key}.geojson".
type HTTP struct {
	Template string
	Client   *http.Client
}

// Fetch implements Fetcher. 404 maps to ErrNotFound.
func (h *HTTP) Fetch(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	u := strings.ReplaceAll(h.Template, "{key}", url.PathEscape(key))
	u = strings.ReplaceAll(u, "%2F", "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", key, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", key, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetching %s: unexpected status %s", key, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", key, err)
	}
	return fc, nil
}
