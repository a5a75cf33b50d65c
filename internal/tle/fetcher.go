package tle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultSourceURL = "https://celestrak.org/NORAD/elements/gp.php?GROUP=active&FORMAT=tle"

// The full active-satellite group is ~2 MB of text; anything past this is a
// misbehaving source, not a catalog.
const maxCatalogBytes = 16 << 20

// Fetcher downloads raw catalog text from an HTTP TLE source. It returns
// bytes only; parsing and validation happen downstream, so a bad download
// never displaces the catalog already in service.
type Fetcher struct {
	sourceURL  string
	httpClient *http.Client
}

// NewFetcher builds a Fetcher for sourceURL, falling back to the CelesTrak
// active group when the URL is empty.
func NewFetcher(sourceURL string) *Fetcher {
	if sourceURL == "" {
		sourceURL = defaultSourceURL
	}
	return &Fetcher{
		sourceURL: sourceURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SourceURL reports which source this Fetcher downloads from.
func (f *Fetcher) SourceURL() string {
	return f.sourceURL
}

// Fetch downloads the catalog body. Any non-200 status is an error.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "orbview/1.0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching TLE data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, f.sourceURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return body, nil
}
