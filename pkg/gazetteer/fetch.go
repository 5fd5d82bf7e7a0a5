package gazetteer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// DumpBaseURL is where GeoNames publishes daily dumps.
const DumpBaseURL = "https://download.geonames.org/export/dump/"

// ExtractURL returns the dump URL for a country code, or the world dump when
// country is empty.
func ExtractURL(country string) string {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		return DumpBaseURL + "allCountries.zip"
	}
	return DumpBaseURL + country + ".zip"
}

// Fetcher downloads gazetteer dumps.
type Fetcher struct {
	Client   *http.Client
	Attempts int
	// Backoff returns the wait before the given retry (1-based).
	Backoff func(attempt int) time.Duration
}

// NewFetcher returns a Fetcher with three attempts and exponential backoff.
func NewFetcher() *Fetcher {
	return &Fetcher{
		Client:   &http.Client{Timeout: 30 * time.Minute},
		Attempts: 3,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt)) * time.Second
		},
	}
}

// Fetch downloads url to dest. The body is written to dest+".part" and
// renamed once complete, so dest is never left truncated.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string) error {
	attempts := f.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && f.Backoff != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.Backoff(attempt)):
			}
		}

		err := f.fetchOnce(ctx, url, dest)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
	}
	return fmt.Errorf("download %s failed after %d attempts: %w", url, attempts, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
	}

	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	_, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		os.Remove(tmp)
		return copyErr
	}
	if closeErr != nil {
		os.Remove(tmp)
		return closeErr
	}
	return os.Rename(tmp, dest)
}
