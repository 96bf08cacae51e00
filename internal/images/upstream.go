package images

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hatchery-sh/hatchery/internal/config"
)

// Build is one published upstream image build.
type Build struct {
	Version     string    `json:"version"`
	Kernel      string    `json:"kernel"`
	Initrd      string    `json:"initrd"`
	RootFS      string    `json:"rootfs"`
	SizeBytes   int64     `json:"size_bytes"`
	Checksum    string    `json:"checksum"`
	ReleaseDate time.Time `json:"release_date"`
}

// UpstreamSource reports the latest published build of a tracked release.
type UpstreamSource interface {
	Latest(ctx context.Context, track config.TrackConfig) (*Build, error)
}

// HTTPSource reads a JSON build index from each track's upstream URL.
type HTTPSource struct {
	client *http.Client
}

// NewHTTPSource builds a source with the given per-request timeout.
func NewHTTPSource(timeout time.Duration) *HTTPSource {
	return &HTTPSource{client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSource) Latest(ctx context.Context, track config.TrackConfig) (*Build, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, track.UpstreamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building index request for %s: %w", track.Name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching index for %s: %w", track.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching index for %s: HTTP %d", track.Name, resp.StatusCode)
	}

	var build Build
	if err := json.NewDecoder(resp.Body).Decode(&build); err != nil {
		return nil, fmt.Errorf("decoding index for %s: %w", track.Name, err)
	}
	if build.Version == "" {
		return nil, fmt.Errorf("index for %s carries no version", track.Name)
	}
	return &build, nil
}
