package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/lucli-dev/lucli/internal/atomicfile"
)

// versionsURL lists published engine versions.
const versionsURL = "https://update.lucee.org/rest/update/provider/list"

// VersionsCacheFile is the on-disk cache under the LuCLI home, refreshed
// when older than VersionsCacheTTL. Shell completion reads this path
// directly, so it stays stable.
const VersionsCacheFile = "engine-versions.json"

// VersionsCacheTTL bounds how stale the cached version list may be.
const VersionsCacheTTL = 24 * time.Hour

type versionsCache struct {
	FetchedAt time.Time `json:"fetchedAt"`
	Versions  []string  `json:"versions"`
}

// ListEngineVersions returns the available engine versions, from the cache
// when fresh, otherwise fetched and re-cached. A fetch failure with a stale
// cache present falls back to the stale list rather than failing the
// command.
func ListEngineVersions(ctx context.Context, lucliHome string) ([]string, error) {
	cachePath := filepath.Join(lucliHome, VersionsCacheFile)

	cached, cacheErr := readVersionsCache(cachePath)
	if cacheErr == nil && time.Since(cached.FetchedAt) < VersionsCacheTTL {
		return cached.Versions, nil
	}

	versions, err := fetchEngineVersions(ctx)
	if err != nil {
		if cacheErr == nil {
			return cached.Versions, nil
		}
		return nil, err
	}

	raw, err := json.MarshalIndent(versionsCache{FetchedAt: time.Now().UTC(), Versions: versions}, "", "  ")
	if err == nil {
		_ = atomicfile.Write(cachePath, raw, 0o644)
	}
	return versions, nil
}

func readVersionsCache(path string) (*versionsCache, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c versionsCache
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func fetchEngineVersions(ctx context.Context) ([]string, error) {
	client := &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: 10 * time.Second,
			IdleConnTimeout:       60 * time.Second,
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("runtime: fetch versions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("runtime: fetch versions: %s", resp.Status)
	}

	var versions []string
	if err := json.NewDecoder(resp.Body).Decode(&versions); err != nil {
		return nil, fmt.Errorf("runtime: decode versions: %w", err)
	}
	return versions, nil
}
