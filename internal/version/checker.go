// Package version reports the build version and checks the release feed
// for a newer one.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/studiowebux/asynchttp/internal/client"
	"github.com/studiowebux/asynchttp/internal/types"
)

// Current is the version of this build
const Current = "0.1.0"

const (
	// ReleaseURL is the latest-release endpoint of the GitHub API
	ReleaseURL   = "https://api.github.com/repos/studiowebux/asynchttp/releases/latest"
	checkTimeout = 5 * time.Second
)

// Release is the subset of a GitHub release we read
type Release struct {
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
	HTMLURL string `json:"html_url"`
}

// Update is the outcome of a release check
type Update struct {
	Available bool
	Latest    string
	URL       string
}

// CheckForUpdate fetches releaseURL through c and compares its tag with current
func CheckForUpdate(ctx context.Context, c *client.Client, releaseURL, current string) (Update, error) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	req, err := types.NewRequest(types.MethodGet, releaseURL, nil)
	if err != nil {
		return Update{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Headers.Add("Accept", "application/vnd.github+json")

	resp, err := c.Execute(req, types.RequestOptions{}).Wait(ctx)
	if err != nil {
		return Update{}, fmt.Errorf("failed to fetch latest release: %w", err)
	}
	if resp.StatusCode != 200 {
		return Update{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var release Release
	if err := json.Unmarshal(resp.Body, &release); err != nil {
		return Update{}, fmt.Errorf("failed to decode response: %w", err)
	}

	latest := strings.TrimPrefix(release.TagName, "v")
	current = strings.TrimPrefix(current, "v")
	return Update{
		Available: latest != "" && isNewerVersion(latest, current),
		Latest:    latest,
		URL:       release.HTMLURL,
	}, nil
}

// isNewerVersion reports whether latest > current. Pre-release and build
// suffixes are ignored.
func isNewerVersion(latest, current string) bool {
	latestParts := parseVersion(latest)
	currentParts := parseVersion(current)

	n := max(len(latestParts), len(currentParts))
	for len(latestParts) < n {
		latestParts = append(latestParts, 0)
	}
	for len(currentParts) < n {
		currentParts = append(currentParts, 0)
	}

	for i := 0; i < n; i++ {
		if latestParts[i] != currentParts[i] {
			return latestParts[i] > currentParts[i]
		}
	}
	return false
}

func parseVersion(version string) []int {
	if idx := strings.IndexAny(version, "-+"); idx != -1 {
		version = version[:idx]
	}
	parts := strings.Split(version, ".")
	result := make([]int, 0, len(parts))
	for _, part := range parts {
		if num, err := strconv.Atoi(part); err == nil {
			result = append(result, num)
		}
	}
	return result
}
