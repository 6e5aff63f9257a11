// Package update checks a release manifest for a newer build of the service.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// ///////////////////////////////////////////////
// Checker
// ///////////////////////////////////////////////

// Checker fetches a JSON release manifest of the form {"latest": "1.2.3"}.
type Checker struct {
	// URL of the manifest. Empty disables the check.
	URL string
	// Client performs the request. Retries are the client's concern.
	Client *http.Client
}

// Check logs at INFO when the manifest names a version newer than current.
// Failures are logged at DEBUG and otherwise ignored.
func (c *Checker) Check(ctx context.Context, current string) {
	if c.URL == "" {
		slog.Debug("skipping version check: no manifest url configured")
		return
	}
	latest, err := c.Latest(ctx)
	if err != nil {
		slog.Debug("version check failed", "error", err)
		return
	}
	if semverLess(current, latest) {
		slog.Info("new version available", "current", current, "latest", latest)
	}
}

// Latest returns the version named by the manifest.
func (c *Checker) Latest(ctx context.Context) (string, error) {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("GET %s: %w", c.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: status %d", c.URL, resp.StatusCode)
	}

	var manifest struct {
		Latest string `json:"latest"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&manifest); err != nil {
		return "", fmt.Errorf("parsing manifest: %w", err)
	}
	if manifest.Latest == "" {
		return "", fmt.Errorf("manifest at %s has no latest version", c.URL)
	}
	return manifest.Latest, nil
}

// ///////////////////////////////////////////////
// Version Comparison
// ///////////////////////////////////////////////

// semverLess reports whether a < b. Unparsable versions never compare less.
// A pre-release sorts before the release with the same numbers.
func semverLess(a, b string) bool {
	pa, aPre, okA := parseSemver(a)
	pb, bPre, okB := parseSemver(b)
	if !okA || !okB {
		return false
	}
	for i := range pa {
		if pa[i] != pb[i] {
			return pa[i] < pb[i]
		}
	}
	return aPre && !bPre
}

// parseSemver splits "v1.2.3-rc.1+meta" into its numeric triple and whether a
// pre-release or build suffix was present.
func parseSemver(s string) (nums [3]int, pre bool, ok bool) {
	s = strings.TrimPrefix(s, "v")
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		s, pre = s[:i], true
	}
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return nums, false, false
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nums, false, false
		}
		nums[i] = n
	}
	return nums, pre, true
}
