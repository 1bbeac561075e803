package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/waterline-io/waterline-core/internal/wire"
)

// cacheFilePermissions is the permission mode for the threshold cache file.
const cacheFilePermissions = 0600

// ThresholdCache persists the agent's cached threshold set across restarts,
// so the control loop resumes with its last-known thresholds without
// waiting for the backend to republish.
//
// An empty path disables persistence; Load then reports unprovisioned and
// Store is a no-op.
type ThresholdCache struct {
	path string
}

// NewThresholdCache creates a cache backed by the given file path.
func NewThresholdCache(path string) *ThresholdCache {
	return &ThresholdCache{path: path}
}

// Load reads the cached threshold set.
//
// Returns:
//   - *wire.ThresholdSet: The cached set, or nil if none exists yet
//   - error: If the file exists but cannot be read or parsed
func (c *ThresholdCache) Load() (*wire.ThresholdSet, error) {
	if c.path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading threshold cache: %w", err)
	}

	var ts wire.ThresholdSet
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("parsing threshold cache: %w", err)
	}
	if err := ts.Validate(); err != nil {
		return nil, fmt.Errorf("threshold cache: %w", err)
	}

	return &ts, nil
}

// Store writes the threshold set atomically (temp file plus rename), so a
// power cut mid-write never leaves a truncated cache behind.
func (c *ThresholdCache) Store(ts *wire.ThresholdSet) error {
	if c.path == "" {
		return nil
	}

	data, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("encoding threshold cache: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(c.path), 0750); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, cacheFilePermissions); err != nil {
		return fmt.Errorf("writing threshold cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("committing threshold cache: %w", err)
	}

	return nil
}
