//go:build !(linux || darwin)

package format

import (
	"fmt"
	"os"
)

// OpenMmap reads path fully into memory and parses it as a symcache. This
// build has no unix.Mmap to call, so it loses the mmap-friendly, fault-in-
// on-demand property of the linux/darwin implementation but exposes the
// same signature so callers do not need a build tag of their own.
func OpenMmap(path string) (*Format, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}

	return f, func() error { return nil }, nil
}
