//go:build linux || darwin

package format

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// OpenMmap memory-maps path read-only and parses it as a symcache, giving
// Lookup and GetString zero-copy access to pages the kernel faults in on
// demand rather than a single eager os.ReadFile. The returned closer
// unmaps the file; callers must not use the Format after calling it.
// Strings already returned by GetString or Lookup are copies and stay
// valid.
func OpenMmap(path string) (*Format, func() error, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("stat %s: %w", path, err)
	}
	size := int(info.Size())
	if size == 0 {
		return nil, nil, &FormatError{Reason: ReasonTooSmall, Msg: fmt.Sprintf("%s is empty", path)}
	}

	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	f, err := Parse(data)
	if err != nil {
		_ = unix.Munmap(data)
		return nil, nil, err
	}

	closer := func() error { return unix.Munmap(data) }
	return f, closer, nil
}
