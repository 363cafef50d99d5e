package adc

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultIIODevice is the first IIO device on most boards.
const DefaultIIODevice = "/sys/bus/iio/devices/iio:device0"

// IIOReader reads single conversions from a Linux IIO voltage channel.
type IIOReader struct {
	path string
}

// OpenIIO binds to an IIO device directory and configures the channel.
// Binding fails with ErrNotBound if the device or channel is missing.
func OpenIIO(device string, channel int) (*IIOReader, error) {
	if _, err := os.Stat(device); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotBound, err)
	}
	path := filepath.Join(device, fmt.Sprintf("in_voltage%d_raw", channel))
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: channel %d: %v", ErrNotBound, channel, err)
	}
	return &IIOReader{path: path}, nil
}

// Read triggers one conversion and returns the raw code. Codes above the
// configured resolution are returned as is; range checking is the
// sampler's job.
func (r *IIOReader) Read() (uint16, error) {
	b, err := os.ReadFile(r.path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRead, err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: parse %q: %v", ErrRead, strings.TrimSpace(string(b)), err)
	}
	return uint16(v), nil
}

// Close is a no-op; sysfs attributes are opened per read.
func (r *IIOReader) Close() error { return nil }
