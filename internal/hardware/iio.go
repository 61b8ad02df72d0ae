package hardware

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// iioChannel reads raw samples from a Linux IIO ADC channel.
type iioChannel struct {
	path string
}

func newIIOChannel(device string, channel int) iioChannel {
	return iioChannel{path: filepath.Join(device, fmt.Sprintf("in_voltage%d_raw", channel))}
}

// Read returns the raw ADC count.
func (c iioChannel) Read() (int, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return 0, fmt.Errorf("iio: read %s: %w", c.path, err)
	}
	raw, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("iio: parse %s: %w", c.path, err)
	}
	return raw, nil
}
