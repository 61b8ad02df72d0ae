// Package identity reports who this controller is: hostname and firmware
// version.
package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/greenloop/hydroctl/internal/models"
)

// DefaultFirmware is reported when metadata.json is missing or unreadable.
const DefaultFirmware = "0.1.0"

const fallbackHostname = "hydroctl"

// Hostname returns the system hostname.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil || strings.TrimSpace(h) == "" {
		return fallbackHostname
	}
	return h
}

// Firmware reads the version field of metadata.json in dir. Falls back to
// DefaultFirmware.
func Firmware(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return DefaultFirmware
	}

	var meta struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &meta); err != nil || meta.Version == "" {
		return DefaultFirmware
	}
	return meta.Version
}

// Load returns the identity part of the status, reading metadata from dir.
func Load(dir string) models.Info {
	return models.Info{
		Hostname: Hostname(),
		Firmware: Firmware(dir),
	}
}
