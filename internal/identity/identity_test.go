package identity_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/greenloop/hydroctl/internal/identity"
)

func TestFirmware(t *testing.T) {
	tests := []struct {
		name string
		file string // empty means no metadata.json
		want string
	}{
		{"missing", "", identity.DefaultFirmware},
		{"from file", `{"version": "1.4.2"}`, "1.4.2"},
		{"invalid json", "not json", identity.DefaultFirmware},
		{"empty version", `{"version": ""}`, identity.DefaultFirmware},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.file != "" {
				if err := os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(tt.file), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			if got := identity.Firmware(dir); got != tt.want {
				t.Errorf("Firmware() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestHostname_NotEmpty(t *testing.T) {
	if identity.Hostname() == "" {
		t.Error("Hostname() returned empty string")
	}
}

func TestLoad(t *testing.T) {
	info := identity.Load(t.TempDir())
	if info.Hostname == "" {
		t.Error("Load().Hostname is empty")
	}
	if info.Firmware != identity.DefaultFirmware {
		t.Errorf("Load().Firmware = %q; want %q", info.Firmware, identity.DefaultFirmware)
	}
}
