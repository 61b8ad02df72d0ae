// Package zeroconf advertises the diagnostic API as an mDNS/DNS-SD service.
package zeroconf

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/grandcat/zeroconf"

	"github.com/greenloop/hydroctl/internal/models"
)

// ServiceType is the DNS-SD service type of the diagnostic API.
const ServiceType = "_hydroctl._tcp"

// Service manages mDNS service registration.
type Service struct {
	name string // instance name, normally the hostname
	port int
	txt  []string
}

// New creates a Service advertising info on port.
func New(info models.Info, port int) *Service {
	return &Service{
		name: info.Hostname,
		port: port,
		txt:  TXT(info),
	}
}

// TXT builds the TXT records for info.
func TXT(info models.Info) []string {
	return []string{
		"firmware=" + info.Firmware,
		fmt.Sprintf("chip_id=0x%02x", info.ChipID),
		fmt.Sprintf("mock=%t", info.Mock),
		"path=/api",
	}
}

// Start registers the mDNS service and blocks until ctx is cancelled, at which
// point it shuts down the server cleanly.
func (s *Service) Start(ctx context.Context) error {
	server, err := zeroconf.Register(
		s.name,
		ServiceType,
		"local.",
		s.port,
		s.txt,
		nil, // all interfaces
	)
	if err != nil {
		return fmt.Errorf("zeroconf: register: %w", err)
	}
	slog.Info("zeroconf: registered mDNS service", "name", s.name, "type", ServiceType, "port", s.port)

	<-ctx.Done()

	server.Shutdown()
	slog.Info("zeroconf: mDNS service unregistered")
	return nil
}
