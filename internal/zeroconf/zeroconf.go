// Package zeroconf advertises the controller's HTTP API over mDNS/DNS-SD.
package zeroconf

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD type the API is advertised under.
const ServiceType = "_http._tcp"

// Service manages one mDNS registration.
type Service struct {
	name string
	port int
	txt  []string
}

// New creates a Service advertising instance name on port with TXT records txt.
func New(name string, port int, txt ...string) *Service {
	return &Service{name: name, port: port, txt: txt}
}

// TXT builds the TXT records describing this controller.
func TXT(version string, maxConcurrent int) []string {
	return []string{
		"version=" + version,
		"path=/api",
		"max_concurrent=" + strconv.Itoa(maxConcurrent),
	}
}

// PortFromAddr extracts the TCP port from a listen address such as ":8000".
func PortFromAddr(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("zeroconf: listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("zeroconf: listen address %q has no usable port", addr)
	}
	return port, nil
}

// Start registers the service and blocks until ctx is cancelled, then
// unregisters it.
func (s *Service) Start(ctx context.Context) error {
	server, err := zeroconf.Register(s.name, ServiceType, "local.", s.port, s.txt, nil)
	if err != nil {
		return fmt.Errorf("zeroconf register: %w", err)
	}
	slog.Info("zeroconf: registered mDNS service", "name", s.name, "port", s.port, "txt", s.txt)

	<-ctx.Done()

	server.Shutdown()
	slog.Info("zeroconf: mDNS service unregistered")
	return nil
}
