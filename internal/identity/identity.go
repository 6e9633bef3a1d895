// Package identity reports how this controller host and build identify themselves.
package identity

import (
	"net"
	"os"
	"runtime/debug"
)

// Version is set at build time with -ldflags "-X .../identity.Version=...".
var Version = ""

// DefaultVersion is reported when neither ldflags nor build info carry a version.
const DefaultVersion = "devel"

// Info holds host identity information.
type Info struct {
	Hostname string `json:"hostname"`
	Host     string `json:"host"` // address advertised in stream URLs
	Version  string `json:"version"`
}

// Get collects the identity of the running controller.
func Get() Info {
	return Info{
		Hostname: GetHostname(),
		Host:     StreamHost(),
		Version:  GetVersion(),
	}
}

// GetHostname returns the system hostname.
func GetHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "tabyctl"
	}
	return h
}

// GetVersion returns the build version.
func GetVersion() string {
	if Version != "" {
		return Version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return DefaultVersion
}

// interfaceAddrs is a variable so tests can inject addresses.
var interfaceAddrs = net.InterfaceAddrs

// StreamHost returns the first non-loopback IPv4 address, or "localhost".
func StreamHost() string {
	addrs, err := interfaceAddrs()
	if err != nil {
		return "localhost"
	}
	return pickIPv4(addrs)
}

func pickIPv4(addrs []net.Addr) string {
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.IsLinkLocalUnicast() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "localhost"
}
