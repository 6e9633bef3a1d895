// Package ports maps instance ordinals to RTSP/HTTP port pairs.
package ports

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// MaxPort is the highest valid TCP port.
const MaxPort = 65535

// Base is the port layout fixed at startup.
type Base struct {
	RTSP      int
	HTTP      int
	Increment int
}

// Pair is the port pair held by one ordinal.
type Pair struct {
	RTSP int
	HTTP int
}

// For returns the port pair for ordinal n. It is pure and total.
func For(n int, b Base) Pair {
	return Pair{
		RTSP: b.RTSP + n*b.Increment,
		HTTP: b.HTTP + n*b.Increment,
	}
}

// Validate reports whether maxOrdinals slots fit below MaxPort and never overlap.
func (b Base) Validate(maxOrdinals int) error {
	if b.Increment <= 0 {
		return fmt.Errorf("port increment must be positive, got %d", b.Increment)
	}
	if b.RTSP <= 0 || b.HTTP <= 0 {
		return fmt.Errorf("base ports must be positive (rtsp=%d http=%d)", b.RTSP, b.HTTP)
	}
	if maxOrdinals < 1 {
		return nil
	}
	last := For(maxOrdinals-1, b)
	if last.RTSP > MaxPort || last.HTTP > MaxPort {
		return fmt.Errorf("slot %d needs ports %d/%d, above %d", maxOrdinals-1, last.RTSP, last.HTTP, MaxPort)
	}
	// RTSP and HTTP ranges must not cross each other.
	lo, hi := b.RTSP, b.HTTP
	if lo > hi {
		lo, hi = hi, lo
	}
	if (hi-lo)%b.Increment == 0 && (hi-lo)/b.Increment < maxOrdinals {
		return fmt.Errorf("rtsp base %d and http base %d collide within %d slots", b.RTSP, b.HTTP, maxOrdinals)
	}
	return nil
}

// NextOrdinal returns the smallest non-negative integer not present in held.
func NextOrdinal(held []int) int {
	used := make(map[int]bool, len(held))
	for _, n := range held {
		used[n] = true
	}
	for n := 0; ; n++ {
		if !used[n] {
			return n
		}
	}
}

// dialFunc is a variable so tests can inject a mock dialer.
var dialFunc = func(network, address string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout(network, address, timeout)
}

// InUse reports whether something already accepts connections on localhost:port.
func InUse(port int) bool {
	conn, err := dialFunc("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 300*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
