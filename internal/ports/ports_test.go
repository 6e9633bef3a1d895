package ports

import (
	"errors"
	"net"
	"testing"
	"time"
)

func TestFor(t *testing.T) {
	b := Base{RTSP: 8554, HTTP: 8080, Increment: 10}
	tests := []struct {
		n    int
		want Pair
	}{
		{0, Pair{8554, 8080}},
		{1, Pair{8564, 8090}},
		{4, Pair{8594, 8120}},
	}
	for _, tt := range tests {
		if got := For(tt.n, b); got != tt.want {
			t.Errorf("For(%d) = %+v, want %+v", tt.n, got, tt.want)
		}
	}
}

func TestNextOrdinal(t *testing.T) {
	tests := []struct {
		name string
		held []int
		want int
	}{
		{"empty", nil, 0},
		{"compact", []int{0, 1, 2}, 3},
		{"hole", []int{0, 2}, 1},
		{"hole at zero", []int{1, 2}, 0},
		{"unsorted", []int{3, 0, 1}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextOrdinal(tt.held); got != tt.want {
				t.Errorf("NextOrdinal(%v) = %d, want %d", tt.held, got, tt.want)
			}
		})
	}
}

func TestBaseValidate(t *testing.T) {
	tests := []struct {
		name    string
		base    Base
		slots   int
		wantErr bool
	}{
		{"defaults", Base{8554, 8080, 10}, 5, false},
		{"zero increment", Base{8554, 8080, 0}, 5, true},
		{"overflow", Base{65530, 8080, 10}, 2, true},
		{"collide", Base{8000, 8010, 10}, 3, true},
		{"same base", Base{8000, 8000, 10}, 1, true},
		{"interleaved", Base{8000, 8005, 10}, 50, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.base.Validate(tt.slots)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port
	if !InUse(port) {
		t.Errorf("InUse(%d) = false for a listening port", port)
	}
}

func TestInUse_DialFailure(t *testing.T) {
	orig := dialFunc
	defer func() { dialFunc = orig }()
	dialFunc = func(network, address string, timeout time.Duration) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	if InUse(8554) {
		t.Error("InUse should be false when dial fails")
	}
}
