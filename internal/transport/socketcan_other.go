//go:build !linux

package transport

import "fmt"

// OpenSocketCAN is only available on Linux.
func OpenSocketCAN(ifname string) (Conn, error) {
	return nil, fmt.Errorf("%w: socketcan %q requires linux", ErrUnavailable, ifname)
}
