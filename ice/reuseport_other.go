//go:build !linux && !darwin

package ice

import "syscall"

// udpListenConfig is a no-op on platforms without SO_REUSEPORT.
var udpListenConfig = listenConfigWithControl(func(network, address string, c syscall.RawConn) error {
	return nil
})
