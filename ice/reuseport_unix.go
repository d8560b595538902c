//go:build linux || darwin

package ice

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// udpListenConfig sets SO_REUSEPORT on every harvester socket, so a restart
// (or a second agent in the same process, during tests) can rebind a port
// still draining from a prior allocation instead of racing bindUDP's retry
// loop.
var udpListenConfig = listenConfigWithControl(func(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
})
