//go:build unix

package ksocket

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenConfigFor returns a net.ListenConfig whose Control callback sets
// SO_REUSEADDR and, for an IPv6-only listener, IPV6_V6ONLY — the same
// socket-option layer the original's dual_stack flag ultimately configures
// via Python's socket.setsockopt. Restarting ksocket-echo against a socket
// still draining TIME_WAIT from a prior run is the concrete case this
// avoids failing on.
func listenConfigFor(ds DualStack) net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if sockErr != nil {
					return
				}
				if ds == DualStackIPv6Only {
					sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}

func listenWithConfig(network, addr string, ds DualStack) (net.Listener, error) {
	return listenConfigFor(ds).Listen(context.Background(), network, addr)
}
