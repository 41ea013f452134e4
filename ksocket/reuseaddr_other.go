//go:build !unix

package ksocket

import "net"

// listenWithConfig falls back to a plain net.Listen on platforms where the
// unix socket-option layer doesn't apply (e.g. Windows, where the original
// project's IPC transport took a whole separate file too — see
// rpc/ipc_windows.go in the teacher pack).
func listenWithConfig(network, addr string, _ DualStack) (net.Listener, error) {
	return net.Listen(network, addr)
}
