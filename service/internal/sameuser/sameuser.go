//go:build !linux

package sameuser

import "net"

// CanAccept always returns true: peer ownership is only checked on linux.
func CanAccept(listenAddr, localAddr, remoteAddr net.Addr) bool {
	return true
}
