//go:build linux

// Package sameuser checks that a loopback peer belongs to the user running
// the debugged process.
package sameuser

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/go-delve/attach/pkg/logflags"
)

// for testing
var (
	uid      = os.Getuid()
	readFile = os.ReadFile
)

var errConnectionNotFound = errors.New("connection not found")

// ownerOf returns the uid owning the socket whose local and remote
// addresses, seen from the client side, are clientLocal and clientRemote.
func ownerOf(filename, clientLocal, clientRemote string) (int, error) {
	b, err := readFile(filename)
	if err != nil {
		return -1, err
	}
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		// Columns are padded (%4d, %5u): scan them instead of splitting.
		var (
			sl            int
			local, remote string
			state         int
			queue, timer  string
			retransmit    int
			owner         uint
		)
		// %d where the kernel uses %5u, %5d would truncate large uids.
		n, err := fmt.Sscanf(line, "%4d: %s %s %02X %s %s %08X %d",
			&sl, &local, &remote, &state, &queue, &timer, &retransmit, &owner)
		if n != 8 || err != nil {
			continue // header
		}
		if local == clientLocal && remote == clientRemote {
			return int(owner), nil
		}
	}
	return -1, fmt.Errorf("%w in %s", errConnectionNotFound, filename)
}

func hex4(addr *net.TCPAddr) string {
	b := addr.IP.To4()
	return fmt.Sprintf("%02X%02X%02X%02X:%04X", b[3], b[2], b[1], b[0], addr.Port)
}

func hex6(addr *net.TCPAddr) string {
	words := make([]uint32, 4)
	binary.Read(bytes.NewReader(addr.IP.To16()), binary.LittleEndian, words)
	return fmt.Sprintf("%08X%08X%08X%08X:%04X", words[0], words[1], words[2], words[3], addr.Port)
}

// peerUID returns the uid of the process owning the client end of the
// connection between server address local and client address remote.
func peerUID(local, remote *net.TCPAddr) (int, error) {
	if remote.IP.To4() == nil {
		return ownerOf("/proc/net/tcp6", hex6(remote), hex6(local))
	}
	owner, err := ownerOf("/proc/net/tcp", hex4(remote), hex4(local))
	if errors.Is(err, errConnectionNotFound) {
		// IPv4 connections on a dual stack socket are listed as mapped
		// addresses in tcp6.
		const mapped = "0000000000000000FFFF0000"
		if owner6, err6 := ownerOf("/proc/net/tcp6", mapped+hex4(remote), mapped+hex4(local)); err6 == nil {
			return owner6, nil
		}
	}
	return owner, err
}

// CanAccept returns false if the connection between localAddr and
// remoteAddr, accepted on a loopback listener, comes from another user.
// Connections on other listeners are always accepted.
func CanAccept(listenAddr, localAddr, remoteAddr net.Addr) bool {
	laddr, ok := listenAddr.(*net.TCPAddr)
	if !ok || !laddr.IP.IsLoopback() {
		return true
	}
	local, ok1 := localAddr.(*net.TCPAddr)
	remote, ok2 := remoteAddr.(*net.TCPAddr)
	if !ok1 || !ok2 {
		return true
	}
	log := logflags.ListenerLogger()
	owner, err := peerUID(local, remote)
	if err != nil {
		log.Errorf("cannot check remote address: %v", err)
		return false
	}
	if owner != uid {
		log.Errorf("closing connection from different user (%v, uid %d): connections to localhost are only accepted from the same UNIX user", remote, owner)
		return false
	}
	return true
}
