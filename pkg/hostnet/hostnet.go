// Copyright 2026 The Sockskel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

// Package hostnet implements skel.Stack by forwarding to the host's
// TCP/IP stack. Forwarding is deliberately thin: address and
// descriptor-set bytes that were copied across the trust boundary are
// handed to the kernel unmodified, and results come back verbatim.
package hostnet

import (
	"context"
	"encoding/binary"
	"net"

	"golang.org/x/sys/unix"

	"sockskel.dev/sockskel/pkg/skel"
)

// Stack forwards socket primitives to the host kernel.
type Stack struct{}

var _ skel.Stack = (*Stack)(nil)

// New returns a host-backed Stack.
func New() *Stack {
	return &Stack{}
}

// Socket implements skel.Stack.Socket.
func (*Stack) Socket(domain, typ, protocol int) (int, error) {
	return unix.Socket(domain, typ, protocol)
}

// Connect implements skel.Stack.Connect.
func (*Stack) Connect(fd int, addr []byte) error {
	return connectRaw(fd, addr)
}

// Bind implements skel.Stack.Bind.
func (*Stack) Bind(fd int, addr []byte) error {
	return bindRaw(fd, addr)
}

// Listen implements skel.Stack.Listen.
func (*Stack) Listen(fd, backlog int) error {
	return unix.Listen(fd, backlog)
}

// Close implements skel.Stack.Close.
func (*Stack) Close(fd int) error {
	return unix.Close(fd)
}

// Recv implements skel.Stack.Recv.
func (*Stack) Recv(fd int, b []byte, flags int) (int, error) {
	n, _, err := unix.Recvfrom(fd, b, flags)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Send implements skel.Stack.Send. The kernel's byte count is
// reported as-is; a partial send is the caller's to observe.
func (*Stack) Send(fd int, b []byte, flags int) (int, error) {
	n, err := unix.SendmsgN(fd, b, nil, nil, flags)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Read implements skel.Stack.Read.
func (*Stack) Read(fd int, b []byte) (int, error) {
	return unix.Read(fd, b)
}

// Write implements skel.Stack.Write.
func (*Stack) Write(fd int, b []byte) (int, error) {
	return unix.Write(fd, b)
}

// Select implements skel.Stack.Select. The descriptor sets are
// mutated in place, which is what the publish step copies back to the
// foreign caller.
func (*Stack) Select(nfds int, r, w, e, timeout []byte) (int, error) {
	le := binary.LittleEndian
	tv := unix.Timeval{
		Sec:  int64(le.Uint64(timeout[0:])),
		Usec: int64(le.Uint64(timeout[8:])),
	}
	return unix.Select(nfds, fdSetPtr(r), fdSetPtr(w), fdSetPtr(e), &tv)
}

// Hints block layout: flags, family, socktype, protocol words.
func parseHints(hints []byte) (family, socktype, protocol int) {
	le := binary.LittleEndian
	family = int(int32(le.Uint32(hints[4:])))
	socktype = int(int32(le.Uint32(hints[8:])))
	protocol = int(int32(le.Uint32(hints[12:])))
	return family, socktype, protocol
}

// GetAddrInfo implements skel.Stack.GetAddrInfo using the host
// resolver. Each resolved address becomes one fixed-size entry in
// out: family, socktype, protocol and address-length words followed
// by the raw sockaddr bytes.
func (*Stack) GetAddrInfo(node, service string, hints, out []byte) (int, error) {
	family, socktype, protocol := parseHints(hints)

	port := 0
	if service != "" {
		network := "tcp"
		if socktype == unix.SOCK_DGRAM {
			network = "udp"
		}
		p, err := net.DefaultResolver.LookupPort(context.Background(), network, service)
		if err != nil {
			return 0, unix.EINVAL
		}
		port = p
	}

	if node == "" {
		node = "localhost"
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(context.Background(), node)
	if err != nil {
		return 0, unix.ENOENT
	}

	max := len(out) / skel.AddrInfoEntryBytes
	n := 0
	for _, a := range addrs {
		if n >= max {
			break
		}
		ip4 := a.IP.To4()
		if family == unix.AF_INET && ip4 == nil {
			continue
		}
		if family == unix.AF_INET6 && ip4 != nil {
			continue
		}
		entry := out[n*skel.AddrInfoEntryBytes:]
		n++
		marshalEntry(entry, a.IP, port, socktype, protocol)
	}
	if n == 0 {
		return 0, unix.ENOENT
	}
	return n, nil
}

// marshalEntry writes one addrinfo result entry: header words, then
// a sockaddr_in or sockaddr_in6 in its native kernel layout.
func marshalEntry(entry []byte, ip net.IP, port, socktype, protocol int) {
	le := binary.LittleEndian
	addr := entry[16:]
	var family, addrLen int
	if ip4 := ip.To4(); ip4 != nil {
		family = unix.AF_INET
		addrLen = unix.SizeofSockaddrInet4
		le.PutUint16(addr[0:], unix.AF_INET)
		// sin_port is in network byte order.
		addr[2] = byte(port >> 8)
		addr[3] = byte(port)
		copy(addr[4:8], ip4)
	} else {
		family = unix.AF_INET6
		addrLen = unix.SizeofSockaddrInet6
		le.PutUint16(addr[0:], unix.AF_INET6)
		addr[2] = byte(port >> 8)
		addr[3] = byte(port)
		copy(addr[8:24], ip.To16())
	}
	le.PutUint32(entry[0:], uint32(family))
	le.PutUint32(entry[4:], uint32(socktype))
	le.PutUint32(entry[8:], uint32(protocol))
	le.PutUint32(entry[12:], uint32(addrLen))
}

// FreeAddrInfo implements skel.Stack.FreeAddrInfo. Result entries are
// marshaled by value, so there is nothing to release.
func (*Stack) FreeAddrInfo(entry []byte) error {
	return nil
}
