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

package skel

import (
	"golang.org/x/sys/unix"
)

// opHandler executes one foreign call: it decodes the slot's parameter
// words, copies "in" buffers from the non-secure side, invokes the
// stack primitive, and publishes the result (which also copies any
// "out" buffers and recycles the slot). On return the handler no
// longer owns the slot.
type opHandler func(d *Daemon, s *Slot)

// opHandlers maps operation codes to handlers. Adding an operation is
// a table entry; unsupported codes fall through to the nil check in
// the worker loop.
var opHandlers = [numOps]opHandler{
	OpSocket:       socketHandler,
	OpConnect:      connectHandler,
	OpClose:        closeHandler,
	OpRecv:         recvHandler,
	OpSend:         sendHandler,
	OpSelect:       selectHandler,
	OpBind:         bindHandler,
	OpListen:       listenHandler,
	OpWrite:        writeHandler,
	OpRead:         readHandler,
	OpGetAddrInfo:  getAddrInfoHandler,
	OpFreeAddrInfo: freeAddrInfoHandler,
}

// socketHandler: int socket(int domain, int type, int protocol).
// Scalar-only, no marshaling.
func socketHandler(d *Daemon, s *Slot) {
	domain := int(int32(s.Params[0]))
	typ := int(int32(s.Params[1]))
	protocol := int(int32(s.Params[2]))

	fd, err := d.stack.Socket(domain, typ, protocol)
	d.publish(s, resultOf(fd, err))
}

// connectHandler: int connect(int s, const struct sockaddr *name,
// socklen_t namelen). Single fixed-size "in" buffer.
func connectHandler(d *Daemon, s *Slot) {
	fd := int(int32(s.Params[0]))
	addrLen := int(s.Params[2])

	var addr [SockaddrBytes]byte
	if addrLen > len(addr) {
		d.publish(s, -int32(unix.EINVAL))
		return
	}
	s.attachBuf(1, addr[:addrLen])
	d.copyParamsIn(s)

	err := d.stack.Connect(fd, addr[:addrLen])

	s.detachBuf(1)
	d.publish(s, resultOf(0, err))
}

// bindHandler: int bind(int s, const struct sockaddr *name,
// socklen_t namelen). Same shape as connect.
func bindHandler(d *Daemon, s *Slot) {
	fd := int(int32(s.Params[0]))
	addrLen := int(s.Params[2])

	var addr [SockaddrBytes]byte
	if addrLen > len(addr) {
		d.publish(s, -int32(unix.EINVAL))
		return
	}
	s.attachBuf(1, addr[:addrLen])
	d.copyParamsIn(s)

	err := d.stack.Bind(fd, addr[:addrLen])

	s.detachBuf(1)
	d.publish(s, resultOf(0, err))
}

// closeHandler: int close(int s). Scalar-only.
func closeHandler(d *Daemon, s *Slot) {
	err := d.stack.Close(int(int32(s.Params[0])))
	d.publish(s, resultOf(0, err))
}

// listenHandler: int listen(int s, int backlog). Scalar-only.
func listenHandler(d *Daemon, s *Slot) {
	fd := int(int32(s.Params[0]))
	backlog := int(int32(s.Params[1]))

	err := d.stack.Listen(fd, backlog)
	d.publish(s, resultOf(0, err))
}

// recvHandler: int recv(int s, void *mem, size_t len, int flags).
// Single dynamic "out" buffer sized by the declared length.
func recvHandler(d *Daemon, s *Slot) {
	fd := int(int32(s.Params[0]))
	length := int(s.Params[2])
	flags := int(int32(s.Params[3]))

	mem := d.alloc.Alloc(length)
	if mem == nil {
		d.publish(s, -int32(unix.ENOMEM))
		return
	}

	n, err := d.stack.Recv(fd, mem, flags)
	res := resultOf(n, err)
	if res >= 0 {
		// Publish only the bytes actually received.
		s.attachBuf(1, mem[:res])
	}
	d.publish(s, res)
	d.alloc.Free(mem)
}

// readHandler: int read(int s, void *mem, size_t len). Same shape as
// recv without flags.
func readHandler(d *Daemon, s *Slot) {
	fd := int(int32(s.Params[0]))
	length := int(s.Params[2])

	mem := d.alloc.Alloc(length)
	if mem == nil {
		d.publish(s, -int32(unix.ENOMEM))
		return
	}

	n, err := d.stack.Read(fd, mem)
	res := resultOf(n, err)
	if res >= 0 {
		s.attachBuf(1, mem[:res])
	}
	d.publish(s, res)
	d.alloc.Free(mem)
}

// sendHandler: int send(int s, const void *dataptr, size_t size,
// int flags). Single dynamic "in" buffer.
func sendHandler(d *Daemon, s *Slot) {
	fd := int(int32(s.Params[0]))
	size := int(s.Params[2])
	flags := int(int32(s.Params[3]))

	data := d.alloc.Alloc(size)
	if data == nil {
		// The foreign data is never copied in.
		d.publish(s, -int32(unix.ENOMEM))
		return
	}
	s.attachBuf(1, data)
	d.copyParamsIn(s)

	n, err := d.stack.Send(fd, data, flags)

	s.detachBuf(1)
	d.alloc.Free(data)
	d.publish(s, resultOf(n, err))
}

// writeHandler: int write(int s, const void *dataptr, size_t size).
// Same shape as send without flags.
func writeHandler(d *Daemon, s *Slot) {
	fd := int(int32(s.Params[0]))
	size := int(s.Params[2])

	data := d.alloc.Alloc(size)
	if data == nil {
		d.publish(s, -int32(unix.ENOMEM))
		return
	}
	s.attachBuf(1, data)
	d.copyParamsIn(s)

	n, err := d.stack.Write(fd, data)

	s.detachBuf(1)
	d.alloc.Free(data)
	d.publish(s, resultOf(n, err))
}

// selectHandler: int select(int maxfdp1, fd_set *readset,
// fd_set *writeset, fd_set *exceptset, struct timeval *timeout).
// Three in/out descriptor sets plus an in-only timeout, copied in as
// one batched operation.
func selectHandler(d *Daemon, s *Slot) {
	nfds := int(int32(s.Params[0]))

	var readset, writeset, exceptset [FdSetBytes]byte
	var timeout [TimevalBytes]byte
	s.attachBuf(1, readset[:])
	s.attachBuf(2, writeset[:])
	s.attachBuf(3, exceptset[:])
	s.attachBuf(4, timeout[:])
	d.copyParamsIn(s)

	n, err := d.stack.Select(nfds, readset[:], writeset[:], exceptset[:], timeout[:])

	// The mutated descriptor sets are copied out with the result; the
	// timeout is not.
	s.detachBuf(4)
	d.publish(s, resultOf(n, err))
}

// getAddrInfoHandler: int getaddrinfo(const char *nodename,
// const char *servname, const struct addrinfo *hints,
// struct addrinfo **res). The node and service names and the hints
// block are copied in; resolver entries are marshaled into a dynamic
// "out" buffer sized by the caller's declared capacity.
func getAddrInfoHandler(d *Daemon, s *Slot) {
	var node [maxNodeBytes]byte
	var service [maxServiceBytes]byte
	var hints [HintsBytes]byte

	nodeLen := int(s.Sizes[0])
	if nodeLen > len(node) {
		nodeLen = len(node)
	}
	serviceLen := int(s.Sizes[1])
	if serviceLen > len(service) {
		serviceLen = len(service)
	}
	s.attachBuf(0, node[:nodeLen])
	s.attachBuf(1, service[:serviceLen])
	s.attachBuf(2, hints[:])
	d.copyParamsIn(s)

	out := d.alloc.Alloc(int(s.Sizes[3]))
	if out == nil {
		s.detachBuf(0)
		s.detachBuf(1)
		s.detachBuf(2)
		d.publish(s, -int32(unix.ENOMEM))
		return
	}

	n, err := d.stack.GetAddrInfo(cString(node[:nodeLen]), cString(service[:serviceLen]), hints[:], out)

	s.detachBuf(0)
	s.detachBuf(1)
	s.detachBuf(2)
	res := resultOf(0, err)
	if res >= 0 {
		s.attachBuf(3, out[:n*AddrInfoEntryBytes])
	}
	d.publish(s, res)
	d.alloc.Free(out)
}

// freeAddrInfoHandler: void freeaddrinfo(struct addrinfo *ai). The
// entry is copied in and acknowledged; with marshaled result entries
// there is nothing to release on this side, but the operation is kept
// for ABI compatibility with the foreign stub.
func freeAddrInfoHandler(d *Daemon, s *Slot) {
	var entry [AddrInfoEntryBytes]byte
	entryLen := int(s.Sizes[0])
	if entryLen > len(entry) {
		entryLen = len(entry)
	}
	s.attachBuf(0, entry[:entryLen])
	d.copyParamsIn(s)

	err := d.stack.FreeAddrInfo(entry[:entryLen])

	s.detachBuf(0)
	d.publish(s, resultOf(0, err))
}

const (
	// maxNodeBytes bounds the copied-in node name, NUL included.
	// Matches the host resolver's hostname limit.
	maxNodeBytes = 256

	// maxServiceBytes bounds the copied-in service name, NUL included.
	maxServiceBytes = 32
)

// cString returns b interpreted as a NUL-terminated string.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
