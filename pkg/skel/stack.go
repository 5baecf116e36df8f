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
	"errors"

	"golang.org/x/sys/unix"
)

// Stack is the TCP/IP stack the skeleton forwards foreign calls to.
// Address, descriptor-set and timeout arguments are the raw bytes
// copied across the trust boundary; implementations pass them through
// without interpretation. Calls may block for their full POSIX
// duration; the skeleton applies no timeout of its own.
type Stack interface {
	Socket(domain, typ, protocol int) (int, error)
	Connect(fd int, addr []byte) error
	Bind(fd int, addr []byte) error
	Listen(fd, backlog int) error
	Close(fd int) error
	Recv(fd int, b []byte, flags int) (int, error)
	Send(fd int, b []byte, flags int) (int, error)
	Read(fd int, b []byte) (int, error)
	Write(fd int, b []byte) (int, error)

	// Select waits on the three descriptor sets with the given
	// timeout. r, w and e are FdSetBytes long and are mutated in
	// place; timeout is TimevalBytes long.
	Select(nfds int, r, w, e, timeout []byte) (int, error)

	// GetAddrInfo resolves node/service with the given hints block
	// and marshals up to cap(out)/AddrInfoEntryBytes result entries
	// into out. It returns the number of entries written.
	GetAddrInfo(node, service string, hints, out []byte) (int, error)

	// FreeAddrInfo releases the resolver entry that was copied in.
	// Present for ABI compatibility with the foreign stub.
	FreeAddrInfo(entry []byte) error
}

// resultOf folds a primitive's return value and error into the
// numeric result published to the foreign caller: the value verbatim
// on success, the negated errno on failure. Callers can only
// distinguish outcomes by this code, matching POSIX conventions.
func resultOf(n int, err error) int32 {
	if err != nil {
		return -int32(errnoOf(err))
	}
	return int32(n)
}

// errnoOf extracts the errno from a primitive failure. Errors that
// carry no errno (resolver failures and the like) degrade to EIO.
func errnoOf(err error) unix.Errno {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}
