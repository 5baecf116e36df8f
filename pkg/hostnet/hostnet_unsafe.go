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

package hostnet

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// connectRaw issues connect(2) with the foreign caller's raw sockaddr
// bytes, avoiding any reinterpretation of the address on this side of
// the boundary.
func connectRaw(fd int, addr []byte) error {
	return sockaddrSyscall(unix.SYS_CONNECT, fd, addr)
}

// bindRaw issues bind(2) with raw sockaddr bytes.
func bindRaw(fd int, addr []byte) error {
	return sockaddrSyscall(unix.SYS_BIND, fd, addr)
}

func sockaddrSyscall(trap uintptr, fd int, addr []byte) error {
	if len(addr) == 0 {
		return unix.EINVAL
	}
	_, _, errno := unix.Syscall(trap, uintptr(fd), uintptr(unsafe.Pointer(&addr[0])), uintptr(len(addr)))
	if errno != 0 {
		return errno
	}
	return nil
}

// fdSetPtr reinterprets a descriptor-set buffer as the kernel's fd_set
// layout. The buffer must be at least skel.FdSetBytes long, which the
// select handler guarantees.
func fdSetPtr(b []byte) *unix.FdSet {
	return (*unix.FdSet)(unsafe.Pointer(&b[0]))
}
