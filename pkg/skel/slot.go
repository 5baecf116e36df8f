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
	"encoding/binary"
	"fmt"
)

// OpCode identifies the socket primitive a foreign request targets.
// The numeric values are part of the wire contract shared with the
// non-secure stub and must not be reordered.
type OpCode uint32

const (
	OpSocket OpCode = iota
	OpConnect
	OpClose
	OpRecv
	OpSend
	OpSelect
	OpBind
	OpListen
	OpWrite
	OpRead
	OpGetAddrInfo
	OpFreeAddrInfo

	numOps
)

// String implements fmt.Stringer.String.
func (op OpCode) String() string {
	switch op {
	case OpSocket:
		return "socket"
	case OpConnect:
		return "connect"
	case OpClose:
		return "close"
	case OpRecv:
		return "recv"
	case OpSend:
		return "send"
	case OpSelect:
		return "select"
	case OpBind:
		return "bind"
	case OpListen:
		return "listen"
	case OpWrite:
		return "write"
	case OpRead:
		return "read"
	case OpGetAddrInfo:
		return "getaddrinfo"
	case OpFreeAddrInfo:
		return "freeaddrinfo"
	default:
		return fmt.Sprintf("op(%d)", uint32(op))
	}
}

// Phase tags the protocol step a record is participating in. Every
// foreign call goes through GetOp (the daemon pulls the pending
// operation), optionally CopyParams (the handler pulls "in" buffers),
// and PutResult (the handler publishes the result and "out" buffers).
type Phase uint32

const (
	// PhaseReady announces the skeleton daemon to the stub service.
	PhaseReady Phase = iota

	// PhaseGetOp requests the next pending foreign operation.
	PhaseGetOp

	// PhaseCopyParams requests the contents of the attached "in"
	// buffers from the non-secure side.
	PhaseCopyParams

	// PhasePutResult publishes the result and the attached "out"
	// buffers to the non-secure side.
	PhasePutResult
)

// String implements fmt.Stringer.String.
func (p Phase) String() string {
	switch p {
	case PhaseReady:
		return "ready"
	case PhaseGetOp:
		return "get-op"
	case PhaseCopyParams:
		return "copy-params"
	case PhasePutResult:
		return "put-result"
	default:
		return fmt.Sprintf("phase(%d)", uint32(p))
	}
}

// NumParams is the number of general-purpose parameter words in a
// request record.
const NumParams = 5

// Buffer geometry shared with the non-secure stub. These mirror the
// host's fd_set, timeval, addrinfo hints and sockaddr storage layouts
// and are fixed by the ABI, not derived from host headers.
const (
	// FdSetBytes is the size of one descriptor set (1024 bits).
	FdSetBytes = 128

	// TimevalBytes is the size of the select timeout value (two
	// 64-bit words: seconds, microseconds).
	TimevalBytes = 16

	// HintsBytes is the size of the getaddrinfo hints block (four
	// 32-bit words: flags, family, socktype, protocol).
	HintsBytes = 16

	// SockaddrBytes is the size of the generic sockaddr storage used
	// for getaddrinfo results.
	SockaddrBytes = 112

	// AddrInfoEntryBytes is the size of one getaddrinfo result entry:
	// family, socktype, protocol and address length words followed by
	// SockaddrBytes of address storage.
	AddrInfoEntryBytes = 16 + SockaddrBytes
)

// Record is the fixed-layout request record exchanged over the
// secure channel. Params holds scalars; for buffer-typed parameters
// the corresponding BufMask bit is set and Sizes holds the declared
// byte count. Raw pointers cannot cross the boundary, so buffer
// contents travel as segments appended after the record in ascending
// parameter order, one segment per masked parameter.
type Record struct {
	// Op is the requested socket primitive.
	Op OpCode

	// Phase is the protocol step this invocation performs.
	Phase Phase

	// Tag correlates the record with a pending foreign call. It is
	// assigned by the stub service in the GetOp response and must be
	// echoed unchanged in CopyParams and PutResult invocations.
	Tag uint32

	// Result is the published numeric result, two's complement.
	Result uint32

	// BufMask marks which Params entries are buffer-typed.
	BufMask uint32

	// Params are the general-purpose parameter words.
	Params [NumParams]uint32

	// Sizes are the declared sizes of buffer-typed parameters.
	Sizes [NumParams]uint32
}

// RecordBytes is the marshaled size of a Record.
const RecordBytes = 5*4 + NumParams*4 + NumParams*4

// SizeBytes returns the marshaled size of the record.
func (r *Record) SizeBytes() int {
	return RecordBytes
}

// MarshalBytes writes the record to dst in wire order. dst must be at
// least RecordBytes long.
func (r *Record) MarshalBytes(dst []byte) {
	le := binary.LittleEndian
	le.PutUint32(dst[0:], uint32(r.Op))
	le.PutUint32(dst[4:], uint32(r.Phase))
	le.PutUint32(dst[8:], r.Tag)
	le.PutUint32(dst[12:], r.Result)
	le.PutUint32(dst[16:], r.BufMask)
	off := 20
	for i := 0; i < NumParams; i++ {
		le.PutUint32(dst[off:], r.Params[i])
		off += 4
	}
	for i := 0; i < NumParams; i++ {
		le.PutUint32(dst[off:], r.Sizes[i])
		off += 4
	}
}

// UnmarshalBytes reads the record from src in wire order. src must be
// at least RecordBytes long.
func (r *Record) UnmarshalBytes(src []byte) {
	le := binary.LittleEndian
	r.Op = OpCode(le.Uint32(src[0:]))
	r.Phase = Phase(le.Uint32(src[4:]))
	r.Tag = le.Uint32(src[8:])
	r.Result = le.Uint32(src[12:])
	r.BufMask = le.Uint32(src[16:])
	off := 20
	for i := 0; i < NumParams; i++ {
		r.Params[i] = le.Uint32(src[off:])
		off += 4
	}
	for i := 0; i < NumParams; i++ {
		r.Sizes[i] = le.Uint32(src[off:])
		off += 4
	}
}

// Slot is a reusable request record plus the local buffers attached to
// its buffer-typed parameters. A slot is owned by at most one
// goroutine at a time: the dispatch daemon between acquire and
// enqueue, then exactly one worker until the publish step recycles it.
type Slot struct {
	Record

	// bufs are the local buffers backing masked parameters. They are
	// exclusively owned by the current operation and never outlive it.
	bufs [NumParams][]byte
}

// Reset clears all request state. The pool resets every slot on
// acquisition so no parameters or results leak between unrelated
// foreign calls.
func (s *Slot) Reset() {
	s.Record = Record{}
	s.bufs = [NumParams][]byte{}
}

// attachBuf attaches buf as the backing store of parameter i and
// declares its size. The declared size may be adjusted afterwards
// (receive handlers shrink it to the actual byte count).
func (s *Slot) attachBuf(i int, buf []byte) {
	s.bufs[i] = buf
	s.BufMask |= 1 << uint(i)
	s.Sizes[i] = uint32(len(buf))
}

// detachBuf removes the buffer attached to parameter i, so the
// publish step no longer copies it out.
func (s *Slot) detachBuf(i int) {
	s.bufs[i] = nil
	s.BufMask &^= 1 << uint(i)
	s.Sizes[i] = 0
}

// segmentBytes returns the total size of the buffer segments that
// accompany the record in its current state.
func (s *Slot) segmentBytes() int {
	n := 0
	for i := 0; i < NumParams; i++ {
		if s.BufMask&(1<<uint(i)) != 0 {
			n += int(s.Sizes[i])
		}
	}
	return n
}

// putSegments copies the attached buffers into the segment area in
// wire order, for the copy-out half of the protocol.
func (s *Slot) putSegments(area []byte) {
	off := 0
	for i := 0; i < NumParams; i++ {
		if s.BufMask&(1<<uint(i)) == 0 {
			continue
		}
		n := int(s.Sizes[i])
		if n > len(s.bufs[i]) {
			n = len(s.bufs[i])
		}
		copy(area[off:off+n], s.bufs[i][:n])
		off += int(s.Sizes[i])
	}
}

// getSegments copies the segment area into the attached buffers in
// wire order, for the copy-in half of the protocol. Copies are clamped
// to the attached buffer's length regardless of what the peer wrote
// into the record's size words.
func (s *Slot) getSegments(area []byte) {
	off := 0
	for i := 0; i < NumParams; i++ {
		if s.BufMask&(1<<uint(i)) == 0 {
			continue
		}
		n := int(s.Sizes[i])
		if n > len(s.bufs[i]) {
			n = len(s.bufs[i])
		}
		if off+n > len(area) {
			n = len(area) - off
			if n < 0 {
				n = 0
			}
		}
		copy(s.bufs[i][:n], area[off:off+n])
		off += int(s.Sizes[i])
	}
}
