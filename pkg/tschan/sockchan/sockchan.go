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

// Package sockchan carries the secure-channel protocol over a Unix
// domain socket, standing in for the platform's monitor call on hosts
// where the skeleton and the stub service are ordinary processes.
//
// The skeleton side owns the call stream: every frame it sends is a
// call carrying the parameter area, answered by exactly one reply
// carrying the peer's status and the (possibly mutated) area. The
// stub side may additionally send unsolicited notify frames at any
// time; a reader goroutine on the skeleton side demuxes them into the
// wake callback. Calls are already serialized by the skeleton's
// service link, so at most one call is ever outstanding.
package sockchan

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"sockskel.dev/sockskel/pkg/tschan"
)

// Frame types.
const (
	// frameCall carries a parameter area from skeleton to stub.
	frameCall uint16 = 1 + iota

	// frameReply answers a call: 4 status bytes, then the area.
	frameReply

	// frameNotify signals pending foreign operations. No payload.
	frameNotify
)

// frameHeaderBytes is the size of the frame header: payload length,
// frame type, padding.
const frameHeaderBytes = 8

// maxFramePayload bounds incoming frames. The parameter area is a
// fixed record plus bounded buffer segments; anything larger than
// this is a corrupt stream.
const maxFramePayload = 1 << 20

func writeFrame(w io.Writer, typ uint16, payload []byte) error {
	var hdr [frameHeaderBytes]byte
	le := binary.LittleEndian
	le.PutUint32(hdr[0:], uint32(len(payload)))
	le.PutUint16(hdr[4:], typ)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (uint16, []byte, error) {
	var hdr [frameHeaderBytes]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	le := binary.LittleEndian
	length := le.Uint32(hdr[0:])
	typ := le.Uint16(hdr[4:])
	if length > maxFramePayload {
		return 0, nil, fmt.Errorf("sockchan: frame payload of %d bytes exceeds limit", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return typ, payload, nil
}

type reply struct {
	status tschan.Status
	area   []byte
}

// Endpoint is the skeleton-side end of the transport. It implements
// tschan.Endpoint over the socket and forwards notify frames to the
// wake callback.
type Endpoint struct {
	conn net.Conn
	wake func()

	writeMu sync.Mutex

	// replies delivers reply frames to the in-flight Invoke. The
	// reader goroutine closes it when the stream dies.
	replies chan reply

	closeOnce sync.Once
}

var _ tschan.Endpoint = (*Endpoint)(nil)

// NewEndpoint wraps an established connection to the stub service.
// wake is called for every notify frame the peer sends.
func NewEndpoint(conn net.Conn, wake func()) *Endpoint {
	e := &Endpoint{
		conn:    conn,
		wake:    wake,
		replies: make(chan reply),
	}
	go e.readLoop()
	return e
}

func (e *Endpoint) readLoop() {
	defer close(e.replies)
	for {
		typ, payload, err := readFrame(e.conn)
		if err != nil {
			if err != io.EOF {
				logrus.WithError(err).Warn("sockchan: stream closed")
			}
			return
		}
		switch typ {
		case frameNotify:
			e.wake()
		case frameReply:
			if len(payload) < 4 {
				logrus.Warn("sockchan: short reply frame")
				return
			}
			status := tschan.Status(int32(binary.LittleEndian.Uint32(payload)))
			e.replies <- reply{status: status, area: payload[4:]}
		default:
			logrus.WithField("type", typ).Warn("sockchan: unexpected frame")
			return
		}
	}
}

// Invoke implements tschan.Endpoint.Invoke. A dead transport reports
// NoHandler, which quiesces the dispatch loop instead of wedging it.
func (e *Endpoint) Invoke(area []byte) tschan.Status {
	e.writeMu.Lock()
	err := writeFrame(e.conn, frameCall, area)
	e.writeMu.Unlock()
	if err != nil {
		logrus.WithError(err).Warn("sockchan: call write failed")
		return tschan.NoHandler
	}
	r, ok := <-e.replies
	if !ok {
		return tschan.NoHandler
	}
	copy(area, r.area)
	return r.status
}

// Close shuts the transport down.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() { err = e.conn.Close() })
	return err
}

// Peer is the stub-service side of the transport.
type Peer struct {
	conn    net.Conn
	writeMu sync.Mutex
}

// Dial connects to the skeleton daemon's socket.
func Dial(path string) (*Peer, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	return NewPeer(conn), nil
}

// NewPeer wraps an established connection to the skeleton daemon.
func NewPeer(conn net.Conn) *Peer {
	return &Peer{conn: conn}
}

// Notify raises the skeleton's operation-pending notification.
func (p *Peer) Notify() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return writeFrame(p.conn, frameNotify, nil)
}

// Serve answers call frames with svc until the stream ends. Replies
// carry svc's status followed by the parameter area, whose mutations
// are how copy-in data reaches the skeleton.
func (p *Peer) Serve(svc tschan.Endpoint) error {
	for {
		typ, payload, err := readFrame(p.conn)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if typ != frameCall {
			return fmt.Errorf("sockchan: peer received frame type %d, want call", typ)
		}
		status := svc.Invoke(payload)

		out := make([]byte, 4+len(payload))
		binary.LittleEndian.PutUint32(out, uint32(int32(status)))
		copy(out[4:], payload)
		p.writeMu.Lock()
		err = writeFrame(p.conn, frameReply, out)
		p.writeMu.Unlock()
		if err != nil {
			return err
		}
	}
}

// Close shuts the peer connection down.
func (p *Peer) Close() error {
	return p.conn.Close()
}
