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

package stubchan_test

import (
	"bytes"
	"testing"

	"sockskel.dev/sockskel/pkg/skel"
	"sockskel.dev/sockskel/pkg/tschan"
	"sockskel.dev/sockskel/pkg/tschan/stubchan"
)

// invoke marshals rec plus segments, invokes the service, and
// unmarshals the mutated record back.
func invoke(t *testing.T, svc *stubchan.Service, rec *skel.Record, segments []byte) ([]byte, tschan.Status) {
	t.Helper()
	area := make([]byte, rec.SizeBytes()+len(segments))
	rec.MarshalBytes(area)
	copy(area[rec.SizeBytes():], segments)
	status := svc.Invoke(area)
	rec.UnmarshalBytes(area)
	return area[rec.SizeBytes():], status
}

func TestReadyAnnouncement(t *testing.T) {
	svc := stubchan.New(func() {})
	select {
	case <-svc.Ready():
		t.Fatal("Ready closed before announcement")
	default:
	}

	rec := skel.Record{Phase: skel.PhaseReady}
	if _, status := invoke(t, svc, &rec, nil); status != tschan.Ok {
		t.Fatalf("ready invocation returned %v, want Ok", status)
	}
	select {
	case <-svc.Ready():
	default:
		t.Error("Ready not closed after announcement")
	}
}

func TestGetOpEmptyQueue(t *testing.T) {
	svc := stubchan.New(func() {})
	rec := skel.Record{Phase: skel.PhaseGetOp}
	if _, status := invoke(t, svc, &rec, nil); status != tschan.NoHandler {
		t.Errorf("get-op on an empty queue returned %v, want NoHandler", status)
	}
}

func TestSubmitWakes(t *testing.T) {
	woke := 0
	svc := stubchan.New(func() { woke++ })
	svc.Submit(&stubchan.Call{Op: skel.OpClose})
	if woke != 1 {
		t.Errorf("Submit raised %d wake callbacks, want 1", woke)
	}
}

func TestFullCallFlow(t *testing.T) {
	svc := stubchan.New(func() {})

	data := []byte("payload for the call")
	c := &stubchan.Call{
		Op:     skel.OpSend,
		Params: [skel.NumParams]uint32{3, 0, uint32(len(data)), 0},
	}
	c.In[1] = data
	svc.Submit(c)

	// Pull the pending operation.
	rec := skel.Record{Phase: skel.PhaseGetOp}
	if _, status := invoke(t, svc, &rec, nil); status != tschan.Ok {
		t.Fatalf("get-op returned %v, want Ok", status)
	}
	if rec.Op != skel.OpSend {
		t.Fatalf("get-op delivered op %v, want send", rec.Op)
	}
	if rec.Tag == 0 {
		t.Fatal("get-op assigned tag 0")
	}
	if rec.Params[0] != 3 || rec.Params[2] != uint32(len(data)) {
		t.Errorf("get-op delivered params %v", rec.Params)
	}

	// Pull the data parameter in.
	rec.Phase = skel.PhaseCopyParams
	rec.BufMask = 1 << 1
	rec.Sizes[1] = uint32(len(data))
	seg, status := invoke(t, svc, &rec, make([]byte, len(data)))
	if status != tschan.Ok {
		t.Fatalf("copy-params returned %v, want Ok", status)
	}
	if !bytes.Equal(seg, data) {
		t.Errorf("copy-params delivered % x, want % x", seg, data)
	}

	// Publish the result; no copy-out segments for send.
	rec.Phase = skel.PhasePutResult
	rec.BufMask = 0
	rec.Sizes[1] = 0
	rec.Result = uint32(len(data))
	if _, status := invoke(t, svc, &rec, nil); status != tschan.Ok {
		t.Fatalf("put-result returned %v, want Ok", status)
	}

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after put-result")
	}
	if c.Result != int32(len(data)) {
		t.Errorf("call result %d, want %d", c.Result, len(data))
	}
	if !c.ParamsCopied {
		t.Error("ParamsCopied not recorded")
	}
}

func TestPutResultCapturesSegments(t *testing.T) {
	svc := stubchan.New(func() {})
	c := &stubchan.Call{Op: skel.OpRecv}
	svc.Submit(c)

	rec := skel.Record{Phase: skel.PhaseGetOp}
	invoke(t, svc, &rec, nil)

	out := []byte("received bytes")
	rec.Phase = skel.PhasePutResult
	rec.BufMask = 1 << 1
	rec.Sizes[1] = uint32(len(out))
	rec.Result = uint32(len(out))
	if _, status := invoke(t, svc, &rec, out); status != tschan.Ok {
		t.Fatalf("put-result returned %v, want Ok", status)
	}

	if !bytes.Equal(c.Out[1], out) {
		t.Errorf("captured % x, want % x", c.Out[1], out)
	}
}

func TestUnknownTag(t *testing.T) {
	svc := stubchan.New(func() {})
	rec := skel.Record{Phase: skel.PhasePutResult, Tag: 99}
	if _, status := invoke(t, svc, &rec, nil); status != tschan.NoHandler {
		t.Errorf("put-result with an unknown tag returned %v, want NoHandler", status)
	}
}

func TestInjectBusy(t *testing.T) {
	svc := stubchan.New(func() {})
	svc.Submit(&stubchan.Call{Op: skel.OpClose})
	svc.InjectBusy(2)

	rec := skel.Record{Phase: skel.PhaseGetOp}
	for i := 0; i < 2; i++ {
		if _, status := invoke(t, svc, &rec, nil); status != tschan.Busy {
			t.Fatalf("invocation %d returned %v, want Busy", i, status)
		}
	}
	if _, status := invoke(t, svc, &rec, nil); status != tschan.Ok {
		t.Errorf("post-busy invocation returned %v, want Ok", status)
	}
}
