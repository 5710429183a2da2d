package convo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/safespace/narratives/internal/llm"
)

// fakeAdapter scripts provider behavior for engine and evaluator tests.
// Each Stream call hands the test a fakeStream to drive; Complete is
// scripted with completeFn.
type fakeAdapter struct {
	mu           sync.Mutex
	completeFn   func(req llm.Request) (llm.Response, error)
	completeReqs []llm.Request

	streamErr  error
	streams    chan *fakeStream
	streamReqs []llm.Request
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{streams: make(chan *fakeStream, 8)}
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	f.completeReqs = append(f.completeReqs, req)
	fn := f.completeFn
	f.mu.Unlock()
	if fn == nil {
		return llm.Response{Message: llm.Assistant("")}, nil
	}
	return fn(req)
}

func (f *fakeAdapter) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	f.mu.Lock()
	f.streamReqs = append(f.streamReqs, req)
	err := f.streamErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	fs := &fakeStream{ctx: ctx, req: req, s: llm.NewChanStream(nil)}
	f.streams <- fs
	fs.s.Send(llm.StreamEvent{Type: llm.StreamEventStreamStart})
	return fs.s, nil
}

func (f *fakeAdapter) completeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.completeReqs)
}

// nextStream blocks until the engine opens its next stream.
func (f *fakeAdapter) nextStream(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case fs := <-f.streams:
		return fs
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a stream request")
		return nil
	}
}

type fakeStream struct {
	ctx context.Context
	req llm.Request
	s   *llm.ChanStream
}

func (fs *fakeStream) delta(text string) {
	fs.s.Send(llm.StreamEvent{Type: llm.StreamEventTextDelta, Delta: text})
}

func (fs *fakeStream) finish() {
	resp := llm.Response{Provider: "fake", Finish: "stop"}
	fs.s.Send(llm.StreamEvent{Type: llm.StreamEventFinish, Response: &resp})
	fs.s.CloseSend()
}

func (fs *fakeStream) fail(msg string) {
	fs.s.Send(llm.StreamEvent{Type: llm.StreamEventError, Err: llm.NewStreamError("fake", msg)})
	fs.s.CloseSend()
}

func (fs *fakeStream) close() { fs.s.CloseSend() }

func newTestClient(f *fakeAdapter) *llm.Client {
	c := llm.NewClient()
	c.Register(f)
	return c
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
