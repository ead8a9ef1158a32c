package ws

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"worldloom.ai/internal/persistence/store"
	"worldloom.ai/internal/protocol"
	"worldloom.ai/internal/sim/admission"
	"worldloom.ai/internal/sim/pipeline"
	"worldloom.ai/internal/sim/tuning"
	"worldloom.ai/internal/sim/world"
)

type memSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *memSink) Send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *memSink) Close() {}

// ctxReportingDecider tells the test whether the call arrived with a live
// context.
type ctxReportingDecider struct {
	canceled chan bool
}

func (d *ctxReportingDecider) Decide(ctx context.Context, _, _, _, _ string) (string, error) {
	d.canceled <- ctx.Err() != nil
	return `{"success": true, "narrative": "It happens."}`, nil
}

func testServer(t *testing.T, d pipeline.Decider) (*Server, *world.World) {
	t.Helper()
	logger := log.New(os.Stderr, "[ws-test] ", 0)
	st, err := store.Open(filepath.Join(t.TempDir(), "world.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	w := world.New(st, tuning.Defaults(), logger)
	if err := w.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	p := pipeline.New(w, admission.New(0, 1), d, logger)
	return NewServer(w, p, logger), w
}

// A client may drop mid-action. The action still runs to completion; only
// the undeliverable result is lost.
func TestActionOutlivesConnectionContext(t *testing.T) {
	d := &ctxReportingDecider{canceled: make(chan bool, 1)}
	s, w := testServer(t, d)
	if _, _, err := w.Connect("u1", &memSink{}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// The reader loop cancels this on disconnect, before the decision
	// call has returned.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg, err := json.Marshal(protocol.CommandMsg{Type: protocol.TypeCommand, Content: "carve a mark"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s.dispatch(ctx, "u1", msg)

	select {
	case sawCanceled := <-d.canceled:
		if sawCanceled {
			t.Fatalf("disconnect aborted the in-flight decision call")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("decision call never started")
	}

	deadline := time.Now().Add(2 * time.Second)
	for w.ActionsTotal() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("action did not complete after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
