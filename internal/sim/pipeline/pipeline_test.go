package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"worldloom.ai/internal/decision"
	"worldloom.ai/internal/persistence/store"
	"worldloom.ai/internal/protocol"
	"worldloom.ai/internal/sim/admission"
	"worldloom.ai/internal/sim/tuning"
	"worldloom.ai/internal/sim/world"
)

type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeSink) Send(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeSink) Close() {}

func (f *fakeSink) byType(t *testing.T, typ string) [][]byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, b := range f.frames {
		base, err := protocol.DecodeBase(b)
		if err != nil {
			t.Fatalf("bad frame %q: %v", b, err)
		}
		if base.Type == typ {
			out = append(out, b)
		}
	}
	return out
}

// scriptedDecider returns canned text and counts calls.
type scriptedDecider struct {
	calls atomic.Int64
	text  string
	err   error
}

func (d *scriptedDecider) Decide(_ context.Context, _, _, _, _ string) (string, error) {
	d.calls.Add(1)
	if d.err != nil {
		return "", d.err
	}
	return d.text, nil
}

// blockingDecider parks every call until released.
type blockingDecider struct {
	started chan string
	release chan struct{}
}

func (d *blockingDecider) Decide(_ context.Context, _, action, _, _ string) (string, error) {
	d.started <- action
	<-d.release
	return "It happens.", nil
}

func testPipeline(t *testing.T, d Decider, cooldown time.Duration, permits int) (*Pipeline, *world.World) {
	t.Helper()
	logger := log.New(os.Stderr, "[pipeline-test] ", 0)
	st, err := store.Open(filepath.Join(t.TempDir(), "world.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	w := world.New(st, tuning.Defaults(), logger)
	if err := w.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	return New(w, admission.New(cooldown, permits), d, logger), w
}

func connect(t *testing.T, w *world.World, id string, x, y, z int) *fakeSink {
	t.Helper()
	sink := &fakeSink{}
	u, _, err := w.Connect(id, sink)
	if err != nil {
		t.Fatalf("connect %s: %v", id, err)
	}
	u.X, u.Y, u.Z = x, y, z
	if !w.PutUser(u) {
		t.Fatalf("put user %s", id)
	}
	return sink
}

func TestRunAppliesSuccessfulDecision(t *testing.T) {
	d := &scriptedDecider{text: "```json\n{\"success\": true, \"narrative\": \"A cairn rises.\", \"world_update\": {\"create\": [{\"id\": \"obj_cairn\", \"name\": \"cairn\"}]}}\n```"}
	p, w := testPipeline(t, d, 0, 5)
	actor := connect(t, w, "u1", 0, 0, 0)
	neighbor := connect(t, w, "u2", 2, 2, 0)

	p.Run(context.Background(), "u1", protocol.CommandMsg{Type: protocol.TypeCommand, Content: "stack stones"})

	actions := actor.byType(t, protocol.TypeAction)
	if len(actions) != 1 {
		t.Fatalf("action frames = %d", len(actions))
	}
	var msg protocol.ActionMsg
	if err := json.Unmarshal(actions[0], &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !msg.Success || !msg.Persisted || msg.Result != "A cairn rises." {
		t.Fatalf("unexpected action reply: %+v", msg)
	}

	if _, found, _ := w.Store().GetObject("obj_cairn"); !found {
		t.Fatalf("created object not persisted")
	}
	if n, _ := w.Store().CountLogs(); n != 1 {
		t.Fatalf("log rows = %d, want 1", n)
	}

	if len(neighbor.byType(t, protocol.TypeActionSummary)) != 1 {
		t.Fatalf("neighbor missed the summary")
	}
	if len(actor.byType(t, protocol.TypeActionSummary)) != 0 {
		t.Fatalf("actor must not receive its own summary")
	}
}

func TestPlainTextDecisionIsNarrativeOnly(t *testing.T) {
	d := &scriptedDecider{text: "The wind shifts and nothing more happens."}
	p, w := testPipeline(t, d, 0, 5)
	actor := connect(t, w, "u1", 0, 0, 0)

	before, _ := w.Store().AllObjects()
	p.Run(context.Background(), "u1", protocol.CommandMsg{Type: protocol.TypeCommand, Content: "listen"})

	actions := actor.byType(t, protocol.TypeAction)
	if len(actions) != 1 {
		t.Fatalf("action frames = %d", len(actions))
	}
	var msg protocol.ActionMsg
	if err := json.Unmarshal(actions[0], &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !msg.Success || msg.Result != d.text {
		t.Fatalf("plain text must become a successful narrative: %+v", msg)
	}

	// The fallback leaves no trace in the store, scene snapshots included.
	after, _ := w.Store().AllObjects()
	for id := range after {
		if _, existed := before[id]; !existed {
			t.Fatalf("plain text decision created store object %s", id)
		}
	}
}

func TestDecisionErrorMutatesNothing(t *testing.T) {
	d := &scriptedDecider{err: &decision.CallError{Kind: decision.KindTimeout, Err: errors.New("deadline")}}
	p, w := testPipeline(t, d, 0, 5)
	actor := connect(t, w, "u1", 0, 0, 0)

	p.Run(context.Background(), "u1", protocol.CommandMsg{Type: protocol.TypeCommand, Content: "dig"})

	errs := actor.byType(t, protocol.TypeError)
	if len(errs) != 1 {
		t.Fatalf("error frames = %d", len(errs))
	}
	var msg protocol.ErrorMsg
	if err := json.Unmarshal(errs[0], &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Code != protocol.ErrDecisionTimeout {
		t.Fatalf("code = %q", msg.Code)
	}
	if len(actor.byType(t, protocol.TypeAction)) != 0 {
		t.Fatalf("failed call must not produce an action result")
	}
	if n, _ := w.Store().CountLogs(); n != 0 {
		t.Fatalf("failed call must not reach the history log, rows = %d", n)
	}
	if w.ActionsTotal() != 0 {
		t.Fatalf("actions total = %d", w.ActionsTotal())
	}
}

func TestFailedDecisionIsNotPersisted(t *testing.T) {
	d := &scriptedDecider{text: `{"success": false, "narrative": "The rock refuses to move."}`}
	p, w := testPipeline(t, d, 0, 5)
	actor := connect(t, w, "u1", 0, 0, 0)

	p.Run(context.Background(), "u1", protocol.CommandMsg{Type: protocol.TypeCommand, Content: "lift boulder"})

	actions := actor.byType(t, protocol.TypeAction)
	if len(actions) != 1 {
		t.Fatalf("action frames = %d", len(actions))
	}
	var msg protocol.ActionMsg
	if err := json.Unmarshal(actions[0], &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Success || msg.Persisted || msg.PersistedReason != "action_failed" {
		t.Fatalf("unexpected reply: %+v", msg)
	}
}

func TestCooldownRejectsRapidSecondAction(t *testing.T) {
	d := &scriptedDecider{text: "Done."}
	p, w := testPipeline(t, d, 2*time.Second, 5)
	actor := connect(t, w, "u1", 0, 0, 0)

	p.Run(context.Background(), "u1", protocol.CommandMsg{Type: protocol.TypeCommand, Content: "first"})
	p.Run(context.Background(), "u1", protocol.CommandMsg{Type: protocol.TypeCommand, Content: "second"})

	if got := d.calls.Load(); got != 1 {
		t.Fatalf("decider calls = %d, want 1", got)
	}
	errs := actor.byType(t, protocol.TypeError)
	if len(errs) != 1 {
		t.Fatalf("error frames = %d", len(errs))
	}
	var msg protocol.ErrorMsg
	if err := json.Unmarshal(errs[0], &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Code != protocol.ErrCooldown {
		t.Fatalf("code = %q", msg.Code)
	}
}

func TestPoolOverflowQueuesWithSingleNotice(t *testing.T) {
	d := &blockingDecider{started: make(chan string, 2), release: make(chan struct{})}
	p, w := testPipeline(t, d, 0, 1)
	connect(t, w, "u1", 0, 0, 0)
	second := connect(t, w, "u2", 0, 0, 0)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.Run(context.Background(), "u1", protocol.CommandMsg{Type: protocol.TypeCommand, Content: "hold"})
	}()
	<-d.started // u1 owns the only permit, parked inside the decider

	go func() {
		defer wg.Done()
		p.Run(context.Background(), "u2", protocol.CommandMsg{Type: protocol.TypeCommand, Content: "wait"})
	}()

	deadline := time.After(2 * time.Second)
	for {
		if len(second.byType(t, protocol.TypeSystem)) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("queued notice never arrived")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(d.release)
	wg.Wait()

	queued := 0
	for _, b := range second.byType(t, protocol.TypeSystem) {
		var msg protocol.SystemMsg
		if err := json.Unmarshal(b, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if strings.HasPrefix(msg.Content, "[QUEUED]") {
			queued++
		}
	}
	if queued != 1 {
		t.Fatalf("queued notices = %d, want exactly 1", queued)
	}
	if len(second.byType(t, protocol.TypeAction)) != 1 {
		t.Fatalf("queued action never completed")
	}
	if p.Admission().InUse() != 0 {
		t.Fatalf("permits leaked: %d", p.Admission().InUse())
	}
}

func TestDeadUserActionRespawnsInstead(t *testing.T) {
	d := &scriptedDecider{text: "Should not run."}
	p, w := testPipeline(t, d, 0, 5)
	connect(t, w, "u1", 7, 7, 0)
	u, _ := w.User("u1")
	u.Dead = true
	w.PutUser(u)

	p.Run(context.Background(), "u1", protocol.CommandMsg{Type: protocol.TypeCommand, Content: "get up"})

	if d.calls.Load() != 0 {
		t.Fatalf("dead user's action reached the decider")
	}
	u, _ = w.User("u1")
	if u.Dead || u.X != 0 || u.Y != 0 || u.Z != 0 {
		t.Fatalf("respawn did not reset the user: %+v", u)
	}
}

func TestDiscoveryRegistersMaterialOnce(t *testing.T) {
	d := &scriptedDecider{text: `{"success": true, "narrative": "You find sunglass.", "new_discovery": {"name": "Sunglass", "kind": "mineral"}}`}
	p, w := testPipeline(t, d, 0, 5)
	actor := connect(t, w, "u1", 0, 0, 0)

	p.Run(context.Background(), "u1", protocol.CommandMsg{Type: protocol.TypeCommand, Content: "sift sand"})
	p.Run(context.Background(), "u1", protocol.CommandMsg{Type: protocol.TypeCommand, Content: "sift sand again"})

	if n := w.MaterialCount(); n != 1 {
		t.Fatalf("materials = %d, want 1 (first registration wins)", n)
	}
	if len(actor.byType(t, protocol.TypeDiscovery)) != 1 {
		t.Fatalf("discovery should be announced exactly once")
	}
}
