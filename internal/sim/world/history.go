package world

import (
	"unicode/utf8"

	"worldloom.ai/internal/persistence/store"
)

// AppendHistory records one action in the bounded in-memory window and the
// durable log. The result text is truncated before either write. The store
// append happens outside the lock; its failure leaves the in-memory entry in
// place.
func (w *World) AppendHistory(actor, action, result string) {
	if max := w.tune.ResultTruncate; len(result) > max {
		// Back off to a rune boundary so the cut never produces invalid
		// UTF-8.
		cut := max
		for cut > 0 && !utf8.RuneStart(result[cut]) {
			cut--
		}
		result = result[:cut]
	}
	e := store.LogEntry{
		Timestamp: nowStamp(),
		Actor:     actor,
		Action:    action,
		Result:    result,
	}

	w.mu.Lock()
	w.history = append(w.history, e)
	if over := len(w.history) - w.tune.HistoryCap; over > 0 {
		w.history = w.history[over:]
	}
	w.actionsTotal++
	w.mu.Unlock()

	if _, err := w.st.AppendLog(e); err != nil {
		w.log.Printf("world: append log: %v", err)
	}
}

// RecentHistory copies the newest n entries, oldest first.
func (w *World) RecentHistory(n int) []store.LogEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	start := len(w.history) - n
	if start < 0 {
		start = 0
	}
	out := make([]store.LogEntry, len(w.history)-start)
	copy(out, w.history[start:])
	return out
}

// ActionsTotal reports lifetime recorded actions for /metrics.
func (w *World) ActionsTotal() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.actionsTotal
}

// ReapedTotal reports lifetime reaped sessions for /metrics.
func (w *World) ReapedTotal() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reapedTotal
}
