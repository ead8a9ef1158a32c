package world

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"worldloom.ai/internal/persistence/store"
	"worldloom.ai/internal/protocol"
)

// Sink is the outbound half of a client connection. Send must fail fast; a
// failed send marks the session zombie and it is reaped immediately.
type Sink interface {
	Send(b []byte) error
	Close()
}

type sessionState int

const (
	stateConnecting sessionState = iota
	stateActive
	stateZombie
	stateClosed
)

// Session is the live-connection record for one user. The user's cached
// position doubles as the projection used for proximity-filtered broadcast.
type Session struct {
	UserID string
	sink   Sink
	state  sessionState
}

// Connect registers a connection for userID, creating the user on first
// contact. An empty userID gets a fresh identity. The returned user copy is
// what the transport should announce (identity, initPosition).
func (w *World) Connect(userID string, sink Sink) (store.User, *Session, error) {
	if userID == "" {
		userID = "user_" + uuid.NewString()
	}

	var (
		u       store.User
		created bool
	)
	s := &Session{UserID: userID, sink: sink, state: stateConnecting}

	w.mu.Lock()
	if old, ok := w.sessions[userID]; ok {
		// Takeover: the previous connection is dead or superseded.
		old.state = stateClosed
		old.sink.Close()
	}
	u, ok := w.users[userID]
	if !ok {
		u = store.User{
			ID:         userID,
			Nickname:   guestName(w.names, userID),
			Inventory:  map[string]int{},
			Attributes: map[string]float64{},
			Skills:     map[string]float64{},
			CreatedAt:  nowStamp(),
		}
		w.users[userID] = u
		created = true
	}
	w.names[u.Nickname] = userID
	w.sessions[userID] = s
	s.state = stateActive
	w.mu.Unlock()

	if created {
		if err := w.st.UpsertUser(u); err != nil {
			w.log.Printf("world: persist new user %s: %v", userID, err)
		}
	}
	return u, s, nil
}

// guestName picks an unclaimed placeholder nickname. Caller holds the lock.
func guestName(names map[string]string, userID string) string {
	suffix := userID
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	name := "Wanderer-" + suffix
	for i := 2; ; i++ {
		if _, taken := names[name]; !taken {
			return name
		}
		name = fmt.Sprintf("Wanderer-%s-%d", suffix, i)
	}
}

// Disconnect closes and removes the session. The user record stays.
func (w *World) Disconnect(userID string) {
	w.mu.Lock()
	s, ok := w.sessions[userID]
	if ok {
		s.state = stateClosed
		delete(w.sessions, userID)
	}
	w.mu.Unlock()
	if ok {
		s.sink.Close()
	}
}

// SessionCount reports live sessions for /metrics.
func (w *World) SessionCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

// Send marshals and delivers one message to a single session. A send
// failure reaps the session and reports dropped=false; it never propagates
// an error to the caller.
func (w *World) Send(userID string, msg any) bool {
	w.mu.Lock()
	s, ok := w.sessions[userID]
	w.mu.Unlock()
	if !ok || s.state != stateActive {
		return false
	}
	return w.deliver(s, msg)
}

func (w *World) deliver(s *Session, msg any) bool {
	b, err := json.Marshal(msg)
	if err != nil {
		w.log.Printf("world: marshal %T: %v", msg, err)
		return false
	}
	if err := s.sink.Send(b); err != nil {
		s.state = stateZombie
		w.reap(s)
		return false
	}
	return true
}

// reap removes a zombie session from the active set.
func (w *World) reap(s *Session) {
	w.mu.Lock()
	if cur, ok := w.sessions[s.UserID]; ok && cur == s {
		delete(w.sessions, s.UserID)
		w.reapedTotal++
	}
	s.state = stateClosed
	w.mu.Unlock()
	s.sink.Close()
}

// Broadcast fans a message out to every active session except exclude.
// Failures are collected during the pass and reaped afterwards; a dead
// connection never aborts delivery to the rest.
func (w *World) Broadcast(msg any, exclude string) {
	b, err := json.Marshal(msg)
	if err != nil {
		w.log.Printf("world: marshal %T: %v", msg, err)
		return
	}

	w.mu.Lock()
	targets := make([]*Session, 0, len(w.sessions))
	for id, s := range w.sessions {
		if id == exclude || s.state != stateActive {
			continue
		}
		targets = append(targets, s)
	}
	w.mu.Unlock()

	var failed []*Session
	for _, s := range targets {
		if err := s.sink.Send(b); err != nil {
			s.state = stateZombie
			failed = append(failed, s)
		}
	}
	for _, s := range failed {
		w.reap(s)
	}
}

// BroadcastNearby delivers to sessions whose user's last known position is
// within Manhattan distance radius of the origin, excluding the sender.
func (w *World) BroadcastNearby(msg any, ox, oy, oz, radius int, exclude string) {
	b, err := json.Marshal(msg)
	if err != nil {
		w.log.Printf("world: marshal %T: %v", msg, err)
		return
	}

	w.mu.Lock()
	targets := make([]*Session, 0, len(w.sessions))
	for id, s := range w.sessions {
		if id == exclude || s.state != stateActive {
			continue
		}
		u, ok := w.users[id]
		if !ok {
			continue
		}
		if Manhattan(u.X, u.Y, u.Z, ox, oy, oz) <= radius {
			targets = append(targets, s)
		}
	}
	w.mu.Unlock()

	var failed []*Session
	for _, s := range targets {
		if err := s.sink.Send(b); err != nil {
			s.state = stateZombie
			failed = append(failed, s)
		}
	}
	for _, s := range failed {
		w.reap(s)
	}
}

// ClaimName claims a nickname for userID. The uniqueness check and the
// commit (user record, name index) share one critical section; concurrent
// claims for the same name resolve to exactly one winner.
func (w *World) ClaimName(userID, name string) (store.User, string, error) {
	if name == "" {
		return store.User{}, "", fmt.Errorf("empty nickname")
	}

	w.mu.Lock()
	if holder, taken := w.names[name]; taken && holder != userID {
		w.mu.Unlock()
		return store.User{}, "", fmt.Errorf("nickname %q already taken", name)
	}
	u, ok := w.users[userID]
	if !ok {
		w.mu.Unlock()
		return store.User{}, "", fmt.Errorf("unknown user %s", userID)
	}
	old := u.Nickname
	delete(w.names, old)
	w.names[name] = userID
	u.Nickname = name
	u.NicknameClaimed = true
	w.users[userID] = u
	w.mu.Unlock()

	if err := w.st.UpsertUser(u); err != nil {
		w.log.Printf("world: persist rename %s: %v", userID, err)
	}

	w.Broadcast(protocol.NicknameChangedMsg{
		Type:      protocol.TypeNicknameChanged,
		UserID:    userID,
		Old:       old,
		New:       name,
		Timestamp: nowStamp(),
	}, "")
	return u, old, nil
}
