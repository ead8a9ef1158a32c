package world

import (
	"strings"

	"worldloom.ai/internal/persistence/store"
	"worldloom.ai/internal/protocol"
)

// RegisterMaterial adds a material to the registry with first-registration-
// wins semantics: an existing id leaves both the stored record and the cache
// untouched. New discoveries are announced to everyone.
func (w *World) RegisterMaterial(m store.Material, finder string) (created bool) {
	if m.ID == "" {
		m.ID = "mat_" + slug(m.Name)
	}
	if m.CreatedAt == "" {
		m.CreatedAt = nowStamp()
	}

	created, err := w.st.RegisterMaterial(m)
	if err != nil {
		w.log.Printf("world: register material %s: %v", m.ID, err)
		return false
	}
	if !created {
		return false
	}

	w.mu.Lock()
	w.materials[m.ID] = m
	w.mu.Unlock()

	w.Broadcast(protocol.DiscoveryMsg{
		Type:      protocol.TypeDiscovery,
		ID:        m.ID,
		Name:      m.Name,
		Finder:    finder,
		Timestamp: nowStamp(),
	}, "")
	return true
}

// RegisterObjectType mirrors RegisterMaterial for blueprints.
func (w *World) RegisterObjectType(t store.ObjectType, creator string) (created bool) {
	if t.ID == "" {
		t.ID = "bp_" + slug(t.Name)
	}
	if t.CreatedAt == "" {
		t.CreatedAt = nowStamp()
	}
	if t.Creator == "" {
		t.Creator = creator
	}

	created, err := w.st.RegisterObjectType(t)
	if err != nil {
		w.log.Printf("world: register object type %s: %v", t.ID, err)
		return false
	}
	if !created {
		return false
	}

	w.mu.Lock()
	w.objectTypes[t.ID] = t
	w.mu.Unlock()

	w.Broadcast(protocol.BlueprintMsg{
		Type:      protocol.TypeBlueprint,
		ID:        t.ID,
		Name:      t.Name,
		Creator:   creator,
		Timestamp: nowStamp(),
	}, "")
	return true
}

// MaterialCount reports registered materials (counter row excluded).
func (w *World) MaterialCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.materials)
}

// ObjectTypeCount reports registered blueprints (counter row excluded).
func (w *World) ObjectTypeCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.objectTypes)
}

// SupporterCount reports loaded supporter records.
func (w *World) SupporterCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.supporters)
}

func slug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "unnamed"
	}
	return b.String()
}
