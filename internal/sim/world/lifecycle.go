package world

import (
	"worldloom.ai/internal/persistence/store"
	"worldloom.ai/internal/protocol"
)

// Starter kit granted to first-time users.
var starterInventory = map[string]int{
	"bread":      3,
	"waterskin":  1,
	"flint":      1,
	"rope":       1,
	"worn knife": 1,
}

// landmarks are fixed indestructible objects present in every world. They
// are upserted at startup so their ids stay stable across restarts.
var landmarks = []store.WorldObject{
	{
		ID:             "landmark_origin_obelisk",
		Name:           "Origin Obelisk",
		Description:    "A black stone needle marking the center of the world. Faint glyphs pulse along its edges.",
		Indestructible: true,
		Creator:        "system",
	},
	{
		ID:             "landmark_wayfarers_rest",
		Name:           "Wayfarer's Rest",
		X:              12,
		Y:              -4,
		Description:    "A low stone shelter with a fire pit that never quite goes out.",
		Indestructible: true,
		Creator:        "system",
	},
	{
		ID:             "landmark_deep_well",
		Name:           "The Deep Well",
		X:              -20,
		Y:              15,
		Description:    "An ancient well. Dropped stones never report back.",
		Indestructible: true,
		Creator:        "system",
	},
}

// RegisterLandmarks upserts the fixed landmark set at startup.
func (w *World) RegisterLandmarks() {
	for _, lm := range landmarks {
		if lm.CreatedAt == "" {
			lm.CreatedAt = nowStamp()
		}
		if lm.Properties == nil {
			lm.Properties = map[string]any{}
		}
		w.mu.Lock()
		w.objects[lm.ID] = lm
		w.mu.Unlock()
		if err := w.st.UpsertObject(lm); err != nil {
			w.log.Printf("world: persist landmark %s: %v", lm.ID, err)
		}
	}
}

// GrantWelcomeKit gives a first-time user the starter inventory and tells
// them about it. Existing inventory entries are preserved.
func (w *World) GrantWelcomeKit(userID string) {
	w.mu.Lock()
	u, ok := w.users[userID]
	if !ok {
		w.mu.Unlock()
		return
	}
	if u.Inventory == nil {
		u.Inventory = map[string]int{}
	}
	for item, n := range starterInventory {
		u.Inventory[item] += n
	}
	w.users[userID] = u
	post := cloneUser(u)
	w.mu.Unlock()

	if err := w.st.UpsertUser(post); err != nil {
		w.log.Printf("world: persist welcome kit %s: %v", userID, err)
	}
	w.Send(userID, protocol.SystemMsg{
		Type:      protocol.TypeSystem,
		Content:   "You find a traveler's pack at your feet: bread, a waterskin, flint, rope and a worn knife.",
		Timestamp: nowStamp(),
	})
}

// AnnounceDeath sends youDied to the victim and death to everyone else.
func (w *World) AnnounceDeath(u store.User, cause string) {
	w.Send(u.ID, protocol.DeathMsg{
		Type:      protocol.TypeYouDied,
		UserID:    u.ID,
		Nickname:  u.Nickname,
		Cause:     cause,
		Timestamp: nowStamp(),
	})
	w.Broadcast(protocol.DeathMsg{
		Type:      protocol.TypeDeath,
		UserID:    u.ID,
		Nickname:  u.Nickname,
		Cause:     cause,
		Timestamp: nowStamp(),
	}, u.ID)
}

// Respawn clears the death flag, moves the user back to the origin and
// resets attributes. The corpse stays where it fell.
func (w *World) Respawn(userID string) (store.User, bool) {
	w.mu.Lock()
	u, ok := w.users[userID]
	if !ok || !u.Dead {
		w.mu.Unlock()
		return store.User{}, false
	}
	u.Dead = false
	u.X, u.Y, u.Z = 0, 0, 0
	u.Status = "dazed"
	u.Attributes = map[string]float64{}
	w.users[userID] = u
	post := cloneUser(u)
	w.mu.Unlock()

	if err := w.st.UpsertUser(post); err != nil {
		w.log.Printf("world: persist respawn %s: %v", userID, err)
	}
	w.Send(userID, protocol.RespawnMsg{
		Type:      protocol.TypeRespawn,
		UserID:    userID,
		Timestamp: nowStamp(),
	})
	w.Broadcast(protocol.RespawnMsg{
		Type:      protocol.TypeRespawn,
		UserID:    userID,
		Timestamp: nowStamp(),
	}, userID)
	return post, true
}

// DecayAttributes applies the lazy per-24h decay to one user, keyed off
// hoursSince their last action. Floors stay at 1.0.
func (w *World) DecayAttributes(userID string, hoursSince float64) {
	if hoursSince <= 0 {
		return
	}
	rates := w.tune.DecayPer24h
	def := rates["default"]

	w.mu.Lock()
	u, ok := w.users[userID]
	if !ok || len(u.Attributes) == 0 {
		w.mu.Unlock()
		return
	}
	frac := hoursSince / 24.0
	for name, v := range u.Attributes {
		rate, ok := rates[name]
		if !ok {
			rate = def
		}
		v -= rate * frac
		if v < 1.0 {
			v = 1.0
		}
		u.Attributes[name] = v
	}
	w.users[userID] = u
	post := cloneUser(u)
	w.mu.Unlock()

	if err := w.st.UpsertUser(post); err != nil {
		w.log.Printf("world: persist decay %s: %v", userID, err)
	}
}
