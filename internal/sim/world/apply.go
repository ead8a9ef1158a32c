package world

import (
	"fmt"

	"github.com/google/uuid"

	"worldloom.ai/internal/decision"
	"worldloom.ai/internal/persistence/store"
)

// ApplyOutcome carries the post-images collected while the lock was held.
// Persistence happens afterwards, from these copies, never under the lock.
type ApplyOutcome struct {
	WorldChanged bool
	UserChanged  bool
	Died         bool
	MovedTo      [3]int
	Moved        bool

	// Skipped operations, one note per invalid op. The batch is not atomic;
	// a skip never aborts the rest.
	Skipped []string

	TouchedObjects []store.WorldObject
	DestroyedIDs   []string
	User           store.User
}

// ApplyRecord mutates the cache under one critical section according to a
// repaired decision record. Invalid operations are skipped one by one. The
// returned outcome holds everything the persist step needs.
func (w *World) ApplyRecord(userID string, action string, rec decision.Record) (ApplyOutcome, error) {
	out := ApplyOutcome{}

	w.mu.Lock()
	defer w.mu.Unlock()

	u, ok := w.users[userID]
	if !ok {
		return out, fmt.Errorf("unknown user %s", userID)
	}
	if u.Inventory == nil {
		u.Inventory = map[string]int{}
	}
	if u.Attributes == nil {
		u.Attributes = map[string]float64{}
	}
	if u.Skills == nil {
		u.Skills = map[string]float64{}
	}

	// world_update.create
	for _, spec := range rec.WorldUpdate.Create {
		if spec.Name == "" && spec.Description == "" && len(spec.Properties) == 0 {
			out.Skipped = append(out.Skipped, "create: empty object spec")
			continue
		}
		id := spec.ID
		if id == "" {
			id = "obj_" + uuid.NewString()
		}
		x, y, z := u.X, u.Y, u.Z
		if spec.Position != nil {
			x, y, z = CoerceTriple(spec.Position)
		}
		o := store.WorldObject{
			ID:             id,
			Name:           spec.Name,
			X:              x,
			Y:              y,
			Z:              z,
			Description:    spec.Description,
			Properties:     spec.Properties,
			Indestructible: spec.Indestructible,
			Creator:        userID,
			CreatedAt:      nowStamp(),
		}
		if o.Properties == nil {
			o.Properties = map[string]any{}
		}
		w.objects[id] = o
		out.TouchedObjects = append(out.TouchedObjects, o)
		out.WorldChanged = true
	}

	// world_update.destroy
	for _, id := range rec.WorldUpdate.Destroy {
		o, ok := w.objects[id]
		if !ok {
			out.Skipped = append(out.Skipped, "destroy: no such object "+id)
			continue
		}
		if o.Indestructible {
			out.Skipped = append(out.Skipped, "destroy: "+id+" is indestructible")
			continue
		}
		delete(w.objects, id)
		out.DestroyedIDs = append(out.DestroyedIDs, id)
		out.WorldChanged = true
	}

	// world_update.modify
	for id, patch := range rec.WorldUpdate.Modify {
		o, ok := w.objects[id]
		if !ok {
			out.Skipped = append(out.Skipped, "modify: no such object "+id)
			continue
		}
		if len(patch) == 0 {
			continue
		}
		changed := false
		for field, v := range patch {
			switch field {
			case "name":
				if s, ok := v.(string); ok {
					o.Name = s
					changed = true
				}
			case "description":
				if s, ok := v.(string); ok {
					o.Description = s
					changed = true
				}
			case "position":
				o.X, o.Y, o.Z = CoerceTriple(v)
				changed = true
			case "properties":
				if m, ok := v.(map[string]any); ok {
					for pk, pv := range m {
						o.Properties[pk] = pv
					}
					changed = true
				}
			default:
				o.Properties[field] = v
				changed = true
			}
		}
		if !changed {
			continue
		}
		w.objects[id] = o
		out.TouchedObjects = append(out.TouchedObjects, o)
		out.WorldChanged = true
	}

	// user_update
	uu := rec.UserUpdate
	for item, delta := range uu.Inventory {
		n := u.Inventory[item] + delta
		if n <= 0 {
			delete(u.Inventory, item)
		} else {
			u.Inventory[item] = n
		}
		out.UserChanged = true
	}
	for name, delta := range uu.Attributes {
		v := u.Attributes[name] + delta
		if v < 1.0 {
			v = 1.0
		}
		u.Attributes[name] = v
		out.UserChanged = true
	}
	for name, delta := range uu.Skills {
		v := u.Skills[name] + delta
		if v < 0 {
			v = 0
		}
		u.Skills[name] = v
		out.UserChanged = true
	}
	if uu.PositionDelta != nil {
		dx, dy, dz := CoerceTriple(uu.PositionDelta)
		u.X += dx
		u.Y += dy
		u.Z += dz
		out.Moved = true
		out.MovedTo = [3]int{u.X, u.Y, u.Z}
		out.UserChanged = true
	}
	if uu.Status != "" {
		u.Status = uu.Status
		out.UserChanged = true
	}
	if uu.IsDead != nil && *uu.IsDead && !u.Dead {
		u.Dead = true
		out.Died = true
		out.UserChanged = true

		corpse := w.makeCorpseLocked(u)
		w.objects[corpse.ID] = corpse
		out.TouchedObjects = append(out.TouchedObjects, corpse)
		u.Inventory = map[string]int{}
		out.WorldChanged = true
	}

	// extracted_facts: append-only, never overwritten.
	for _, fact := range rec.ExtractedFacts {
		if fact == "" {
			continue
		}
		o := store.WorldObject{
			ID:          "fact_" + uuid.NewString(),
			Name:        "fact",
			X:           u.X,
			Y:           u.Y,
			Z:           u.Z,
			Description: fact,
			Properties:  map[string]any{},
			Creator:     userID,
			CreatedAt:   nowStamp(),
			Kind:        store.KindFact,
		}
		w.objects[o.ID] = o
		out.TouchedObjects = append(out.TouchedObjects, o)
		out.WorldChanged = true
	}

	// Scene snapshot: one per coordinate, holding the latest narrative.
	// Synthesized fallback records stay narrative-only and leave no object.
	if rec.Success && rec.Narrative != "" && !rec.Synthesized {
		scene := store.WorldObject{
			ID:          fmt.Sprintf("scene_%d_%d_%d", u.X, u.Y, u.Z),
			Name:        "scene",
			X:           u.X,
			Y:           u.Y,
			Z:           u.Z,
			Description: rec.Narrative,
			Properties:  map[string]any{"last_action": action},
			Creator:     userID,
			CreatedAt:   nowStamp(),
			Kind:        store.KindScene,
		}
		w.objects[scene.ID] = scene
		out.TouchedObjects = append(out.TouchedObjects, scene)
	}

	w.users[userID] = u

	// Post-images must not share maps with cache entries; the persist step
	// reads them after the lock is released.
	for i := range out.TouchedObjects {
		out.TouchedObjects[i].Properties = cloneAnyMap(out.TouchedObjects[i].Properties)
	}
	out.User = cloneUser(u)
	return out, nil
}

func cloneAnyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneUser(u store.User) store.User {
	inv := make(map[string]int, len(u.Inventory))
	for k, v := range u.Inventory {
		inv[k] = v
	}
	attrs := make(map[string]float64, len(u.Attributes))
	for k, v := range u.Attributes {
		attrs[k] = v
	}
	skills := make(map[string]float64, len(u.Skills))
	for k, v := range u.Skills {
		skills[k] = v
	}
	u.Inventory = inv
	u.Attributes = attrs
	u.Skills = skills
	u.Bookmarks = append([]string(nil), u.Bookmarks...)
	return u
}

// makeCorpseLocked builds the corpse object holding a dead user's inventory.
// Caller holds the lock.
func (w *World) makeCorpseLocked(u store.User) store.WorldObject {
	held := make(map[string]any, len(u.Inventory))
	for item, n := range u.Inventory {
		held[item] = n
	}
	return store.WorldObject{
		ID:          "corpse_" + uuid.NewString(),
		Name:        "corpse of " + u.Nickname,
		X:           u.X,
		Y:           u.Y,
		Z:           u.Z,
		Description: "The fallen remains of " + u.Nickname + ".",
		Properties:  map[string]any{"inventory": held, "owner": u.ID},
		Creator:     u.ID,
		CreatedAt:   nowStamp(),
		Kind:        store.KindCorpse,
	}
}

// PersistOutcome writes the collected post-images to the store, outside the
// lock. It returns false with detail notes when any write fails; the cache
// is not rolled back (the divergence closes on the next successful write).
func (w *World) PersistOutcome(out ApplyOutcome) (ok bool, details []string) {
	ok = true
	for _, o := range out.TouchedObjects {
		if err := w.st.UpsertObject(o); err != nil {
			ok = false
			details = append(details, "object "+o.ID+": "+err.Error())
		}
	}
	for _, id := range out.DestroyedIDs {
		if err := w.st.DeleteObject(id); err != nil {
			ok = false
			details = append(details, "delete "+id+": "+err.Error())
		}
	}
	if out.UserChanged {
		if err := w.st.UpsertUser(out.User); err != nil {
			ok = false
			details = append(details, "user "+out.User.ID+": "+err.Error())
		}
	}
	return ok, details
}
