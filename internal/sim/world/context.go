package world

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"worldloom.ai/internal/persistence/store"
)

// Context is the snapshot handed to the decision service. It is assembled
// in one short lock section and rendered afterwards; nothing in it aliases
// cache-owned memory.
type Context struct {
	User       store.User
	Nearby     []store.WorldObject
	Bookmarked []store.WorldObject
	Locations  []string
	History    []store.LogEntry

	MaterialCount   int
	ObjectTypeCount int
	MaterialNames   []string

	Biome     string
	Weather   string
	LocalHour int
}

// BuildContext snapshots everything the decision service needs about the
// acting user's surroundings: ranked nearby objects, bookmarked objects
// regardless of distance, ranked named locations, the recent history window
// and registry summaries.
func (w *World) BuildContext(userID string) (Context, error) {
	t := w.tune

	w.mu.Lock()
	u, ok := w.users[userID]
	if !ok {
		w.mu.Unlock()
		return Context{}, fmt.Errorf("unknown user %s", userID)
	}
	u = cloneUser(u)

	// Escaping objects get their Properties cloned here, while the lock
	// still pins the maps. The all slice never leaks maps; only names and
	// positions are read from it.
	all := make([]store.WorldObject, 0, len(w.objects))
	var near []store.WorldObject
	for _, o := range w.objects {
		all = append(all, o)
		if Manhattan(o.X, o.Y, o.Z, u.X, u.Y, u.Z) <= t.NearbyRadius {
			o.Properties = cloneAnyMap(o.Properties)
			near = append(near, o)
		}
	}

	var bookmarked []store.WorldObject
	for _, id := range u.Bookmarks {
		if o, ok := w.objects[id]; ok {
			o.Properties = cloneAnyMap(o.Properties)
			bookmarked = append(bookmarked, o)
		}
	}

	histStart := len(w.history) - t.ContextHistory
	if histStart < 0 {
		histStart = 0
	}
	history := make([]store.LogEntry, len(w.history)-histStart)
	copy(history, w.history[histStart:])

	materialCount := len(w.materials)
	objectTypeCount := len(w.objectTypes)
	materialNames := make([]string, 0, len(w.materials))
	for _, m := range w.materials {
		materialNames = append(materialNames, m.Name)
	}
	w.mu.Unlock()

	nearby := RankObjectsByDistance(near, u.X, u.Y, u.Z, t.ContextObjectCap)

	var named []store.WorldObject
	for _, o := range all {
		if o.Kind == store.KindGeneric && o.Name != "" {
			named = append(named, o)
		}
	}
	named = RankObjectsByDistance(named, u.X, u.Y, u.Z, t.ContextLocationCap)
	locations := make([]string, len(named))
	for i, o := range named {
		locations[i] = fmt.Sprintf("%s(%d,%d,%d)", o.Name, o.X, o.Y, o.Z)
	}

	sort.Strings(materialNames)

	now := time.Now()
	return Context{
		User:            u,
		Nearby:          nearby,
		Bookmarked:      bookmarked,
		Locations:       locations,
		History:         history,
		MaterialCount:   materialCount,
		ObjectTypeCount: objectTypeCount,
		MaterialNames:   materialNames,
		Biome:           BiomeAt(u.X, u.Y),
		Weather:         WeatherAt(u.X, u.Y, now),
		LocalHour:       LocalHour(u.X, u.TimeOffset, now),
	}, nil
}

// Render serializes the context into the system prompt for the decision
// service.
func (c Context) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are the world engine. Decide what happens when a player acts.\n\n")
	fmt.Fprintf(&b, "Player: %s at (%d,%d,%d)", c.User.Nickname, c.User.X, c.User.Y, c.User.Z)
	if c.User.Status != "" {
		fmt.Fprintf(&b, " [%s]", c.User.Status)
	}
	fmt.Fprintf(&b, "\nBiome: %s, weather: %s, local hour: %d\n", c.Biome, c.Weather, c.LocalHour)

	if len(c.User.Inventory) > 0 {
		items := make([]string, 0, len(c.User.Inventory))
		for item, n := range c.User.Inventory {
			items = append(items, fmt.Sprintf("%s x%d", item, n))
		}
		sort.Strings(items)
		fmt.Fprintf(&b, "Inventory: %s\n", strings.Join(items, ", "))
	}
	if len(c.User.Attributes) > 0 {
		attrs := make([]string, 0, len(c.User.Attributes))
		for name, v := range c.User.Attributes {
			attrs = append(attrs, fmt.Sprintf("%s=%.2f", name, v))
		}
		sort.Strings(attrs)
		fmt.Fprintf(&b, "Attributes: %s\n", strings.Join(attrs, ", "))
	}

	if len(c.Nearby) > 0 {
		b.WriteString("\nNearby objects:\n")
		for _, o := range c.Nearby {
			fmt.Fprintf(&b, "- %s [%s] (%d,%d,%d): %s\n", o.Name, o.ID, o.X, o.Y, o.Z, o.Description)
		}
	}
	if len(c.Bookmarked) > 0 {
		b.WriteString("\nBookmarked objects:\n")
		for _, o := range c.Bookmarked {
			fmt.Fprintf(&b, "- %s [%s] (%d,%d,%d): %s\n", o.Name, o.ID, o.X, o.Y, o.Z, o.Description)
		}
	}
	if len(c.Locations) > 0 {
		fmt.Fprintf(&b, "\nKnown locations: %s\n", strings.Join(c.Locations, ", "))
	}
	if len(c.History) > 0 {
		b.WriteString("\nRecent events:\n")
		for _, e := range c.History {
			fmt.Fprintf(&b, "- %s: %s -> %s\n", e.Actor, e.Action, e.Result)
		}
	}

	fmt.Fprintf(&b, "\nRegistries: %d materials, %d blueprints.\n", c.MaterialCount, c.ObjectTypeCount)
	if len(c.MaterialNames) > 0 {
		fmt.Fprintf(&b, "Known materials: %s\n", strings.Join(c.MaterialNames, ", "))
	}

	b.WriteString("\nRespond with one JSON object: {success, narrative, world_update{create,destroy,modify}, user_update, extracted_facts, new_discovery, new_object_type}.\n")
	return b.String()
}
