package world

import (
	"testing"

	"worldloom.ai/internal/persistence/store"
)

func TestContextSnapshotDoesNotAliasCache(t *testing.T) {
	w := testWorld(t)
	connectAt(t, w, "u1", 0, 0, 0)
	u, _ := w.User("u1")
	u.Inventory["apple"] = 3
	u.Bookmarks = []string{"obj_well"}
	w.PutUser(u)
	w.PutObject(store.WorldObject{
		ID: "obj_well", Name: "well", X: 1, Y: 0, Z: 0,
		Properties: map[string]any{"depth": "twelve"},
	})

	c, err := w.BuildContext("u1")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	// Mutating the snapshot must not reach the cache.
	c.User.Inventory["apple"] = 99
	var found bool
	for i := range c.Nearby {
		if c.Nearby[i].ID == "obj_well" {
			c.Nearby[i].Properties["depth"] = "drained"
			found = true
		}
	}
	if !found {
		t.Fatalf("well missing from nearby: %+v", c.Nearby)
	}
	if len(c.Bookmarked) != 1 {
		t.Fatalf("bookmarked = %d", len(c.Bookmarked))
	}
	c.Bookmarked[0].Properties["depth"] = "collapsed"

	u, _ = w.User("u1")
	if u.Inventory["apple"] != 3 {
		t.Fatalf("snapshot user aliases cached inventory: %d", u.Inventory["apple"])
	}
	o, _ := w.Object("obj_well")
	if o.Properties["depth"] != "twelve" {
		t.Fatalf("snapshot object aliases cached properties: %v", o.Properties["depth"])
	}
}
