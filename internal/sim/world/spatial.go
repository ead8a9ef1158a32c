package world

import (
	"sort"

	"worldloom.ai/internal/persistence/store"
)

// Manhattan is the distance metric for every proximity decision: context
// assembly, broadcast targeting, delivery delays.
func Manhattan(ax, ay, az, bx, by, bz int) int {
	return abs(ax-bx) + abs(ay-by) + abs(az-bz)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// NearbyObjects filters by Manhattan distance <= radius.
func NearbyObjects(objs []store.WorldObject, ox, oy, oz, radius int) []store.WorldObject {
	var out []store.WorldObject
	for _, o := range objs {
		if Manhattan(o.X, o.Y, o.Z, ox, oy, oz) <= radius {
			out = append(out, o)
		}
	}
	return out
}

// RankObjectsByDistance sorts ascending by distance from the origin and
// truncates to limit. Ties carry no defined secondary order; callers must
// not rely on the relative order of equidistant entries.
func RankObjectsByDistance(objs []store.WorldObject, ox, oy, oz, limit int) []store.WorldObject {
	ranked := make([]store.WorldObject, len(objs))
	copy(ranked, objs)
	sort.Slice(ranked, func(i, j int) bool {
		return Manhattan(ranked[i].X, ranked[i].Y, ranked[i].Z, ox, oy, oz) <
			Manhattan(ranked[j].X, ranked[j].Y, ranked[j].Z, ox, oy, oz)
	})
	if limit >= 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
