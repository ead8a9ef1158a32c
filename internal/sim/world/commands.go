package world

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"worldloom.ai/internal/persistence/store"
	"worldloom.ai/internal/protocol"
)

// HandleCommand processes slash commands locally, without the decision
// service. Unknown commands get an error reply; nothing here takes a permit.
func (w *World) HandleCommand(userID, content string) {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "/move":
		w.cmdMove(userID, args)
	case "/look":
		w.cmdLook(userID)
	case "/pin":
		w.cmdPin(userID, args)
	case "/find":
		w.cmdFind(userID, strings.Join(args, " "))
	case "/say":
		w.cmdSay(userID, strings.TrimSpace(strings.TrimPrefix(content, fields[0])))
	case "/give":
		w.cmdGive(userID, args)
	default:
		w.Send(userID, protocol.ErrorMsg{
			Type:      protocol.TypeError,
			Code:      protocol.ErrUnknownOrder,
			Content:   "Unknown command " + cmd + ". Try /move, /look, /pin, /find, /say or /give.",
			Timestamp: nowStamp(),
		})
	}
}

func (w *World) cmdMove(userID string, args []string) {
	if len(args) < 2 {
		w.sendError(userID, protocol.ErrBadRequest, "Usage: /move dx dy [dz]")
		return
	}
	dx, err1 := strconv.Atoi(args[0])
	dy, err2 := strconv.Atoi(args[1])
	dz := 0
	var err3 error
	if len(args) > 2 {
		dz, err3 = strconv.Atoi(args[2])
	}
	if err1 != nil || err2 != nil || err3 != nil {
		w.sendError(userID, protocol.ErrBadRequest, "Offsets must be integers.")
		return
	}

	w.mu.Lock()
	u, ok := w.users[userID]
	if !ok {
		w.mu.Unlock()
		return
	}
	u.X += dx
	u.Y += dy
	u.Z += dz
	w.users[userID] = u
	post := cloneUser(u)
	w.mu.Unlock()

	if err := w.st.UpsertUser(post); err != nil {
		w.log.Printf("world: persist move %s: %v", userID, err)
	}

	upd := protocol.PositionUpdateMsg{
		Type:      protocol.TypePositionUpdate,
		UserID:    userID,
		X:         post.X,
		Y:         post.Y,
		Z:         post.Z,
		Timestamp: nowStamp(),
	}
	w.Send(userID, upd)
	w.BroadcastNearby(upd, post.X, post.Y, post.Z, w.tune.SummaryRadius, userID)
}

func (w *World) cmdLook(userID string) {
	w.mu.Lock()
	u, ok := w.users[userID]
	if !ok {
		w.mu.Unlock()
		return
	}
	sceneID := fmt.Sprintf("scene_%d_%d_%d", u.X, u.Y, u.Z)
	scene, hasScene := w.objects[sceneID]
	all := make([]store.WorldObject, 0, len(w.objects))
	for _, o := range w.objects {
		if o.Kind == store.KindGeneric || o.Kind == store.KindCorpse {
			all = append(all, o)
		}
	}
	w.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "You are at (%d,%d,%d) in the %s. The weather is %s.",
		u.X, u.Y, u.Z, BiomeAt(u.X, u.Y), WeatherAt(u.X, u.Y, time.Now()))
	if hasScene && scene.Description != "" {
		b.WriteString("\n" + scene.Description)
	}
	near := RankObjectsByDistance(NearbyObjects(all, u.X, u.Y, u.Z, w.tune.SummaryRadius), u.X, u.Y, u.Z, 10)
	if len(near) > 0 {
		b.WriteString("\nYou can see:")
		for _, o := range near {
			fmt.Fprintf(&b, "\n- %s (%d,%d,%d)", o.Name, o.X, o.Y, o.Z)
		}
	}

	w.Send(userID, protocol.NarrativeMsg{
		Type:      protocol.TypeNarrative,
		Content:   b.String(),
		Timestamp: nowStamp(),
	})
}

func (w *World) cmdPin(userID string, args []string) {
	if len(args) != 1 {
		w.sendError(userID, protocol.ErrBadRequest, "Usage: /pin <objectID>")
		return
	}
	objID := args[0]

	w.mu.Lock()
	u, uok := w.users[userID]
	_, ook := w.objects[objID]
	if !uok {
		w.mu.Unlock()
		return
	}
	if !ook {
		w.mu.Unlock()
		w.sendError(userID, protocol.ErrBadRequest, "No object with id "+objID+".")
		return
	}
	for _, id := range u.Bookmarks {
		if id == objID {
			w.mu.Unlock()
			w.sendSystem(userID, "Already bookmarked.")
			return
		}
	}
	if len(u.Bookmarks) >= w.tune.BookmarkCap {
		w.mu.Unlock()
		w.sendError(userID, protocol.ErrBadRequest,
			fmt.Sprintf("Bookmark limit reached (%d). Unpin something first.", w.tune.BookmarkCap))
		return
	}
	u.Bookmarks = append(append([]string(nil), u.Bookmarks...), objID)
	w.users[userID] = u
	post := cloneUser(u)
	w.mu.Unlock()

	if err := w.st.UpsertUser(post); err != nil {
		w.log.Printf("world: persist pin %s: %v", userID, err)
	}
	w.sendSystem(userID, "Bookmarked "+objID+".")
}

func (w *World) cmdFind(userID, query string) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		w.sendError(userID, protocol.ErrBadRequest, "Usage: /find <name>")
		return
	}

	w.mu.Lock()
	u, ok := w.users[userID]
	if !ok {
		w.mu.Unlock()
		return
	}
	var hits []store.WorldObject
	for _, o := range w.objects {
		if o.Kind != store.KindGeneric {
			continue
		}
		if strings.Contains(strings.ToLower(o.Name), query) {
			hits = append(hits, o)
		}
	}
	w.mu.Unlock()

	if len(hits) == 0 {
		w.sendSystem(userID, "Nothing called \""+query+"\" is known.")
		return
	}
	hits = RankObjectsByDistance(hits, u.X, u.Y, u.Z, 5)
	var b strings.Builder
	b.WriteString("Found:")
	for _, o := range hits {
		d := Manhattan(o.X, o.Y, o.Z, u.X, u.Y, u.Z)
		fmt.Fprintf(&b, "\n- %s [%s] at (%d,%d,%d), distance %d", o.Name, o.ID, o.X, o.Y, o.Z, d)
	}
	w.sendSystem(userID, b.String())
}

func (w *World) cmdSay(userID, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		w.sendError(userID, protocol.ErrBadRequest, "Usage: /say <text>")
		return
	}
	u, ok := w.User(userID)
	if !ok {
		return
	}
	msg := protocol.NarrativeMsg{
		Type:      protocol.TypeNarrative,
		Actor:     u.Nickname,
		Content:   text,
		Timestamp: nowStamp(),
	}
	w.Send(userID, msg)
	w.BroadcastNearby(msg, u.X, u.Y, u.Z, w.tune.SummaryRadius, userID)
}

func (w *World) cmdGive(userID string, args []string) {
	if len(args) < 3 {
		w.sendError(userID, protocol.ErrBadRequest, "Usage: /give <player> <item> <count>")
		return
	}
	targetName := args[0]
	count, err := strconv.Atoi(args[len(args)-1])
	if err != nil || count <= 0 {
		w.sendError(userID, protocol.ErrBadRequest, "Count must be a positive integer.")
		return
	}
	item := strings.Join(args[1:len(args)-1], " ")

	w.mu.Lock()
	giver, gok := w.users[userID]
	targetID, tok := w.names[targetName]
	if !gok {
		w.mu.Unlock()
		return
	}
	if !tok || targetID == userID {
		w.mu.Unlock()
		w.sendError(userID, protocol.ErrBadRequest, "No such player \""+targetName+"\".")
		return
	}
	if giver.Inventory[item] < count {
		w.mu.Unlock()
		w.sendError(userID, protocol.ErrBadRequest, "You do not have "+strconv.Itoa(count)+" "+item+".")
		return
	}
	target := w.users[targetID]
	dist := Manhattan(giver.X, giver.Y, giver.Z, target.X, target.Y, target.Z)

	if n := giver.Inventory[item] - count; n <= 0 {
		delete(giver.Inventory, item)
	} else {
		giver.Inventory[item] = n
	}
	w.users[userID] = giver
	post := cloneUser(giver)
	w.mu.Unlock()

	if err := w.st.UpsertUser(post); err != nil {
		w.log.Printf("world: persist give %s: %v", userID, err)
	}

	// Delivery takes one second per five units of distance, 1s..30s.
	delay := dist / 5
	if delay < 1 {
		delay = 1
	}
	if delay > 30 {
		delay = 30
	}
	w.sendSystem(userID, fmt.Sprintf("A courier takes %d %s to %s. Delivery in %ds.", count, item, targetName, delay))

	time.AfterFunc(time.Duration(delay)*time.Second, func() {
		w.mu.Lock()
		t, ok := w.users[targetID]
		if !ok {
			w.mu.Unlock()
			return
		}
		if t.Inventory == nil {
			t.Inventory = map[string]int{}
		}
		t.Inventory[item] += count
		w.users[targetID] = t
		tpost := cloneUser(t)
		w.mu.Unlock()

		if err := w.st.UpsertUser(tpost); err != nil {
			w.log.Printf("world: persist delivery %s: %v", targetID, err)
		}
		w.sendSystem(targetID, fmt.Sprintf("A courier hands you %d %s from %s.", count, item, post.Nickname))
		w.sendSystem(userID, fmt.Sprintf("Your delivery of %d %s reached %s.", count, item, targetName))
	})
}

func (w *World) sendSystem(userID, content string) {
	w.Send(userID, protocol.SystemMsg{
		Type:      protocol.TypeSystem,
		Content:   content,
		Timestamp: nowStamp(),
	})
}

func (w *World) sendError(userID, code, content string) {
	w.Send(userID, protocol.ErrorMsg{
		Type:      protocol.TypeError,
		Code:      code,
		Content:   content,
		Timestamp: nowStamp(),
	})
}
