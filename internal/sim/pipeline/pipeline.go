// Package pipeline drives one player action from admission to broadcast.
//
// Every action moves through the same stages: admitted, context built,
// decision pending, decision received, applying, persisted, broadcasted.
// A failure at any stage is terminal for that action and never mutates
// world state; the initiating connection always hears why.
package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"worldloom.ai/internal/decision"
	"worldloom.ai/internal/persistence/store"
	"worldloom.ai/internal/protocol"
	"worldloom.ai/internal/sim/admission"
	"worldloom.ai/internal/sim/world"
)

// Decider is the decision-service surface the pipeline needs. Satisfied by
// *decision.Client.
type Decider interface {
	Decide(ctx context.Context, systemContext, userAction, apiKey, model string) (string, error)
}

type Pipeline struct {
	world  *world.World
	adm    *admission.Controller
	decide Decider
	log    *log.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func New(w *world.World, adm *admission.Controller, d Decider, logger *log.Logger) *Pipeline {
	return &Pipeline{
		world:    w,
		adm:      adm,
		decide:   d,
		log:      logger,
		lastSeen: make(map[string]time.Time),
	}
}

// Admission exposes the controller for /metrics and the transport's
// session-close cleanup.
func (p *Pipeline) Admission() *admission.Controller { return p.adm }

// Run processes one free-text action for userID. It blocks until the action
// reaches a terminal stage, so the transport should call it on its own
// goroutine.
func (p *Pipeline) Run(ctx context.Context, userID string, cmd protocol.CommandMsg) {
	w := p.world
	tune := w.Tuning()

	u, ok := w.User(userID)
	if !ok {
		return
	}

	// A dead user's next action wakes them at the origin instead of running.
	if u.Dead {
		if _, ok := w.Respawn(userID); ok {
			w.Send(userID, protocol.SystemMsg{
				Type:      protocol.TypeSystem,
				Content:   "You stir awake at the Origin Obelisk, dazed but alive.",
				Timestamp: stamp(),
			})
		}
		return
	}

	// Per-client cooldown: reject outright, never queue.
	if !p.adm.AllowNow(userID) {
		w.Send(userID, protocol.ErrorMsg{
			Type:      protocol.TypeError,
			Code:      protocol.ErrCooldown,
			Content:   "Slow down. Wait a moment between actions.",
			Timestamp: stamp(),
		})
		return
	}

	// Global permit pool: one queued notice, then block until a slot frees.
	release, err := p.adm.Acquire(ctx, func() {
		w.Send(userID, protocol.SystemMsg{
			Type:      protocol.TypeSystem,
			Content:   "[QUEUED] The world is busy. Waiting for your turn...",
			Timestamp: stamp(),
		})
	})
	if err != nil {
		return
	}
	defer release()

	p.decayIdleTime(userID)

	snap, err := w.BuildContext(userID)
	if err != nil {
		p.log.Printf("pipeline: context %s: %v", userID, err)
		return
	}

	raw, err := p.decide.Decide(ctx, snap.Render(), cmd.Content, cmd.APIKey, cmd.Model)
	if err != nil {
		kind := decision.ClassifyError(err)
		p.log.Printf("pipeline: decide %s: %v", userID, err)
		w.Send(userID, protocol.ErrorMsg{
			Type:      protocol.TypeError,
			Code:      errorCode(kind),
			Content:   decision.UserMessage(kind),
			Timestamp: stamp(),
		})
		return
	}

	rec := decision.Repair(raw)

	out, err := w.ApplyRecord(userID, cmd.Content, rec)
	if err != nil {
		p.log.Printf("pipeline: apply %s: %v", userID, err)
		w.Send(userID, protocol.ErrorMsg{
			Type:      protocol.TypeError,
			Code:      protocol.ErrInternal,
			Content:   "Something went wrong applying the outcome.",
			Timestamp: stamp(),
		})
		return
	}

	if rec.NewDiscovery != nil && rec.NewDiscovery.Name != "" {
		d := rec.NewDiscovery
		w.RegisterMaterial(store.Material{
			ID:          d.ID,
			Name:        d.Name,
			NameEN:      d.NameEN,
			Kind:        d.Kind,
			Recipe:      d.Recipe,
			Description: d.Description,
			Creator:     userID,
		}, out.User.Nickname)
	}
	if rec.NewObjectType != nil && rec.NewObjectType.Name != "" {
		ot := rec.NewObjectType
		w.RegisterObjectType(store.ObjectType{
			ID:            ot.ID,
			Name:          ot.Name,
			NameEN:        ot.NameEN,
			Category:      ot.Category,
			BaseMaterials: ot.BaseMaterials,
			Description:   ot.Description,
		}, userID)
	}

	persisted, reason, details := p.persist(rec, out)

	w.Send(userID, protocol.ActionMsg{
		Type:             protocol.TypeAction,
		Actor:            out.User.Nickname,
		Action:           cmd.Content,
		Result:           rec.Narrative,
		Success:          rec.Success,
		Persisted:        persisted,
		PersistedReason:  reason,
		PersistedDetails: details,
		Timestamp:        stamp(),
	})

	w.BroadcastNearby(protocol.ActionSummaryMsg{
		Type:      protocol.TypeActionSummary,
		Actor:     out.User.Nickname,
		Action:    cmd.Content,
		Timestamp: stamp(),
	}, out.User.X, out.User.Y, out.User.Z, tune.SummaryRadius, userID)

	if out.Moved {
		upd := protocol.PositionUpdateMsg{
			Type:      protocol.TypePositionUpdate,
			UserID:    userID,
			X:         out.MovedTo[0],
			Y:         out.MovedTo[1],
			Z:         out.MovedTo[2],
			Timestamp: stamp(),
		}
		w.Send(userID, upd)
		w.BroadcastNearby(upd, out.MovedTo[0], out.MovedTo[1], out.MovedTo[2], tune.SummaryRadius, userID)
	}

	if out.Died {
		w.AnnounceDeath(out.User, cmd.Content)
	}

	w.AppendHistory(out.User.Nickname, cmd.Content, rec.Narrative)
}

// persist decides whether the outcome reaches the store and why not when it
// does not. Failed actions and empty outcomes are never written.
func (p *Pipeline) persist(rec decision.Record, out world.ApplyOutcome) (persisted bool, reason, details string) {
	if !rec.Success {
		return false, "action_failed", ""
	}
	if len(out.TouchedObjects) == 0 && len(out.DestroyedIDs) == 0 && !out.UserChanged {
		return false, "no_change", ""
	}
	ok, notes := p.world.PersistOutcome(out)
	if !ok {
		return false, "store_error", joinNotes(notes)
	}
	return true, "", ""
}

// decayIdleTime applies attribute decay for the gap since the user's last
// action, then restarts the clock.
func (p *Pipeline) decayIdleTime(userID string) {
	now := time.Now()
	p.mu.Lock()
	last, seen := p.lastSeen[userID]
	p.lastSeen[userID] = now
	p.mu.Unlock()
	if !seen {
		return
	}
	p.world.DecayAttributes(userID, now.Sub(last).Hours())
}

// Forget drops per-user pipeline state when a session closes.
func (p *Pipeline) Forget(userID string) {
	p.mu.Lock()
	delete(p.lastSeen, userID)
	p.mu.Unlock()
	p.adm.Forget(userID)
}

func errorCode(kind decision.ErrorKind) string {
	switch kind {
	case decision.KindAuth:
		return protocol.ErrDecisionAuth
	case decision.KindRateLimit:
		return protocol.ErrDecisionRateLimit
	case decision.KindTimeout:
		return protocol.ErrDecisionTimeout
	case decision.KindBadRequest:
		return protocol.ErrDecisionBadRequest
	default:
		return protocol.ErrDecisionUnavailable
	}
}

func joinNotes(notes []string) string {
	out := ""
	for i, n := range notes {
		if i > 0 {
			out += "; "
		}
		out += n
	}
	return out
}

func stamp() string { return time.Now().UTC().Format(time.RFC3339) }
