// Package world owns the in-process mirror of the durable store: objects,
// users, registries and a bounded history window, plus the live session set.
// One mutex guards all structural access. The lock is only ever held across
// in-memory mutation; store writes and network sends happen after release.
package world

import (
	"log"
	"sync"
	"time"

	"worldloom.ai/internal/persistence/store"
	"worldloom.ai/internal/sim/tuning"
)

type World struct {
	st   *store.Store
	log  *log.Logger
	tune tuning.Tuning

	mu sync.Mutex

	users       map[string]store.User
	objects     map[string]store.WorldObject
	materials   map[string]store.Material
	objectTypes map[string]store.ObjectType
	supporters  map[string]store.Supporter

	// names maps a claimed nickname to its user id. Checking and rekeying
	// this map shares the critical section with the session tables so a
	// name claim is exclusive.
	names map[string]string

	sessions map[string]*Session

	history []store.LogEntry

	// Counters surfaced on /metrics.
	actionsTotal uint64
	reapedTotal  uint64
}

// New builds an empty world around a store handle. Call Load before serving.
func New(st *store.Store, tune tuning.Tuning, logger *log.Logger) *World {
	return &World{
		st:          st,
		log:         logger,
		tune:        tune,
		users:       make(map[string]store.User),
		objects:     make(map[string]store.WorldObject),
		materials:   make(map[string]store.Material),
		objectTypes: make(map[string]store.ObjectType),
		supporters:  make(map[string]store.Supporter),
		names:       make(map[string]string),
		sessions:    make(map[string]*Session),
	}
}

// Load repopulates the cache from the store. Everything in the cache is a
// copy of a stored row; nothing cache-only survives a restart.
func (w *World) Load() error {
	users, err := w.st.AllUsers()
	if err != nil {
		return err
	}
	objects, err := w.st.AllObjects()
	if err != nil {
		return err
	}
	materials, err := w.st.AllMaterials()
	if err != nil {
		return err
	}
	objectTypes, err := w.st.AllObjectTypes()
	if err != nil {
		return err
	}
	supporters, err := w.st.AllSupporters()
	if err != nil {
		return err
	}
	history, err := w.st.RecentLogs(w.tune.ContextHistory)
	if err != nil {
		return err
	}

	// A stored nickname stays claimed across restarts whether or not its
	// owner ever reconnects.
	names := make(map[string]string, len(users))
	for id, u := range users {
		if u.Nickname != "" {
			names[u.Nickname] = id
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.users = users
	w.objects = objects
	w.materials = materials
	w.objectTypes = objectTypes
	w.supporters = supporters
	w.names = names
	w.history = history
	return nil
}

// User returns a copy of the cached user.
func (w *World) User(id string) (store.User, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	u, ok := w.users[id]
	return u, ok
}

// Object returns a copy of the cached object.
func (w *World) Object(id string) (store.WorldObject, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, ok := w.objects[id]
	return o, ok
}

// PutUser replaces the cached user and persists it. The store write happens
// after the lock is released; on failure the cache keeps the new value and
// the divergence is logged (the next successful write reconciles it).
func (w *World) PutUser(u store.User) bool {
	w.mu.Lock()
	w.users[u.ID] = u
	w.mu.Unlock()
	if err := w.st.UpsertUser(u); err != nil {
		return false
	}
	return true
}

// PutObject replaces the cached object and persists it, same policy as
// PutUser.
func (w *World) PutObject(o store.WorldObject) bool {
	w.mu.Lock()
	w.objects[o.ID] = o
	w.mu.Unlock()
	if err := w.st.UpsertObject(o); err != nil {
		return false
	}
	return true
}

func (w *World) Tuning() tuning.Tuning { return w.tune }

func (w *World) Store() *store.Store { return w.st }

func nowStamp() string { return time.Now().UTC().Format(time.RFC3339) }
