package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// readmeID is the synthetic registry counter row present in the materials
// and object_types tables.
const readmeID = "_README"

// Store owns the authoritative copy of all entities. One handle is
// constructed at startup and passed to every component; there are no
// package-level singletons.
//
// All writes for a kind are upserts keyed by primary id. Failed writes are
// logged and reported as errors to the caller; they never panic past this
// boundary.
type Store struct {
	db  *sql.DB
	log *log.Logger

	// exportMu serializes whole-store exports against each other. It is
	// never taken during per-entity writes.
	exportMu sync.Mutex
}

func Open(path string, logger *log.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, log: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func initPragmas(db *sql.DB) error {
	// WAL keeps readers unblocked during the append-heavy log workload.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			nickname TEXT NOT NULL DEFAULT '',
			x INTEGER NOT NULL DEFAULT 0,
			y INTEGER NOT NULL DEFAULT 0,
			z INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT '',
			inventory TEXT NOT NULL DEFAULT '{}',
			attributes TEXT NOT NULL DEFAULT '{}',
			skills TEXT NOT NULL DEFAULT '{}',
			bookmarks TEXT NOT NULL DEFAULT '[]',
			nickname_claimed INTEGER NOT NULL DEFAULT 0,
			is_dead INTEGER NOT NULL DEFAULT 0,
			time_offset REAL NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS objects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			x INTEGER NOT NULL DEFAULT 0,
			y INTEGER NOT NULL DEFAULT 0,
			z INTEGER NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT '',
			properties TEXT NOT NULL DEFAULT '{}',
			indestructible INTEGER NOT NULL DEFAULT 0,
			creator TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS materials (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			name_en TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT '',
			recipe TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			properties TEXT NOT NULL DEFAULT '{}',
			creator TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS object_types (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			name_en TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			base_materials TEXT NOT NULL DEFAULT '[]',
			description TEXT NOT NULL DEFAULT '',
			properties TEXT NOT NULL DEFAULT '{}',
			creator TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL DEFAULT '',
			actor TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL DEFAULT '',
			result TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS rules (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT 'null'
		);`,
		`CREATE TABLE IF NOT EXISTS supporters (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			flag INTEGER NOT NULL DEFAULT 0,
			supporter_name TEXT NOT NULL DEFAULT '',
			amount REAL NOT NULL DEFAULT 0,
			granted_by TEXT NOT NULL DEFAULT '',
			registered_at TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_objects_position ON objects(x, y, z);`,
		`CREATE INDEX IF NOT EXISTS idx_users_nickname ON users(nickname);`,
		`CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (s *Store) fail(op string, err error) error {
	if s.log != nil {
		s.log.Printf("store: %s: %v", op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ---- users ----

const upsertUserSQL = `INSERT INTO users
	(id, nickname, x, y, z, status, inventory, attributes, skills, bookmarks, nickname_claimed, is_dead, time_offset, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	nickname=excluded.nickname, x=excluded.x, y=excluded.y, z=excluded.z,
	status=excluded.status, inventory=excluded.inventory, attributes=excluded.attributes,
	skills=excluded.skills, bookmarks=excluded.bookmarks, nickname_claimed=excluded.nickname_claimed,
	is_dead=excluded.is_dead, time_offset=excluded.time_offset`

func (s *Store) UpsertUser(u User) error {
	_, err := s.db.Exec(upsertUserSQL,
		u.ID, u.Nickname, u.X, u.Y, u.Z, u.Status,
		marshalJSON(u.Inventory), marshalJSON(u.Attributes), marshalJSON(u.Skills),
		marshalJSON(u.Bookmarks), boolInt(u.NicknameClaimed), boolInt(u.Dead),
		u.TimeOffset, u.CreatedAt)
	if err != nil {
		return s.fail("upsert user "+u.ID, err)
	}
	return nil
}

func (s *Store) GetUser(id string) (User, bool, error) {
	row := s.db.QueryRow(`SELECT id, nickname, x, y, z, status, inventory, attributes, skills, bookmarks, nickname_claimed, is_dead, time_offset, created_at FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, s.fail("get user "+id, err)
	}
	return u, true, nil
}

func (s *Store) AllUsers() (map[string]User, error) {
	rows, err := s.db.Query(`SELECT id, nickname, x, y, z, status, inventory, attributes, skills, bookmarks, nickname_claimed, is_dead, time_offset, created_at FROM users`)
	if err != nil {
		return nil, s.fail("all users", err)
	}
	defer rows.Close()
	out := make(map[string]User)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, s.fail("all users", err)
		}
		out[u.ID] = u
	}
	return out, rows.Err()
}

func (s *Store) DeleteUser(id string) error {
	if _, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id); err != nil {
		return s.fail("delete user "+id, err)
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanUser(r rowScanner) (User, error) {
	var u User
	var inv, attrs, skills, marks string
	var claimed, dead int
	err := r.Scan(&u.ID, &u.Nickname, &u.X, &u.Y, &u.Z, &u.Status, &inv, &attrs, &skills, &marks, &claimed, &dead, &u.TimeOffset, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	u.Inventory = map[string]int{}
	u.Attributes = map[string]float64{}
	u.Skills = map[string]float64{}
	_ = json.Unmarshal([]byte(inv), &u.Inventory)
	_ = json.Unmarshal([]byte(attrs), &u.Attributes)
	_ = json.Unmarshal([]byte(skills), &u.Skills)
	_ = json.Unmarshal([]byte(marks), &u.Bookmarks)
	u.NicknameClaimed = claimed != 0
	u.Dead = dead != 0
	return u, nil
}

// ---- objects ----

const upsertObjectSQL = `INSERT INTO objects
	(id, name, x, y, z, description, properties, indestructible, creator, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	name=excluded.name, x=excluded.x, y=excluded.y, z=excluded.z,
	description=excluded.description, properties=excluded.properties,
	indestructible=excluded.indestructible, creator=excluded.creator`

func (s *Store) UpsertObject(o WorldObject) error {
	props := o.Properties
	if o.Kind != KindGeneric {
		props = make(map[string]any, len(o.Properties)+1)
		for k, v := range o.Properties {
			props[k] = v
		}
		props["kind"] = o.Kind.String()
	}
	_, err := s.db.Exec(upsertObjectSQL,
		o.ID, o.Name, o.X, o.Y, o.Z, o.Description,
		marshalJSON(props), boolInt(o.Indestructible), o.Creator, o.CreatedAt)
	if err != nil {
		return s.fail("upsert object "+o.ID, err)
	}
	return nil
}

func (s *Store) GetObject(id string) (WorldObject, bool, error) {
	row := s.db.QueryRow(`SELECT id, name, x, y, z, description, properties, indestructible, creator, created_at FROM objects WHERE id = ?`, id)
	o, err := scanObject(row)
	if err == sql.ErrNoRows {
		return WorldObject{}, false, nil
	}
	if err != nil {
		return WorldObject{}, false, s.fail("get object "+id, err)
	}
	return o, true, nil
}

func (s *Store) AllObjects() (map[string]WorldObject, error) {
	rows, err := s.db.Query(`SELECT id, name, x, y, z, description, properties, indestructible, creator, created_at FROM objects`)
	if err != nil {
		return nil, s.fail("all objects", err)
	}
	defer rows.Close()
	out := make(map[string]WorldObject)
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, s.fail("all objects", err)
		}
		out[o.ID] = o
	}
	return out, rows.Err()
}

func (s *Store) DeleteObject(id string) error {
	if _, err := s.db.Exec(`DELETE FROM objects WHERE id = ?`, id); err != nil {
		return s.fail("delete object "+id, err)
	}
	return nil
}

func scanObject(r rowScanner) (WorldObject, error) {
	var o WorldObject
	var props string
	var indestructible int
	err := r.Scan(&o.ID, &o.Name, &o.X, &o.Y, &o.Z, &o.Description, &props, &indestructible, &o.Creator, &o.CreatedAt)
	if err != nil {
		return WorldObject{}, err
	}
	o.Properties = map[string]any{}
	_ = json.Unmarshal([]byte(props), &o.Properties)
	o.Indestructible = indestructible != 0
	if k, ok := o.Properties["kind"].(string); ok {
		o.Kind = KindFromString(k)
		delete(o.Properties, "kind")
	}
	return o, nil
}

// ---- materials / object types (write-once registries) ----

// RegisterMaterial inserts a material if its id is unseen. Re-registering an
// existing id is a no-op and reports created=false with the stored record
// untouched. The synthetic _README row carries the running count.
func (s *Store) RegisterMaterial(m Material) (created bool, err error) {
	res, err := s.db.Exec(`INSERT OR IGNORE INTO materials
		(id, name, name_en, kind, recipe, description, properties, creator, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.NameEN, m.Kind, m.Recipe, m.Description,
		marshalJSON(m.Properties), m.Creator, m.CreatedAt)
	if err != nil {
		return false, s.fail("register material "+m.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	if err := s.bumpRegistryCounter("materials"); err != nil {
		return true, err
	}
	return true, nil
}

func (s *Store) GetMaterial(id string) (Material, bool, error) {
	row := s.db.QueryRow(`SELECT id, name, name_en, kind, recipe, description, properties, creator, created_at FROM materials WHERE id = ?`, id)
	var m Material
	var props string
	err := row.Scan(&m.ID, &m.Name, &m.NameEN, &m.Kind, &m.Recipe, &m.Description, &props, &m.Creator, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return Material{}, false, nil
	}
	if err != nil {
		return Material{}, false, s.fail("get material "+id, err)
	}
	m.Properties = map[string]any{}
	_ = json.Unmarshal([]byte(props), &m.Properties)
	return m, true, nil
}

func (s *Store) AllMaterials() (map[string]Material, error) {
	rows, err := s.db.Query(`SELECT id, name, name_en, kind, recipe, description, properties, creator, created_at FROM materials WHERE id != ?`, readmeID)
	if err != nil {
		return nil, s.fail("all materials", err)
	}
	defer rows.Close()
	out := make(map[string]Material)
	for rows.Next() {
		var m Material
		var props string
		if err := rows.Scan(&m.ID, &m.Name, &m.NameEN, &m.Kind, &m.Recipe, &m.Description, &props, &m.Creator, &m.CreatedAt); err != nil {
			return nil, s.fail("all materials", err)
		}
		m.Properties = map[string]any{}
		_ = json.Unmarshal([]byte(props), &m.Properties)
		out[m.ID] = m
	}
	return out, rows.Err()
}

func (s *Store) CountMaterials() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM materials WHERE id != ?`, readmeID).Scan(&n); err != nil {
		return 0, s.fail("count materials", err)
	}
	return n, nil
}

func (s *Store) RegisterObjectType(t ObjectType) (created bool, err error) {
	res, err := s.db.Exec(`INSERT OR IGNORE INTO object_types
		(id, name, name_en, category, base_materials, description, properties, creator, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.NameEN, t.Category, marshalJSON(t.BaseMaterials),
		t.Description, marshalJSON(t.Properties), t.Creator, t.CreatedAt)
	if err != nil {
		return false, s.fail("register object type "+t.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	if err := s.bumpRegistryCounter("object_types"); err != nil {
		return true, err
	}
	return true, nil
}

func (s *Store) GetObjectType(id string) (ObjectType, bool, error) {
	row := s.db.QueryRow(`SELECT id, name, name_en, category, base_materials, description, properties, creator, created_at FROM object_types WHERE id = ?`, id)
	var t ObjectType
	var mats, props string
	err := row.Scan(&t.ID, &t.Name, &t.NameEN, &t.Category, &mats, &t.Description, &props, &t.Creator, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return ObjectType{}, false, nil
	}
	if err != nil {
		return ObjectType{}, false, s.fail("get object type "+id, err)
	}
	t.Properties = map[string]any{}
	_ = json.Unmarshal([]byte(mats), &t.BaseMaterials)
	_ = json.Unmarshal([]byte(props), &t.Properties)
	return t, true, nil
}

func (s *Store) AllObjectTypes() (map[string]ObjectType, error) {
	rows, err := s.db.Query(`SELECT id, name, name_en, category, base_materials, description, properties, creator, created_at FROM object_types WHERE id != ?`, readmeID)
	if err != nil {
		return nil, s.fail("all object types", err)
	}
	defer rows.Close()
	out := make(map[string]ObjectType)
	for rows.Next() {
		var t ObjectType
		var mats, props string
		if err := rows.Scan(&t.ID, &t.Name, &t.NameEN, &t.Category, &mats, &t.Description, &props, &t.Creator, &t.CreatedAt); err != nil {
			return nil, s.fail("all object types", err)
		}
		t.Properties = map[string]any{}
		_ = json.Unmarshal([]byte(mats), &t.BaseMaterials)
		_ = json.Unmarshal([]byte(props), &t.Properties)
		out[t.ID] = t
	}
	return out, rows.Err()
}

func (s *Store) CountObjectTypes() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM object_types WHERE id != ?`, readmeID).Scan(&n); err != nil {
		return 0, s.fail("count object types", err)
	}
	return n, nil
}

// bumpRegistryCounter maintains the _README row of a registry table.
func (s *Store) bumpRegistryCounter(table string) error {
	var q string
	switch table {
	case "materials":
		q = `INSERT INTO materials (id, name, description, properties) VALUES (?, 'registry counter', '', '{"count":1}')
			ON CONFLICT(id) DO UPDATE SET properties = json_set(properties, '$.count', COALESCE(json_extract(properties, '$.count'), 0) + 1)`
	case "object_types":
		q = `INSERT INTO object_types (id, name, description, properties) VALUES (?, 'registry counter', '', '{"count":1}')
			ON CONFLICT(id) DO UPDATE SET properties = json_set(properties, '$.count', COALESCE(json_extract(properties, '$.count'), 0) + 1)`
	default:
		return fmt.Errorf("unknown registry table %q", table)
	}
	if _, err := s.db.Exec(q, readmeID); err != nil {
		return s.fail("bump "+table+" counter", err)
	}
	return nil
}

// ---- rules ----

func (s *Store) UpsertRule(key string, value json.RawMessage) error {
	_, err := s.db.Exec(`INSERT INTO rules (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, string(value))
	if err != nil {
		return s.fail("upsert rule "+key, err)
	}
	return nil
}

func (s *Store) GetRule(key string) (json.RawMessage, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM rules WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.fail("get rule "+key, err)
	}
	return json.RawMessage(v), true, nil
}

// ---- supporters ----

func (s *Store) UpsertSupporter(sp Supporter) error {
	_, err := s.db.Exec(`INSERT INTO supporters
		(id, name, flag, supporter_name, amount, granted_by, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		name=excluded.name, flag=excluded.flag, supporter_name=excluded.supporter_name,
		amount=excluded.amount, granted_by=excluded.granted_by, registered_at=excluded.registered_at`,
		sp.ID, sp.Name, boolInt(sp.Flag), sp.SupporterName, sp.Amount, sp.GrantedBy, sp.RegisteredAt)
	if err != nil {
		return s.fail("upsert supporter "+sp.ID, err)
	}
	return nil
}

func (s *Store) AllSupporters() (map[string]Supporter, error) {
	rows, err := s.db.Query(`SELECT id, name, flag, supporter_name, amount, granted_by, registered_at FROM supporters`)
	if err != nil {
		return nil, s.fail("all supporters", err)
	}
	defer rows.Close()
	out := make(map[string]Supporter)
	for rows.Next() {
		var sp Supporter
		var flag int
		if err := rows.Scan(&sp.ID, &sp.Name, &flag, &sp.SupporterName, &sp.Amount, &sp.GrantedBy, &sp.RegisteredAt); err != nil {
			return nil, s.fail("all supporters", err)
		}
		sp.Flag = flag != 0
		out[sp.ID] = sp
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
