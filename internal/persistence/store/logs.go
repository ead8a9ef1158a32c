package store

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
)

// AppendLog inserts one append-only log row and returns its id.
func (s *Store) AppendLog(e LogEntry) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO logs (timestamp, actor, action, result) VALUES (?, ?, ?, ?)`,
		e.Timestamp, e.Actor, e.Action, e.Result)
	if err != nil {
		return 0, s.fail("append log", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, s.fail("append log", err)
	}
	return id, nil
}

func (s *Store) CountLogs() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM logs`).Scan(&n); err != nil {
		return 0, s.fail("count logs", err)
	}
	return n, nil
}

// RecentLogs returns the newest n rows in ascending id order, used to seed
// the in-memory history window on startup.
func (s *Store) RecentLogs(n int) ([]LogEntry, error) {
	rows, err := s.db.Query(`SELECT id, timestamp, actor, action, result FROM logs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, s.fail("recent logs", err)
	}
	defer rows.Close()
	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action, &e.Result); err != nil {
			return nil, s.fail("recent logs", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// LogCutoff returns the id of the row at offset keepLast-1 from the newest.
// Rows with id < cutoff are archive candidates. ok is false when the table
// holds keepLast rows or fewer.
func (s *Store) LogCutoff(keepLast int) (cutoff int64, ok bool, err error) {
	if keepLast < 1 {
		keepLast = 1
	}
	err = s.db.QueryRow(`SELECT id FROM logs ORDER BY id DESC LIMIT 1 OFFSET ?`, keepLast-1).Scan(&cutoff)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, s.fail("log cutoff", err)
	}
	var older int
	if err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM logs WHERE id < ?)`, cutoff).Scan(&older); err != nil {
		return 0, false, s.fail("log cutoff", err)
	}
	return cutoff, older != 0, nil
}

// StreamLogsBefore visits rows with id < cutoff in ascending id order,
// one row at a time. The callback error aborts the scan.
func (s *Store) StreamLogsBefore(cutoff int64, fn func(LogEntry) error) error {
	rows, err := s.db.Query(`SELECT id, timestamp, actor, action, result FROM logs WHERE id < ? ORDER BY id ASC`, cutoff)
	if err != nil {
		return s.fail("stream logs", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action, &e.Result); err != nil {
			return s.fail("stream logs", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DeleteLogsBefore removes all rows with id < cutoff in one statement.
func (s *Store) DeleteLogsBefore(cutoff int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM logs WHERE id < ?`, cutoff)
	if err != nil {
		return 0, s.fail("delete logs", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ExportWorld writes a JSON dump of users, objects and registries, used by
// the off-box backup hook. Exports are serialized against each other but do
// not block per-entity writes.
func (s *Store) ExportWorld(path string) error {
	s.exportMu.Lock()
	defer s.exportMu.Unlock()

	users, err := s.AllUsers()
	if err != nil {
		return err
	}
	objects, err := s.AllObjects()
	if err != nil {
		return err
	}
	materials, err := s.AllMaterials()
	if err != nil {
		return err
	}
	objectTypes, err := s.AllObjectTypes()
	if err != nil {
		return err
	}

	dump := struct {
		Users       map[string]User        `json:"users"`
		Objects     map[string]WorldObject `json:"objects"`
		Materials   map[string]Material    `json:"materials"`
		ObjectTypes map[string]ObjectType  `json:"object_types"`
	}{users, objects, materials, objectTypes}

	b, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return s.fail("export world", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return s.fail("export world", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return s.fail("export world", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return s.fail("export world", err)
	}
	return nil
}
