package archive

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"worldloom.ai/internal/persistence/store"
)

type Result struct {
	Archived    int    `json:"archived"`
	TotalBefore int    `json:"total_before"`
	Kept        int    `json:"kept"`
	CutoffID    int64  `json:"cutoff_id"`
	MinID       int64  `json:"min_id"`
	MaxID       int64  `json:"max_id"`
	Path        string `json:"path"`
}

// ArchiveAndTrimLogs moves every log row older than the newest keepLast rows
// into a newline-delimited JSON file under dir, then deletes the moved rows
// in one statement. It returns (result, archived=true) when rows were moved,
// and archived=false when the table already holds keepLast rows or fewer.
//
// Rows are streamed one at a time; the full candidate set is never held in
// memory.
func ArchiveAndTrimLogs(st *store.Store, dir string, keepLast int, compress bool) (Result, bool, error) {
	total, err := st.CountLogs()
	if err != nil {
		return Result{}, false, err
	}
	if total <= keepLast {
		return Result{TotalBefore: total, Kept: total}, false, nil
	}

	cutoff, ok, err := st.LogCutoff(keepLast)
	if err != nil {
		return Result{}, false, err
	}
	if !ok {
		return Result{TotalBefore: total, Kept: total}, false, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, false, err
	}
	tmp, err := os.CreateTemp(dir, "logs_*.partial")
	if err != nil {
		return Result{}, false, err
	}
	defer func() {
		if tmp != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	var w io.Writer = tmp
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(tmp)
		w = gz
	}
	bw := bufio.NewWriterSize(w, 128*1024)

	res := Result{TotalBefore: total, CutoffID: cutoff}
	enc := json.NewEncoder(bw)
	err = st.StreamLogsBefore(cutoff, func(e store.LogEntry) error {
		if res.Archived == 0 {
			res.MinID = e.ID
		}
		res.MaxID = e.ID
		res.Archived++
		return enc.Encode(e)
	})
	if err != nil {
		return Result{}, false, err
	}
	if err := bw.Flush(); err != nil {
		return Result{}, false, err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return Result{}, false, err
		}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		tmp = nil
		return Result{}, false, err
	}

	name := fmt.Sprintf("logs_%s_%d-%d.jsonl", time.Now().UTC().Format("20060102"), res.MinID, res.MaxID)
	if compress {
		name += ".gz"
	}
	dst := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return Result{}, false, err
	}
	tmp = nil
	res.Path = dst

	removed, err := st.DeleteLogsBefore(cutoff)
	if err != nil {
		return res, false, err
	}
	if int(removed) != res.Archived {
		return res, false, fmt.Errorf("trim removed %d rows, archived %d", removed, res.Archived)
	}
	res.Kept = total - res.Archived
	return res, true, nil
}
