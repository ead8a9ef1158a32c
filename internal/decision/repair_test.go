package decision

import (
	"strings"
	"testing"
)

func TestRepairFencedBlock(t *testing.T) {
	raw := "Here is what happens:\n```json\n{\"success\": true, \"narrative\": \"The door creaks open.\", \"world_update\": {\"destroy\": [\"obj_door\"]}}\n```\nEnjoy."
	rec := Repair(raw)
	if !rec.Success || rec.Narrative != "The door creaks open." {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if len(rec.WorldUpdate.Destroy) != 1 || rec.WorldUpdate.Destroy[0] != "obj_door" {
		t.Fatalf("world update lost: %+v", rec.WorldUpdate)
	}
	if rec.WorldUpdate.Create == nil || rec.WorldUpdate.Modify == nil {
		t.Fatalf("defaults not applied: %+v", rec.WorldUpdate)
	}
	if rec.Synthesized {
		t.Fatalf("parsed record must not be flagged synthesized")
	}
}

func TestRepairRawJSON(t *testing.T) {
	rec := Repair(`{"success": false, "narrative": "You cannot do that."}`)
	if rec.Success {
		t.Fatalf("explicit success=false must survive: %+v", rec)
	}
	if rec.Narrative != "You cannot do that." {
		t.Fatalf("narrative lost: %+v", rec)
	}
}

func TestRepairBraceSpan(t *testing.T) {
	raw := `Sure! The result is {"narrative": "A fox darts by.", "world_update": {}} as requested.`
	rec := Repair(raw)
	if !rec.Success {
		t.Fatalf("missing success must default to true: %+v", rec)
	}
	if rec.Narrative != "A fox darts by." {
		t.Fatalf("narrative lost: %+v", rec)
	}
	if !rec.WorldUpdate.Empty() {
		t.Fatalf("expected empty world update: %+v", rec.WorldUpdate)
	}
}

func TestRepairPlainTextSynthesizes(t *testing.T) {
	raw := "  The wind picks up and nothing else happens.  "
	rec := Repair(raw)
	if !rec.Success {
		t.Fatalf("synthesized record must be success: %+v", rec)
	}
	if rec.Narrative != strings.TrimSpace(raw) {
		t.Fatalf("raw text must become the narrative: %q", rec.Narrative)
	}
	if !rec.WorldUpdate.Empty() || !rec.UserUpdate.Empty() {
		t.Fatalf("synthesized record must carry no updates: %+v", rec)
	}
	if !rec.Synthesized {
		t.Fatalf("fallback record must be flagged synthesized: %+v", rec)
	}
}

func TestRepairRejectsWrongShapes(t *testing.T) {
	// destroy holding numbers fails the schema; the text is still usable as
	// a narrative, never an error.
	raw := `{"success": true, "world_update": {"destroy": [1, 2]}}`
	rec := Repair(raw)
	if !rec.Success {
		t.Fatalf("fallback must be success: %+v", rec)
	}
	if !rec.WorldUpdate.Empty() {
		t.Fatalf("invalid update must not survive repair: %+v", rec.WorldUpdate)
	}
	if rec.Narrative != raw {
		t.Fatalf("narrative should wrap the raw text: %q", rec.Narrative)
	}
}

func TestRepairNeverPanicsOnGarbage(t *testing.T) {
	for _, raw := range []string{"", "{", "}{", "``````", "null", "[1,2,3]", "{\"success\": \"yes\"}"} {
		rec := Repair(raw)
		if rec.WorldUpdate.Create == nil || rec.WorldUpdate.Modify == nil {
			t.Fatalf("defaults missing for %q: %+v", raw, rec)
		}
	}
}
