package decision

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// recordSchema rejects payloads whose present fields have the wrong shape.
// It deliberately requires nothing; absent fields get defaults after decode.
const recordSchemaJSON = `{
  "type": "object",
  "properties": {
    "success": {"type": "boolean"},
    "narrative": {"type": "string"},
    "world_update": {
      "type": "object",
      "properties": {
        "create": {"type": "array", "items": {"type": "object"}},
        "destroy": {"type": "array", "items": {"type": "string"}},
        "modify": {"type": "object"}
      }
    },
    "user_update": {"type": "object"},
    "extracted_facts": {"type": "array", "items": {"type": "string"}},
    "mentioned_objects": {"type": "array", "items": {"type": "string"}}
  }
}`

var recordSchema = jsonschema.MustCompileString("record.schema.json", recordSchemaJSON)

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// parserStrategy attempts to extract a Record from the raw response text.
type parserStrategy struct {
	name  string
	parse func(string) (Record, bool)
}

// Strategies are tried in order; the first hit wins.
var strategies = []parserStrategy{
	{"fenced_block", parseFencedBlock},
	{"raw_json", parseRawJSON},
	{"brace_span", parseBraceSpan},
}

// Repair turns arbitrary decision-service text into a usable Record. It
// never fails: when no strategy yields valid JSON, the whole text becomes a
// narrative-only success record with an empty world update.
func Repair(raw string) Record {
	for _, s := range strategies {
		if rec, ok := s.parse(raw); ok {
			rec.applyDefaults()
			return rec
		}
	}
	rec := Record{Success: true, Narrative: strings.TrimSpace(raw), Synthesized: true}
	rec.applyDefaults()
	return rec
}

func parseFencedBlock(raw string) (Record, bool) {
	m := fencedBlockRe.FindStringSubmatch(raw)
	if m == nil {
		return Record{}, false
	}
	return decodeCandidate(m[1])
}

func parseRawJSON(raw string) (Record, bool) {
	return decodeCandidate(strings.TrimSpace(raw))
}

func parseBraceSpan(raw string) (Record, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Record{}, false
	}
	return decodeCandidate(raw[start : end+1])
}

// decodeCandidate accepts a JSON object candidate if it parses and its
// present fields match the schema. Success defaults to true when the field
// is absent, matching the narrative-only fallback.
func decodeCandidate(candidate string) (Record, bool) {
	var probe map[string]any
	if err := json.Unmarshal([]byte(candidate), &probe); err != nil {
		return Record{}, false
	}
	if err := recordSchema.Validate(probe); err != nil {
		return Record{}, false
	}
	rec := Record{Success: true}
	if err := json.Unmarshal([]byte(candidate), &rec); err != nil {
		return Record{}, false
	}
	return rec, true
}
