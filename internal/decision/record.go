// Package decision talks to the external narrative decision service and
// repairs its untrusted output into a well-formed record.
package decision

// Record is the structured instruction the decision service returns for one
// player action. Every field is optional on the wire; missing fields are
// filled with safe defaults so downstream code never branches on absence.
type Record struct {
	Success   bool   `json:"success"`
	Narrative string `json:"narrative"`

	WorldUpdate WorldUpdate `json:"world_update"`
	UserUpdate  UserUpdate  `json:"user_update"`

	NewDiscovery     *Discovery      `json:"new_discovery,omitempty"`
	NewObjectType    *ObjectTypeSpec `json:"new_object_type,omitempty"`
	ExtractedFacts   []string        `json:"extracted_facts,omitempty"`
	MentionedObjects []string        `json:"mentioned_objects,omitempty"`

	// Synthesized marks a record the repair fallback built out of
	// unparseable text. Synthesized records are narrative-only and must
	// never leave a trace in the store.
	Synthesized bool `json:"-"`
}

// WorldUpdate is a batch of create/destroy/modify operations. The batch is
// not atomic; invalid operations are skipped individually.
type WorldUpdate struct {
	Create  []ObjectSpec              `json:"create"`
	Destroy []string                  `json:"destroy"`
	Modify  map[string]map[string]any `json:"modify"`
}

func (w WorldUpdate) Empty() bool {
	return len(w.Create) == 0 && len(w.Destroy) == 0 && len(w.Modify) == 0
}

// ObjectSpec describes an object to create. Position is left untyped here;
// the apply layer coerces it to an integer triple whatever its shape.
type ObjectSpec struct {
	ID             string         `json:"id,omitempty"`
	Name           string         `json:"name"`
	Position       any            `json:"position,omitempty"`
	Description    string         `json:"description,omitempty"`
	Properties     map[string]any `json:"properties,omitempty"`
	Indestructible bool           `json:"indestructible,omitempty"`
}

// UserUpdate carries deltas against the acting user.
type UserUpdate struct {
	Inventory     map[string]int     `json:"inventory,omitempty"`
	Attributes    map[string]float64 `json:"attributes,omitempty"`
	Skills        map[string]float64 `json:"skills,omitempty"`
	PositionDelta any                `json:"position_delta,omitempty"`
	Status        string             `json:"status,omitempty"`
	IsDead        *bool              `json:"is_dead,omitempty"`
}

func (u UserUpdate) Empty() bool {
	return len(u.Inventory) == 0 && len(u.Attributes) == 0 && len(u.Skills) == 0 &&
		u.PositionDelta == nil && u.Status == "" && u.IsDead == nil
}

type Discovery struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	NameEN      string `json:"name_en,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Recipe      string `json:"recipe,omitempty"`
	Description string `json:"description,omitempty"`
}

type ObjectTypeSpec struct {
	ID            string   `json:"id,omitempty"`
	Name          string   `json:"name"`
	NameEN        string   `json:"name_en,omitempty"`
	Category      string   `json:"category,omitempty"`
	BaseMaterials []string `json:"base_materials,omitempty"`
	Description   string   `json:"description,omitempty"`
}

func (r *Record) applyDefaults() {
	if r.WorldUpdate.Create == nil {
		r.WorldUpdate.Create = []ObjectSpec{}
	}
	if r.WorldUpdate.Destroy == nil {
		r.WorldUpdate.Destroy = []string{}
	}
	if r.WorldUpdate.Modify == nil {
		r.WorldUpdate.Modify = map[string]map[string]any{}
	}
}
