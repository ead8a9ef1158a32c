package store

// ObjectKind tags the WorldObject variants. Persisted as a "kind" property
// so the objects table stays a single relation.
type ObjectKind int

const (
	KindGeneric ObjectKind = iota
	KindScene
	KindFact
	KindCorpse
)

func (k ObjectKind) String() string {
	switch k {
	case KindScene:
		return "scene"
	case KindFact:
		return "fact"
	case KindCorpse:
		return "corpse"
	default:
		return "generic"
	}
}

func KindFromString(s string) ObjectKind {
	switch s {
	case "scene":
		return KindScene
	case "fact":
		return KindFact
	case "corpse":
		return KindCorpse
	default:
		return KindGeneric
	}
}

type User struct {
	ID              string
	Nickname        string
	X, Y, Z         int
	Status          string
	Inventory       map[string]int
	Attributes      map[string]float64
	Skills          map[string]float64
	Bookmarks       []string
	NicknameClaimed bool
	Dead            bool
	TimeOffset      float64
	CreatedAt       string
}

type WorldObject struct {
	ID             string
	Name           string
	X, Y, Z        int
	Description    string
	Properties     map[string]any
	Indestructible bool
	Creator        string
	CreatedAt      string
	Kind           ObjectKind
}

type Material struct {
	ID          string
	Name        string
	NameEN      string
	Kind        string
	Recipe      string
	Description string
	Properties  map[string]any
	Creator     string
	CreatedAt   string
}

type ObjectType struct {
	ID            string
	Name          string
	NameEN        string
	Category      string
	BaseMaterials []string
	Description   string
	Properties    map[string]any
	Creator       string
	CreatedAt     string
}

type LogEntry struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Result    string `json:"result"`
}

type Supporter struct {
	ID            string
	Name          string
	Flag          bool
	SupporterName string
	Amount        float64
	GrantedBy     string
	RegisteredAt  string
}
