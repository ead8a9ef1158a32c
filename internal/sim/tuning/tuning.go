package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	// Admission.
	CooldownSeconds float64 `yaml:"cooldown_seconds"`
	PermitPool      int     `yaml:"permit_pool"`

	// Context assembly caps.
	NearbyRadius       int `yaml:"nearby_radius"`
	ContextObjectCap   int `yaml:"context_object_cap"`
	ContextLocationCap int `yaml:"context_location_cap"`
	ContextHistory     int `yaml:"context_history"`

	// Broadcast.
	SummaryRadius int `yaml:"summary_radius"`

	// History.
	HistoryCap     int `yaml:"history_cap"`
	ResultTruncate int `yaml:"result_truncate"`

	// Bookmarks.
	BookmarkCap int `yaml:"bookmark_cap"`

	Decision DecisionTuning `yaml:"decision"`
	Archive  ArchiveTuning  `yaml:"archive"`

	// Attribute decay per 24h, by attribute name; "default" applies to the
	// rest. Floor stays 1.0.
	DecayPer24h map[string]float64 `yaml:"decay_per_24h"`
}

type DecisionTuning struct {
	Endpoint       string  `yaml:"endpoint"`
	Model          string  `yaml:"model"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
}

type ArchiveTuning struct {
	KeepLast      int    `yaml:"keep_last"`
	Dir           string `yaml:"dir"`
	Compress      bool   `yaml:"compress"`
	IntervalHours int    `yaml:"interval_hours"`
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.applyDefaults()
	return t, nil
}

func Defaults() Tuning {
	var t Tuning
	t.applyDefaults()
	return t
}

func (t *Tuning) applyDefaults() {
	if t.CooldownSeconds <= 0 {
		t.CooldownSeconds = 2.0
	}
	if t.PermitPool <= 0 {
		t.PermitPool = 5
	}
	if t.NearbyRadius <= 0 {
		t.NearbyRadius = 100
	}
	if t.ContextObjectCap <= 0 {
		t.ContextObjectCap = 50
	}
	if t.ContextLocationCap <= 0 {
		t.ContextLocationCap = 150
	}
	if t.ContextHistory <= 0 {
		t.ContextHistory = 100
	}
	if t.SummaryRadius <= 0 {
		t.SummaryRadius = 10
	}
	if t.HistoryCap <= 0 {
		t.HistoryCap = 10000
	}
	if t.ResultTruncate <= 0 {
		t.ResultTruncate = 200
	}
	if t.BookmarkCap <= 0 {
		t.BookmarkCap = 10
	}
	if t.Decision.TimeoutSeconds <= 0 {
		t.Decision.TimeoutSeconds = 60
	}
	if t.Decision.Temperature <= 0 {
		t.Decision.Temperature = 0.8
	}
	if t.Decision.MaxTokens <= 0 {
		t.Decision.MaxTokens = 4096
	}
	if t.Archive.KeepLast <= 0 {
		t.Archive.KeepLast = 50000
	}
	if t.Archive.IntervalHours <= 0 {
		t.Archive.IntervalHours = 24
	}
	if t.DecayPer24h == nil {
		t.DecayPer24h = map[string]float64{
			"Endurance": 0.01,
			"Strength":  0.005,
			"default":   0.002,
		}
	}
}
