package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrConfig = errors.New("invalid rules config")

type Provenance string

const (
	ProvenanceGovernment  Provenance = "government"
	ProvenanceInstitution Provenance = "institution"
)

type ContentType string

const (
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// RuleSource describes one regulation document in the registry file.
// Priority is a total order across sources: lower number wins ties at
// retrieval time.
type RuleSource struct {
	ID             string      `yaml:"id" validate:"required"`
	DisplayName    string      `yaml:"display_name"`
	Path           string      `yaml:"path" validate:"required"`
	ContentType    ContentType `yaml:"content_type" validate:"oneof=markdown text"`
	Enabled        bool        `yaml:"enabled"`
	Priority       int         `yaml:"priority" validate:"gte=0"`
	Provenance     Provenance  `yaml:"provenance" validate:"oneof=government institution"`
	OriginalFormat string      `yaml:"original_format"`
}

// Snapshot is an immutable view of the registry taken at load time.
// Reloading produces a new Snapshot; callers never mutate one in place.
type Snapshot struct {
	Sources []RuleSource `yaml:"sources" validate:"required,dive"`

	byID map[string]int
}

var validate = validator.New()

func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from application config
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	if len(snap.Sources) == 0 {
		return nil, fmt.Errorf("%w: no sources defined", ErrConfig)
	}

	if err := validate.Struct(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	snap.byID = make(map[string]int, len(snap.Sources))
	for i, src := range snap.Sources {
		if _, dup := snap.byID[src.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate source id %q", ErrConfig, src.ID)
		}
		snap.byID[src.ID] = i
	}

	return &snap, nil
}

func (s *Snapshot) Get(id string) (RuleSource, bool) {
	i, ok := s.byID[id]
	if !ok {
		return RuleSource{}, false
	}
	return s.Sources[i], true
}

// Enabled returns the enabled sources sorted by precedence (Less).
func (s *Snapshot) Enabled() []RuleSource {
	var out []RuleSource
	for _, src := range s.Sources {
		if src.Enabled {
			out = append(out, src)
		}
	}
	sort.Slice(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

// EnabledIDs intersects the enabled set with an optional caller filter.
// A filter naming disabled or unknown sources silently drops them; retrieval
// must never touch a disabled source.
func (s *Snapshot) EnabledIDs(filter []string) []string {
	enabled := make(map[string]bool)
	for _, src := range s.Sources {
		if src.Enabled {
			enabled[src.ID] = true
		}
	}

	var ids []string
	if len(filter) == 0 {
		for _, src := range s.Sources {
			if enabled[src.ID] {
				ids = append(ids, src.ID)
			}
		}
	} else {
		seen := make(map[string]bool)
		for _, id := range filter {
			if enabled[id] && !seen[id] {
				ids = append(ids, id)
				seen[id] = true
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// Less is the precedence comparator used for ranking ties: lower priority
// number wins, source id breaks exact priority ties so the order is total.
func Less(a, b RuleSource) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.ID < b.ID
}
