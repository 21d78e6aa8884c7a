package vocabulary

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultSearchLimit is large because callers page client-side.
	DefaultSearchLimit = 20000

	// NonStandard selects concepts whose standard_concept is NULL.
	NonStandard = "N"
	// ValidOnly selects concepts whose invalid_reason is NULL.
	ValidOnly = "V"

	RelationshipAncestor   = "Ancestor"
	RelationshipDescendant = "Descendant"

	DateLayout = "2006-01-02"
)

// Date is a calendar date serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar date in UTC.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(DateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		*d = Date{}
		return nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	*d = Date{t}
	return nil
}

// Concept is a single coded vocabulary entry.
type Concept struct {
	ConceptID       int64   `db:"concept_id" json:"conceptId"`
	ConceptName     string  `db:"concept_name" json:"conceptName"`
	DomainID        string  `db:"domain_id" json:"domainId"`
	VocabularyID    string  `db:"vocabulary_id" json:"vocabularyId"`
	ConceptClassID  string  `db:"concept_class_id" json:"conceptClassId"`
	StandardConcept *string `db:"standard_concept" json:"standardConcept"`
	ConceptCode     string  `db:"concept_code" json:"conceptCode"`
	ValidStartDate  Date    `db:"valid_start_date" json:"validStartDate"`
	ValidEndDate    Date    `db:"valid_end_date" json:"validEndDate"`
	InvalidReason   *string `db:"invalid_reason" json:"invalidReason"`
}

// Relationship is one way a related concept is reachable from the source
// concept. Distance is 0 for direct relationships and the minimum levels of
// separation for hierarchy edges.
type Relationship struct {
	RelationshipID       string `json:"relationshipId"`
	RelationshipName     string `json:"relationshipName"`
	RelationshipDistance int    `json:"relationshipDistance"`
}

// RelatedConcept is a concept plus every relationship that links it to the
// source concept.
type RelatedConcept struct {
	Concept
	Relationships []Relationship `json:"relationships"`
}

// RelatedEdge is a single row from one of the related-concept sources.
type RelatedEdge struct {
	Concept      Concept
	Relationship Relationship
}

// SearchCriteria holds AND-composed concept filters. Empty fields are not
// applied.
type SearchCriteria struct {
	Query           string
	DomainIDs       []string
	VocabularyIDs   []string
	ConceptClassIDs []string
	StandardConcept string
	InvalidReason   string
	Lexical         bool
}

// IsLexical reports whether the lexical ranking applies.
func (c SearchCriteria) IsLexical() bool {
	return c.Lexical && strings.TrimSpace(c.Query) != ""
}

// Domain is an OMOP domain reference row.
type Domain struct {
	DomainID        string `db:"domain_id" json:"domainId"`
	DomainName      string `db:"domain_name" json:"domainName"`
	DomainConceptID int64  `db:"domain_concept_id" json:"domainConceptId"`
}

// Vocabulary is an OMOP vocabulary reference row.
type Vocabulary struct {
	VocabularyID        string  `db:"vocabulary_id" json:"vocabularyId"`
	VocabularyName      string  `db:"vocabulary_name" json:"vocabularyName"`
	VocabularyReference *string `db:"vocabulary_reference" json:"vocabularyReference"`
	VocabularyVersion   *string `db:"vocabulary_version" json:"vocabularyVersion"`
	VocabularyConceptID int64   `db:"vocabulary_concept_id" json:"vocabularyConceptId"`
}

// MergeRelated folds edges into one record per related concept, keeping the
// order in which each concept is first seen.
func MergeRelated(edges []RelatedEdge) []RelatedConcept {
	out := make([]RelatedConcept, 0, len(edges))
	pos := make(map[int64]int, len(edges))
	for _, e := range edges {
		i, ok := pos[e.Concept.ConceptID]
		if !ok {
			i = len(out)
			pos[e.Concept.ConceptID] = i
			out = append(out, RelatedConcept{Concept: e.Concept})
		}
		out[i].Relationships = append(out[i].Relationships, e.Relationship)
	}
	return out
}
