package conceptset

import (
	"time"

	"github.com/omop/atlas/internal/domain/vocabulary"
)

const (
	// ResourceName prefixes domain error messages.
	ResourceName = "Concept Set"

	// NameConstraint is the unique constraint on concept_set_name.
	NameConstraint = "uq_concept_set_name"

	MaxNameLength = 255
)

// ConceptSet is a named collection of concept references.
type ConceptSet struct {
	ID           int64      `db:"concept_set_id" json:"id"`
	Name         string     `db:"concept_set_name" json:"name"`
	CreatedByID  int64      `db:"created_by_id" json:"createdById"`
	CreatedDate  time.Time  `db:"created_date" json:"createdDate"`
	ModifiedDate *time.Time `db:"modified_date" json:"modifiedDate"`
	Items        []Item     `json:"items"`
}

// Summary is a concept set without its items, used for listings.
type Summary struct {
	ID           int64      `db:"concept_set_id" json:"id"`
	Name         string     `db:"concept_set_name" json:"name"`
	CreatedByID  int64      `db:"created_by_id" json:"createdById"`
	CreatedDate  time.Time  `db:"created_date" json:"createdDate"`
	ModifiedDate *time.Time `db:"modified_date" json:"modifiedDate"`
	ItemCount    int        `json:"itemCount"`
}

// Item is one line of a concept set. Concept is populated on every read.
type Item struct {
	ID                 int64               `db:"concept_set_item_id" json:"conceptSetItemId"`
	ConceptID          int64               `db:"concept_id" json:"conceptId"`
	IsExcluded         bool                `db:"is_excluded" json:"isExcluded"`
	IncludeDescendants bool                `db:"include_descendants" json:"includeDescendants"`
	IncludeMapped      bool                `db:"include_mapped" json:"includeMapped"`
	Concept            *vocabulary.Concept `json:"concept"`
}

// ItemInput is a requested item for create or update.
type ItemInput struct {
	ConceptID          int64 `json:"conceptId"`
	IsExcluded         bool  `json:"isExcluded"`
	IncludeDescendants bool  `json:"includeDescendants"`
	IncludeMapped      bool  `json:"includeMapped"`
}

func conceptIDs(items []ItemInput) []int64 {
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ConceptID
	}
	return ids
}

// hasDuplicateConcepts reports whether two items reference the same concept.
func hasDuplicateConcepts(items []ItemInput) bool {
	seen := make(map[int64]struct{}, len(items))
	for _, it := range items {
		if _, ok := seen[it.ConceptID]; ok {
			return true
		}
		seen[it.ConceptID] = struct{}{}
	}
	return false
}
