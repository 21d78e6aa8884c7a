package vocabulary

import "context"

// ConceptRepository provides read access to the concept table.
type ConceptRepository interface {
	// GetByID returns an apperr.NotFoundError when no concept has id.
	GetByID(ctx context.Context, id int64) (*Concept, error)
	Search(ctx context.Context, criteria SearchCriteria, limit, offset int) ([]*Concept, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*Concept, error)
	ExistingIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error)
}

// RelationshipRepository reads the three related-concept sources.
type RelationshipRepository interface {
	Direct(ctx context.Context, id int64) ([]RelatedEdge, error)
	Ancestors(ctx context.Context, id int64) ([]RelatedEdge, error)
	Descendants(ctx context.Context, id int64) ([]RelatedEdge, error)
}

// ReferenceRepository lists vocabulary reference tables.
type ReferenceRepository interface {
	ListDomains(ctx context.Context) ([]*Domain, error)
	ListVocabularies(ctx context.Context) ([]*Vocabulary, error)
}
