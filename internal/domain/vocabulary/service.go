package vocabulary

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/omop/atlas/internal/platform/cache"
	"github.com/omop/atlas/internal/platform/telemetry"
)

var tracer = telemetry.Tracer("github.com/omop/atlas/internal/domain/vocabulary")

// CacheTTL sets how long lookups stay in the result cache.
type CacheTTL struct {
	Concept time.Duration
	Related time.Duration
}

// DefaultCacheTTL caches both lookups for one hour.
var DefaultCacheTTL = CacheTTL{Concept: time.Hour, Related: time.Hour}

// ConceptCacheKey is the cache key of a single concept.
func ConceptCacheKey(id int64) string { return fmt.Sprintf("concept:%d", id) }

// RelatedCacheKey is the cache key of a concept's related-concept list.
func RelatedCacheKey(id int64) string { return fmt.Sprintf("concept_related:%d", id) }

// Service provides concept lookup, search and relationship expansion.
type Service struct {
	concepts  ConceptRepository
	relations RelationshipRepository
	refs      ReferenceRepository
	cache     *cache.Cache
	ttl       CacheTTL
}

// NewService creates a new vocabulary service. A nil cache disables caching.
func NewService(concepts ConceptRepository, relations RelationshipRepository, refs ReferenceRepository, c *cache.Cache, ttl CacheTTL) *Service {
	if ttl.Concept <= 0 {
		ttl.Concept = DefaultCacheTTL.Concept
	}
	if ttl.Related <= 0 {
		ttl.Related = DefaultCacheTTL.Related
	}
	return &Service{concepts: concepts, relations: relations, refs: refs, cache: c, ttl: ttl}
}

// GetConcept looks a concept up by id, consulting the cache first. Missing
// concepts are never cached.
func (s *Service) GetConcept(ctx context.Context, id int64) (*Concept, error) {
	ctx, span := tracer.Start(ctx, telemetry.SpanName("vocabulary", "GetConcept"),
		trace.WithAttributes(attribute.Int64("concept.id", id)))
	defer span.End()

	key := ConceptCacheKey(id)
	var cached Concept
	if s.cache.GetJSON(ctx, key, &cached) {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return &cached, nil
	}

	c, err := s.concepts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, key, c, s.ttl.Concept)
	return c, nil
}

// SearchConcepts returns concepts matching criteria. limit is clamped to at
// least 1 and offset to at least 0. Results are ranked only in lexical mode.
func (s *Service) SearchConcepts(ctx context.Context, criteria SearchCriteria, limit, offset int) ([]*Concept, error) {
	if limit < 1 {
		limit = 1
	}
	if offset < 0 {
		offset = 0
	}

	ctx, span := tracer.Start(ctx, telemetry.SpanName("vocabulary", "SearchConcepts"),
		trace.WithAttributes(
			attribute.Bool("search.lexical", criteria.IsLexical()),
			attribute.Int("search.limit", limit),
			attribute.Int("search.offset", offset),
		))
	defer span.End()

	results, err := s.concepts.Search(ctx, criteria, limit, offset)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("search.results", len(results)))
	return results, nil
}

// GetRelatedConcepts merges direct relationships, ancestors and descendants of
// a concept into one record per related concept. Direct edges come first,
// then ancestors, then descendants.
func (s *Service) GetRelatedConcepts(ctx context.Context, id int64) ([]RelatedConcept, error) {
	ctx, span := tracer.Start(ctx, telemetry.SpanName("vocabulary", "GetRelatedConcepts"),
		trace.WithAttributes(attribute.Int64("concept.id", id)))
	defer span.End()

	key := RelatedCacheKey(id)
	var cached []RelatedConcept
	if s.cache.GetJSON(ctx, key, &cached) {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	}

	var direct, ancestors, descendants []RelatedEdge
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		direct, err = s.relations.Direct(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		ancestors, err = s.relations.Ancestors(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		descendants, err = s.relations.Descendants(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	edges := make([]RelatedEdge, 0, len(direct)+len(ancestors)+len(descendants))
	edges = append(edges, direct...)
	edges = append(edges, ancestors...)
	edges = append(edges, descendants...)
	related := MergeRelated(edges)

	s.cache.SetJSON(ctx, key, related, s.ttl.Related)
	return related, nil
}

// LookupConcepts returns the concepts among ids that exist, ordered by id.
func (s *Service) LookupConcepts(ctx context.Context, ids []int64) ([]*Concept, error) {
	ctx, span := tracer.Start(ctx, telemetry.SpanName("vocabulary", "LookupConcepts"),
		trace.WithAttributes(attribute.Int("concept.count", len(ids))))
	defer span.End()

	return s.concepts.GetByIDs(ctx, uniqueIDs(ids))
}

// MissingConceptIDs returns, sorted, the ids that do not exist in the concept
// table. The check is a single batched query.
func (s *Service) MissingConceptIDs(ctx context.Context, ids []int64) ([]int64, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := s.concepts.ExistingIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	var missing []int64
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *Service) ListDomains(ctx context.Context) ([]*Domain, error) {
	return s.refs.ListDomains(ctx)
}

func (s *Service) ListVocabularies(ctx context.Context) ([]*Vocabulary, error) {
	return s.refs.ListVocabularies(ctx)
}

// uniqueIDs returns ids deduplicated and sorted ascending.
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
