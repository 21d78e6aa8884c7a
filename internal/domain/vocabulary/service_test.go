package vocabulary

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/omop/atlas/internal/platform/apperr"
	"github.com/omop/atlas/internal/platform/cache"
)

// =========== Mock Repositories ===========

type mockConceptRepo struct {
	mu        sync.Mutex
	store     map[int64]*Concept
	synonyms  map[int64][]string
	getCalls  int
	lastLimit int
	lastOff   int
	err       error
}

func day(y int, m time.Month, d int) Date {
	return NewDate(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

func newMockConceptRepo() *mockConceptRepo {
	m := &mockConceptRepo{store: make(map[int64]*Concept), synonyms: make(map[int64][]string)}
	add := func(id int64, name, domain, vocab, class string, std, invalid *string, code string) {
		m.store[id] = &Concept{
			ConceptID: id, ConceptName: name, DomainID: domain, VocabularyID: vocab,
			ConceptClassID: class, StandardConcept: std, ConceptCode: code,
			ValidStartDate: day(1970, 1, 1), ValidEndDate: day(2099, 12, 31), InvalidReason: invalid,
		}
	}
	add(1, "Test Concept", "Condition", "SNOMED", "Clinical Finding", strPtr("S"), nil, "T001")
	add(2, "Test Concept Extended", "Condition", "SNOMED", "Clinical Finding", strPtr("S"), nil, "T002")
	add(3, "Aspirin 81 MG Oral Tablet", "Drug", "RxNorm", "Clinical Drug", strPtr("S"), nil, "243670")
	add(4, "Aspirin", "Drug", "RxNorm", "Ingredient", strPtr("C"), nil, "1191")
	add(5, "Old aspirin code", "Drug", "NDC", "NDC", nil, strPtr("D"), "0001")
	add(6, "Acetylsalicylic acid", "Drug", "ATC", "ATC 5th", nil, nil, "B01AC06")
	m.synonyms[6] = []string{"ASA", "aspirin"}
	return m
}

func (m *mockConceptRepo) GetByID(_ context.Context, id int64) (*Concept, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("Concept", id)
	}
	cp := *c
	return &cp, nil
}

func (m *mockConceptRepo) Search(_ context.Context, criteria SearchCriteria, limit, offset int) ([]*Concept, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit, m.lastOff = limit, offset
	if m.err != nil {
		return nil, m.err
	}

	in := func(v string, set []string) bool {
		if len(set) == 0 {
			return true
		}
		for _, s := range set {
			if s == v {
				return true
			}
		}
		return false
	}
	eqOrNull := func(v *string, want, null string) bool {
		switch {
		case want == "":
			return true
		case want == null:
			return v == nil
		default:
			return v != nil && *v == want
		}
	}

	var plan LexicalQuery
	if criteria.IsLexical() {
		plan = NewLexicalQuery(criteria.Query)
	}
	text := strings.ToLower(strings.TrimSpace(criteria.Query))

	var results []*Concept
	for _, c := range m.store {
		switch {
		case criteria.IsLexical():
			if !plan.matches(c.ConceptName, m.synonyms[c.ConceptID]...) {
				continue
			}
		case text != "":
			if !strings.Contains(strings.ToLower(c.ConceptName), text) &&
				!strings.Contains(strings.ToLower(c.ConceptCode), text) {
				continue
			}
		}
		if !in(c.DomainID, criteria.DomainIDs) || !in(c.VocabularyID, criteria.VocabularyIDs) ||
			!in(c.ConceptClassID, criteria.ConceptClassIDs) {
			continue
		}
		if !eqOrNull(c.StandardConcept, criteria.StandardConcept, NonStandard) ||
			!eqOrNull(c.InvalidReason, criteria.InvalidReason, ValidOnly) {
			continue
		}
		results = append(results, c)
	}

	sort.Slice(results, func(i, j int) bool {
		if criteria.IsLexical() {
			si, sj := plan.score(results[i].ConceptName), plan.score(results[j].ConceptName)
			if si != sj {
				return si > sj
			}
		}
		return results[i].ConceptID < results[j].ConceptID
	})

	if offset >= len(results) {
		return []*Concept{}, nil
	}
	results = results[offset:]
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *mockConceptRepo) GetByIDs(_ context.Context, ids []int64) ([]*Concept, error) {
	var out []*Concept
	for _, id := range ids {
		if c, ok := m.store[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockConceptRepo) ExistingIDs(_ context.Context, ids []int64) (map[int64]struct{}, error) {
	if m.err != nil {
		return nil, m.err
	}
	found := make(map[int64]struct{})
	for _, id := range ids {
		if _, ok := m.store[id]; ok {
			found[id] = struct{}{}
		}
	}
	return found, nil
}

type mockRelationshipRepo struct {
	mu          sync.Mutex
	direct      map[int64][]RelatedEdge
	ancestors   map[int64][]RelatedEdge
	descendants map[int64][]RelatedEdge
	calls       int
	err         error
}

func newMockRelationshipRepo() *mockRelationshipRepo {
	return &mockRelationshipRepo{
		direct:      make(map[int64][]RelatedEdge),
		ancestors:   make(map[int64][]RelatedEdge),
		descendants: make(map[int64][]RelatedEdge),
	}
}

func (m *mockRelationshipRepo) get(src map[int64][]RelatedEdge, id int64) ([]RelatedEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return src[id], nil
}

func (m *mockRelationshipRepo) Direct(_ context.Context, id int64) ([]RelatedEdge, error) {
	return m.get(m.direct, id)
}

func (m *mockRelationshipRepo) Ancestors(_ context.Context, id int64) ([]RelatedEdge, error) {
	return m.get(m.ancestors, id)
}

func (m *mockRelationshipRepo) Descendants(_ context.Context, id int64) ([]RelatedEdge, error) {
	return m.get(m.descendants, id)
}

type mockReferenceRepo struct{}

func (mockReferenceRepo) ListDomains(context.Context) ([]*Domain, error) {
	return []*Domain{{DomainID: "Condition", DomainName: "Condition", DomainConceptID: 19}}, nil
}

func (mockReferenceRepo) ListVocabularies(context.Context) ([]*Vocabulary, error) {
	return []*Vocabulary{{VocabularyID: "SNOMED", VocabularyName: "Systematic Nomenclature of Medicine", VocabularyConceptID: 44819097}}, nil
}

// failingStore fails every cache call.
type failingStore struct{ calls int }

func (s *failingStore) Get(context.Context, string) ([]byte, bool, error) {
	s.calls++
	return nil, false, errors.New("connection refused")
}

func (s *failingStore) Set(context.Context, string, []byte, time.Duration) error {
	s.calls++
	return errors.New("connection refused")
}

func (s *failingStore) Delete(context.Context, string) error { return errors.New("connection refused") }
func (s *failingStore) Ping(context.Context) error           { return errors.New("connection refused") }
func (s *failingStore) Close() error                         { return nil }

type testDeps struct {
	concepts  *mockConceptRepo
	relations *mockRelationshipRepo
	store     *cache.MemoryStore
}

func newTestService() (*Service, *testDeps) {
	deps := &testDeps{
		concepts:  newMockConceptRepo(),
		relations: newMockRelationshipRepo(),
		store:     cache.NewMemoryStore(),
	}
	c := cache.New(deps.store, zerolog.Nop())
	return NewService(deps.concepts, deps.relations, mockReferenceRepo{}, c, DefaultCacheTTL), deps
}

// =========== GetConcept ===========

func TestService_GetConcept_CachesAfterStoreRead(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	first, err := svc.GetConcept(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, _ := deps.store.Get(ctx, "concept:1"); !ok {
		t.Fatal("expected concept:1 to be cached")
	}

	second, err := svc.GetConcept(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deps.concepts.getCalls != 1 {
		t.Errorf("expected one store read, got %d", deps.concepts.getCalls)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cache round trip changed the concept:\n%+v\n%+v", first, second)
	}
	if !reflect.DeepEqual(second, deps.concepts.store[1]) {
		t.Errorf("cached concept differs from stored concept")
	}
}

func TestService_GetConcept_NotFoundIsNotCached(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	_, err := svc.GetConcept(ctx, 999)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if deps.store.Len() != 0 {
		t.Errorf("expected nothing cached, got %d entries", deps.store.Len())
	}
}

func TestService_GetConcept_CacheUnavailable(t *testing.T) {
	concepts := newMockConceptRepo()
	store := &failingStore{}
	svc := NewService(concepts, newMockRelationshipRepo(), mockReferenceRepo{}, cache.New(store, zerolog.Nop()), DefaultCacheTTL)

	got, err := svc.GetConcept(context.Background(), 3)
	if err != nil {
		t.Fatalf("cache failure must not surface: %v", err)
	}
	if !reflect.DeepEqual(got, concepts.store[3]) {
		t.Errorf("unexpected concept %+v", got)
	}
	if store.calls != 2 {
		t.Errorf("expected both get and set to be attempted, got %d calls", store.calls)
	}
}

func TestService_GetConcept_RedisDownAtStartup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := cache.Open(ctx, cache.Options{Backend: cache.BackendRedis, RedisURL: "redis://127.0.0.1:1/0"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unreachable redis must not fail startup: %v", err)
	}
	c := cache.New(store, zerolog.Nop())
	defer c.Close()

	concepts := newMockConceptRepo()
	svc := NewService(concepts, newMockRelationshipRepo(), mockReferenceRepo{}, c, DefaultCacheTTL)

	for i := 0; i < 2; i++ {
		got, err := svc.GetConcept(ctx, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(got, concepts.store[1]) {
			t.Errorf("unexpected concept %+v", got)
		}
	}
	if concepts.getCalls != 2 {
		t.Errorf("expected every read to reach the store, got %d", concepts.getCalls)
	}
}

func TestService_GetConcept_NoCache(t *testing.T) {
	concepts := newMockConceptRepo()
	svc := NewService(concepts, newMockRelationshipRepo(), mockReferenceRepo{}, nil, CacheTTL{})
	if _, err := svc.GetConcept(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.GetConcept(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if concepts.getCalls != 2 {
		t.Errorf("expected every lookup to hit the store, got %d", concepts.getCalls)
	}
}

func TestService_GetConcept_StoreErrorPropagates(t *testing.T) {
	svc, deps := newTestService()
	deps.concepts.err = errors.New("connection reset")
	if _, err := svc.GetConcept(context.Background(), 1); err == nil {
		t.Fatal("expected store error")
	}
}

// =========== SearchConcepts ===========

func ids(concepts []*Concept) []int64 {
	out := make([]int64, len(concepts))
	for i, c := range concepts {
		out[i] = c.ConceptID
	}
	return out
}

func TestService_SearchConcepts_ClampsPaging(t *testing.T) {
	svc, deps := newTestService()
	if _, err := svc.SearchConcepts(context.Background(), SearchCriteria{}, 0, -5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deps.concepts.lastLimit != 1 || deps.concepts.lastOff != 0 {
		t.Errorf("expected limit 1 offset 0, got %d %d", deps.concepts.lastLimit, deps.concepts.lastOff)
	}
}

func TestService_SearchConcepts_Filters(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name     string
		criteria SearchCriteria
		want     []int64
	}{
		{"text on name", SearchCriteria{Query: "aspirin"}, []int64{3, 4, 5}},
		{"text on code", SearchCriteria{Query: "b01ac"}, []int64{6}},
		{"non-standard sentinel", SearchCriteria{StandardConcept: NonStandard}, []int64{5, 6}},
		{"standard literal", SearchCriteria{StandardConcept: "C"}, []int64{4}},
		{"standard literal is case sensitive", SearchCriteria{StandardConcept: "s"}, nil},
		{"valid sentinel", SearchCriteria{InvalidReason: ValidOnly, DomainIDs: []string{"Drug"}}, []int64{3, 4, 6}},
		{"invalid literal", SearchCriteria{InvalidReason: "D"}, []int64{5}},
		{"vocabulary set", SearchCriteria{VocabularyIDs: []string{"ATC", "NDC"}}, []int64{5, 6}},
		{"class set", SearchCriteria{ConceptClassIDs: []string{"Ingredient"}}, []int64{4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.SearchConcepts(ctx, tt.criteria, DefaultSearchLimit, 0)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			gotIDs := ids(got)
			sort.Slice(gotIDs, func(i, j int) bool { return gotIDs[i] < gotIDs[j] })
			if len(gotIDs) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(gotIDs, tt.want) {
				t.Errorf("got %v, want %v", gotIDs, tt.want)
			}
		})
	}
}

func TestService_SearchConcepts_LexicalRanking(t *testing.T) {
	svc, _ := newTestService()
	got, err := svc.SearchConcepts(context.Background(), SearchCriteria{Query: "Test Concept", Lexical: true}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(ids(got), []int64{1, 2}) {
		t.Errorf("expected exact match ranked first, got %v", ids(got))
	}

	spaced, err := svc.SearchConcepts(context.Background(), SearchCriteria{Query: "Test  Concept", Lexical: true}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(ids(spaced), ids(got)) {
		t.Errorf("repeated whitespace changed results: %v vs %v", ids(spaced), ids(got))
	}
}

func TestService_SearchConcepts_LexicalMatchesSynonyms(t *testing.T) {
	svc, _ := newTestService()
	got, err := svc.SearchConcepts(context.Background(),
		SearchCriteria{Query: "aspirin", Lexical: true, VocabularyIDs: []string{"ATC"}}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(ids(got), []int64{6}) {
		t.Errorf("expected synonym match on 6, got %v", ids(got))
	}
}

func TestService_SearchConcepts_CacheUnavailable(t *testing.T) {
	concepts := newMockConceptRepo()
	withCache := NewService(concepts, newMockRelationshipRepo(), mockReferenceRepo{}, cache.New(cache.NewMemoryStore(), zerolog.Nop()), DefaultCacheTTL)
	broken := NewService(concepts, newMockRelationshipRepo(), mockReferenceRepo{}, cache.New(&failingStore{}, zerolog.Nop()), DefaultCacheTTL)

	criteria := SearchCriteria{Query: "aspirin", Lexical: true}
	a, err := withCache.SearchConcepts(context.Background(), criteria, 100, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := broken.SearchConcepts(context.Background(), criteria, 100, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(ids(a), ids(b)) {
		t.Errorf("cache failure changed search results: %v vs %v", ids(a), ids(b))
	}
}

// =========== GetRelatedConcepts ===========

func seedRelated(deps *testDeps) {
	c := deps.concepts.store
	deps.relations.direct[1] = []RelatedEdge{
		{Concept: *c[2], Relationship: Relationship{RelationshipID: "Mapped from", RelationshipName: "Mapped from"}},
	}
	deps.relations.ancestors[1] = []RelatedEdge{
		{Concept: *c[3], Relationship: Relationship{RelationshipID: RelationshipAncestor, RelationshipName: RelationshipAncestor, RelationshipDistance: 1}},
	}
	deps.relations.descendants[1] = []RelatedEdge{
		{Concept: *c[4], Relationship: Relationship{RelationshipID: RelationshipDescendant, RelationshipName: RelationshipDescendant, RelationshipDistance: 1}},
	}
}

func TestService_GetRelatedConcepts(t *testing.T) {
	svc, deps := newTestService()
	seedRelated(deps)

	got, err := svc.GetRelatedConcepts(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 related concepts, got %d", len(got))
	}

	want := []struct {
		id       int64
		name     string
		distance int
	}{
		{2, "Mapped from", 0},
		{3, RelationshipAncestor, 1},
		{4, RelationshipDescendant, 1},
	}
	for i, w := range want {
		rc := got[i]
		if rc.ConceptID != w.id || len(rc.Relationships) != 1 {
			t.Fatalf("entry %d: unexpected %+v", i, rc)
		}
		if rc.Relationships[0].RelationshipName != w.name || rc.Relationships[0].RelationshipDistance != w.distance {
			t.Errorf("entry %d: got %+v, want %s/%d", i, rc.Relationships[0], w.name, w.distance)
		}
	}
}

func TestService_GetRelatedConcepts_AccumulatesRelationships(t *testing.T) {
	svc, deps := newTestService()
	seedRelated(deps)
	deps.relations.descendants[1] = append(deps.relations.descendants[1], RelatedEdge{
		Concept:      *deps.concepts.store[2],
		Relationship: Relationship{RelationshipID: RelationshipDescendant, RelationshipName: RelationshipDescendant, RelationshipDistance: 2},
	})

	got, err := svc.GetRelatedConcepts(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected no duplicate top-level entries, got %d", len(got))
	}
	if len(got[0].Relationships) != 2 {
		t.Errorf("expected concept 2 to carry 2 relationships, got %+v", got[0].Relationships)
	}
}

func TestService_GetRelatedConcepts_Cached(t *testing.T) {
	svc, deps := newTestService()
	seedRelated(deps)
	ctx := context.Background()

	first, err := svc.GetRelatedConcepts(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.GetRelatedConcepts(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deps.relations.calls != 3 {
		t.Errorf("expected sources queried once, got %d calls", deps.relations.calls)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("cached related concepts differ from the computed ones")
	}
	if _, ok, _ := deps.store.Get(ctx, "concept_related:1"); !ok {
		t.Error("expected concept_related:1 to be cached")
	}
}

func TestService_GetRelatedConcepts_Empty(t *testing.T) {
	svc, _ := newTestService()
	got, err := svc.GetRelatedConcepts(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty list, got %#v", got)
	}
}

func TestService_GetRelatedConcepts_StoreError(t *testing.T) {
	svc, deps := newTestService()
	deps.relations.err = errors.New("timeout")
	if _, err := svc.GetRelatedConcepts(context.Background(), 1); err == nil {
		t.Fatal("expected store error")
	}
	if deps.store.Len() != 0 {
		t.Error("expected nothing cached on failure")
	}
}

// =========== Lookups ===========

func TestService_MissingConceptIDs(t *testing.T) {
	svc, _ := newTestService()
	missing, err := svc.MissingConceptIDs(context.Background(), []int64{42, 1, 7, 42, 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(missing, []int64{7, 42}) {
		t.Errorf("expected [7 42], got %v", missing)
	}

	none, err := svc.MissingConceptIDs(context.Background(), nil)
	if err != nil || len(none) != 0 {
		t.Errorf("expected no missing ids, got %v %v", none, err)
	}
}

func TestService_LookupConcepts(t *testing.T) {
	svc, _ := newTestService()
	got, err := svc.LookupConcepts(context.Background(), []int64{4, 99, 1, 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(ids(got), []int64{1, 4}) {
		t.Errorf("expected [1 4], got %v", ids(got))
	}
}

func TestService_ListReferenceData(t *testing.T) {
	svc, _ := newTestService()
	domains, err := svc.ListDomains(context.Background())
	if err != nil || len(domains) != 1 {
		t.Errorf("unexpected domains %v %v", domains, err)
	}
	vocabs, err := svc.ListVocabularies(context.Background())
	if err != nil || len(vocabs) != 1 {
		t.Errorf("unexpected vocabularies %v %v", vocabs, err)
	}
}
