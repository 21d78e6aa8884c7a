package vocabulary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omop/atlas/internal/platform/apperr"
	"github.com/omop/atlas/internal/platform/db"
)

const conceptCols = `c.concept_id, c.concept_name, c.domain_id, c.vocabulary_id, c.concept_class_id,
	c.standard_concept, c.concept_code, c.valid_start_date, c.valid_end_date, c.invalid_reason`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConcept(row rowScanner, extra ...interface{}) (*Concept, error) {
	var (
		c          Concept
		start, end time.Time
	)
	dest := append([]interface{}{
		&c.ConceptID, &c.ConceptName, &c.DomainID, &c.VocabularyID, &c.ConceptClassID,
		&c.StandardConcept, &c.ConceptCode, &start, &end, &c.InvalidReason,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	c.ValidStartDate = NewDate(start)
	c.ValidEndDate = NewDate(end)
	return &c, nil
}

// =========== Concept Repository ===========

type conceptRepoPG struct{ pool *pgxpool.Pool }

func NewConceptRepoPG(pool *pgxpool.Pool) ConceptRepository { return &conceptRepoPG{pool: pool} }

func (r *conceptRepoPG) conn(ctx context.Context) db.Querier {
	return db.Resolve(ctx, r.pool)
}

func (r *conceptRepoPG) GetByID(ctx context.Context, id int64) (*Concept, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+conceptCols+` FROM concept c WHERE c.concept_id = $1`, id)
	c, err := scanConcept(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("Concept", id)
		}
		return nil, fmt.Errorf("get concept: %w", err)
	}
	return c, nil
}

func (r *conceptRepoPG) Search(ctx context.Context, criteria SearchCriteria, limit, offset int) ([]*Concept, error) {
	q := buildSearch(criteria)
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(limit, offset), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("search concepts: %w", err)
	}
	return collectConcepts(rows)
}

// buildSearch composes the concept search. Lexical mode selects candidates by
// name or synonym and ranks them with the same plan LexicalQuery.score uses.
func buildSearch(criteria SearchCriteria) *db.SearchQuery {
	q := db.NewSearchQuery("concept c", conceptCols)

	text := strings.TrimSpace(criteria.Query)
	switch {
	case criteria.IsLexical():
		plan := NewLexicalQuery(text)
		patterns := make([]string, 0, len(plan.Terms))
		for _, t := range plan.CandidateTerms() {
			patterns = append(patterns, likePattern(t))
		}
		ph := q.Bind(patterns)
		q.Add(fmt.Sprintf(`(c.concept_name ILIKE ANY(%[1]s) OR EXISTS (
			SELECT 1 FROM concept_synonym s
			WHERE s.concept_id = c.concept_id AND s.concept_synonym_name ILIKE ANY(%[1]s)))`, ph))
		q.OrderBy(lexicalScoreSQL(q, plan) + " DESC, c.concept_id")
	case text != "":
		ph := q.Bind(likePattern(text))
		q.Add(fmt.Sprintf("(c.concept_name ILIKE %[1]s OR c.concept_code ILIKE %[1]s)", ph))
	}

	q.AddIn("c.domain_id", criteria.DomainIDs)
	q.AddIn("c.vocabulary_id", criteria.VocabularyIDs)
	q.AddIn("c.concept_class_id", criteria.ConceptClassIDs)
	if criteria.StandardConcept != "" {
		q.AddEqualOrNull("c.standard_concept", criteria.StandardConcept, NonStandard)
	}
	if criteria.InvalidReason != "" {
		q.AddEqualOrNull("c.invalid_reason", criteria.InvalidReason, ValidOnly)
	}
	return q
}

// lexicalScoreSQL renders LexicalQuery.score as SQL. Terms are removed with a
// nested REPLACE chain whose innermost call strips the longest term.
func lexicalScoreSQL(q *db.SearchQuery, plan LexicalQuery) string {
	const strip = `'[[:space:]-]', '', 'g'`
	rest := "LOWER(c.concept_name)"
	for _, t := range plan.Terms {
		rest = fmt.Sprintf("REPLACE(%s, %s::text, '')", rest, q.Bind(t))
	}
	full := fmt.Sprintf("LENGTH(REGEXP_REPLACE(LOWER(c.concept_name), %s))", strip)
	remainder := fmt.Sprintf("LENGTH(REGEXP_REPLACE(%s, %s))", rest, strip)
	return fmt.Sprintf("(CASE WHEN %[1]s = 0 THEN 0 ELSE 1 - %[2]s::float8 / %[1]s END)", full, remainder)
}

func (r *conceptRepoPG) GetByIDs(ctx context.Context, ids []int64) ([]*Concept, error) {
	if len(ids) == 0 {
		return []*Concept{}, nil
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+conceptCols+` FROM concept c WHERE c.concept_id = ANY($1) ORDER BY c.concept_id`, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup concepts: %w", err)
	}
	return collectConcepts(rows)
}

func (r *conceptRepoPG) ExistingIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error) {
	found := make(map[int64]struct{}, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT concept_id FROM concept WHERE concept_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("check concept ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = struct{}{}
	}
	return found, rows.Err()
}

func collectConcepts(rows pgx.Rows) ([]*Concept, error) {
	defer rows.Close()
	results := []*Concept{}
	for rows.Next() {
		c, err := scanConcept(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// =========== Relationship Repository ===========

// relationshipRepoPG runs each source as an independent statement. The three
// sources may be queried concurrently as long as ctx carries no transaction.
type relationshipRepoPG struct{ pool *pgxpool.Pool }

func NewRelationshipRepoPG(pool *pgxpool.Pool) RelationshipRepository {
	return &relationshipRepoPG{pool: pool}
}

func (r *relationshipRepoPG) conn(ctx context.Context) db.Querier {
	return db.Resolve(ctx, r.pool)
}

func (r *relationshipRepoPG) Direct(ctx context.Context, id int64) ([]RelatedEdge, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+conceptCols+`, rel.relationship_id, rel.relationship_name
		 FROM concept_relationship cr
		 JOIN concept c ON c.concept_id = cr.concept_id_2
		 JOIN relationship rel ON rel.relationship_id = cr.relationship_id
		 WHERE cr.concept_id_1 = $1 AND cr.invalid_reason IS NULL
		 ORDER BY rel.relationship_id, c.concept_id`, id)
	if err != nil {
		return nil, fmt.Errorf("direct relationships: %w", err)
	}
	defer rows.Close()
	var edges []RelatedEdge
	for rows.Next() {
		var e RelatedEdge
		c, err := scanConcept(rows, &e.Relationship.RelationshipID, &e.Relationship.RelationshipName)
		if err != nil {
			return nil, err
		}
		e.Concept = *c
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (r *relationshipRepoPG) Ancestors(ctx context.Context, id int64) ([]RelatedEdge, error) {
	return r.hierarchy(ctx, id, RelationshipAncestor,
		`SELECT `+conceptCols+`, ca.min_levels_of_separation
		 FROM concept_ancestor ca
		 JOIN concept c ON c.concept_id = ca.ancestor_concept_id
		 WHERE ca.descendant_concept_id = $1 AND ca.ancestor_concept_id <> $1
		 ORDER BY ca.min_levels_of_separation, c.concept_id`)
}

func (r *relationshipRepoPG) Descendants(ctx context.Context, id int64) ([]RelatedEdge, error) {
	return r.hierarchy(ctx, id, RelationshipDescendant,
		`SELECT `+conceptCols+`, ca.min_levels_of_separation
		 FROM concept_ancestor ca
		 JOIN concept c ON c.concept_id = ca.descendant_concept_id
		 WHERE ca.ancestor_concept_id = $1 AND ca.descendant_concept_id <> $1
		 ORDER BY ca.min_levels_of_separation, c.concept_id`)
}

func (r *relationshipRepoPG) hierarchy(ctx context.Context, id int64, label, sql string) ([]RelatedEdge, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("%s concepts: %w", strings.ToLower(label), err)
	}
	defer rows.Close()
	var edges []RelatedEdge
	for rows.Next() {
		var distance int
		c, err := scanConcept(rows, &distance)
		if err != nil {
			return nil, err
		}
		edges = append(edges, RelatedEdge{
			Concept: *c,
			Relationship: Relationship{
				RelationshipID:       label,
				RelationshipName:     label,
				RelationshipDistance: distance,
			},
		})
	}
	return edges, rows.Err()
}

// =========== Reference Repository ===========

type referenceRepoPG struct{ pool *pgxpool.Pool }

func NewReferenceRepoPG(pool *pgxpool.Pool) ReferenceRepository { return &referenceRepoPG{pool: pool} }

func (r *referenceRepoPG) ListDomains(ctx context.Context) ([]*Domain, error) {
	rows, err := db.Resolve(ctx, r.pool).Query(ctx,
		`SELECT domain_id, domain_name, domain_concept_id FROM domain ORDER BY domain_id`)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()
	results := []*Domain{}
	for rows.Next() {
		var d Domain
		if err := rows.Scan(&d.DomainID, &d.DomainName, &d.DomainConceptID); err != nil {
			return nil, err
		}
		results = append(results, &d)
	}
	return results, rows.Err()
}

func (r *referenceRepoPG) ListVocabularies(ctx context.Context) ([]*Vocabulary, error) {
	rows, err := db.Resolve(ctx, r.pool).Query(ctx,
		`SELECT vocabulary_id, vocabulary_name, vocabulary_reference, vocabulary_version, vocabulary_concept_id
		 FROM vocabulary ORDER BY vocabulary_id`)
	if err != nil {
		return nil, fmt.Errorf("list vocabularies: %w", err)
	}
	defer rows.Close()
	results := []*Vocabulary{}
	for rows.Next() {
		var v Vocabulary
		if err := rows.Scan(&v.VocabularyID, &v.VocabularyName, &v.VocabularyReference,
			&v.VocabularyVersion, &v.VocabularyConceptID); err != nil {
			return nil, err
		}
		results = append(results, &v)
	}
	return results, rows.Err()
}
