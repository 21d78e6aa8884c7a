package conceptset

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omop/atlas/internal/domain/vocabulary"
	"github.com/omop/atlas/internal/platform/apperr"
	"github.com/omop/atlas/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Resolve(ctx, r.pool)
}

const setCols = `concept_set_id, concept_set_name, created_by_id, created_date, modified_date`

func (r *repoPG) Create(ctx context.Context, cs *ConceptSet) error {
	err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO concept_set (concept_set_name, created_by_id)
		 VALUES ($1, $2)
		 RETURNING concept_set_id, created_date`,
		cs.Name, cs.CreatedByID).Scan(&cs.ID, &cs.CreatedDate)
	if err != nil {
		return fmt.Errorf("insert concept set: %w", err)
	}
	return nil
}

// GetByID loads the set, its items and their concepts with one joined query.
func (r *repoPG) GetByID(ctx context.Context, id int64) (*ConceptSet, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT cs.concept_set_id, cs.concept_set_name, cs.created_by_id, cs.created_date, cs.modified_date,
		        i.concept_set_item_id, i.concept_id, i.is_excluded, i.include_descendants, i.include_mapped,
		        c.concept_name, c.domain_id, c.vocabulary_id, c.concept_class_id, c.standard_concept,
		        c.concept_code, c.valid_start_date, c.valid_end_date, c.invalid_reason
		 FROM concept_set cs
		 LEFT JOIN concept_set_item i ON i.concept_set_id = cs.concept_set_id
		 LEFT JOIN concept c ON c.concept_id = i.concept_id
		 WHERE cs.concept_set_id = $1
		 ORDER BY i.concept_set_item_id`, id)
	if err != nil {
		return nil, fmt.Errorf("get concept set: %w", err)
	}
	defer rows.Close()

	var cs *ConceptSet
	for rows.Next() {
		var (
			set  ConceptSet
			item struct {
				id                               *int64
				conceptID                        *int64
				excluded, descendants, mapped    *bool
				name, domain, vocab, class, code *string
				standard, invalid                *string
				start, end                       *time.Time
			}
		)
		if err := rows.Scan(&set.ID, &set.Name, &set.CreatedByID, &set.CreatedDate, &set.ModifiedDate,
			&item.id, &item.conceptID, &item.excluded, &item.descendants, &item.mapped,
			&item.name, &item.domain, &item.vocab, &item.class, &item.standard,
			&item.code, &item.start, &item.end, &item.invalid); err != nil {
			return nil, fmt.Errorf("scan concept set: %w", err)
		}
		if cs == nil {
			set.Items = []Item{}
			cs = &set
		}
		if item.id == nil {
			continue
		}

		it := Item{
			ID:                 *item.id,
			ConceptID:          *item.conceptID,
			IsExcluded:         *item.excluded,
			IncludeDescendants: *item.descendants,
			IncludeMapped:      *item.mapped,
		}
		if item.name != nil {
			it.Concept = &vocabulary.Concept{
				ConceptID:       *item.conceptID,
				ConceptName:     *item.name,
				DomainID:        *item.domain,
				VocabularyID:    *item.vocab,
				ConceptClassID:  *item.class,
				StandardConcept: item.standard,
				ConceptCode:     *item.code,
				ValidStartDate:  vocabulary.NewDate(*item.start),
				ValidEndDate:    vocabulary.NewDate(*item.end),
				InvalidReason:   item.invalid,
			}
		}
		cs.Items = append(cs.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get concept set: %w", err)
	}
	if cs == nil {
		return nil, apperr.NotFound(ResourceName, id)
	}
	return cs, nil
}

func (r *repoPG) Lock(ctx context.Context, id int64) (*ConceptSet, error) {
	var cs ConceptSet
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+setCols+` FROM concept_set WHERE concept_set_id = $1 FOR UPDATE`, id).
		Scan(&cs.ID, &cs.Name, &cs.CreatedByID, &cs.CreatedDate, &cs.ModifiedDate)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound(ResourceName, id)
		}
		return nil, fmt.Errorf("lock concept set: %w", err)
	}
	return &cs, nil
}

func (r *repoPG) Update(ctx context.Context, id int64, name *string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE concept_set
		 SET concept_set_name = COALESCE($2, concept_set_name), modified_date = NOW()
		 WHERE concept_set_id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("update concept set: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(ResourceName, id)
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM concept_set WHERE concept_set_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete concept set: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(ResourceName, id)
	}
	return nil
}

// InsertItems writes every item in a single statement.
func (r *repoPG) InsertItems(ctx context.Context, setID int64, items []ItemInput) error {
	if len(items) == 0 {
		return nil
	}
	var (
		ids         = make([]int64, len(items))
		excluded    = make([]bool, len(items))
		descendants = make([]bool, len(items))
		mapped      = make([]bool, len(items))
	)
	for i, it := range items {
		ids[i] = it.ConceptID
		excluded[i] = it.IsExcluded
		descendants[i] = it.IncludeDescendants
		mapped[i] = it.IncludeMapped
	}
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO concept_set_item (concept_set_id, concept_id, is_excluded, include_descendants, include_mapped)
		 SELECT $1, t.concept_id, t.is_excluded, t.include_descendants, t.include_mapped
		 FROM UNNEST($2::bigint[], $3::boolean[], $4::boolean[], $5::boolean[])
		      WITH ORDINALITY AS t(concept_id, is_excluded, include_descendants, include_mapped, ord)
		 ORDER BY t.ord`,
		setID, ids, excluded, descendants, mapped)
	if err != nil {
		return fmt.Errorf("insert concept set items: %w", err)
	}
	return nil
}

func (r *repoPG) DeleteItems(ctx context.Context, setID int64) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM concept_set_item WHERE concept_set_id = $1`, setID); err != nil {
		return fmt.Errorf("delete concept set items: %w", err)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Summary, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM concept_set`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count concept sets: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT cs.concept_set_id, cs.concept_set_name, cs.created_by_id, cs.created_date, cs.modified_date,
		        (SELECT COUNT(*) FROM concept_set_item i WHERE i.concept_set_id = cs.concept_set_id)
		 FROM concept_set cs
		 ORDER BY cs.concept_set_id
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list concept sets: %w", err)
	}
	defer rows.Close()
	results := []*Summary{}
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Name, &s.CreatedByID, &s.CreatedDate, &s.ModifiedDate, &s.ItemCount); err != nil {
			return nil, 0, err
		}
		results = append(results, &s)
	}
	return results, total, rows.Err()
}
