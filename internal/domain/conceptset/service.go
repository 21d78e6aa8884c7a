package conceptset

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/omop/atlas/internal/platform/apperr"
	"github.com/omop/atlas/internal/platform/db"
	"github.com/omop/atlas/internal/platform/telemetry"
)

var tracer = telemetry.Tracer("github.com/omop/atlas/internal/domain/conceptset")

// ConceptChecker resolves concept references against the vocabulary.
type ConceptChecker interface {
	MissingConceptIDs(ctx context.Context, ids []int64) ([]int64, error)
}

// Service validates and persists concept sets. Every operation runs in one
// transaction.
type Service struct {
	repo     Repository
	concepts ConceptChecker
	tx       db.TxRunner
}

// NewService creates a new concept set service.
func NewService(repo Repository, concepts ConceptChecker, tx db.TxRunner) *Service {
	return &Service{repo: repo, concepts: concepts, tx: tx}
}

// Create validates items, inserts the set and its items, and returns the set
// with every item's concept populated.
func (s *Service) Create(ctx context.Context, name string, items []ItemInput, creatorID int64) (*ConceptSet, error) {
	ctx, span := tracer.Start(ctx, telemetry.SpanName("conceptset", "Create"),
		trace.WithAttributes(attribute.Int("conceptset.items", len(items))))
	defer span.End()

	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	if creatorID <= 0 {
		return nil, apperr.Validation("creator id is required")
	}

	var out *ConceptSet
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.validateItems(ctx, items); err != nil {
			return err
		}
		created := &ConceptSet{Name: name, CreatedByID: creatorID}
		if err := s.repo.Create(ctx, created); err != nil {
			return translateWriteError(err, name)
		}
		if err := s.repo.InsertItems(ctx, created.ID, items); err != nil {
			return err
		}
		loaded, err := s.repo.GetByID(ctx, created.ID)
		if err != nil {
			return err
		}
		out = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("conceptset.id", out.ID))
	return out, nil
}

// Get returns the set with items and concepts populated.
func (s *Service) Get(ctx context.Context, id int64) (*ConceptSet, error) {
	ctx, span := tracer.Start(ctx, telemetry.SpanName("conceptset", "Get"),
		trace.WithAttributes(attribute.Int64("conceptset.id", id)))
	defer span.End()

	return s.repo.GetByID(ctx, id)
}

// Update renames the set when name is given and differs, and replaces all of
// its items when items is non-nil. A pointer to an empty slice removes every
// item; a nil pointer leaves items untouched.
func (s *Service) Update(ctx context.Context, id int64, name *string, items *[]ItemInput) (*ConceptSet, error) {
	ctx, span := tracer.Start(ctx, telemetry.SpanName("conceptset", "Update"),
		trace.WithAttributes(
			attribute.Int64("conceptset.id", id),
			attribute.Bool("conceptset.rename", name != nil),
			attribute.Bool("conceptset.replace_items", items != nil),
		))
	defer span.End()

	var out *ConceptSet
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.Lock(ctx, id)
		if err != nil {
			return err
		}

		var rename *string
		if name != nil {
			n, err := validateName(*name)
			if err != nil {
				return err
			}
			if n != current.Name {
				rename = &n
			}
		}

		if items != nil {
			if err := s.validateItems(ctx, *items); err != nil {
				return err
			}
		}

		if err := s.repo.Update(ctx, id, rename); err != nil {
			if rename != nil {
				return translateWriteError(err, *rename)
			}
			return err
		}

		if items != nil {
			if err := s.repo.DeleteItems(ctx, id); err != nil {
				return err
			}
			if err := s.repo.InsertItems(ctx, id, *items); err != nil {
				return err
			}
		}

		out, err = s.repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the set and all of its items.
func (s *Service) Delete(ctx context.Context, id int64) error {
	ctx, span := tracer.Start(ctx, telemetry.SpanName("conceptset", "Delete"),
		trace.WithAttributes(attribute.Int64("conceptset.id", id)))
	defer span.End()

	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.Lock(ctx, id); err != nil {
			return err
		}
		if err := s.repo.DeleteItems(ctx, id); err != nil {
			return err
		}
		return s.repo.Delete(ctx, id)
	})
}

// List returns set summaries ordered by id and the total number of sets.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Summary, int, error) {
	if limit < 1 {
		limit = 1
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}

// Expression returns the set in the ATLAS concept set expression format.
func (s *Service) Expression(ctx context.Context, id int64) (*Expression, error) {
	cs, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return NewExpression(cs), nil
}

// validateItems rejects repeated concept ids, then checks every referenced
// concept exists with one batched query.
func (s *Service) validateItems(ctx context.Context, items []ItemInput) error {
	if hasDuplicateConcepts(items) {
		return apperr.Validation("Duplicate concept IDs")
	}
	missing, err := s.concepts.MissingConceptIDs(ctx, conceptIDs(items))
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return apperr.ConceptReference(missing)
	}
	return nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Validation("name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", apperr.Validation("name must be at most %d characters", MaxNameLength)
	}
	return name, nil
}

// translateWriteError turns a collision on the name constraint into a
// duplicate error. Any other failure, including other constraint violations,
// is returned unchanged.
func translateWriteError(err error, name string) error {
	if db.IsUniqueViolation(err, NameConstraint) {
		return apperr.Duplicate(ResourceName, "name", name)
	}
	return err
}
