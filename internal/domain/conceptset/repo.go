package conceptset

import "context"

// Repository persists concept sets and their items. Writes are expected to
// run inside a transaction carried by ctx.
type Repository interface {
	// Create inserts the set row and fills in its ID and CreatedDate.
	Create(ctx context.Context, cs *ConceptSet) error
	// GetByID returns the set with items and their concepts in one read.
	GetByID(ctx context.Context, id int64) (*ConceptSet, error)
	// Lock returns the set row without items and holds it until the
	// transaction ends.
	Lock(ctx context.Context, id int64) (*ConceptSet, error)
	// Update renames the set when name is non-nil and stamps ModifiedDate.
	Update(ctx context.Context, id int64, name *string) error
	Delete(ctx context.Context, id int64) error
	InsertItems(ctx context.Context, setID int64, items []ItemInput) error
	DeleteItems(ctx context.Context, setID int64) error
	List(ctx context.Context, limit, offset int) ([]*Summary, int, error)
}
