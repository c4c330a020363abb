// Package catalog reads and writes table schemas in a table catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/Fuabioo/schemadoc/internal/schema"
)

var (
	// ErrTableNotFound indicates the target table does not exist.
	ErrTableNotFound = errors.New("table not found")

	// ErrSchemaChanged indicates the table structure changed between read and write.
	ErrSchemaChanged = errors.New("table schema changed concurrently")
)

// TableRef is a fully qualified table identifier.
type TableRef struct {
	Project string `json:"project"`
	Dataset string `json:"dataset"`
	Table   string `json:"table"`
}

// String returns project.dataset.table.
func (r TableRef) String() string {
	return fmt.Sprintf("%s.%s.%s", r.Project, r.Dataset, r.Table)
}

// Table is the description-relevant part of a table's metadata.
type Table struct {
	Ref         TableRef
	Description string
	Fields      []schema.Field
	ETag        string // opaque version marker; empty disables the concurrency check
}

// Catalog retrieves and persists table schemas.
type Catalog interface {
	GetTable(ctx context.Context, ref TableRef) (Table, error)
	// UpdateTable writes t.Description and the descriptions in t.Fields. The
	// structure of t.Fields must match the stored schema.
	UpdateTable(ctx context.Context, t Table) error
}

// NotFoundError reports a missing table.
type NotFoundError struct {
	Ref TableRef
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("table %s not found", e.Ref)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrTableNotFound
}
