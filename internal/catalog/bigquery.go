package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/Fuabioo/schemadoc/internal/schema"
)

// BigQuery is a Catalog backed by the BigQuery tables API.
type BigQuery struct {
	client *bigquery.Client
}

// NewBigQuery creates a BigQuery client. An empty billingProject is
// detected from the environment credentials.
func NewBigQuery(ctx context.Context, billingProject string) (*BigQuery, error) {
	if billingProject == "" {
		billingProject = bigquery.DetectProjectID
	}
	client, err := bigquery.NewClient(ctx, billingProject)
	if err != nil {
		return nil, fmt.Errorf("catalog: create bigquery client: %w", err)
	}
	return &BigQuery{client: client}, nil
}

// Close releases the underlying client.
func (b *BigQuery) Close() error {
	if b == nil {
		return nil
	}
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("catalog: close bigquery client: %w", err)
	}
	return nil
}

func (b *BigQuery) table(ref TableRef) *bigquery.Table {
	return b.client.DatasetInProject(ref.Project, ref.Dataset).Table(ref.Table)
}

// GetTable implements Catalog.
func (b *BigQuery) GetTable(ctx context.Context, ref TableRef) (Table, error) {
	md, err := b.table(ref).Metadata(ctx)
	if err != nil {
		return Table{}, wrapAPIError(ref, "get", err)
	}
	return Table{
		Ref:         ref,
		Description: md.Description,
		Fields:      fieldsFromBigQuery(md.Schema),
		ETag:        md.ETag,
	}, nil
}

// UpdateTable implements Catalog. The stored field schemas are copied and
// only their descriptions replaced, so attributes the merge does not model
// (policy tags, collation, defaults) survive the write.
func (b *BigQuery) UpdateTable(ctx context.Context, t Table) error {
	tbl := b.table(t.Ref)
	md, err := tbl.Metadata(ctx)
	if err != nil {
		return wrapAPIError(t.Ref, "get", err)
	}
	if t.ETag != "" && md.ETag != t.ETag {
		return fmt.Errorf("catalog: update %s: %w", t.Ref, ErrSchemaChanged)
	}

	updated, err := withDescriptions(md.Schema, t.Fields)
	if err != nil {
		return fmt.Errorf("catalog: update %s: %w", t.Ref, err)
	}

	update := bigquery.TableMetadataToUpdate{
		Description: t.Description,
		Schema:      updated,
	}
	if _, err := tbl.Update(ctx, update, md.ETag); err != nil {
		return wrapAPIError(t.Ref, "update", err)
	}
	return nil
}

func wrapAPIError(ref TableRef, op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return &NotFoundError{Ref: ref}
		case http.StatusPreconditionFailed:
			return fmt.Errorf("catalog: %s %s: %w", op, ref, ErrSchemaChanged)
		}
	}
	return fmt.Errorf("catalog: %s %s: %w", op, ref, err)
}

func fieldsFromBigQuery(s bigquery.Schema) []schema.Field {
	if s == nil {
		return nil
	}
	out := make([]schema.Field, len(s))
	for i, fs := range s {
		out[i] = schema.Field{
			Name:        fs.Name,
			Type:        schema.FieldType(fs.Type),
			Mode:        modeOf(fs),
			Description: fs.Description,
			Fields:      fieldsFromBigQuery(fs.Schema),
		}
	}
	return out
}

func modeOf(fs *bigquery.FieldSchema) schema.Mode {
	switch {
	case fs.Repeated:
		return schema.ModeRepeated
	case fs.Required:
		return schema.ModeRequired
	default:
		return schema.ModeNullable
	}
}

// withDescriptions returns a copy of s with descriptions taken from fields,
// which must have the same shape as s.
func withDescriptions(s bigquery.Schema, fields []schema.Field) (bigquery.Schema, error) {
	if !schema.SameShape(fieldsFromBigQuery(s), fields) {
		return nil, ErrSchemaChanged
	}
	return copyDescriptions(s, fields), nil
}

func copyDescriptions(s bigquery.Schema, fields []schema.Field) bigquery.Schema {
	if s == nil {
		return nil
	}
	out := make(bigquery.Schema, len(s))
	for i, fs := range s {
		cp := *fs
		cp.Description = fields[i].Description
		cp.Schema = copyDescriptions(fs.Schema, fields[i].Fields)
		out[i] = &cp
	}
	return out
}
