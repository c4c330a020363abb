package catalog

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fuabioo/schemadoc/internal/schema"
)

var ordersRef = TableRef{Project: "acme", Dataset: "sales", Table: "orders"}

var (
	_ Catalog = (*Memory)(nil)
	_ Catalog = (*BigQuery)(nil)
)

func ordersTable() Table {
	return Table{
		Ref:         ordersRef,
		Description: "orders",
		Fields: []schema.Field{
			{Name: "id", Type: "INTEGER", Mode: schema.ModeRequired},
			{Name: "customer", Type: schema.TypeRecord, Mode: schema.ModeNullable, Fields: []schema.Field{
				{Name: "name", Type: schema.TypeString, Mode: schema.ModeNullable},
			}},
		},
	}
}

func TestTableRefString(t *testing.T) {
	assert.Equal(t, "acme.sales.orders", ordersRef.String())
}

func TestNotFoundErrorIs(t *testing.T) {
	err := error(&NotFoundError{Ref: ordersRef})
	assert.True(t, errors.Is(err, ErrTableNotFound))
	assert.Equal(t, "table acme.sales.orders not found", err.Error())
}

func TestMemoryGetMissing(t *testing.T) {
	m := NewMemory()
	_, err := m.GetTable(context.Background(), ordersRef)
	assert.True(t, errors.Is(err, ErrTableNotFound), "got %v", err)

	err = m.UpdateTable(context.Background(), ordersTable())
	assert.True(t, errors.Is(err, ErrTableNotFound), "got %v", err)
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(ordersTable())

	tbl, err := m.GetTable(ctx, ordersRef)
	require.NoError(t, err)
	require.NotEmpty(t, tbl.ETag)

	tbl.Description = "all orders"
	tbl.Fields[1].Fields[0].Description = "customer name"
	require.NoError(t, m.UpdateTable(ctx, tbl))
	assert.Equal(t, 1, m.Writes())

	got, err := m.GetTable(ctx, ordersRef)
	require.NoError(t, err)
	assert.Equal(t, "all orders", got.Description)
	assert.Equal(t, "customer name", got.Fields[1].Fields[0].Description)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(ordersTable())

	tbl, err := m.GetTable(ctx, ordersRef)
	require.NoError(t, err)
	tbl.Fields[1].Fields[0].Description = "scribbled"

	again, err := m.GetTable(ctx, ordersRef)
	require.NoError(t, err)
	assert.Equal(t, "", again.Fields[1].Fields[0].Description)
}

func TestMemoryRejectsStaleETag(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(ordersTable())

	stale, err := m.GetTable(ctx, ordersRef)
	require.NoError(t, err)
	m.Put(ordersTable())

	err = m.UpdateTable(ctx, stale)
	assert.True(t, errors.Is(err, ErrSchemaChanged), "got %v", err)
}

func TestMemoryRejectsShapeChange(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(ordersTable())

	tbl, err := m.GetTable(ctx, ordersRef)
	require.NoError(t, err)
	tbl.Fields = tbl.Fields[:1]

	err = m.UpdateTable(ctx, tbl)
	assert.True(t, errors.Is(err, ErrSchemaChanged), "got %v", err)
	assert.Equal(t, 0, m.Writes())
}

func bqSchema() bigquery.Schema {
	return bigquery.Schema{
		{Name: "id", Type: bigquery.IntegerFieldType, Required: true, Description: "key"},
		{Name: "tags", Type: bigquery.StringFieldType, Repeated: true},
		{
			Name: "customer", Type: bigquery.RecordFieldType,
			Schema: bigquery.Schema{
				{Name: "name", Type: bigquery.StringFieldType, MaxLength: 64, Description: "old"},
			},
		},
	}
}

func TestFieldsFromBigQuery(t *testing.T) {
	got := fieldsFromBigQuery(bqSchema())
	want := []schema.Field{
		{Name: "id", Type: "INTEGER", Mode: schema.ModeRequired, Description: "key"},
		{Name: "tags", Type: "STRING", Mode: schema.ModeRepeated},
		{Name: "customer", Type: schema.TypeRecord, Mode: schema.ModeNullable, Fields: []schema.Field{
			{Name: "name", Type: "STRING", Mode: schema.ModeNullable, Description: "old"},
		}},
	}
	assert.Equal(t, want, got)
}

func TestWithDescriptions(t *testing.T) {
	orig := bqSchema()
	fields := fieldsFromBigQuery(orig)
	fields[2].Fields[0].Description = "new"
	fields[1].Description = "labels"

	got, err := withDescriptions(orig, fields)
	require.NoError(t, err)

	assert.Equal(t, "labels", got[1].Description)
	assert.Equal(t, "new", got[2].Schema[0].Description)
	assert.Equal(t, int64(64), got[2].Schema[0].MaxLength, "unmodelled attributes are kept")
	assert.True(t, got[1].Repeated)

	// The original schema is untouched.
	assert.Equal(t, "old", orig[2].Schema[0].Description)
	assert.Equal(t, "", orig[1].Description)
}

func TestWithDescriptionsShapeMismatch(t *testing.T) {
	fields := fieldsFromBigQuery(bqSchema())
	fields[2].Fields = nil

	_, err := withDescriptions(bqSchema(), fields)
	assert.True(t, errors.Is(err, ErrSchemaChanged))
}
