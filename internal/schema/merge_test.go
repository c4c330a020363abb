package schema

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str(s string) *string { return &s }

func sampleSchema() []Field {
	return []Field{
		{Name: "id", Type: "INTEGER", Mode: ModeRequired, Description: "primary key"},
		{
			Name: "address", Type: TypeRecord, Mode: ModeNullable, Description: "postal address",
			Fields: []Field{
				{Name: "city", Type: TypeString, Mode: ModeNullable, Description: "old city"},
				{Name: "zip", Type: TypeString, Mode: ModeNullable},
				{
					Name: "geo", Type: TypeRecord, Mode: ModeNullable,
					Fields: []Field{
						{Name: "lat", Type: "FLOAT", Mode: ModeNullable},
						{Name: "lng", Type: "FLOAT", Mode: ModeNullable},
					},
				},
			},
		},
		{Name: "tags", Type: TypeString, Mode: ModeRepeated, Description: "labels"},
	}
}

func sampleUpdates() []UpdateNode {
	return []UpdateNode{
		{Name: "id", Description: str("surrogate id")},
		{
			Name: "address",
			Fields: []UpdateNode{
				{Name: "city", Description: str("city name")},
				{Name: "geo", Fields: []UpdateNode{{Name: "lat", Description: str("latitude")}}},
			},
		},
		{Name: "ghost", Description: str("does not exist")},
	}
}

func TestMergeTargetedOverride(t *testing.T) {
	fields := []Field{
		{Name: "a", Type: TypeString, Description: "old"},
		{Name: "b", Type: TypeString, Description: "keep"},
	}
	got := Merge(fields, []UpdateNode{{Name: "a", Description: str("new")}})

	want := []Field{
		{Name: "a", Type: TypeString, Description: "new"},
		{Name: "b", Type: TypeString, Description: "keep"},
	}
	assert.Equal(t, want, got)
}

func TestMergeEmptyUpdatesIsNoop(t *testing.T) {
	fields := sampleSchema()
	assert.Equal(t, fields, Merge(fields, nil))
	assert.Equal(t, fields, Merge(fields, []UpdateNode{}))
}

func TestMergeNilFields(t *testing.T) {
	assert.Nil(t, Merge(nil, sampleUpdates()))
	assert.Equal(t, []Field{}, Merge([]Field{}, sampleUpdates()))
}

func TestMergeUnmatchedUpdateIgnored(t *testing.T) {
	fields := sampleSchema()
	got := Merge(fields, []UpdateNode{{Name: "ghost", Description: str("x")}})
	assert.Equal(t, fields, got)
}

func TestMergeNested(t *testing.T) {
	fields := []Field{
		{
			Name: "addr", Type: TypeRecord, Description: "address",
			Fields: []Field{{Name: "city", Type: TypeString, Description: "old"}},
		},
	}
	updates := []UpdateNode{
		{Name: "addr", Fields: []UpdateNode{{Name: "city", Description: str("new")}}},
	}

	got := Merge(fields, updates)
	require.Len(t, got, 1)
	assert.Equal(t, "address", got[0].Description)
	assert.Equal(t, TypeRecord, got[0].Type)
	require.Len(t, got[0].Fields, 1)
	assert.Equal(t, "new", got[0].Fields[0].Description)
}

func TestMergeDeepNesting(t *testing.T) {
	got := Merge(sampleSchema(), sampleUpdates())

	assert.Equal(t, "surrogate id", got[0].Description)
	assert.Equal(t, "postal address", got[1].Description, "record description kept when update has none")
	assert.Equal(t, "city name", got[1].Fields[0].Description)
	assert.Equal(t, "", got[1].Fields[1].Description)
	assert.Equal(t, "latitude", got[1].Fields[2].Fields[0].Description)
	assert.Equal(t, "", got[1].Fields[2].Fields[1].Description)
	assert.Equal(t, "labels", got[2].Description)
}

func TestMergeChildrenOnScalarIgnored(t *testing.T) {
	fields := []Field{{Name: "name", Type: TypeString, Mode: ModeNullable, Description: "d"}}
	updates := []UpdateNode{
		{Name: "name", Fields: []UpdateNode{{Name: "first", Description: str("x")}}},
	}

	got := Merge(fields, updates)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Fields)
	assert.Equal(t, fields, got)
}

func TestMergeRecordWithoutNestedUpdateKeepsChildren(t *testing.T) {
	fields := sampleSchema()
	got := Merge(fields, []UpdateNode{{Name: "address", Description: str("where they live")}})

	assert.Equal(t, "where they live", got[1].Description)
	assert.Equal(t, fields[1].Fields, got[1].Fields)
}

func TestMergeStructAliasIsRecord(t *testing.T) {
	fields := []Field{
		{Name: "s", Type: TypeStruct, Fields: []Field{{Name: "x", Type: TypeString}}},
	}
	got := Merge(fields, []UpdateNode{{Name: "s", Fields: []UpdateNode{{Name: "x", Description: str("ex")}}}})
	assert.Equal(t, "ex", got[0].Fields[0].Description)
}

func TestMergeLastWriteWins(t *testing.T) {
	fields := []Field{
		{Name: "a", Type: TypeString, Description: "orig"},
		{
			Name: "r", Type: TypeRecord,
			Fields: []Field{{Name: "c", Type: TypeString}},
		},
	}
	updates := []UpdateNode{
		{Name: "a", Description: str("first")},
		{Name: "r", Fields: []UpdateNode{{Name: "c", Description: str("nested first")}}},
		{Name: "a", Description: str("second")},
		{Name: "r", Fields: []UpdateNode{
			{Name: "c", Description: str("nested second")},
			{Name: "c", Description: str("nested third")},
		}},
	}

	got := Merge(fields, updates)
	assert.Equal(t, "second", got[0].Description)
	assert.Equal(t, "nested third", got[1].Fields[0].Description)
}

func TestMergeLastWriteWinsWithoutDescription(t *testing.T) {
	// The later node replaces the earlier one entirely, so its absent
	// description means "no change" rather than falling back to the first.
	fields := []Field{{Name: "a", Type: TypeString, Description: "orig"}}
	updates := []UpdateNode{
		{Name: "a", Description: str("first")},
		{Name: "a"},
	}
	got := Merge(fields, updates)
	assert.Equal(t, "orig", got[0].Description)
}

func TestMergeExplicitEmptyDescription(t *testing.T) {
	fields := []Field{{Name: "a", Type: TypeString, Description: "orig"}}

	got := Merge(fields, []UpdateNode{{Name: "a"}})
	assert.Equal(t, "orig", got[0].Description, "absent description is not a blank")

	got = Merge(fields, []UpdateNode{{Name: "a", Description: str("")}})
	assert.Equal(t, "", got[0].Description)
}

func TestMergePreservesShapeAndOrder(t *testing.T) {
	fields := sampleSchema()
	got := Merge(fields, sampleUpdates())

	require.True(t, SameShape(fields, got), "shape changed:\nbefore: %s\nafter: %s", spew.Sdump(fields), spew.Sdump(got))
}

func TestMergeIdempotent(t *testing.T) {
	once := Merge(sampleSchema(), sampleUpdates())
	twice := Merge(once, sampleUpdates())
	assert.Equal(t, once, twice)
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	fields := sampleSchema()
	pristine := sampleSchema()

	got := Merge(fields, sampleUpdates())
	assert.Equal(t, pristine, fields)

	// Writes through the result must not reach the input, including
	// subtrees that were passed through unchanged.
	got[1].Fields[1].Description = "mutated"
	got[1].Fields[2].Fields[1].Description = "mutated"
	got[2].Description = "mutated"
	assert.Equal(t, pristine, fields)

	noop := Merge(fields, nil)
	noop[1].Fields[0].Description = "mutated"
	assert.Equal(t, pristine, fields)
}

func TestTableDescription(t *testing.T) {
	tests := []struct {
		name    string
		current string
		spec    UpdateSpec
		want    string
	}{
		{"empty keeps current", "existing", UpdateSpec{}, "existing"},
		{"non-empty replaces", "existing", UpdateSpec{TableDescription: "fresh"}, "fresh"},
		{"non-empty on blank table", "", UpdateSpec{TableDescription: "fresh"}, "fresh"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TableDescription(tt.current, tt.spec))
		})
	}
}

func TestSameShape(t *testing.T) {
	base := sampleSchema()

	retyped := sampleSchema()
	retyped[1].Fields[0].Type = "INTEGER"

	remoded := sampleSchema()
	remoded[0].Mode = ModeNullable

	dropped := sampleSchema()
	dropped[1].Fields = dropped[1].Fields[:2]

	described := sampleSchema()
	described[0].Description = "other"

	assert.True(t, SameShape(base, described))
	assert.False(t, SameShape(base, retyped))
	assert.False(t, SameShape(base, remoded))
	assert.False(t, SameShape(base, dropped))
	assert.False(t, SameShape(base, base[:2]))
}
