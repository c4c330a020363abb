package catalog

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/Fuabioo/schemadoc/internal/schema"
)

// Memory is an in-process Catalog for tests. No config selects it; the
// runner, pipeline and cli tests use it in place of BigQuery. Versions stand
// in for ETags, so stale writes fail like they do against the real service.
// It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	tables  map[TableRef]Table
	version map[TableRef]int
	writes  int
}

// NewMemory returns a Memory catalog seeded with tables.
func NewMemory(tables ...Table) *Memory {
	m := &Memory{
		tables:  make(map[TableRef]Table, len(tables)),
		version: make(map[TableRef]int, len(tables)),
	}
	for _, t := range tables {
		m.Put(t)
	}
	return m
}

// Put stores t, replacing any table with the same ref.
func (m *Memory) Put(t Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version[t.Ref]++
	m.tables[t.Ref] = cloneTable(t)
}

// GetTable implements Catalog.
func (m *Memory) GetTable(ctx context.Context, ref TableRef) (Table, error) {
	if err := ctx.Err(); err != nil {
		return Table{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[ref]
	if !ok {
		return Table{}, &NotFoundError{Ref: ref}
	}
	out := cloneTable(t)
	out.ETag = strconv.Itoa(m.version[ref])
	return out, nil
}

// UpdateTable implements Catalog.
func (m *Memory) UpdateTable(ctx context.Context, t Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.tables[t.Ref]
	if !ok {
		return &NotFoundError{Ref: t.Ref}
	}
	if t.ETag != "" && t.ETag != strconv.Itoa(m.version[t.Ref]) {
		return fmt.Errorf("catalog: update %s: %w", t.Ref, ErrSchemaChanged)
	}
	if !schema.SameShape(cur.Fields, t.Fields) {
		return fmt.Errorf("catalog: update %s: %w", t.Ref, ErrSchemaChanged)
	}

	m.version[t.Ref]++
	m.writes++
	m.tables[t.Ref] = cloneTable(t)
	return nil
}

// Writes returns the number of successful UpdateTable calls.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func cloneTable(t Table) Table {
	out := t
	out.ETag = ""
	if t.Fields != nil {
		out.Fields = make([]schema.Field, len(t.Fields))
		for i, f := range t.Fields {
			out.Fields[i] = f.Clone()
		}
	}
	return out
}
