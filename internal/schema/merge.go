package schema

// Merge applies description updates onto fields and returns a new tree with
// the same names, types, modes, order and nesting as fields.
//
// Updates are matched by exact name per nesting level; when two updates share
// a name the later one wins. Updates naming unknown columns are dropped, and
// nested updates are only followed into record columns. The input tree is
// never modified and no slice of it is reused in the result.
func Merge(fields []Field, updates []UpdateNode) []Field {
	if fields == nil {
		return nil
	}

	byName := make(map[string]UpdateNode, len(updates))
	for _, u := range updates {
		byName[u.Name] = u // last write wins
	}

	out := make([]Field, len(fields))
	for i, f := range fields {
		u, ok := byName[f.Name]
		if !ok {
			out[i] = f.Clone()
			continue
		}
		out[i] = mergeField(f, u)
	}
	return out
}

func mergeField(f Field, u UpdateNode) Field {
	merged := Field{
		Name:        f.Name,
		Type:        f.Type,
		Mode:        f.Mode,
		Description: f.Description,
	}
	if u.Description != nil {
		merged.Description = *u.Description
	}

	if f.Type.IsRecord() && len(u.Fields) > 0 {
		merged.Fields = Merge(f.Fields, u.Fields)
	} else {
		merged.Fields = cloneFields(f.Fields)
	}
	return merged
}

// TableDescription returns the table description after applying spec. An
// empty description in the document keeps the current one.
func TableDescription(current string, spec UpdateSpec) string {
	if spec.TableDescription != "" {
		return spec.TableDescription
	}
	return current
}

// SameShape reports whether a and b have identical names, types, modes and
// nesting at every depth. Descriptions are not compared.
func SameShape(a, b []Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Type != b[i].Type || a[i].Mode != b[i].Mode {
			return false
		}
		if !SameShape(a[i].Fields, b[i].Fields) {
			return false
		}
	}
	return true
}
