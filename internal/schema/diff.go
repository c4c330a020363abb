package schema

// Change is a single column description change.
type Change struct {
	Path   string `json:"path"` // dotted column path, e.g. "address.city"
	Before string `json:"before"`
	After  string `json:"after"`
}

// Diff lists the description changes between two trees of the same shape,
// in schema order. Columns present in only one tree are ignored.
func Diff(before, after []Field) []Change {
	var changes []Change
	diffInto(&changes, "", before, after)
	return changes
}

func diffInto(changes *[]Change, prefix string, before, after []Field) {
	n := min(len(before), len(after))
	for i := range n {
		b, a := before[i], after[i]
		if b.Name != a.Name {
			continue
		}
		path := b.Name
		if prefix != "" {
			path = prefix + "." + b.Name
		}
		if b.Description != a.Description {
			*changes = append(*changes, Change{Path: path, Before: b.Description, After: a.Description})
		}
		diffInto(changes, path, b.Fields, a.Fields)
	}
}
