package schema

import "github.com/billlvtech/icbu-broker/internal/types"

// Index looks fields up by id across the whole tree. Ids are only unique
// within their parent, so a later field with the same id replaces an
// earlier one.
type Index struct {
	byID  map[string]*types.Field
	order map[string]int
}

// NewIndex indexes every field of the tree.
func NewIndex(fields []*types.Field) *Index {
	idx := &Index{
		byID:  make(map[string]*types.Field),
		order: make(map[string]int),
	}
	n := 0
	types.Walk(fields, func(f *types.Field) {
		if f.ID == "" {
			return
		}
		idx.byID[f.ID] = f
		if _, seen := idx.order[f.ID]; !seen {
			idx.order[f.ID] = n
			n++
		}
	})
	return idx
}

// Get returns the field with the given id, or nil.
func (i *Index) Get(id string) *types.Field {
	return i.byID[id]
}

// Position returns the first-seen position of id in schema order, or -1.
func (i *Index) Position(id string) int {
	if p, ok := i.order[id]; ok {
		return p
	}
	return -1
}
