// internal/rules/category.go
package rules

import "github.com/solatis/cascade/internal/types"

// CategoryIndex maps a category to its member fields in declaration order.
// Built once per program; read-only afterwards.
type CategoryIndex map[types.CategoryID][]types.FieldID

// BuildCategoryIndex groups fields by CategoryID. Uncategorized fields are skipped.
func BuildCategoryIndex(fields []types.Field) CategoryIndex {
	idx := make(CategoryIndex)
	seen := make(map[types.FieldID]struct{}, len(fields))
	for _, f := range fields {
		if f.CategoryID == "" {
			continue
		}
		if _, dup := seen[f.ID]; dup {
			continue
		}
		seen[f.ID] = struct{}{}
		idx[f.CategoryID] = append(idx[f.CategoryID], f.ID)
	}
	return idx
}

// Has reports whether the category has at least one field.
func (idx CategoryIndex) Has(id types.CategoryID) bool {
	return len(idx[id]) > 0
}

// Expand resolves a target to field ids. An unknown category expands to nothing.
func (idx CategoryIndex) Expand(target types.FieldTarget) []types.FieldID {
	if target.Category != "" {
		return idx[target.Category]
	}
	if target.Field == "" {
		return nil
	}
	return []types.FieldID{target.Field}
}
