// Package categorize assigns selected entity codes to sensitivity categories.
//
// The mapping is a pure function of the current selection and the user's
// overrides; defaults come from the entity catalog.
package categorize

import (
	"errors"
	"fmt"

	"github.com/qualys/piiflow/internal/entities"
	"github.com/qualys/piiflow/internal/models"
)

var (
	ErrNotSelected     = errors.New("cannot move unselected entity")
	ErrUnknownCategory = errors.New("unknown category")
)

// Mapping maps a backend entity code to its category.
type Mapping map[string]models.Category

// Groups is the per-category display of a mapping.
type Groups map[models.Category][]string

// Reconcile returns the mapping for the selected codes. A code keeps its
// override when one exists; otherwise it takes its default category.
// Overrides for codes that are no longer selected are not carried over.
func Reconcile(selected []string, overrides Mapping) Mapping {
	out := make(Mapping, len(selected))
	for _, code := range selected {
		if cat, ok := overrides[code]; ok && cat.Valid() {
			out[code] = cat
			continue
		}
		out[code] = entities.DefaultCategory(code)
	}
	return out
}

// Prune drops overrides whose code is not in selected.
func Prune(selected []string, overrides Mapping) Mapping {
	keep := make(map[string]bool, len(selected))
	for _, code := range selected {
		keep[code] = true
	}
	out := make(Mapping)
	for code, cat := range overrides {
		if keep[code] {
			out[code] = cat
		}
	}
	return out
}

// GroupsOf arranges a mapping into the four display groups. Codes are listed
// in catalog order; codes unknown to the catalog follow in selection order.
func GroupsOf(selected []string, m Mapping) Groups {
	g := Groups{}
	for _, cat := range models.Categories {
		g[cat] = []string{}
	}

	seen := make(map[string]bool, len(m))
	for _, e := range entities.All() {
		if cat, ok := m[e.Code]; ok {
			g[cat] = append(g[cat], e.Code)
			seen[e.Code] = true
		}
	}
	for _, code := range selected {
		if seen[code] {
			continue
		}
		if cat, ok := m[code]; ok {
			g[cat] = append(g[cat], code)
			seen[code] = true
		}
	}
	return g
}

// Move reassigns one selected code to a new category and returns the updated
// overrides. Moving within the same category changes nothing.
func Move(selected []string, overrides Mapping, code string, to models.Category) (Mapping, error) {
	if !to.Valid() {
		return overrides, fmt.Errorf("%w: %q", ErrUnknownCategory, to)
	}

	isSelected := false
	for _, c := range selected {
		if c == code {
			isSelected = true
			break
		}
	}
	if !isSelected {
		return overrides, fmt.Errorf("%w: %s", ErrNotSelected, entities.Label(code))
	}

	current := Reconcile(selected, overrides)
	if current[code] == to {
		return overrides, nil
	}

	out := make(Mapping, len(overrides)+1)
	for k, v := range overrides {
		out[k] = v
	}
	out[code] = to
	return out, nil
}

// Missing returns the codes in entityCodes that have no category in m.
func Missing(entityCodes []string, m Mapping) []string {
	var missing []string
	for _, code := range entityCodes {
		if cat, ok := m[code]; !ok || !cat.Valid() {
			missing = append(missing, code)
		}
	}
	return missing
}

// Restrict returns the subset of m for the given codes.
func Restrict(m Mapping, codes []string) Mapping {
	out := make(Mapping, len(codes))
	for _, code := range codes {
		if cat, ok := m[code]; ok {
			out[code] = cat
		}
	}
	return out
}
