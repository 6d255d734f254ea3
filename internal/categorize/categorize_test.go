package categorize

import (
	"errors"
	"reflect"
	"testing"

	"github.com/qualys/piiflow/internal/models"
)

func TestReconcile(t *testing.T) {
	tests := []struct {
		name      string
		selected  []string
		overrides Mapping
		expected  Mapping
	}{
		{
			name:     "defaults only",
			selected: []string{"CREDIT_CARD", "PERSON", "URL"},
			expected: Mapping{
				"CREDIT_CARD": models.CategoryConfidential,
				"PERSON":      models.CategoryPrivate,
				"URL":         models.CategoryRestricted,
			},
		},
		{
			name:      "override wins",
			selected:  []string{"CREDIT_CARD", "PERSON"},
			overrides: Mapping{"PERSON": models.CategoryOther},
			expected: Mapping{
				"CREDIT_CARD": models.CategoryConfidential,
				"PERSON":      models.CategoryOther,
			},
		},
		{
			name:      "override of deselected entity dropped",
			selected:  []string{"CREDIT_CARD"},
			overrides: Mapping{"PERSON": models.CategoryOther},
			expected:  Mapping{"CREDIT_CARD": models.CategoryConfidential},
		},
		{
			name:     "no default classification falls into OTHER",
			selected: []string{"VEHICLE_PLATE"},
			expected: Mapping{"VEHICLE_PLATE": models.CategoryOther},
		},
		{
			name:     "empty selection",
			selected: nil,
			expected: Mapping{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reconcile(tt.selected, tt.overrides)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestReconcile_EveryKeySelected(t *testing.T) {
	selected := []string{"EMAIL_ADDRESS", "US_SSN"}
	got := Reconcile(selected, Mapping{"UK_NHS": models.CategoryPrivate, "US_SSN": models.CategoryRestricted})

	if len(got) != len(selected) {
		t.Fatalf("expected %d entries, got %d", len(selected), len(got))
	}
	for _, code := range selected {
		if _, ok := got[code]; !ok {
			t.Errorf("selected code %s missing from mapping", code)
		}
	}
}

func TestMove(t *testing.T) {
	selected := []string{"CREDIT_CARD", "PERSON"}

	t.Run("moves selected entity", func(t *testing.T) {
		out, err := Move(selected, nil, "PERSON", models.CategoryRestricted)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out["PERSON"] != models.CategoryRestricted {
			t.Errorf("expected PERSON in RESTRICTED, got %s", out["PERSON"])
		}
		if _, ok := out["CREDIT_CARD"]; ok {
			t.Error("only the moved entity should gain an override")
		}
	})

	t.Run("rejects unselected entity", func(t *testing.T) {
		overrides := Mapping{"PERSON": models.CategoryOther}
		out, err := Move(selected, overrides, "URL", models.CategoryPrivate)
		if !errors.Is(err, ErrNotSelected) {
			t.Fatalf("expected ErrNotSelected, got %v", err)
		}
		if !reflect.DeepEqual(out, overrides) {
			t.Errorf("overrides changed on rejected move: %v", out)
		}
	})

	t.Run("rejects unknown category", func(t *testing.T) {
		_, err := Move(selected, nil, "PERSON", models.Category("SECRET"))
		if !errors.Is(err, ErrUnknownCategory) {
			t.Fatalf("expected ErrUnknownCategory, got %v", err)
		}
	})

	t.Run("same category is a no-op", func(t *testing.T) {
		out, err := Move(selected, nil, "PERSON", models.CategoryPrivate)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(out) != 0 {
			t.Errorf("expected no overrides, got %v", out)
		}
	})
}

func TestGroupsOf(t *testing.T) {
	selected := []string{"URL", "CREDIT_CARD", "PERSON", "CUSTOM_THING"}
	m := Reconcile(selected, Mapping{"URL": models.CategoryConfidential})
	g := GroupsOf(selected, m)

	if !reflect.DeepEqual(g[models.CategoryConfidential], []string{"CREDIT_CARD", "URL"}) {
		t.Errorf("unexpected confidential group %v", g[models.CategoryConfidential])
	}
	if !reflect.DeepEqual(g[models.CategoryPrivate], []string{"PERSON"}) {
		t.Errorf("unexpected private group %v", g[models.CategoryPrivate])
	}
	if len(g[models.CategoryRestricted]) != 0 {
		t.Errorf("expected empty restricted group, got %v", g[models.CategoryRestricted])
	}
	if !reflect.DeepEqual(g[models.CategoryOther], []string{"CUSTOM_THING"}) {
		t.Errorf("unexpected other group %v", g[models.CategoryOther])
	}
}

func TestMissing(t *testing.T) {
	m := Mapping{"CREDIT_CARD": models.CategoryConfidential, "PERSON": ""}
	got := Missing([]string{"CREDIT_CARD", "PERSON", "URL"}, m)
	if !reflect.DeepEqual(got, []string{"PERSON", "URL"}) {
		t.Errorf("unexpected missing list %v", got)
	}
}

func TestPruneAndRestrict(t *testing.T) {
	overrides := Mapping{"PERSON": models.CategoryOther, "URL": models.CategoryPrivate}

	pruned := Prune([]string{"PERSON"}, overrides)
	if !reflect.DeepEqual(pruned, Mapping{"PERSON": models.CategoryOther}) {
		t.Errorf("unexpected prune result %v", pruned)
	}

	restricted := Restrict(overrides, []string{"URL", "EMAIL_ADDRESS"})
	if !reflect.DeepEqual(restricted, Mapping{"URL": models.CategoryPrivate}) {
		t.Errorf("unexpected restrict result %v", restricted)
	}
}
