package matrix

import (
	"testing"

	"kiln-runner/src/workflow"
)

func TestExpand_SingleAxis(t *testing.T) {
	m := &workflow.Matrix{
		Axes: []workflow.Axis{
			{Name: "python-version", Values: []string{"3.8", "3.9", "3.10", "3.11", "3.12"}},
		},
	}

	combos := Expand(m)
	if len(combos) != 5 {
		t.Fatalf("Expected 5 combinations, got %d", len(combos))
	}
	if combos[2]["python-version"] != "3.10" {
		t.Errorf("Expected third leg 3.10, got %q", combos[2]["python-version"])
	}
}

func TestExpand_TwoAxesOrdering(t *testing.T) {
	m := &workflow.Matrix{
		Axes: []workflow.Axis{
			{Name: "os", Values: []string{"linux", "macos"}},
			{Name: "version", Values: []string{"1", "2"}},
		},
	}

	combos := Expand(m)
	if len(combos) != 4 {
		t.Fatalf("Expected 4 combinations, got %d", len(combos))
	}

	// First axis varies slowest.
	want := []Combination{
		{"os": "linux", "version": "1"},
		{"os": "linux", "version": "2"},
		{"os": "macos", "version": "1"},
		{"os": "macos", "version": "2"},
	}
	for i, w := range want {
		for k, v := range w {
			if combos[i][k] != v {
				t.Errorf("Combination %d: expected %s=%s, got %s", i, k, v, combos[i][k])
			}
		}
	}
}

func TestExpand_Exclude(t *testing.T) {
	m := &workflow.Matrix{
		Axes: []workflow.Axis{
			{Name: "os", Values: []string{"linux", "macos"}},
			{Name: "version", Values: []string{"1", "2"}},
		},
		Exclude: []map[string]string{
			{"os": "macos", "version": "1"},
		},
	}

	combos := Expand(m)
	if len(combos) != 3 {
		t.Fatalf("Expected 3 combinations after exclude, got %d", len(combos))
	}
	for _, combo := range combos {
		if combo["os"] == "macos" && combo["version"] == "1" {
			t.Error("Excluded combination still present")
		}
	}
}

func TestExpand_IncludeExtends(t *testing.T) {
	m := &workflow.Matrix{
		Axes: []workflow.Axis{
			{Name: "version", Values: []string{"3.9", "3.10"}},
		},
		Include: []map[string]string{
			{"version": "3.10", "experimental": "true"},
		},
	}

	combos := Expand(m)
	if len(combos) != 2 {
		t.Fatalf("Expected 2 combinations, got %d", len(combos))
	}
	if combos[0]["experimental"] != "" {
		t.Errorf("First leg should not be extended, got %v", combos[0])
	}
	if combos[1]["experimental"] != "true" {
		t.Errorf("Expected 3.10 leg extended, got %v", combos[1])
	}
}

func TestExpand_IncludeAppends(t *testing.T) {
	m := &workflow.Matrix{
		Axes: []workflow.Axis{
			{Name: "version", Values: []string{"3.9"}},
		},
		Include: []map[string]string{
			{"version": "3.13-dev"},
		},
	}

	combos := Expand(m)
	if len(combos) != 2 {
		t.Fatalf("Expected 2 combinations, got %d", len(combos))
	}
	if combos[1]["version"] != "3.13-dev" {
		t.Errorf("Expected appended leg, got %v", combos[1])
	}
}

func TestExpand_NoMatrix(t *testing.T) {
	combos := Expand(nil)
	if len(combos) != 1 || len(combos[0]) != 0 {
		t.Fatalf("Expected single empty combination, got %v", combos)
	}
}

func TestDisplayName(t *testing.T) {
	m := &workflow.Matrix{
		Axes: []workflow.Axis{
			{Name: "python-version", Values: []string{"3.9"}},
			{Name: "os", Values: []string{"linux"}},
		},
	}

	tests := []struct {
		name  string
		combo Combination
		want  string
	}{
		{"no matrix", Combination{}, "test"},
		{"one axis", Combination{"python-version": "3.9"}, "test (3.9)"},
		{"two axes in declaration order", Combination{"os": "linux", "python-version": "3.9"}, "test (3.9, linux)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DisplayName("test", m, tt.combo); got != tt.want {
				t.Errorf("DisplayName = %q, want %q", got, tt.want)
			}
		})
	}
}
