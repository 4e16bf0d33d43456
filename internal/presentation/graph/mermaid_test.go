package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/remodel/internal/presentation/graph"
)

func TestGenerateMermaid(t *testing.T) {
	tests := []struct {
		name     string
		elements []graph.Element
		overlay  *graph.GraphOverlay
		contains []string
		excludes []string
	}{
		{
			name: "Root Shape",
			elements: []graph.Element{
				{ID: "tree", Class: "tree::Tree"},
				{ID: "leaf", Class: "tree::Leaf", Container: "tree", ContainingFeature: "nodes"},
			},
			contains: []string{
				"n_tree((\"tree::Tree <br/> tree\"))",
				"n_leaf[\"tree::Leaf <br/> leaf\"]",
				"n_tree -- \"nodes\" --> n_leaf",
			},
		},
		{
			name: "References",
			elements: []graph.Element{
				{ID: "a", Class: "tree::Leaf", References: map[string][]string{
					"links":    {"b", "c"},
					"favorite": {"b"},
				}},
			},
			contains: []string{
				"n_a -. \"favorite\" .-> n_b\n    n_a -. \"links\" .-> n_b\n    n_a -. \"links\" .-> n_c",
			},
		},
		{
			name: "ID Sanitization",
			elements: []graph.Element{
				{ID: "3f2a-11ee.x/y", Class: "tree::Tree"},
			},
			contains: []string{"n_3f2a_11ee_x_y(("},
		},
		{
			name: "Overlay",
			elements: []graph.Element{
				{ID: "tree", Class: "tree::Tree"},
			},
			overlay:  &graph.GraphOverlay{Highlighted: []string{"tree", "tree"}},
			contains: []string{"classDef highlighted", "class n_tree highlighted;"},
		},
		{
			name:     "Empty Overlay",
			elements: []graph.Element{{ID: "tree", Class: "tree::Tree"}},
			overlay:  &graph.GraphOverlay{},
			excludes: []string{"classDef"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.GenerateMermaid(tt.elements, tt.overlay)
			if !strings.HasPrefix(got, "graph TD\n") {
				t.Errorf("missing header:\n%s", got)
			}
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("expected output to contain %q, got:\n%s", want, got)
				}
			}
			for _, unwanted := range tt.excludes {
				if strings.Contains(got, unwanted) {
					t.Errorf("expected output not to contain %q, got:\n%s", unwanted, got)
				}
			}
			if tt.overlay != nil && strings.Count(got, "class n_tree highlighted;") > 1 {
				t.Errorf("highlighted twice:\n%s", got)
			}
		})
	}
}
