package graph

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Element is one object of a model as drawn on the graph.
type Element struct {
	ID    string
	Class string
	// Container is empty for resource roots.
	Container         string
	ContainingFeature string
	// References lists non-containment targets by feature name.
	References map[string][]string
}

// GraphOverlay marks elements to emphasize.
type GraphOverlay struct {
	Highlighted []string
}

// GenerateMermaid produces a Mermaid flowchart of a containment tree.
// It applies semantic styling:
// - Resource roots: ((Circle))
// - Other objects: [Rectangle]
// Containment is drawn as solid arrows labelled with the feature,
// references as dotted arrows.
func GenerateMermaid(elements []Element, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, el := range elements {
		safeID := sanitizeMermaidID(el.ID)

		opener, closer := "[", "]"
		if el.Container == "" {
			opener, closer = "((", "))"
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s <br/> %s\"%s\n", safeID, opener, el.Class, el.ID, closer))

		if el.Container != "" {
			sb.WriteString(fmt.Sprintf("    %s -- \"%s\" --> %s\n",
				sanitizeMermaidID(el.Container), escapeLabel(el.ContainingFeature), safeID))
		}

		for _, feature := range slices.Sorted(maps.Keys(el.References)) {
			for _, target := range el.References[feature] {
				sb.WriteString(fmt.Sprintf("    %s -. \"%s\" .-> %s\n",
					safeID, escapeLabel(feature), sanitizeMermaidID(target)))
			}
		}
	}

	if overlay != nil && len(overlay.Highlighted) > 0 {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef highlighted fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[string]bool)
		for _, id := range overlay.Highlighted {
			safeID := sanitizeMermaidID(id)
			if !seen[safeID] && safeID != "" {
				seen[safeID] = true
				sb.WriteString(fmt.Sprintf("    class %s highlighted;\n", safeID))
			}
		}
	}

	return sb.String()
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return "n_" + s
}
