package tui

import (
	"fmt"
	"strings"
)

// Row is one object in a contents listing.
type Row struct {
	Depth      int
	ID         string
	Class      string
	Attributes string
}

// ContentsTable renders rows as a markdown table. Depth indents the class
// column so the containment tree stays visible.
func ContentsTable(title string, rows []Row) string {
	var sb strings.Builder
	if title != "" {
		fmt.Fprintf(&sb, "# %s\n\n", title)
	}
	if len(rows) == 0 {
		sb.WriteString("_empty_\n")
		return sb.String()
	}

	sb.WriteString("| Class | ID | Attributes |\n")
	sb.WriteString("|---|---|---|\n")
	for _, r := range rows {
		indent := strings.Repeat("· ", r.Depth)
		fmt.Fprintf(&sb, "| %s%s | `%s` | %s |\n", indent, escapeCell(r.Class), r.ID, escapeCell(r.Attributes))
	}
	return sb.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
