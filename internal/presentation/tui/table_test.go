package tui_test

import (
	"testing"

	"github.com/aretw0/remodel/internal/presentation/tui"
	"github.com/stretchr/testify/assert"
)

func TestContentsTable(t *testing.T) {
	got := tui.ContentsTable("/tree", []tui.Row{
		{Depth: 0, ID: "t1", Class: "tree::Tree", Attributes: "label=oak"},
		{Depth: 1, ID: "l1", Class: "tree::Leaf", Attributes: "name=a|b"},
	})

	want := "# /tree\n\n" +
		"| Class | ID | Attributes |\n" +
		"|---|---|---|\n" +
		"| tree::Tree | `t1` | label=oak |\n" +
		"| · tree::Leaf | `l1` | name=a\\|b |\n"
	assert.Equal(t, want, got)

	assert.Equal(t, "_empty_\n", tui.ContentsTable("", nil))
}

func TestNewRenderer(t *testing.T) {
	render, err := tui.NewRenderer(80)
	assert.NoError(t, err)

	out, err := render("# Title")
	assert.NoError(t, err)
	assert.Contains(t, out, "Title")
}
