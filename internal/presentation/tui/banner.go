package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the remodel banner with the version underneath.
func PrintBanner(w io.Writer, version string) {
	p := termenv.ColorProfile()
	// Indigo to rose, one color per line
	lines := []struct{ text, color string }{
		{"  _ __ ___ _ __ ___   ___   __| | ___| |", "#818cf8"},
		{" | '__/ _ \\ '_ ` _ \\ / _ \\ / _` |/ _ \\ |", "#a78bfa"},
		{" | | |  __/ | | | | | (_) | (_| |  __/ |", "#e879f9"},
		{" |_|  \\___|_| |_| |_|\\___/ \\__,_|\\___|_|", "#fb7185"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, termenv.String("  "+version).Faint())
	fmt.Fprintln(w)
}
