package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the canopy banner to w.
func PrintBanner(w io.Writer) {
	p := termenv.ColorProfile()
	lines := []struct{ text, color string }{
		{`   ___ __ _ _ __   ___  _ __  _   _ `, "#14532d"},
		{`  / __/ _' | '_ \ / _ \| '_ \| | | |`, "#166534"},
		{` | (_| (_| | | | | (_) | |_) | |_| |`, "#15803d"},
		{`  \___\__,_|_| |_|\___/| .__/ \__, |`, "#16a34a"},
		{`                       |_|    |___/ `, "#22c55e"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}
