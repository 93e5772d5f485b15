package render

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/talgya/rumor-grid/internal/agents"
	"github.com/talgya/rumor-grid/internal/engine"
)

// Terminal prints snapshots as character grids: '#' informed, 'o'
// uninformed, '.' empty. With Color set, cells use 24-bit ANSI colours
// from the palette.
type Terminal struct {
	W       io.Writer
	Color   bool
	Palette Palette
}

// NewTerminal writes to f, with colour only when f is a terminal.
func NewTerminal(f *os.File) *Terminal {
	fd := f.Fd()
	return &Terminal{
		W:       f,
		Color:   isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd),
		Palette: NewPalette(),
	}
}

// Draw prints a header line and the grid for s.
func (t *Terminal) Draw(s engine.Snapshot) error {
	cells := make([]*engine.AgentView, s.Dims.Cells())
	for i := range s.Agents {
		a := &s.Agents[i]
		cells[s.Dims.Index(a.Position)] = a
	}

	bw := bufio.NewWriter(t.W)
	pct := 0.0
	if s.Population > 0 {
		pct = float64(s.Informed) / float64(s.Population) * 100
	}
	fmt.Fprintf(bw, "%s  generation %d  informed %s/%s (%.1f%%)\n",
		s.Name, s.Generation,
		humanize.Comma(int64(s.Informed)), humanize.Comma(int64(s.Population)), pct)

	for r := 0; r < s.Dims.Rows; r++ {
		for c := 0; c < s.Dims.Cols; c++ {
			a := cells[r*s.Dims.Cols+c]
			ch := byte('.')
			if a != nil {
				ch = 'o'
				if a.State == agents.Informed {
					ch = '#'
				}
			}
			if t.Color && a != nil {
				col := t.Palette.Color(*a)
				fmt.Fprintf(bw, "\x1b[38;2;%d;%d;%dm%c\x1b[0m", col.R, col.G, col.B, ch)
			} else {
				bw.WriteByte(ch)
			}
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
