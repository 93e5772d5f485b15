// Package report turns a run's history into exports: the cumulative
// informed-percentage curve as a PNG chart, a per-generation CSV, and a
// plain-text chart for terminals.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/talgya/rumor-grid/internal/engine"
)

// ErrTooFewPoints is returned when a chart has fewer than two generations to plot.
var ErrTooFewPoints = errors.New("chart needs at least two generations")

// Series is one named curve of per-generation values.
type Series struct {
	Name   string
	Values []float64
}

// Cumulative returns the running total of newly informed agents as a
// percentage of total. The seed is not part of history, so a saturated run
// ends just below 100.
func Cumulative(history []int, total int) []float64 {
	out := make([]float64, len(history))
	if total <= 0 {
		return out
	}
	sum := 0
	for i, n := range history {
		sum += n
		out[i] = float64(sum) / float64(total) * 100
	}
	return out
}

var fileNameReplacer = strings.NewReplacer(":", "-", "/", "-", "\\", "-")

// ExportFileName derives a file name in the working directory from a run
// name. Colons and path separators become dashes.
func ExportFileName(name, ext string) string {
	base := fileNameReplacer.Replace(strings.TrimSpace(name))
	if base == "" {
		base = "simulation"
	}
	return base + ext
}

var seriesColors = []drawing.Color{
	chart.ColorRed,
	chart.ColorBlue,
	chart.ColorGreen,
	{R: 255, G: 165, B: 0, A: 255},
}

// RenderChart writes a PNG line chart of the given series, x as generation
// and y as percent informed.
func RenderChart(w io.Writer, title string, series ...Series) error {
	if len(series) == 0 {
		return fmt.Errorf("render chart: %w", ErrTooFewPoints)
	}

	var plotted []chart.Series
	for i, s := range series {
		if len(s.Values) < 2 {
			return fmt.Errorf("render chart %q: %w", s.Name, ErrTooFewPoints)
		}
		xs := make([]float64, len(s.Values))
		for g := range xs {
			xs[g] = float64(g)
		}
		plotted = append(plotted, chart.ContinuousSeries{
			Name:    s.Name,
			XValues: xs,
			YValues: s.Values,
			Style: chart.Style{
				StrokeColor: seriesColors[i%len(seriesColors)],
				StrokeWidth: 3.0,
			},
		})
	}

	graph := chart.Chart{
		Title:  title,
		Width:  800,
		Height: 480,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:  "generation",
			Style: chart.Style{FontSize: 10.0},
			ValueFormatter: func(v interface{}) string {
				return fmt.Sprintf("%d", int(v.(float64)))
			},
		},
		YAxis: chart.YAxis{
			Name:  "informed population (%)",
			Style: chart.Style{FontSize: 10.0},
			Range: &chart.ContinuousRange{Min: 0, Max: 100},
		},
		Series: plotted,
	}
	if len(plotted) > 1 {
		graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

// WriteCSV writes one row per generation. percent_informed includes the seed.
func WriteCSV(w io.Writer, results []engine.GenerationResult, total int) error {
	cw := csv.NewWriter(w)
	header := []string{
		"generation", "newly_informed", "informed", "percent_informed",
		"spreaders", "attempts", "contacts", "rejected", "rejection_rate",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, r := range results {
		pct := 0.0
		if total > 0 {
			pct = float64(r.Informed) / float64(total) * 100
		}
		row := []string{
			strconv.Itoa(r.Generation),
			strconv.Itoa(r.NewlyInformed),
			strconv.Itoa(r.Informed),
			strconv.FormatFloat(pct, 'f', 2, 64),
			strconv.Itoa(r.Spreaders),
			strconv.Itoa(r.Attempts),
			strconv.Itoa(r.Contacts),
			strconv.Itoa(r.Rejected),
			strconv.FormatFloat(r.RejectionRate, 'f', 4, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", r.Generation, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// TerminalChart draws a percentage series (0..100) as a width x height block
// of text. Generations are bucketed when there are more than width of them.
func TerminalChart(w io.Writer, s Series, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("terminal chart: invalid size %dx%d", width, height)
	}
	if len(s.Values) == 0 {
		_, err := fmt.Fprintf(w, "%s: no generations\n", s.Name)
		return err
	}

	cols := width
	if len(s.Values) < cols {
		cols = len(s.Values)
	}
	levels := make([]int, cols)
	for c := 0; c < cols; c++ {
		// last value in each bucket
		idx := (c+1)*len(s.Values)/cols - 1
		v := s.Values[idx]
		if v < 0 {
			v = 0
		} else if v > 100 {
			v = 100
		}
		levels[c] = int(v / 100 * float64(height))
	}

	var b strings.Builder
	for row := height; row >= 1; row-- {
		switch row {
		case height:
			b.WriteString("100% |")
		case 1:
			b.WriteString("  0% |")
		default:
			b.WriteString("     |")
		}
		for _, lvl := range levels {
			if lvl >= row {
				b.WriteByte('#')
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteByte('\n')
	}
	b.WriteString("     +" + strings.Repeat("-", cols) + "\n")

	last := s.Values[len(s.Values)-1]
	fmt.Fprintf(&b, "%s: %.1f%% informed after %s generations\n",
		s.Name, last, humanize.Comma(int64(len(s.Values))))

	_, err := io.WriteString(w, b.String())
	return err
}
