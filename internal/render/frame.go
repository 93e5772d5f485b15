package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/talgya/rumor-grid/internal/engine"
)

// LabelHeight is the height of the caption strip above the grid.
const LabelHeight = 18

// FrameSize returns the pixel size of frames for a snapshot at scale.
func FrameSize(s engine.Snapshot, scale int) (width, height int) {
	return s.Dims.Cols * scale, s.Dims.Rows*scale + LabelHeight
}

// Frame draws s with each cell as a scale x scale square under a caption
// strip showing the generation and informed count.
func Frame(s engine.Snapshot, p Palette, scale int) *image.RGBA {
	if scale < 1 {
		scale = 1
	}
	w, h := FrameSize(s, scale)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{p.Empty}, image.Point{}, draw.Src)

	for _, a := range s.Agents {
		x := a.Position.Col * scale
		y := LabelHeight + a.Position.Row*scale
		cell := image.Rect(x, y, x+scale, y+scale)
		draw.Draw(img, cell, &image.Uniform{p.Color(a)}, image.Point{}, draw.Src)
	}

	label := fmt.Sprintf("gen %d  informed %d/%d", s.Generation, s.Informed, s.Population)
	addLabel(img, 2, 13, label, color.Black)
	return img
}

func addLabel(img *image.RGBA, x, y int, label string, col color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(label)
}

// WritePNG encodes img as PNG.
func WritePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

// FrameWriter saves one numbered PNG per generation into a directory.
type FrameWriter struct {
	Dir     string
	Scale   int
	Palette Palette
}

// NewFrameWriter creates dir if needed.
func NewFrameWriter(dir string, scale int) (*FrameWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create frames dir: %w", err)
	}
	return &FrameWriter{Dir: dir, Scale: scale, Palette: NewPalette()}, nil
}

// Write saves s as gen_NNNNN.png and returns the path.
func (fw *FrameWriter) Write(s engine.Snapshot) (string, error) {
	path := filepath.Join(fw.Dir, fmt.Sprintf("gen_%05d.png", s.Generation))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := WritePNG(f, Frame(s, fw.Palette, fw.Scale)); err != nil {
		f.Close()
		return "", fmt.Errorf("encode %s: %w", path, err)
	}
	return path, f.Close()
}
