package render

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/icza/mjpeg"

	"github.com/talgya/rumor-grid/internal/engine"
)

// Video appends snapshots as frames of an MJPEG AVI file. The frame size is
// fixed by the first snapshot's dimensions.
type Video struct {
	aw      mjpeg.AviWriter
	palette Palette
	scale   int
	buf     bytes.Buffer
	frames  int
}

// NewVideo creates path sized for snapshots of s at scale.
func NewVideo(path string, s engine.Snapshot, scale, fps int) (*Video, error) {
	if scale < 1 {
		scale = 1
	}
	w, h := FrameSize(s, scale)
	aw, err := mjpeg.New(path, int32(w), int32(h), int32(fps))
	if err != nil {
		return nil, fmt.Errorf("create video %s: %w", path, err)
	}
	return &Video{aw: aw, palette: NewPalette(), scale: scale}, nil
}

// Add encodes s as the next frame.
func (v *Video) Add(s engine.Snapshot) error {
	v.buf.Reset()
	if err := jpeg.Encode(&v.buf, Frame(s, v.palette, v.scale), &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("encode frame %d: %w", s.Generation, err)
	}
	if err := v.aw.AddFrame(v.buf.Bytes()); err != nil {
		return fmt.Errorf("add frame %d: %w", s.Generation, err)
	}
	v.frames++
	return nil
}

// Frames returns the number of frames written.
func (v *Video) Frames() int {
	return v.frames
}

// Close finalizes the AVI index.
func (v *Video) Close() error {
	return v.aw.Close()
}
