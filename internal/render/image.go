package render

import (
	"bytes"
	"context"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"

	"github.com/pkg/errors"

	"github.com/you/jobcore/internal/domain"
)

// ImageRenderer produces a raster preview of the configuration. Pixel
// content is derived only from the snapshot so repeated renders are
// byte-identical.
type ImageRenderer struct{}

func (ImageRenderer) Kind() domain.ExportKind { return domain.ExportImage }

func (ImageRenderer) Render(_ context.Context, rec *domain.ExportRecord, snap *domain.SubjectSnapshot) (*Artifact, error) {
	width := intOption(rec.Options, "width", 800)
	height := intOption(rec.Options, "height", 800)
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid image dimensions %dx%d", width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	bg := swatch(snap.ID)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, bg)
		}
	}
	// One horizontal band per selected option.
	bandH := height / (len(snap.Selected) + 1)
	for i, o := range snap.Selected {
		c := swatch(o.ComponentID + "/" + o.OptionID)
		top := (i + 1) * bandH
		for y := top; y < top+bandH/2 && y < height; y++ {
			for x := width / 8; x < width*7/8; x++ {
				img.Set(x, y, c)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "encode png")
	}
	return &Artifact{Bytes: buf.Bytes(), MIME: "image/png", Ext: ".png"}, nil
}

func swatch(seed string) color.RGBA {
	h := fnv.New32a()
	h.Write([]byte(seed))
	v := h.Sum32()
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}
