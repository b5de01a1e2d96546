package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/rcliao/agriplan/internal/model"
)

// ErrInvalidImage is returned for uploads that cannot be decoded.
var ErrInvalidImage = errors.New("invalid image")

const (
	DefaultMaxSide     = 1024
	DefaultJPEGQuality = 80
)

// ImageCollector normalizes an uploaded crop photo: the long side is
// limited to MaxSide and the result is re-encoded as JPEG.
type ImageCollector struct {
	MaxSide int
	Quality int
}

func NewImageCollector(maxSide, quality int) *ImageCollector {
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &ImageCollector{MaxSide: maxSide, Quality: quality}
}

func (*ImageCollector) Variant() model.Variant { return model.Visual }

func (c *ImageCollector) Collect(_ context.Context, in Input) (*model.ContextRecord, error) {
	if in.Image == nil || len(in.Image.Data) == 0 {
		return nil, nil
	}
	ref, err := c.Normalize(in.Image.Data)
	if err != nil {
		return nil, err
	}
	fields := map[string]model.Value{"image": model.Image(ref)}
	if in.Image.Filename != "" {
		fields["filename"] = model.String(in.Image.Filename)
	}
	rec := model.NewRecord(model.Visual, "input/image", time.Now().UTC(), fields)
	return &rec, nil
}

// Normalize decodes raw (jpeg, png, gif or webp), downscales it and
// encodes it as JPEG.
func (c *ImageCollector) Normalize(raw []byte) (*model.ImageRef, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	if long := max(w, h); long > c.MaxSide {
		nw := w * c.MaxSide / long
		nh := h * c.MaxSide / long
		dst := image.NewRGBA(image.Rect(0, 0, max(nw, 1), max(nh, 1)))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		img = dst
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: c.Quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	ob := img.Bounds()
	return &model.ImageRef{
		MIME:   "image/jpeg",
		Width:  ob.Dx(),
		Height: ob.Dy(),
		Bytes:  out.Bytes(),
	}, nil
}
