// Package imagedata decodes image files into tightly packed RGBA8 pixels ready to be copied into a
// staging buffer
package imagedata

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// BytesPerPixel is the size of one RGBA8 texel
const BytesPerPixel = 4

// Image is a decoded image with Width*Height*4 bytes of RGBA8 pixel data, rows top to bottom with no
// padding between them
type Image struct {
	Width  int
	Height int
	Pixels []byte
}

// Size returns the number of bytes of pixel data
func (i *Image) Size() int {
	return len(i.Pixels)
}

// Validate checks that the image has a positive extent and exactly Width * Height tightly packed pixels
func (i *Image) Validate() error {
	if i.Width <= 0 || i.Height <= 0 {
		return errors.Newf("image extent %dx%d is empty", i.Width, i.Height)
	}

	expected := i.Width * i.Height * BytesPerPixel
	if len(i.Pixels) != expected {
		return errors.Newf("%dx%d image has %d bytes of pixel data, expected %d", i.Width, i.Height, len(i.Pixels), expected)
	}

	return nil
}

// Load decodes the image file at path. PNG, JPEG, GIF and BMP are supported.
func Load(path string) (*Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, err := Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}

	return img, nil
}

func Decode(reader io.Reader) (*Image, error) {
	decoded, _, err := image.Decode(reader)
	if err != nil {
		return nil, err
	}

	return FromImage(decoded), nil
}

// FromImage converts any image.Image into packed RGBA8
func FromImage(src image.Image) *Image {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	rgba, ok := src.(*image.RGBA)
	if !ok || rgba.Stride != width*BytesPerPixel || bounds.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, width, height))
		draw.Draw(rgba, rgba.Bounds(), src, bounds.Min, draw.Src)
	}

	return &Image{
		Width:  width,
		Height: height,
		Pixels: rgba.Pix[:width*height*BytesPerPixel],
	}
}

func (i *Image) rgba() *image.RGBA {
	return &image.RGBA{
		Pix:    i.Pixels,
		Stride: i.Width * BytesPerPixel,
		Rect:   image.Rect(0, 0, i.Width, i.Height),
	}
}

// Scaled returns a copy of the image resampled to width x height with bilinear filtering
func (i *Image) Scaled(width, height int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Newf("cannot scale an image to %dx%d", width, height)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), i.rgba(), i.rgba().Bounds(), draw.Src, nil)

	return &Image{
		Width:  width,
		Height: height,
		Pixels: dst.Pix,
	}, nil
}
