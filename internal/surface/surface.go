// Package surface holds the renderer side of the denoiser: the color,
// albedo and normal buffers a frame is rendered into.
//
// Pixels are linear RGBA32F. Images enter and leave through the sRGB
// conversions in this package.
package surface

import (
	"fmt"
	"image"
	"image/color"

	"github.com/chewxy/math32"
	"github.com/harskish/Fluctus/internal/interop"
)

// Surface is a set of equally sized pixel buffers
type Surface struct {
	color  *Buffer
	albedo *Buffer
	normal *Buffer
	width  int
	height int
}

// New allocates a width x height surface. Albedo starts white and normals
// face the camera, so an unguided frame filters on color alone.
func New(width, height int) (*Surface, error) {
	s := &Surface{}
	if err := s.Resize(width, height); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Surface) Color() *Buffer  { return s.color }
func (s *Surface) Albedo() *Buffer { return s.albedo }
func (s *Surface) Normal() *Buffer { return s.normal }
func (s *Surface) TexWidth() int   { return s.width }
func (s *Surface) TexHeight() int  { return s.height }

func (s *Surface) ColorBuffer() interop.PixelBuffer  { return s.color }
func (s *Surface) AlbedoBuffer() interop.PixelBuffer { return s.albedo }
func (s *Surface) NormalBuffer() interop.PixelBuffer { return s.normal }

// Resize replaces all buffers with new ones of the given size. Buffers
// handed out before the call keep their old storage and IDs.
func (s *Surface) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid surface size %dx%d", width, height)
	}
	s.width, s.height = width, height
	s.color = NewBuffer(width, height)
	s.albedo = NewBuffer(width, height)
	s.normal = NewBuffer(width, height)
	s.albedo.Fill([4]float32{1, 1, 1, 1})
	s.normal.Fill([4]float32{0, 0, 1, 0})
	return nil
}

// SetColor stores an sRGB image as linear color
func (s *Surface) SetColor(img image.Image) error {
	return s.load(s.color, img, srgbToLinear)
}

// SetAlbedo stores an sRGB image as linear albedo
func (s *Surface) SetAlbedo(img image.Image) error {
	return s.load(s.albedo, img, srgbToLinear)
}

// SetNormal stores a normal map, remapping [0,1] to [-1,1]
func (s *Surface) SetNormal(img image.Image) error {
	return s.load(s.normal, img, func(v float32) float32 { return v*2 - 1 })
}

func (s *Surface) load(dst *Buffer, img image.Image, conv func(float32) float32) error {
	b := img.Bounds()
	if b.Dx() != s.width || b.Dy() != s.height {
		return fmt.Errorf("image is %dx%d, surface is %dx%d", b.Dx(), b.Dy(), s.width, s.height)
	}
	px := dst.Pixels()
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			i := (y*s.width + x) * 4
			px[i] = conv(float32(c.R) / 0xffff)
			px[i+1] = conv(float32(c.G) / 0xffff)
			px[i+2] = conv(float32(c.B) / 0xffff)
			px[i+3] = float32(c.A) / 0xffff
		}
	}
	return nil
}

// ColorImage converts the color buffer to an 8-bit sRGB image. Values
// outside [0,1] are clamped.
func (s *Surface) ColorImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, s.width, s.height))
	px := s.color.Pixels()
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			i := (y*s.width + x) * 4
			o := img.PixOffset(x, y)
			img.Pix[o] = quantize(linearToSRGB(px[i]))
			img.Pix[o+1] = quantize(linearToSRGB(px[i+1]))
			img.Pix[o+2] = quantize(linearToSRGB(px[i+2]))
			img.Pix[o+3] = quantize(px[i+3])
		}
	}
	return img
}

func srgbToLinear(v float32) float32 {
	if v <= 0.04045 {
		return v / 12.92
	}
	return math32.Pow((v+0.055)/1.055, 2.4)
}

func linearToSRGB(v float32) float32 {
	if v <= 0.0031308 {
		return v * 12.92
	}
	return 1.055*math32.Pow(v, 1/2.4) - 0.055
}

func quantize(v float32) uint8 {
	if v != v || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(math32.Round(v * 255))
}
