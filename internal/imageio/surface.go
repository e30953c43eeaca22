package imageio

import (
	"fmt"

	"github.com/harskish/Fluctus/internal/surface"
)

// Inputs names the image files of one frame. Albedo and Normal are
// optional.
type Inputs struct {
	Color  string
	Albedo string
	Normal string
}

// Paths returns the non-empty input paths
func (in Inputs) Paths() []string {
	var paths []string
	for _, p := range []string{in.Color, in.Albedo, in.Normal} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// LoadSurface reads the inputs into a new surface sized after the color
// image. Guide images of another size are scaled to fit.
func LoadSurface(in Inputs) (*surface.Surface, error) {
	s := &surface.Surface{}
	if _, err := LoadInto(s, in); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadInto reloads the inputs into s. The surface is resized when the color
// image changed size, in which case resized is true and all buffers are new.
func LoadInto(s *surface.Surface, in Inputs) (resized bool, err error) {
	if in.Color == "" {
		return false, fmt.Errorf("imageio: no color input")
	}
	color, err := Load(in.Color)
	if err != nil {
		return false, err
	}

	w, h := color.Bounds().Dx(), color.Bounds().Dy()
	if w != s.TexWidth() || h != s.TexHeight() {
		if err := s.Resize(w, h); err != nil {
			return false, fmt.Errorf("imageio: %s: %w", in.Color, err)
		}
		resized = true
	}

	if err := s.SetColor(color); err != nil {
		return resized, fmt.Errorf("imageio: %s: %w", in.Color, err)
	}
	if in.Albedo != "" {
		img, err := Load(in.Albedo)
		if err != nil {
			return resized, err
		}
		if err := s.SetAlbedo(FitTo(img, w, h)); err != nil {
			return resized, fmt.Errorf("imageio: %s: %w", in.Albedo, err)
		}
	}
	if in.Normal != "" {
		img, err := Load(in.Normal)
		if err != nil {
			return resized, err
		}
		if err := s.SetNormal(FitTo(img, w, h)); err != nil {
			return resized, fmt.Errorf("imageio: %s: %w", in.Normal, err)
		}
	}
	return resized, nil
}
