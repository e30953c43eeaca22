package imageio

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 255 / w), uint8(y * 255 / h), 128, 255})
		}
	}
	return img
}

func TestSaveLoadLossless(t *testing.T) {
	dir := t.TempDir()
	src := gradient(8, 5)

	for _, ext := range []string{".png", ".bmp", ".tga", ".webp"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(dir, "out"+ext)
			if err := Save(path, src); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			img, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 5 {
				t.Fatalf("loaded bounds %v", img.Bounds())
			}
			for _, p := range []image.Point{{0, 0}, {7, 4}, {3, 2}} {
				want := src.NRGBAAt(p.X, p.Y)
				got := color.NRGBAModel.Convert(img.At(img.Bounds().Min.X+p.X, img.Bounds().Min.Y+p.Y)).(color.NRGBA)
				if got != want {
					t.Errorf("pixel %v = %v, want %v", p, got, want)
				}
			}
		})
	}
}

func TestSaveJPEG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.jpg")
	if err := Save(path, gradient(16, 16)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("output missing: %v", err)
	}
}

func TestSaveUnsupported(t *testing.T) {
	if err := Save(filepath.Join(t.TempDir(), "out.exr"), gradient(2, 2)); err == nil {
		t.Error("Save accepted .exr")
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}

func TestFitTo(t *testing.T) {
	src := gradient(10, 6)
	if FitTo(src, 10, 6) != image.Image(src) {
		t.Error("FitTo copied an image that already fits")
	}
	out := FitTo(src, 20, 3)
	if out.Bounds().Dx() != 20 || out.Bounds().Dy() != 3 {
		t.Errorf("FitTo bounds = %v", out.Bounds())
	}
}

func TestLoadInto(t *testing.T) {
	dir := t.TempDir()
	colorPath := filepath.Join(dir, "color.png")
	albedoPath := filepath.Join(dir, "albedo.png")
	if err := Save(colorPath, gradient(8, 4)); err != nil {
		t.Fatal(err)
	}
	if err := Save(albedoPath, gradient(4, 2)); err != nil {
		t.Fatal(err)
	}

	in := Inputs{Color: colorPath, Albedo: albedoPath}
	s, err := LoadSurface(in)
	if err != nil {
		t.Fatalf("LoadSurface failed: %v", err)
	}
	if s.TexWidth() != 8 || s.TexHeight() != 4 {
		t.Fatalf("surface size %dx%d", s.TexWidth(), s.TexHeight())
	}
	id := s.ColorBuffer().ID()

	resized, err := LoadInto(s, in)
	if err != nil {
		t.Fatal(err)
	}
	if resized || s.ColorBuffer().ID() != id {
		t.Error("reload at the same size replaced the buffers")
	}

	if err := Save(colorPath, gradient(6, 6)); err != nil {
		t.Fatal(err)
	}
	resized, err = LoadInto(s, in)
	if err != nil {
		t.Fatal(err)
	}
	if !resized || s.TexWidth() != 6 || s.ColorBuffer().ID() == id {
		t.Errorf("resize not reported: resized=%v size=%dx%d", resized, s.TexWidth(), s.TexHeight())
	}
}

func TestInputsPaths(t *testing.T) {
	in := Inputs{Color: "c.png", Normal: "n.png"}
	paths := in.Paths()
	if len(paths) != 2 || paths[0] != "c.png" || paths[1] != "n.png" {
		t.Errorf("Paths() = %v", paths)
	}
	if _, err := LoadSurface(Inputs{}); err == nil {
		t.Error("LoadSurface without color succeeded")
	}
}
