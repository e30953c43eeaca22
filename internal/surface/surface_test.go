package surface

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func TestBufferIDsAreUnique(t *testing.T) {
	seen := make(map[uint32]bool)
	for i := 0; i < 10; i++ {
		b := NewBuffer(2, 2)
		if seen[b.ID()] {
			t.Fatalf("duplicate buffer ID %d", b.ID())
		}
		seen[b.ID()] = true
	}
}

func TestBufferLayout(t *testing.T) {
	b := NewBuffer(3, 2)
	if b.ByteSize() != 3*2*16 {
		t.Errorf("ByteSize() = %d, want %d", b.ByteSize(), 3*2*16)
	}
	b.Set(2, 1, [4]float32{1, 2, 3, 4})
	if got := b.At(2, 1); got != [4]float32{1, 2, 3, 4} {
		t.Errorf("At(2,1) = %v", got)
	}
	if got := b.Pixels()[(1*3+2)*4+2]; got != 3 {
		t.Errorf("packed blue channel = %v, want 3", got)
	}
}

func TestNewSurfaceDefaults(t *testing.T) {
	s, err := New(4, 3)
	if err != nil {
		t.Fatal(err)
	}
	if s.TexWidth() != 4 || s.TexHeight() != 3 {
		t.Errorf("size = %dx%d", s.TexWidth(), s.TexHeight())
	}
	if got := s.Albedo().At(1, 1); got != [4]float32{1, 1, 1, 1} {
		t.Errorf("default albedo = %v", got)
	}
	if got := s.Normal().At(3, 2); got != [4]float32{0, 0, 1, 0} {
		t.Errorf("default normal = %v", got)
	}
	if _, err := New(0, 3); err == nil {
		t.Error("New(0,3) should fail")
	}
}

func TestResizeReplacesBuffers(t *testing.T) {
	s, _ := New(2, 2)
	old := s.Color()
	if err := s.Resize(5, 4); err != nil {
		t.Fatal(err)
	}
	if s.Color() == old || s.Color().ID() == old.ID() {
		t.Error("Resize kept the old color buffer")
	}
	if s.Color().ByteSize() != 5*4*16 {
		t.Errorf("resized ByteSize = %d", s.Color().ByteSize())
	}
	if old.ByteSize() != 2*2*16 {
		t.Error("Resize touched the old buffer")
	}
}

func TestColorRoundTrip(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 1))
	values := []uint8{0, 64, 188, 255}
	for x, v := range values {
		src.SetNRGBA(x, 0, color.NRGBA{v, v, v, 255})
	}

	s, _ := New(4, 1)
	if err := s.SetColor(src); err != nil {
		t.Fatal(err)
	}

	// 188 is roughly middle grey in sRGB
	if got := s.Color().At(2, 0)[0]; math.Abs(float64(got)-0.5) > 0.01 {
		t.Errorf("linear value of 188 = %v, want ~0.5", got)
	}

	out := s.ColorImage()
	for x, v := range values {
		if got := out.NRGBAAt(x, 0).R; got != v {
			t.Errorf("round trip of %d = %d", v, got)
		}
	}
}

func TestSetNormalRemaps(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	src.SetNRGBA(0, 0, color.NRGBA{0, 255, 255, 255})

	s, _ := New(1, 1)
	if err := s.SetNormal(src); err != nil {
		t.Fatal(err)
	}
	got := s.Normal().At(0, 0)
	if got[0] != -1 || got[1] != 1 || got[2] != 1 {
		t.Errorf("normal = %v, want (-1, 1, 1)", got)
	}
}

func TestSetColorSizeMismatch(t *testing.T) {
	s, _ := New(4, 4)
	if err := s.SetColor(image.NewNRGBA(image.Rect(0, 0, 3, 4))); err == nil {
		t.Error("SetColor accepted a 3x4 image on a 4x4 surface")
	}
}

func TestColorImageClamps(t *testing.T) {
	s, _ := New(2, 1)
	s.Color().Set(0, 0, [4]float32{-1, 7, float32(math.NaN()), 1})
	out := s.ColorImage()
	c := out.NRGBAAt(0, 0)
	if c.R != 0 || c.G != 255 || c.B != 0 || c.A != 255 {
		t.Errorf("clamped pixel = %v", c)
	}
}
