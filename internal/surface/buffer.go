package surface

import (
	"sync/atomic"
	"unsafe"
)

// BytesPerPixel is the size of one RGBA32F pixel
const BytesPerPixel = 16

var lastID atomic.Uint32

// Buffer is an RGBA32F pixel buffer in Go memory. Every buffer gets a
// process-unique ID, the way a GL implementation names buffer objects.
type Buffer struct {
	id     uint32
	width  int
	height int
	data   []byte
}

// NewBuffer allocates a zeroed width x height buffer
func NewBuffer(width, height int) *Buffer {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	return &Buffer{
		id:     lastID.Add(1),
		width:  width,
		height: height,
		data:   make([]byte, width*height*BytesPerPixel),
	}
}

func (b *Buffer) ID() uint32      { return b.id }
func (b *Buffer) Width() int      { return b.width }
func (b *Buffer) Height() int     { return b.height }
func (b *Buffer) ByteSize() int64 { return int64(len(b.data)) }

// Bytes returns the backing storage. Writes through it are visible to
// whoever has the buffer mapped.
func (b *Buffer) Bytes() []byte { return b.data }

// Pixels returns the storage as packed RGBA float32 values
func (b *Buffer) Pixels() []float32 {
	if len(b.data) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b.data[0])), len(b.data)/4)
}

// At returns the pixel at (x, y)
func (b *Buffer) At(x, y int) [4]float32 {
	px := b.Pixels()
	i := (y*b.width + x) * 4
	return [4]float32{px[i], px[i+1], px[i+2], px[i+3]}
}

// Set writes the pixel at (x, y)
func (b *Buffer) Set(x, y int, v [4]float32) {
	px := b.Pixels()
	i := (y*b.width + x) * 4
	copy(px[i:i+4], v[:])
}

// Fill sets every pixel to v
func (b *Buffer) Fill(v [4]float32) {
	px := b.Pixels()
	for i := 0; i < len(px); i += 4 {
		copy(px[i:i+4], v[:])
	}
}
