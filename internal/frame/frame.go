// Package frame holds captured images and the single-slot handoff between
// the capture goroutine and the UI task.
package frame

import (
	"image"
	"image/draw"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

// Frame is an immutable captured bitmap. Callers that need to draw on it
// must Clone first.
type Frame struct {
	Image      *image.RGBA
	CapturedAt time.Time
	Seq        uint64
	// Sum fingerprints the pixel buffer so identical captures can be
	// recognized without comparing pixels.
	Sum uint64
}

// New wraps img, computing its fingerprint.
func New(img *image.RGBA, seq uint64, at time.Time) *Frame {
	return &Frame{
		Image:      img,
		CapturedAt: at,
		Seq:        seq,
		Sum:        Fingerprint(img),
	}
}

// Fingerprint hashes the visible pixels of img together with its size.
func Fingerprint(img *image.RGBA) uint64 {
	if img == nil {
		return 0
	}
	b := img.Bounds()
	h := xxh3.New()
	var dims [8]byte
	w, ht := uint32(b.Dx()), uint32(b.Dy())
	dims[0], dims[1], dims[2], dims[3] = byte(w), byte(w>>8), byte(w>>16), byte(w>>24)
	dims[4], dims[5], dims[6], dims[7] = byte(ht), byte(ht>>8), byte(ht>>16), byte(ht>>24)
	_, _ = h.Write(dims[:])

	rowBytes := b.Dx() * 4
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		_, _ = h.Write(img.Pix[off : off+rowBytes])
	}
	return h.Sum64()
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Size returns the pixel buffer size in bytes.
func (f *Frame) Size() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return len(f.Image.Pix)
}

// Clone returns a deep copy whose image can be modified freely. The copy
// is rebased to a zero origin.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	return &Frame{
		Image:      CloneRGBA(f.Image),
		CapturedAt: f.CapturedAt,
		Seq:        f.Seq,
		Sum:        f.Sum,
	}
}

// CloneRGBA copies src into a new zero-origin image.
func CloneRGBA(src *image.RGBA) *image.RGBA {
	if src == nil {
		return nil
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// Mailbox is a single-slot, latest-wins handoff. Put never blocks; a frame
// not yet taken is replaced by the next one.
type Mailbox struct {
	mu      sync.Mutex
	latest  *Frame
	dropped uint64
	notify  chan struct{}
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{notify: make(chan struct{}, 1)}
}

// Put stores f, replacing any frame not yet taken.
func (m *Mailbox) Put(f *Frame) {
	m.mu.Lock()
	if m.latest != nil {
		m.dropped++
	}
	m.latest = f
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Ready signals that a frame may be available.
func (m *Mailbox) Ready() <-chan struct{} {
	return m.notify
}

// Take removes and returns the latest frame, or nil.
func (m *Mailbox) Take() *Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.latest
	m.latest = nil
	return f
}

// Dropped returns how many frames were replaced before being taken.
func (m *Mailbox) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
