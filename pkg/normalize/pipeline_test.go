package normalize

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/menta2k/geomask/pkg/fault"
)

// createTestImage creates a gradient image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 255 / width), uint8(y * 255 / height), 128, 255})
		}
	}
	return img
}

func encodeJPEG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func encodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func quietPipeline(t testing.TB, cfg Config) *Pipeline {
	t.Helper()
	p, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}
	p.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return p
}

func TestNewWithConfigValidates(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero config", func(c *Config) { *c = Config{} }},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"zero max dimension", func(c *Config) { c.MaxDimension = 0 }},
		{"quality above 100", func(c *Config) { c.Quality = 101 }},
		{"negative threshold", func(c *Config) { c.ConfirmThreshold = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if _, err := NewWithConfig(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestNewWithConfigDefaultsRejectedFormats(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectedFormats = nil
	p := quietPipeline(t, cfg)

	heic := append([]byte{0, 0, 0, 24}, []byte("ftypheic0000mif1heic")...)
	if _, err := p.Normalize(context.Background(), Source{Name: "photo.jpg", Data: heic}); !errors.Is(err, fault.ErrInputRejected) {
		t.Errorf("nil RejectedFormats should keep the default list, got %v", err)
	}

	cfg.RejectedFormats = []string{}
	p = quietPipeline(t, cfg)
	if _, err := p.Normalize(context.Background(), Source{Name: "doc.pdf", Data: []byte("%PDF-1.7")}); errors.Is(err, fault.ErrInputRejected) {
		t.Error("an empty list should accept every container")
	}
}

func TestTargetSize(t *testing.T) {
	tests := []struct {
		name    string
		w, h    int
		wantW   int
		wantH   int
		wantErr bool
	}{
		{"landscape 4000x3000", 4000, 3000, 800, 600, false},
		{"portrait", 1200, 1600, 600, 800, false},
		{"within bounds", 640, 480, 640, 480, false},
		{"exactly max", 800, 800, 800, 800, false},
		{"rounding", 1001, 333, 800, 266, false},
		{"thin strip", 10000, 3, 800, 1, false},
		{"zero width", 0, 100, 0, 0, true},
		{"negative height", 100, -1, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, err := TargetSize(tt.w, tt.h, 800)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("TargetSize(%d, %d) = %dx%d, want %dx%d", tt.w, tt.h, w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestTargetSizePreservesAspect(t *testing.T) {
	for w := 1; w <= 5000; w += 137 {
		for h := 1; h <= 5000; h += 211 {
			tw, th, err := TargetSize(w, h, 800)
			if err != nil {
				t.Fatalf("TargetSize(%d, %d): %v", w, h, err)
			}
			if tw > 800 || th > 800 || tw < 1 || th < 1 {
				t.Fatalf("TargetSize(%d, %d) = %dx%d out of bounds", w, h, tw, th)
			}
			if w <= 800 && h <= 800 {
				if tw != w || th != h {
					t.Fatalf("TargetSize(%d, %d) = %dx%d, expected pass-through", w, h, tw, th)
				}
				continue
			}
			if tw != 800 && th != 800 {
				t.Fatalf("TargetSize(%d, %d) = %dx%d, longer side should be 800", w, h, tw, th)
			}
			// Rounding moves each side by at most half a pixel.
			scale := 800 / math.Max(float64(w), float64(h))
			if d := math.Abs(float64(w)*scale - float64(tw)); d > 0.5 && tw != 1 {
				t.Fatalf("width drifted by %v for %dx%d -> %dx%d", d, w, h, tw, th)
			}
			if d := math.Abs(float64(h)*scale - float64(th)); d > 0.5 && th != 1 {
				t.Fatalf("height drifted by %v for %dx%d -> %dx%d", d, w, h, tw, th)
			}
		}
	}
}

func TestNormalizeResizesLargeImage(t *testing.T) {
	if testing.Short() {
		t.Skip("decodes a 4000x3000 image")
	}
	p := quietPipeline(t, DefaultConfig())
	data := encodeJPEG(t, createTestImage(4000, 3000))

	img, err := p.Normalize(context.Background(), Source{Name: "field.jpg", Data: data})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if img.Width != 800 || img.Height != 600 {
		t.Errorf("expected 800x600, got %dx%d", img.Width, img.Height)
	}
	if img.Fallback {
		t.Error("did not expect fallback")
	}
	if img.Quality != 0.85 {
		t.Errorf("expected quality 0.85, got %v", img.Quality)
	}
	if img.MIME != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %s", img.MIME)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(img.Data))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 800 || b.Dy() != 600 {
		t.Errorf("encoded bounds %v, want 800x600", b)
	}
}

func TestNormalizeSmallPNGPassesThroughDimensions(t *testing.T) {
	p := quietPipeline(t, DefaultConfig())
	data := encodePNG(t, createTestImage(320, 200))

	img, err := p.Normalize(context.Background(), Source{Name: "small.png", Data: data})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if img.Width != 320 || img.Height != 200 {
		t.Errorf("expected 320x200, got %dx%d", img.Width, img.Height)
	}
	if img.MIME != "image/jpeg" {
		t.Errorf("expected recompression to JPEG, got %s", img.MIME)
	}
	if len(img.DataURL) == 0 || img.DataURL[:23] != "data:image/jpeg;base64," {
		t.Errorf("unexpected data URL prefix")
	}
}

func TestNormalizeRejectsHEIC(t *testing.T) {
	p := quietPipeline(t, DefaultConfig())
	p.process = func([]byte) ([]byte, int, int, error) {
		t.Fatal("rejected input must not be processed")
		return nil, 0, 0, nil
	}

	heic := append([]byte{0, 0, 0, 24}, []byte("ftypheic0000mif1heic")...)
	cases := []Source{
		{Name: "IMG_0001.HEIC", Data: []byte("whatever")},
		{Name: "photo.jpg", Data: heic},
		{Name: "scan.tiff", Data: []byte("II*\x00rest")},
		{Name: "doc.pdf", Data: []byte("%PDF-1.7")},
		{Name: "empty.png", Data: nil},
	}
	for _, src := range cases {
		img, err := p.Normalize(context.Background(), src)
		if !errors.Is(err, fault.ErrInputRejected) {
			t.Errorf("%s: expected InputRejected, got %v", src.Name, err)
		}
		if img.Data != nil {
			t.Errorf("%s: rejected input must not produce an image", src.Name)
		}
	}
}

func TestNormalizeLargeFileNeedsConfirmation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfirmThreshold = 16
	p := quietPipeline(t, cfg)
	data := encodePNG(t, createTestImage(20, 20))

	if _, err := p.Normalize(context.Background(), Source{Name: "big.png", Data: data}); !errors.Is(err, fault.ErrInputRejected) {
		t.Fatalf("expected InputRejected without confirmer, got %v", err)
	}

	var asked string
	p.SetConfirmer(ConfirmFunc(func(name string, size int64) bool {
		asked = name
		return size == int64(len(data))
	}))
	img, err := p.Normalize(context.Background(), Source{Name: "big.png", Data: data})
	if err != nil {
		t.Fatalf("confirmed file should be processed: %v", err)
	}
	if asked != "big.png" {
		t.Errorf("confirmer was not asked about big.png")
	}
	if img.Width != 20 {
		t.Errorf("expected width 20, got %d", img.Width)
	}
}

func TestNormalizeCorruptInputFallsBack(t *testing.T) {
	p := quietPipeline(t, DefaultConfig())
	data := []byte("\xff\xd8\xff\xe0 definitely not a jpeg body")

	img, err := p.Normalize(context.Background(), Source{Name: "broken.jpg", Data: data})
	if !errors.Is(err, fault.ErrProcessing) {
		t.Fatalf("expected ProcessingFailure, got %v", err)
	}
	if !img.Fallback || img.Warning == "" {
		t.Error("expected fallback with warning")
	}
	if !bytes.Equal(img.Data, data) {
		t.Error("fallback must forward the original bytes unchanged")
	}
}

func TestNormalizeTimeoutFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	p := quietPipeline(t, cfg)

	release := make(chan struct{})
	defer close(release)
	p.process = func([]byte) ([]byte, int, int, error) {
		<-release
		return []byte("late"), 1, 1, nil
	}

	data := encodePNG(t, createTestImage(10, 10))
	img, err := p.Normalize(context.Background(), Source{Name: "slow.png", Data: data})
	if !errors.Is(err, fault.ErrTimeout) {
		t.Fatalf("expected ProcessingTimeout, got %v", err)
	}
	if !img.Fallback || img.Warning == "" {
		t.Error("expected fallback with warning")
	}
	if !bytes.Equal(img.Data, data) {
		t.Error("fallback must forward the original bytes unchanged")
	}
	if img.Width != 10 || img.Height != 10 {
		t.Errorf("expected header dimensions 10x10, got %dx%d", img.Width, img.Height)
	}
}

func TestNormalizeContextCancelFallsBack(t *testing.T) {
	p := quietPipeline(t, DefaultConfig())
	release := make(chan struct{})
	defer close(release)
	p.process = func([]byte) ([]byte, int, int, error) {
		<-release
		return nil, 0, 0, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	img, err := p.Normalize(ctx, Source{Name: "a.png", Data: []byte{1, 2, 3}})
	if !errors.Is(err, fault.ErrTimeout) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected timeout kind wrapping context.Canceled, got %v", err)
	}
	if !img.Fallback {
		t.Error("expected fallback")
	}
}

func TestNormalizeRecoversDecoderPanic(t *testing.T) {
	p := quietPipeline(t, DefaultConfig())
	p.process = func([]byte) ([]byte, int, int, error) {
		panic("corrupt huffman table")
	}

	img, err := p.Normalize(context.Background(), Source{Name: "a.jpg", Data: []byte{1}})
	if !errors.Is(err, fault.ErrProcessing) {
		t.Fatalf("expected ProcessingFailure, got %v", err)
	}
	if !img.Fallback {
		t.Error("expected fallback")
	}
}

func BenchmarkNormalize(b *testing.B) {
	p := quietPipeline(b, DefaultConfig())
	data := encodeJPEG(b, createTestImage(1920, 1080))
	src := Source{Name: "bench.jpg", Data: data}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Normalize(context.Background(), src); err != nil {
			b.Fatal(err)
		}
	}
}
