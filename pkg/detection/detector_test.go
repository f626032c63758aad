package detection

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/menta2k/geomask/pkg/client"
	"github.com/menta2k/geomask/pkg/types"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func fixedSegmenter(res *types.SegmentationResult, err error) client.Segmenter {
	return client.SegmenterFunc(func(context.Context, []byte, string) (*types.SegmentationResult, error) {
		return res, err
	})
}

func quiet(d *Detector) *Detector {
	d.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return d
}

func TestDetectCleansPolygons(t *testing.T) {
	area := 4.0
	res := &types.SegmentationResult{
		Success: true,
		Image:   "preview",
		Polygons: []types.Polygon{
			{Points: []types.Point{{10, 10}, {250, 10}, {250, -5}}, Area: &area},
			{Points: []types.Point{{1, 1}, {2, 2}}},
			{Points: []types.Point{{math.NaN(), 1}, {2, 2}, {3, 3}}},
			{Points: []types.Point{{0.1, 0.1}, {0.5, 0.1}, {0.5, 0.5}}},
		},
	}
	d := quiet(NewDetector(fixedSegmenter(res, nil)))

	det, err := d.Detect(context.Background(), pngBytes(t, 200, 100), "lot.png")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if det.Size != (types.ImageSize{Width: 200, Height: 100}) {
		t.Errorf("unexpected size %+v", det.Size)
	}
	if len(det.Polygons) != 2 || det.Dropped != 2 {
		t.Fatalf("expected 2 kept and 2 dropped, got %d kept, %d dropped", len(det.Polygons), det.Dropped)
	}

	first := det.Polygons[0]
	if first.Points[1] != types.Pt(200, 10) || first.Points[2] != types.Pt(200, 0) {
		t.Errorf("points not clamped into image: %v", first.Points)
	}
	if first.Area == nil || *first.Area != 4 {
		t.Error("area should be preserved")
	}

	second := det.Polygons[1]
	if second.Points[2] != types.Pt(100, 50) {
		t.Errorf("normalized polygon not scaled to pixels: %v", second.Points)
	}
	if det.Preview != "preview" {
		t.Error("preview image not passed through")
	}

	if res.Polygons[0].Points[1] != types.Pt(250, 10) {
		t.Error("collaborator polygons must not be mutated")
	}
}

func TestDetectCollaboratorFailure(t *testing.T) {
	boom := errors.New("connection refused")
	d := quiet(NewDetector(fixedSegmenter(nil, boom)))

	_, err := d.Detect(context.Background(), pngBytes(t, 10, 10), "a.png")
	if !errors.Is(err, boom) || !strings.HasPrefix(err.Error(), "segmentation failed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDetectUnreadableImage(t *testing.T) {
	called := false
	d := NewDetector(client.SegmenterFunc(func(context.Context, []byte, string) (*types.SegmentationResult, error) {
		called = true
		return nil, nil
	}))
	if _, err := d.Detect(context.Background(), []byte("nope"), "a.png"); err == nil {
		t.Fatal("expected error for unreadable image")
	}
	if called {
		t.Error("collaborator should not be called for an unreadable image")
	}
}
