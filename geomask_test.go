package geomask

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/menta2k/geomask/pkg/brush"
	"github.com/menta2k/geomask/pkg/calibration"
	"github.com/menta2k/geomask/pkg/fault"
	"github.com/menta2k/geomask/pkg/mask"
	"github.com/menta2k/geomask/pkg/normalize"
	"github.com/menta2k/geomask/pkg/types"
)

// createTestImage creates a simple test image with a bright centre
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{64, 64, 64, 255})
			}
		}
	}
	return img
}

func jpegSource(t *testing.T, name string, w, h int) normalize.Source {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, createTestImage(w, h), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return normalize.Source{Name: name, Data: buf.Bytes()}
}

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws := New()
	ws.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(ws.Release)
	return ws
}

type fakeSegmenter struct {
	result *types.SegmentationResult
	err    error
	calls  int
}

func (f *fakeSegmenter) Segment(ctx context.Context, image []byte, filename string) (*types.SegmentationResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeStore struct {
	mask, original []byte
	opts           types.SaveOptions
}

func (f *fakeStore) SaveMask(ctx context.Context, mask, original []byte, opts types.SaveOptions) (*types.SaveResult, error) {
	f.mask, f.original, f.opts = mask, original, opts
	return &types.SaveResult{Success: true, Message: "saved"}, nil
}

func TestNew(t *testing.T) {
	ws := newTestWorkspace(t)
	if ws.pipeline == nil || ws.selector == nil || ws.compositor == nil || ws.controller == nil || ws.layer == nil {
		t.Fatal("workspace components not initialized")
	}
	if ws.Engine() != nil {
		t.Error("engine should be nil before an image is selected")
	}
	if _, ok := ws.Image(); ok {
		t.Error("no image should be selected")
	}
}

func TestNewWithConfigRejectsInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mask.Format = "jpeg"
	if _, err := NewWithConfig(cfg); err == nil {
		t.Error("expected error for lossy mask format")
	}

	cfg = DefaultConfig()
	cfg.Brush.Width = 0
	if _, err := NewWithConfig(cfg); err == nil {
		t.Error("expected error for zero brush width")
	}

	// a zero normalize section would time out every selection
	cfg = DefaultConfig()
	cfg.Normalize = normalize.Config{}
	if _, err := NewWithConfig(cfg); err == nil {
		t.Error("expected error for zero normalize config")
	}
}

func TestSelectUnreadableFileClearsSession(t *testing.T) {
	ws := newTestWorkspace(t)
	ws.SetSegmenter(&fakeSegmenter{result: &types.SegmentationResult{
		Success: true,
		Polygons: []types.Polygon{
			{Points: []types.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 50}}},
		},
	}})

	ctx := context.Background()
	if _, err := ws.SelectImage(ctx, jpegSource(t, "a.jpg", 100, 100)); err != nil {
		t.Fatal(err)
	}
	if _, err := ws.Detect(ctx); err != nil {
		t.Fatal(err)
	}
	first := ws.Engine().Canvas()

	img, err := ws.SelectImage(ctx, normalize.Source{Name: "notes.txt", Data: []byte("not an image at all")})
	if !errors.Is(err, fault.ErrProcessing) {
		t.Fatalf("expected ProcessingFailure, got %v", err)
	}
	if img.Data != nil || img.Fallback {
		t.Errorf("unreadable file must not come back as an image: %+v", img)
	}
	if _, ok := ws.Image(); ok {
		t.Error("session should have no current image")
	}
	if ws.Engine() != nil || !first.Released() {
		t.Error("previous canvas should be released")
	}
	if geo, err := ws.Layer().GeoPolygons(); err != nil || len(geo) != 0 {
		t.Errorf("polygons of the previous image are still held: %v, %v", geo, err)
	}
	if o := ws.Layer().Overlay(); o.Image != "" {
		t.Error("overlay still shows the previous image")
	}
	if _, err := ws.Detect(ctx); !errors.Is(err, ErrNoImage) {
		t.Errorf("expected ErrNoImage, got %v", err)
	}
}

func TestSelectImageSizesCanvas(t *testing.T) {
	ws := newTestWorkspace(t)

	img, err := ws.SelectImage(context.Background(), jpegSource(t, "lot.jpg", 1600, 800))
	if err != nil {
		t.Fatalf("SelectImage failed: %v", err)
	}
	if img.Width != 800 || img.Height != 400 {
		t.Errorf("normalized size = %dx%d, want 800x400", img.Width, img.Height)
	}

	eng := ws.Engine()
	if eng == nil {
		t.Fatal("engine not created")
	}
	if size, err := eng.Canvas().Size(); err != nil || size.Width != 800 || size.Height != 400 {
		t.Errorf("canvas size = %+v (%v), want 800x400", size, err)
	}
	if o := ws.Layer().Overlay(); o.Image != img.DataURL {
		t.Error("layer overlay should carry the selected image")
	}
}

func TestSelectImageReleasesPreviousCanvas(t *testing.T) {
	ws := newTestWorkspace(t)
	ctx := context.Background()

	if _, err := ws.SelectImage(ctx, jpegSource(t, "a.jpg", 300, 200)); err != nil {
		t.Fatal(err)
	}
	first := ws.Engine().Canvas()

	if _, err := ws.SelectImage(ctx, jpegSource(t, "b.jpg", 120, 90)); err != nil {
		t.Fatal(err)
	}
	if !first.Released() {
		t.Error("previous canvas should be released")
	}
	if size, err := ws.Engine().Canvas().Size(); err != nil || size.Width != 120 || size.Height != 90 {
		t.Errorf("canvas size = %+v (%v), want 120x90", size, err)
	}
}

func TestSelectImageRejectedKeepsSession(t *testing.T) {
	ws := newTestWorkspace(t)
	ctx := context.Background()

	if _, err := ws.SelectImage(ctx, jpegSource(t, "a.jpg", 300, 200)); err != nil {
		t.Fatal(err)
	}
	eng := ws.Engine()

	_, err := ws.SelectImage(ctx, normalize.Source{Name: "IMG_0001.HEIC", Data: []byte("\x00\x00\x00\x18ftypheic")})
	if !errors.Is(err, fault.ErrInputRejected) {
		t.Fatalf("expected InputRejected, got %v", err)
	}
	if ws.Engine() != eng || eng.Canvas().Released() {
		t.Error("rejected selection must not touch the current canvas")
	}
	if cur, ok := ws.Image(); !ok || cur.Width != 300 {
		t.Errorf("current image changed: %+v", cur)
	}
}

func TestComposeMask(t *testing.T) {
	ws := newTestWorkspace(t)
	if _, err := ws.ComposeMask(); !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}

	if _, err := ws.SelectImage(context.Background(), jpegSource(t, "lot.jpg", 200, 100)); err != nil {
		t.Fatal(err)
	}
	if _, err := ws.ComposeMask(); !errors.Is(err, mask.ErrEmptyMask) {
		t.Fatalf("expected ErrEmptyMask, got %v", err)
	}

	eng := ws.Engine()
	eng.PointerDown(types.Pt(20, 20))
	eng.PointerMove(types.Pt(150, 60))
	eng.PointerUp(types.Pt(150, 60))

	res, err := ws.ComposeMask()
	if err != nil {
		t.Fatalf("ComposeMask failed: %v", err)
	}
	if res.MIME != "image/png" || res.Width != 200 || res.Height != 100 {
		t.Errorf("unexpected result: mime=%s size=%dx%d", res.MIME, res.Width, res.Height)
	}
	if len(res.Data) == 0 {
		t.Error("mask data is empty")
	}
}

func TestSaveMask(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Save = types.SaveOptions{Model: "unet", Type: "parking"}
	ws, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ws.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer ws.Release()

	store := &fakeStore{}
	ws.SetMaskStore(store)

	ctx := context.Background()
	img, err := ws.SelectImage(ctx, jpegSource(t, "lot.jpg", 100, 100))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ws.SaveMask(ctx); !errors.Is(err, mask.ErrEmptyMask) {
		t.Fatalf("expected ErrEmptyMask, got %v", err)
	}
	if store.mask != nil {
		t.Fatal("empty mask must not reach the store")
	}

	eng := ws.Engine()
	if err := eng.SetMode(types.Straight); err != nil {
		t.Fatal(err)
	}
	eng.PointerDown(types.Pt(10, 10))
	eng.PointerUp(types.Pt(90, 90))

	res, err := ws.SaveMask(ctx)
	if err != nil {
		t.Fatalf("SaveMask failed: %v", err)
	}
	if !res.Success {
		t.Error("expected success")
	}
	if !bytes.Equal(store.original, img.Data) {
		t.Error("original should be the normalized image")
	}
	if len(store.mask) == 0 || store.opts != cfg.Save {
		t.Errorf("unexpected upload: %d bytes, opts %+v", len(store.mask), store.opts)
	}
}

func TestDetectThenCalibrate(t *testing.T) {
	ws := newTestWorkspace(t)
	area := 2500.0
	seg := &fakeSegmenter{result: &types.SegmentationResult{
		Success: true,
		Polygons: []types.Polygon{
			{Points: []types.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 50}, {X: 0, Y: 50}}, Area: &area},
			{Points: []types.Point{{X: 1, Y: 1}}},
		},
	}}
	ws.SetSegmenter(seg)

	ctx := context.Background()
	if _, err := ws.Detect(ctx); !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
	if _, err := ws.SelectImage(ctx, jpegSource(t, "lot.jpg", 100, 100)); err != nil {
		t.Fatal(err)
	}

	det, err := ws.Detect(ctx)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(det.Polygons) != 1 || det.Dropped != 1 {
		t.Fatalf("expected 1 kept and 1 dropped polygon, got %d kept %d dropped", len(det.Polygons), det.Dropped)
	}

	// uncalibrated: the [-1, 1] square
	geo, err := ws.Layer().GeoPolygons()
	if err != nil {
		t.Fatal(err)
	}
	assertCoord(t, geo[0][0], types.LngLat{-1, 1})
	assertCoord(t, geo[0][2], types.LngLat{1, 0})

	bounds, err := ws.Calibrate(calibration.Capture{NELat: "10", NELng: "20", SWLat: "0", SWLng: "0"})
	if err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}
	if bounds.NorthEast.Lat != 10 {
		t.Errorf("unexpected bounds %+v", bounds)
	}

	geo, err = ws.Layer().GeoPolygons()
	if err != nil {
		t.Fatal(err)
	}
	assertCoord(t, geo[0][0], types.LngLat{0, 10})
	assertCoord(t, geo[0][2], types.LngLat{20, 5})
	if first, last := geo[0][0], geo[0][len(geo[0])-1]; first != last {
		t.Error("ring is not closed")
	}

	fc, err := ws.Layer().FeatureCollection()
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.Features) != 1 || fc.Features[0].Properties["area"] != area {
		t.Errorf("unexpected features: %+v", fc.Features)
	}

	if _, err := ws.Calibrate(calibration.Capture{NELat: "11", NELng: "21", SWLat: "1", SWLng: "1"}); !errors.Is(err, calibration.ErrAlreadyCalibrated) {
		t.Errorf("expected ErrAlreadyCalibrated, got %v", err)
	}
}

func TestDetectWithoutSegmenter(t *testing.T) {
	ws := newTestWorkspace(t)
	if _, err := ws.Detect(context.Background()); err == nil {
		t.Error("expected error without segmenter")
	}
}

type recordingRenderer struct {
	overlay  types.Overlay
	polygons []types.GeoPolygon
}

func (r *recordingRenderer) Render(ctx context.Context, overlay types.Overlay, polygons []types.GeoPolygon) error {
	r.overlay, r.polygons = overlay, polygons
	return nil
}

func TestLayerRender(t *testing.T) {
	l := NewLayer()
	l.SetImage(types.ImageSize{Width: 10, Height: 10}, "data:image/jpeg;base64,AA==")
	if err := l.SetPolygons(types.ImageSize{Width: 10, Height: 10}, []types.Polygon{
		{Points: []types.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}}},
	}); err != nil {
		t.Fatal(err)
	}
	l.SetBounds(types.GeoBounds{
		NorthEast: types.LatLng{Lat: 1, Lng: 1},
		SouthWest: types.LatLng{Lat: 0, Lng: 0},
	})

	r := &recordingRenderer{}
	if err := l.Render(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if len(r.polygons) != 1 || len(r.polygons[0]) != 4 {
		t.Fatalf("unexpected polygons %v", r.polygons)
	}
	if r.overlay.Image == "" || r.overlay.Corners[0] != (types.LngLat{0, 1}) {
		t.Errorf("unexpected overlay %+v", r.overlay)
	}

	// a new image drops the polygons of the old one
	l.SetImage(types.ImageSize{Width: 20, Height: 20}, "")
	if geo, err := l.GeoPolygons(); err != nil || len(geo) != 0 {
		t.Errorf("expected empty layer, got %v, %v", geo, err)
	}
}

func TestLayerDegenerateSize(t *testing.T) {
	l := NewLayer()
	l.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := l.SetPolygons(types.ImageSize{}, []types.Polygon{
		{Points: []types.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}}},
	})
	if !errors.Is(err, fault.ErrTransform) {
		t.Fatalf("expected TransformError, got %v", err)
	}
	if _, err := l.GeoPolygons(); err == nil {
		t.Error("GeoPolygons should report the projection error")
	}
}

func TestBrushConfigApplied(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Brush = brush.Config{Width: 25, Color: color.NRGBA{R: 255, A: 255}, Mode: types.Straight}
	ws, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ws.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer ws.Release()

	if _, err := ws.SelectImage(context.Background(), jpegSource(t, "lot.jpg", 64, 64)); err != nil {
		t.Fatal(err)
	}
	eng := ws.Engine()
	if eng.Mode() != types.Straight {
		t.Errorf("mode = %s, want straight", eng.Mode())
	}
	if w, c := eng.Brush(); w != 25 || c.R != 255 {
		t.Errorf("brush = %v %v", w, c)
	}
}

func TestGetVersion(t *testing.T) {
	if GetVersion() == "" {
		t.Error("GetVersion() returned empty string")
	}
}

func assertCoord(t *testing.T, got, want types.LngLat) {
	t.Helper()
	if math.Abs(got[0]-want[0]) > 1e-9 || math.Abs(got[1]-want[1]) > 1e-9 {
		t.Errorf("coordinate = %v, want %v", got, want)
	}
}

func BenchmarkSelectImage(b *testing.B) {
	ws := New()
	ws.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer ws.Release()

	var buf bytes.Buffer
	jpeg.Encode(&buf, createTestImage(1920, 1080), nil)
	src := normalize.Source{Name: "bench.jpg", Data: buf.Bytes()}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ws.SelectImage(context.Background(), src); err != nil {
			b.Fatal(err)
		}
	}
}
