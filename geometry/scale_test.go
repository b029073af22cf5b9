package geometry

import (
	"math"
	"testing"

	"github.com/leeforge/thumbforge/options"
)

func TestComputeTargetBoxNoSize(t *testing.T) {
	opts := options.MustParse(map[string]any{"quality": 90})
	if _, ok := ComputeTargetBox(800, 600, opts); ok {
		t.Fatal("options without a concrete size must yield no plan")
	}
}

func TestCoverScale(t *testing.T) {
	opts := options.MustParse(map[string]any{"width": 100, "ratio": "square"})
	plan, ok := ComputeTargetBox(1000, 500, opts)
	if !ok {
		t.Fatal("expected a plan")
	}
	// Cover picks the larger factor so the target box is filled.
	if want := 100.0 / 500.0; math.Abs(plan.Scale-want) > 1e-9 {
		t.Fatalf("scale = %v, want %v", plan.Scale, want)
	}
	if plan.Crop != nil {
		t.Fatal("no crop requested, plan must not crop")
	}
	if plan.OutW != 200 || plan.OutH != 100 {
		t.Fatalf("output = %dx%d, want 200x100", plan.OutW, plan.OutH)
	}
}

func TestContainNeverUpscales(t *testing.T) {
	opts := options.MustParse(map[string]any{"width": 800, "ratio": "square", "contain": true})
	plan, ok := ComputeTargetBox(400, 300, opts)
	if !ok {
		t.Fatal("expected a plan")
	}
	if plan.Scale != 1 {
		t.Fatalf("contain scaled a smaller source by %v, want 1", plan.Scale)
	}
	if plan.Crop != nil {
		t.Fatal("contain must not crop")
	}
}

func TestContainFitsInside(t *testing.T) {
	opts := options.MustParse(map[string]any{"width": 100, "ratio": "square", "contain": true, "crop": true})
	plan, ok := ComputeTargetBox(1000, 500, opts)
	if !ok {
		t.Fatal("expected a plan")
	}
	if want := 100.0 / 1000.0; math.Abs(plan.Scale-want) > 1e-9 {
		t.Fatalf("contain scale = %v, want %v", plan.Scale, want)
	}
	// A crop request under contain is dropped.
	if plan.Crop != nil {
		t.Fatal("contain must drop the crop")
	}
}

// Cover-scale plus crop always yields exactly the target dimensions,
// for any source at least as large as the target after scaling.
func TestCropExactOutput(t *testing.T) {
	sources := [][2]int{
		{1000, 1000}, {1000, 500}, {500, 1000}, {101, 57},
		{3333, 2222}, {119, 73}, {4096, 4096},
	}
	opts := options.MustParse(map[string]any{"width": 100, "ratio": "video", "crop": true})
	for _, src := range sources {
		plan, ok := ComputeTargetBox(src[0], src[1], opts)
		if !ok {
			t.Fatalf("expected a plan for %v", src)
		}
		if plan.Crop == nil {
			t.Fatalf("expected a crop for %v", src)
		}
		if plan.Crop.Width != 100 || plan.Crop.Height != 56 {
			t.Fatalf("source %v: crop box %dx%d, want 100x56", src, plan.Crop.Width, plan.Crop.Height)
		}
		if plan.OutW != 100 || plan.OutH != 56 {
			t.Fatalf("source %v: output %dx%d, want 100x56", src, plan.OutW, plan.OutH)
		}
	}
}

func TestCropAnchoredAndClamped(t *testing.T) {
	opts := options.MustParse(map[string]any{"width": 100, "ratio": "square", "crop": "tl"})
	plan, ok := ComputeTargetBox(1000, 500, opts)
	if !ok || plan.Crop == nil {
		t.Fatal("expected a cropping plan")
	}
	if plan.Crop.Left != 0 || plan.Crop.Top != 0 {
		t.Fatalf("top-left anchor crop at (%d,%d), want (0,0)", plan.Crop.Left, plan.Crop.Top)
	}

	opts = options.MustParse(map[string]any{"width": 100, "ratio": "square", "crop": "br"})
	plan, ok = ComputeTargetBox(1000, 500, opts)
	if !ok || plan.Crop == nil {
		t.Fatal("expected a cropping plan")
	}
	scaledW := int(math.Round(1000 * plan.Scale))
	if plan.Crop.Left+plan.Crop.Width != scaledW {
		t.Fatalf("bottom-right crop not clamped to edge: left=%d width=%d scaled=%d",
			plan.Crop.Left, plan.Crop.Width, scaledW)
	}
}

func TestWindowPreCrop(t *testing.T) {
	// The window's region (600x600 of a 2000x2000 source) exceeds the
	// 100x100 target, so the plan crops to the window first.
	opts := options.MustParse(map[string]any{
		"width": 100, "ratio": "square", "crop": true,
		"window": []float64{0.2, 0.2, 0.5, 0.5},
	})
	plan, ok := ComputeTargetBox(2000, 2000, opts)
	if !ok {
		t.Fatal("expected a plan")
	}
	if plan.PreCrop == nil {
		t.Fatal("expected a window pre-crop")
	}
	if plan.PreCrop.Left != 400 || plan.PreCrop.Top != 400 ||
		plan.PreCrop.Width != 600 || plan.PreCrop.Height != 600 {
		t.Fatalf("pre-crop = %+v, want 600x600 at (400,400)", plan.PreCrop)
	}
	// Scale is recomputed against the window region.
	if want := 100.0 / 600.0; math.Abs(plan.Scale-want) > 1e-9 {
		t.Fatalf("scale = %v, want %v", plan.Scale, want)
	}
	if plan.OutW != 100 || plan.OutH != 100 {
		t.Fatalf("output = %dx%d, want 100x100", plan.OutW, plan.OutH)
	}
}

func TestWindowCenterAnchor(t *testing.T) {
	// A small window does not trigger the pre-crop; it anchors the
	// crop on its center instead.
	opts := options.MustParse(map[string]any{
		"width": 400, "ratio": "square", "crop": true,
		"window": []float64{0.0, 0.0, 0.25, 0.25},
	})
	plan, ok := ComputeTargetBox(800, 800, opts)
	if !ok || plan.Crop == nil {
		t.Fatal("expected a cropping plan")
	}
	if plan.PreCrop != nil {
		t.Fatal("small window must not pre-crop")
	}
	// Window center is (0.125, 0.125); the crop box is clamped back
	// to the origin.
	if plan.Crop.Left != 0 || plan.Crop.Top != 0 {
		t.Fatalf("crop = (%d,%d), want clamped to (0,0)", plan.Crop.Left, plan.Crop.Top)
	}
}
