package vision

import (
	"image"
	"image/color"
	"testing"
)

// testScene draws a textured synthetic view: a sawtooth gradient background
// with a grid of bright squares, which gives the corner detector plenty to
// lock onto.
func testScene() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, workWidth, workHeight))
	for y := 0; y < workHeight; y++ {
		for x := 0; x < workWidth; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(40 + (x+y)%30)})
		}
	}
	for by := 10; by+20 < workHeight; by += 40 {
		for bx := 10; bx+20 < workWidth; bx += 40 {
			v := uint8(160 + (bx*by/100)%40)
			for y := by; y < by+20; y++ {
				for x := bx; x < bx+20; x++ {
					img.SetGray(x, y, color.Gray{Y: v})
				}
			}
		}
	}
	return img
}

func shiftBrightness(src *image.Gray, delta int) *image.Gray {
	b := src.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := int(src.GrayAt(x, y).Y) + delta
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			out.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return out
}

func occlude(src *image.Gray, frac float64, fill uint8) *image.Gray {
	b := src.Bounds()
	out := image.NewGray(b)
	copy(out.Pix, src.Pix)
	limit := int(float64(b.Dx()) * frac)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < limit; x++ {
			out.SetGray(x, y, color.Gray{Y: fill})
		}
	}
	return out
}

func newTestDetector() *Detector {
	return NewDetector(0.7, 0.3, 12)
}

func TestIdenticalFrameNoChange(t *testing.T) {
	d := newTestDetector()
	scene := testScene()
	res := d.Compare(scene, scene)
	if res.ChangeDetected {
		t.Fatalf("identical frame flagged as change: %+v", res)
	}
	if res.Similarity < 0.99 {
		t.Fatalf("identical frame similarity %f, want ~1", res.Similarity)
	}
	if res.ReducedConfidence {
		t.Fatalf("textured scene should not run in reduced-confidence mode")
	}
}

func TestUniformBrightnessShiftNoChange(t *testing.T) {
	d := newTestDetector()
	scene := testScene()
	night := shiftBrightness(scene, 40)
	res := d.Compare(scene, night)
	if res.ChangeDetected {
		t.Fatalf("brightness shift flagged as change: sim=%f ratio=%f", res.Similarity, res.KeypointRatio)
	}
	if res.KeypointRatio < 0.5 {
		t.Fatalf("keypoints should survive a uniform brightness shift, ratio=%f", res.KeypointRatio)
	}
}

func TestLargeOcclusionDetected(t *testing.T) {
	d := newTestDetector()
	scene := testScene()
	blocked := occlude(scene, 0.8, 230)
	res := d.Compare(scene, blocked)
	if !res.ChangeDetected {
		t.Fatalf("80%% occlusion not flagged: sim=%f ratio=%f", res.Similarity, res.KeypointRatio)
	}
}

func TestOcclusionDetectedRegardlessOfBrightness(t *testing.T) {
	d := newTestDetector()
	scene := testScene()
	for _, fill := range []uint8{20, 120, 230} {
		blocked := occlude(scene, 0.8, fill)
		res := d.Compare(scene, blocked)
		if !res.ChangeDetected {
			t.Fatalf("occlusion fill=%d not flagged: sim=%f", fill, res.Similarity)
		}
	}
}

func TestPerturbationMonotonic(t *testing.T) {
	d := newTestDetector()
	scene := testScene()
	shifted := d.Compare(scene, shiftBrightness(scene, 40))
	blocked := d.Compare(scene, occlude(scene, 0.8, 230))
	if blocked.Similarity >= shifted.Similarity {
		t.Fatalf("occlusion similarity %f should be below brightness-shift similarity %f",
			blocked.Similarity, shifted.Similarity)
	}
}

func TestTexturePoorBaselineReducedConfidence(t *testing.T) {
	d := newTestDetector()
	flat := image.NewGray(image.Rect(0, 0, workWidth, workHeight))
	for i := range flat.Pix {
		flat.Pix[i] = 90
	}
	res := d.Compare(flat, flat)
	if !res.ReducedConfidence {
		t.Fatalf("flat baseline should run in reduced-confidence mode")
	}
	if res.ChangeDetected {
		t.Fatalf("identical flat frames flagged as change")
	}

	checker := image.NewGray(image.Rect(0, 0, workWidth, workHeight))
	for y := 0; y < workHeight; y++ {
		for x := 0; x < workWidth; x++ {
			if (x/4+y/4)%2 == 0 {
				checker.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	res = d.Compare(flat, checker)
	if !res.ChangeDetected {
		t.Fatalf("flat baseline vs high-contrast frame should flag a change, sim=%f", res.Similarity)
	}
}

func TestAspectRatioMismatch(t *testing.T) {
	d := newTestDetector()
	scene := testScene()
	// Same content at double resolution; comparison happens at the working
	// size, so this must not register as a change.
	big := image.NewGray(image.Rect(0, 0, workWidth*2, workHeight*2))
	for y := 0; y < workHeight*2; y++ {
		for x := 0; x < workWidth*2; x++ {
			big.SetGray(x, y, scene.GrayAt(x/2, y/2))
		}
	}
	res := d.Compare(big, scene)
	if res.ChangeDetected {
		t.Fatalf("resolution mismatch alone flagged as change: sim=%f ratio=%f", res.Similarity, res.KeypointRatio)
	}
}
