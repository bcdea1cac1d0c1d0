package probe

import (
	"image"
	"image/color"
)

// Brightness is a frame-wide luminance average; sharpness is the variance of
// a Laplacian edge response. Both are monotonic more-is-better scores with
// thresholds applied downstream, not here. Pixels are sampled on a stride to
// keep a 30-frame burst cheap on edge hardware.
const sampleStride = 2

type statsAccumulator struct {
	brightnessSum float64
	sharpnessSum  float64
	frames        int
}

func (a *statsAccumulator) add(frame image.Image) {
	b, s := frameStats(frame)
	a.brightnessSum += b
	a.sharpnessSum += s
	a.frames++
}

func (a *statsAccumulator) summary() (brightness, sharpness float64) {
	if a.frames == 0 {
		return 0, 0
	}
	return a.brightnessSum / float64(a.frames), a.sharpnessSum / float64(a.frames)
}

func frameStats(frame image.Image) (brightness, sharpness float64) {
	gray := grayPlane(frame)
	w := gray.Bounds().Dx()
	h := gray.Bounds().Dy()
	if w < 3 || h < 3 {
		return 0, 0
	}

	var lumaSum float64
	var lumaN int
	for y := 0; y < h; y += sampleStride {
		for x := 0; x < w; x += sampleStride {
			lumaSum += float64(gray.GrayAt(x, y).Y)
			lumaN++
		}
	}
	brightness = lumaSum / float64(lumaN)

	// Variance of the 4-neighbour Laplacian, computed with a running mean.
	var n int
	var mean, m2 float64
	for y := 1; y < h-1; y += sampleStride {
		for x := 1; x < w-1; x += sampleStride {
			c := float64(gray.GrayAt(x, y).Y)
			lap := 4*c -
				float64(gray.GrayAt(x-1, y).Y) -
				float64(gray.GrayAt(x+1, y).Y) -
				float64(gray.GrayAt(x, y-1).Y) -
				float64(gray.GrayAt(x, y+1).Y)
			n++
			diff := lap - mean
			mean += diff / float64(n)
			m2 += diff * (lap - mean)
		}
	}
	if n > 0 {
		sharpness = m2 / float64(n)
	}
	return brightness, sharpness
}

func grayPlane(frame image.Image) *image.Gray {
	if g, ok := frame.(*image.Gray); ok {
		return g
	}
	b := frame.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(x, y, color.GrayModel.Convert(frame.At(b.Min.X+x, b.Min.Y+y)))
		}
	}
	return out
}
