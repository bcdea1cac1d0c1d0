package vision

import (
	"image"
	"image/color"
)

// Comparison happens at a fixed working resolution so baseline and current
// frames with different native sizes or aspect ratios line up.
const (
	workWidth  = 320
	workHeight = 240
)

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(x, y, color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)))
		}
	}
	return out
}

func resizeGray(src *image.Gray, w, h int) *image.Gray {
	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	if sw == w && sh == h {
		return src
	}
	if sw < 2 || sh < 2 {
		return image.NewGray(image.Rect(0, 0, w, h))
	}
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := float64(y) * float64(sh) / float64(h)
		y0 := int(sy)
		if y0 >= sh-1 {
			y0 = sh - 2
		}
		if y0 < 0 {
			y0 = 0
		}
		fy := sy - float64(y0)
		for x := 0; x < w; x++ {
			sx := float64(x) * float64(sw) / float64(w)
			x0 := int(sx)
			if x0 >= sw-1 {
				x0 = sw - 2
			}
			if x0 < 0 {
				x0 = 0
			}
			fx := sx - float64(x0)
			p00 := float64(src.GrayAt(x0, y0).Y)
			p10 := float64(src.GrayAt(x0+1, y0).Y)
			p01 := float64(src.GrayAt(x0, y0+1).Y)
			p11 := float64(src.GrayAt(x0+1, y0+1).Y)
			top := p00 + (p10-p00)*fx
			bot := p01 + (p11-p01)*fx
			v := top + (bot-top)*fy
			out.SetGray(x, y, color.Gray{Y: uint8(v + 0.5)})
		}
	}
	return out
}

// toWorking converts and scales a frame to the common comparison resolution.
func toWorking(img image.Image) *image.Gray {
	return resizeGray(toGray(img), workWidth, workHeight)
}
