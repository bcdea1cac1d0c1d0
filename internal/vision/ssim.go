package vision

import "image"

// Structural similarity computed over 8x8 blocks and averaged. Near 1.0 for
// structurally identical frames; degrades smoothly with any pixel-region
// disagreement, lighting shifts included.
const ssimBlock = 8

const (
	ssimC1 = 6.5025  // (0.01*255)^2
	ssimC2 = 58.5225 // (0.03*255)^2
)

func ssim(a, b *image.Gray) float64 {
	w := a.Bounds().Dx()
	h := a.Bounds().Dy()
	if w != b.Bounds().Dx() || h != b.Bounds().Dy() || w == 0 || h == 0 {
		return 0
	}
	var sum float64
	var blocks int
	for by := 0; by+ssimBlock <= h; by += ssimBlock {
		for bx := 0; bx+ssimBlock <= w; bx += ssimBlock {
			sum += blockSSIM(a, b, bx, by)
			blocks++
		}
	}
	if blocks == 0 {
		return 0
	}
	s := sum / float64(blocks)
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	return s
}

func blockSSIM(a, b *image.Gray, bx, by int) float64 {
	const n = ssimBlock * ssimBlock
	var sumA, sumB, sumAA, sumBB, sumAB float64
	for y := by; y < by+ssimBlock; y++ {
		for x := bx; x < bx+ssimBlock; x++ {
			pa := float64(a.GrayAt(x, y).Y)
			pb := float64(b.GrayAt(x, y).Y)
			sumA += pa
			sumB += pb
			sumAA += pa * pa
			sumBB += pb * pb
			sumAB += pa * pb
		}
	}
	muA := sumA / n
	muB := sumB / n
	varA := sumAA/n - muA*muA
	varB := sumBB/n - muB*muB
	cov := sumAB/n - muA*muB
	num := (2*muA*muB + ssimC1) * (2*cov + ssimC2)
	den := (muA*muA + muB*muB + ssimC1) * (varA + varB + ssimC2)
	if den == 0 {
		return 0
	}
	return num / den
}
