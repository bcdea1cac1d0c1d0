package vision

import (
	"image"
	"math"
	"sort"
)

// Corner detection is a FAST-style segment test on a Bresenham circle of
// radius 3. Corners persist across uniform lighting change, which is what
// makes the keypoint stage robust where plain pixel differencing is not.

type keypoint struct {
	X, Y  int
	Score int
}

var circleOffsets = [16][2]int{
	{0, -3}, {1, -3}, {2, -2}, {3, -1},
	{3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
	{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

const (
	fastThreshold = 18
	fastArc       = 9
	maxKeypoints  = 400
	nmsCell       = 12
	patchHalf     = 4
	searchRadius  = 10
	matchNCCMin   = 0.55
)

func detectKeypoints(img *image.Gray) []keypoint {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	margin := 3 + patchHalf
	best := make(map[[2]int]keypoint)
	for y := margin; y < h-margin; y++ {
		for x := margin; x < w-margin; x++ {
			score := cornerScore(img, x, y)
			if score <= 0 {
				continue
			}
			cell := [2]int{x / nmsCell, y / nmsCell}
			if cur, ok := best[cell]; !ok || score > cur.Score {
				best[cell] = keypoint{X: x, Y: y, Score: score}
			}
		}
	}
	kps := make([]keypoint, 0, len(best))
	for _, kp := range best {
		kps = append(kps, kp)
	}
	sort.Slice(kps, func(i, j int) bool {
		if kps[i].Score != kps[j].Score {
			return kps[i].Score > kps[j].Score
		}
		if kps[i].Y != kps[j].Y {
			return kps[i].Y < kps[j].Y
		}
		return kps[i].X < kps[j].X
	})
	if len(kps) > maxKeypoints {
		kps = kps[:maxKeypoints]
	}
	return kps
}

// cornerScore runs the segment test at (x,y) and returns the summed contrast
// of the passing arc, or 0 when the pixel is not a corner.
func cornerScore(img *image.Gray, x, y int) int {
	center := int(img.GrayAt(x, y).Y)
	var bright, dark [32]bool
	var diffs [32]int
	for i, off := range circleOffsets {
		p := int(img.GrayAt(x+off[0], y+off[1]).Y)
		d := p - center
		diffs[i] = d
		diffs[i+16] = d
		bright[i] = d > fastThreshold
		bright[i+16] = bright[i]
		dark[i] = d < -fastThreshold
		dark[i+16] = dark[i]
	}
	score := arcScore(bright[:], diffs[:], 1)
	if s := arcScore(dark[:], diffs[:], -1); s > score {
		score = s
	}
	return score
}

func arcScore(pass []bool, diffs []int, sign int) int {
	run := 0
	best := 0
	sum := 0
	for i := 0; i < len(pass); i++ {
		if pass[i] {
			run++
			sum += sign * diffs[i]
			if run >= fastArc && sum > best {
				best = sum
			}
		} else {
			run = 0
			sum = 0
		}
	}
	return best
}

// matchRatio returns the fraction of baseline keypoints with a confident
// correspondence in the current frame. Patch comparison uses zero-mean
// normalized cross-correlation, so a uniform brightness shift does not break
// matches.
func matchRatio(baseline, current *image.Gray, kps []keypoint) float64 {
	if len(kps) == 0 {
		return 0
	}
	matched := 0
	for _, kp := range kps {
		if findMatch(baseline, current, kp) {
			matched++
		}
	}
	return float64(matched) / float64(len(kps))
}

func findMatch(baseline, current *image.Gray, kp keypoint) bool {
	w := current.Bounds().Dx()
	h := current.Bounds().Dy()
	for dy := -searchRadius; dy <= searchRadius; dy++ {
		for dx := -searchRadius; dx <= searchRadius; dx++ {
			cx := kp.X + dx
			cy := kp.Y + dy
			if cx < patchHalf || cy < patchHalf || cx >= w-patchHalf || cy >= h-patchHalf {
				continue
			}
			if patchNCC(baseline, kp.X, kp.Y, current, cx, cy) >= matchNCCMin {
				return true
			}
		}
	}
	return false
}

func patchNCC(a *image.Gray, ax, ay int, b *image.Gray, bx, by int) float64 {
	const side = 2*patchHalf + 1
	const n = side * side
	var sumA, sumB float64
	for dy := -patchHalf; dy <= patchHalf; dy++ {
		for dx := -patchHalf; dx <= patchHalf; dx++ {
			sumA += float64(a.GrayAt(ax+dx, ay+dy).Y)
			sumB += float64(b.GrayAt(bx+dx, by+dy).Y)
		}
	}
	muA := sumA / n
	muB := sumB / n
	var num, denA, denB float64
	for dy := -patchHalf; dy <= patchHalf; dy++ {
		for dx := -patchHalf; dx <= patchHalf; dx++ {
			da := float64(a.GrayAt(ax+dx, ay+dy).Y) - muA
			db := float64(b.GrayAt(bx+dx, by+dy).Y) - muB
			num += da * db
			denA += da * da
			denB += db * db
		}
	}
	den := math.Sqrt(denA * denB)
	if den == 0 {
		return 0
	}
	return num / den
}
