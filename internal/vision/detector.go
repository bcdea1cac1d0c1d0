// Package vision compares a freshly captured frame against a camera's stored
// baseline image and decides whether the camera's view has physically changed.
//
// The comparison is two-stage. Structural similarity catches any pixel-region
// disagreement but also reacts to lighting; keypoint correspondence is
// largely lighting-invariant but blind on texture-poor scenes. Either signal
// crossing its line flags a view change, because either failure mode on its
// own indicates an unreliable view.
package vision

import "image"

type Detector struct {
	// StructuralThreshold flags a change when the SSIM score falls below it.
	StructuralThreshold float64
	// KeypointCutoff flags a change when the baseline keypoint match ratio
	// falls below it.
	KeypointCutoff float64
	// MinKeypoints is the baseline keypoint count under which the keypoint
	// stage is skipped (reduced-confidence mode).
	MinKeypoints int
}

type Result struct {
	Similarity        float64 `json:"similarity"`
	KeypointRatio     float64 `json:"keypoint_ratio"`
	KeypointsUsed     int     `json:"keypoints_used"`
	ChangeDetected    bool    `json:"change_detected"`
	ReducedConfidence bool    `json:"reduced_confidence"`
}

func NewDetector(structural, keypointCutoff float64, minKeypoints int) *Detector {
	if structural <= 0 {
		structural = 0.7
	}
	if keypointCutoff <= 0 {
		keypointCutoff = 0.3
	}
	if minKeypoints <= 0 {
		minKeypoints = 12
	}
	return &Detector{
		StructuralThreshold: structural,
		KeypointCutoff:      keypointCutoff,
		MinKeypoints:        minKeypoints,
	}
}

// Compare scores the current frame against the baseline. Both images are
// brought to a common working resolution first, so mismatched native sizes
// and aspect ratios are fine.
func (d *Detector) Compare(baseline, current image.Image) Result {
	bg := toWorking(baseline)
	cg := toWorking(current)

	res := Result{Similarity: ssim(bg, cg)}

	kps := detectKeypoints(bg)
	res.KeypointsUsed = len(kps)
	if len(kps) < d.MinKeypoints {
		// Texture-poor baseline: structural stage only.
		res.ReducedConfidence = true
		res.ChangeDetected = res.Similarity < d.StructuralThreshold
		return res
	}

	res.KeypointRatio = matchRatio(bg, cg, kps)
	res.ChangeDetected = res.Similarity < d.StructuralThreshold ||
		res.KeypointRatio < d.KeypointCutoff
	return res
}
