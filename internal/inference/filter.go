package inference

import (
	"golang.org/x/text/cases"

	"visionedge/internal/detection"
)

// Filter keeps objects that are not the negative class and meet threshold.
func Filter(objects []detection.Object, threshold int) []detection.Object {
	var kept []detection.Object
	for _, obj := range objects {
		if obj.DisplayName == NegativeClass {
			continue
		}
		if obj.Confidence < float64(threshold) {
			continue
		}
		kept = append(kept, obj)
	}
	return kept
}

// CountClass counts detections whose class matches target, ignoring case.
func CountClass(dets []SequencedDetection, target string) int {
	fold := cases.Fold()
	want := fold.String(target)
	n := 0
	for _, d := range dets {
		if fold.String(d.DisplayName) == want {
			n++
		}
	}
	return n
}
