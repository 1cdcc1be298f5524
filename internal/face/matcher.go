// Package face matches camera frames against enrolled face descriptors.
package face

import (
	"math"

	"go.uber.org/zap"

	"github.com/campuscheck/attendance/internal/model"
)

// DefaultThreshold is the distance under which a match is accepted.
const DefaultThreshold = 0.6

// Entry is one labelled reference descriptor.
type Entry struct {
	Label      string
	Descriptor model.Descriptor
}

// MatchResult is the outcome of matching one frame. Label and Distance are only
// meaningful when Detected is true.
type MatchResult struct {
	Detected bool
	Label    string
	Distance float64
}

// BuildGallery keeps members whose descriptor has the expected length and logs the rest.
func BuildGallery(members []model.Member, want int, log *zap.Logger) []Entry {
	gallery := make([]Entry, 0, len(members))
	for _, m := range members {
		if len(m.Descriptor) == 0 {
			continue
		}
		if err := m.Descriptor.Check(want); err != nil {
			log.Warn("skipping member with unusable descriptor", zap.String("member_id", m.ID), zap.Error(err))
			continue
		}
		gallery = append(gallery, Entry{Label: m.ID, Descriptor: m.Descriptor})
	}
	return gallery
}

// Distance is the euclidean distance between two descriptors of equal length.
func Distance(a, b model.Descriptor) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Nearest returns the closest gallery entry to probe. ok is false for an empty
// gallery or when no entry has the probe's length.
func Nearest(probe model.Descriptor, gallery []Entry) (label string, distance float64, ok bool) {
	distance = math.Inf(1)
	for _, e := range gallery {
		if len(e.Descriptor) != len(probe) {
			continue
		}
		if d := Distance(probe, e.Descriptor); d < distance {
			label, distance, ok = e.Label, d, true
		}
	}
	return label, distance, ok
}
