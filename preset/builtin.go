package preset

import (
	"slices"
)

// Names of the generated presets.
const (
	OriginalName     = "Original"
	SegmentationName = "Segmentation"

	// SegmentationModality is the modality of segmentation label volumes.
	SegmentationModality = "SEG"
)

// Original returns a grayscale ramp from transparent black at lo to opaque
// white at hi. The renderer maps it over the volume's own level range.
func Original(lo, hi int) *Preset {
	if hi <= lo {
		hi = lo + 1
	}
	p, err := New(Options{Name: OriginalName, Kind: KindOriginal},
		Group{Label: "Ramp", Points: []Point{
			{Intensity: lo, Opacity: 0, Color: &RGB{}},
			{Intensity: hi, Opacity: 1, Color: &RGB{R: 1, G: 1, B: 1}},
		}},
	)
	if err != nil {
		// The two points above are always valid.
		panic(err)
	}
	return p
}

// Region is one labeled segment of a segmentation volume. Voxels of the
// region hold the value ID.
type Region struct {
	ID      int
	Label   string
	Color   RGB
	Opacity float32
	Visible bool
}

var (
	segAmbient  float32 = 0.2
	segDiffuse  float32 = 0.1
	segSpecular float32 = 0.9
)

func segPoint(intensity int, opacity float32, c RGB) Point {
	return Point{
		Intensity: intensity,
		Opacity:   opacity,
		Color:     &c,
		Ambient:   &segAmbient,
		Diffuse:   &segDiffuse,
		Specular:  &segSpecular,
	}
}

// Segmentation builds the preset coloring each visible region with its own
// color and opacity. Label 0 and everything past the highest visible label
// stay transparent.
func Segmentation(regions []Region) (*Preset, error) {
	visible := make([]Region, 0, len(regions))
	for _, r := range regions {
		if r.Visible && r.ID > 0 {
			visible = append(visible, r)
		}
	}
	slices.SortFunc(visible, func(a, b Region) int { return a.ID - b.ID })

	groups := []Group{{Label: "StartEmpty", Points: []Point{
		segPoint(-10, 0, RGB{}),
		segPoint(0, 0, RGB{}),
	}}}

	highest := 1
	if len(visible) > 0 {
		pts := make([]Point, 0, len(visible))
		for _, r := range visible {
			if n := len(pts); n > 0 && pts[n-1].Intensity == r.ID {
				continue
			}
			pts = append(pts, segPoint(r.ID, r.Opacity, r.Color))
			highest = max(highest, r.ID)
		}
		groups = append(groups, Group{Label: "Segments", Points: pts})
	}

	groups = append(groups, Group{Label: "EndEmpty", Points: []Point{
		segPoint(highest+1, 0, RGB{}),
		segPoint(highest+11, 0, RGB{}),
	}})

	return New(Options{
		Name:          SegmentationName,
		Modality:      SegmentationModality,
		Shade:         true,
		SpecularPower: 1,
		Kind:          KindSegmentation,
	}, groups...)
}
