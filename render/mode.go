// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package render

import "fmt"

// Mode selects how samples along a ray are combined. The values are the
// ids the ray-marching shader switches on.
type Mode int32

const (
	// ModeComposite accumulates color and opacity front to back.
	ModeComposite Mode = iota

	// ModeMIP projects the extreme intensity along the ray.
	ModeMIP

	// ModeIsoSurface stops at the first sample with any opacity.
	ModeIsoSurface

	// ModeAlphaBlend blends each sample over the accumulated color.
	ModeAlphaBlend

	// ModeSlice shows a single plane.
	ModeSlice

	// ModeOrthogonalSlices shows the three orthogonal planes.
	ModeOrthogonalSlices
)

// String returns the string representation of Mode.
func (m Mode) String() string {
	switch m {
	case ModeComposite:
		return "Composite"
	case ModeMIP:
		return "MIP"
	case ModeIsoSurface:
		return "IsoSurface"
	case ModeAlphaBlend:
		return "AlphaBlend"
	case ModeSlice:
		return "Slice"
	case ModeOrthogonalSlices:
		return "OrthogonalSlices"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode returns the mode called name, case-sensitively.
func ParseMode(name string) (Mode, error) {
	for m := ModeComposite; m <= ModeOrthogonalSlices; m++ {
		if m.String() == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("render: unknown mode %q", name)
}

// MIPMode selects the extreme a MIP ray keeps.
type MIPMode int32

const (
	MIPMax MIPMode = iota
	MIPMin
)

// String returns the string representation of MIPMode.
func (m MIPMode) String() string {
	switch m {
	case MIPMax:
		return "Max"
	case MIPMin:
		return "Min"
	default:
		return fmt.Sprintf("MIPMode(%d)", int(m))
	}
}

// LUTShape is the curve mapping the window to [0, 1] for MIP output.
type LUTShape int32

const (
	LUTLinear LUTShape = iota
	LUTSigmoid
)

// String returns the string representation of LUTShape.
func (s LUTShape) String() string {
	switch s {
	case LUTLinear:
		return "Linear"
	case LUTSigmoid:
		return "Sigmoid"
	default:
		return fmt.Sprintf("LUTShape(%d)", int(s))
	}
}
