// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package render_test

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gogpu/volren/render"
)

func ExampleDefaultQuality() {
	q := render.DefaultQuality(512, 512, 300)
	fmt.Println(q)
	fmt.Println(render.EffectiveSampleCount(q, true, render.DefaultDynamicPercent))
	// Output:
	// 724
	// 181
}

func ExampleState_OnChange() {
	state := render.NewState()
	remove := state.OnChange(func(v render.Values) {
		fmt.Println("mode:", v.Mode)
	})
	defer remove()

	state.SetMode(render.ModeMIP)
	state.SetMode(render.ModeMIP) // unchanged, no notification

	state.SetRepaintEnabled(false)
	state.SetMode(render.ModeIsoSurface)
	state.SetOpacity(0.5)
	state.SetRepaintEnabled(true)
	// Output:
	// mode: MIP
	// mode: IsoSurface
}

func ExampleNewStaticCamera() {
	cam := render.NewStaticCamera(r3.Vec{Z: 3}, r3.Vec{}, r3.Vec{Y: 1})
	cam.SetAdjusting(true)
	fmt.Println(cam.RayOrigin(), cam.IsAdjusting())
	// Output:
	// {0 0 3} true
}
