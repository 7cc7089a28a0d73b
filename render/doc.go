// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package render draws a volume texture with a ray-marching compute shader.
//
// # Key Principle
//
// The renderer does not own the GPU. It draws through a shared gpu.Context,
// taking the exclusive lease for the length of one frame, so background
// slice uploads and frames never interleave on the queue.
//
// # Core Types
//
//   - State: the mutable rendering parameters (mode, window, quality,
//     opacity, lighting) with change notifications
//   - Camera: view and projection matrices plus the ray origin
//   - Orchestrator: sets up the programs and records each frame
//   - RenderTarget: where frames are composited (TextureTarget, SurfaceTarget)
//
// # Frame Structure
//
// Every frame clears the target to the background color. When the volume
// has a texture on the GPU, the orchestrator then
//
//  1. pushes the uniforms derived from State, the camera, the volume and the
//     active transfer function,
//  2. uploads the transfer function if it was rebuilt,
//  3. dispatches the ray marcher into an offscreen texture,
//  4. alpha-composites that texture over the target with a six-vertex quad.
//
// While the camera reports an interaction, the sample count drops to a
// share of the configured quality (see EffectiveSampleCount).
//
// # Usage
//
//	state := render.NewState()
//	orch := render.NewOrchestrator(gctx, state, render.Options{})
//	if err := orch.Init(); err != nil {
//	    return err
//	}
//	defer orch.Close()
//
//	orch.SetVolume(vol)
//	orch.SetPreset(p)
//	orch.SetCamera(render.NewStaticCamera(eye, center, up))
//	stats, err := orch.RenderFrame(target)
package render
