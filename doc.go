// Package volren renders medical image series as GPU volumes.
//
// # Overview
//
// volren streams the slices of a CT, MR or segmentation series into a 3D
// texture and draws it with a ray-marching compute shader through
// gogpu/wgpu. Rendering is composited into any texture view, so the same
// engine serves an on-screen viewer and headless offscreen renders.
//
// # Quick Start
//
//	cfg, err := config.LoadConfig("volren.yaml")
//	if err != nil {
//	    return err
//	}
//	eng, err := volren.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	vol, err := eng.Load(volume.Options{ID: uid, Modality: "CT", Slices: slices})
//	if err != nil {
//	    return err
//	}
//	eng.SetCamera(render.NewStaticCamera(eye, center, up))
//
//	target, _ := eng.NewTarget(800, 600)
//	stats, err := eng.RenderFrame(target)
//
// # Packages
//
//   - volume: slices, the streaming Loader and the GPU volume Cache
//   - preset: transfer functions and the presets file
//   - render: State, cameras and the frame Orchestrator
//   - config: YAML configuration
//
// # Logging
//
// volren is silent by default. Call [SetLogger] to receive diagnostics from
// every package.
//
// # Backends
//
// The backend is chosen by name in the configuration. Register real
// backends by importing github.com/gogpu/wgpu/hal/allbackends; the noop
// backend is always available for headless use.
package volren

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
