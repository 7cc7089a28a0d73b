// Command volren renders a synthetic CT phantom offscreen and logs frame
// statistics.
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	_ "github.com/gogpu/wgpu/hal/allbackends"

	"github.com/gogpu/volren"
	"github.com/gogpu/volren/config"
	"github.com/gogpu/volren/render"
	"github.com/gogpu/volren/volume"
)

func main() {
	var (
		configPath = flag.String("config", "volren.yaml", "configuration file")
		presets    = flag.String("presets", "", "preset definitions file (overrides config)")
		presetName = flag.String("preset", "", "preset to apply by name")
		size       = flag.Int("size", 64, "phantom edge in voxels")
		frames     = flag.Int("frames", 4, "frames to render")
		width      = flag.Int("width", 512, "target width")
		height     = flag.Int("height", 512, "target height")
		backend    = flag.String("backend", "", "GPU backend (overrides config)")
		saveConfig = flag.String("save-config", "", "write the effective configuration here and exit")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	volren.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *presets != "" {
		cfg.Presets.File = *presets
	}
	if *backend != "" {
		cfg.GPU.Backend = *backend
	}
	if *saveConfig != "" {
		if err := config.SaveConfig(cfg, *saveConfig); err != nil {
			log.Fatal(err)
		}
		log.Printf("configuration written to %s", *saveConfig)
		return
	}

	if err := run(cfg, *presetName, *size, *frames, *width, *height); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *config.Config, presetName string, size, frames, width, height int) error {
	if size < 2 {
		return fmt.Errorf("phantom size %d is too small", size)
	}
	eng, err := volren.New(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	vol, err := eng.Load(volume.Options{
		ID:       "phantom",
		Modality: "CT",
		Slices:   sphere(size),
	})
	if err != nil {
		return err
	}
	if err := waitLoaded(vol, 30*time.Second); err != nil {
		return err
	}
	if presetName != "" {
		if err := eng.SetPreset(presetName); err != nil {
			return err
		}
	}

	target, err := eng.NewTarget(width, height)
	if err != nil {
		return err
	}
	defer target.Destroy()

	center := r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}
	cam := render.NewStaticCamera(r3.Vec{X: 0.5, Y: 0.5, Z: 3}, center, r3.Vec{Y: 1})
	cam.SetAspect(float64(width) / float64(height))
	eng.SetCamera(cam)

	for i := range frames {
		// Orbit while "dragging"; the last frame is a still at full quality.
		angle := 2 * math.Pi * float64(i) / float64(max(frames, 1))
		cam.SetEye(r3.Add(center, r3.Vec{X: 2.5 * math.Sin(angle), Z: 2.5 * math.Cos(angle)}))
		cam.SetAdjusting(i < frames-1)

		stats, err := eng.RenderFrame(target)
		if err != nil {
			return err
		}
		volren.Logger().Info("frame", "stats", stats.String())
	}
	volren.Logger().Info("cache", "stats", eng.Cache().Stats().String())
	return nil
}

// waitLoaded blocks until every slice of v is on the GPU.
func waitLoaded(v *volume.Volume, timeout time.Duration) error {
	done := make(chan error, 1)
	unsubscribe := v.Subscribe(func(e volume.Event) {
		var err error
		switch e.Kind {
		case volume.EventFullyLoaded:
		case volume.EventFailed:
			err = e.Err
		default:
			return
		}
		select {
		case done <- err:
		default:
		}
	})
	defer unsubscribe()

	// The volume may have finished before the subscription.
	if l := v.Loader(); l != nil {
		switch l.State() {
		case volume.LoaderCompleted:
			return nil
		case volume.LoaderFailed:
			return l.Err()
		}
	}
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return errors.New("timed out waiting for the volume")
	}
}

// sphere builds size axial int16 slices of a water sphere with a bone shell
// in air.
func sphere(size int) []volume.Slice {
	const (
		air   = -1000
		water = 40
		bone  = 1200
	)
	r := float64(size) / 2
	out := make([]volume.Slice, size)
	for z := range size {
		pix := make([]byte, size*size*2)
		for y := range size {
			for x := range size {
				d := math.Sqrt(sq(float64(x)+0.5-r) + sq(float64(y)+0.5-r) + sq(float64(z)+0.5-r))
				v := int16(air)
				switch {
				case d < r*0.8:
					v = water
				case d < r*0.95:
					v = bone
				}
				binary.LittleEndian.PutUint16(pix[(y*size+x)*2:], uint16(v)) //nolint:gosec // two's complement
			}
		}
		out[z] = &volume.MemSlice{
			Image: &volume.Image{Width: size, Height: size, Channels: 1, Type: volume.SampleInt16, Pix: pix},
			Geom: volume.SliceGeometry{
				Position:       r3.Vec{Z: float64(z)},
				HasPosition:    true,
				Row:            r3.Vec{X: 1},
				Col:            r3.Vec{Y: 1},
				HasOrientation: true,
				PixelSpacing:   [2]float64{1, 1},
				InstanceNumber: z + 1,
			},
		}
	}
	return out
}

func sq(v float64) float64 { return v * v }
