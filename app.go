package main

import (
	"context"
	"fmt"
	"image/color"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/vulkan-go/glfw/v3.3/glfw"
	"go.uber.org/zap"

	"orrery/internal/asset"
	"orrery/internal/camera"
	"orrery/internal/config"
	"orrery/internal/frame"
	"orrery/internal/gpu"
	"orrery/internal/hud"
	"orrery/internal/mesh"
	"orrery/internal/metrics"
	"orrery/internal/orbit"
	"orrery/internal/sim"
	"orrery/internal/vk"
)

// maxFrameTime caps the step fed to the advance pass after a stall.
const maxFrameTime = 0.1

const (
	sphereRings   = 32
	sphereSectors = 48
	skyRadius     = 1000
)

// layerNames are the body texture files, one per layer index.
var layerNames = func() []string {
	names := make([]string, sim.LayerCount)
	names[sim.LayerSun] = "sun"
	for i, p := range sim.Planets {
		names[i+1] = p.Name
	}
	names[sim.LayerMoon] = "moon"
	names[sim.LayerAsteroid] = "asteroid"
	names[sim.LayerRing] = "ring"
	return names
}()

// layerTints colour the checker drawn for a missing texture.
var layerTints = func() []color.RGBA {
	tints := make([]color.RGBA, sim.LayerCount)
	tints[sim.LayerSun] = color.RGBA{255, 200, 60, 255}
	for i, p := range sim.Planets {
		tints[i+1] = rgba(p.Tint)
	}
	tints[sim.LayerMoon] = color.RGBA{200, 200, 200, 255}
	tints[sim.LayerAsteroid] = color.RGBA{150, 140, 125, 255}
	tints[sim.LayerRing] = color.RGBA{230, 215, 180, 255}
	return tints
}()

func rgba(v mgl32.Vec4) color.RGBA {
	c := func(f float32) uint8 { return uint8(mgl32.Clamp(f, 0, 1) * 255) }
	return color.RGBA{c(v[0]), c(v[1]), c(v[2]), c(v[3])}
}

// Application owns the window, the device context and the frame loop.
type Application struct {
	cfg     config.Config
	log     *zap.Logger
	window  *glfw.Window
	ctx     *vk.Context
	metrics *metrics.Frame

	cam    *camera.Camera
	params sim.Params
	speed  *sim.SpeedControl

	scene frame.Scene
	cmds  frame.Commands
	sched *frame.Scheduler

	fps  hud.Counter
	last time.Time
	dt   float32
}

// NewApplication builds the device context, uploads the scene and records
// the command buffers.
func NewApplication(cfg config.Config, window *glfw.Window, log *zap.Logger, m *metrics.Frame) (*Application, error) {
	ctx, err := vk.New(window, vk.Options{
		AppName:    cfg.Window.Title,
		Validation: cfg.Render.Validation,
		Shaders:    cfg.Render.Shaders,
		Logger:     log.Named("vk"),
	})
	if err != nil {
		return nil, fmt.Errorf("init vulkan: %w", err)
	}
	camOpts := camera.DefaultOptions()
	camOpts.Far = cfg.Render.FarPlane
	a := &Application{
		cfg:     cfg,
		log:     log,
		window:  window,
		ctx:     ctx,
		metrics: m,
		cam:     camera.New(camOpts),
	}
	if err := a.init(); err != nil {
		ctx.Close()
		return nil, err
	}
	a.bindInput()
	return a, nil
}

func (a *Application) init() error {
	if err := a.loadScene(); err != nil {
		return err
	}

	bodies, err := sim.Spawn(sim.SpawnOptions{
		Count:       a.cfg.Simulation.Bodies,
		MaxGroups:   a.ctx.Limits().MaxComputeWorkGroupCount,
		CentralMass: a.cfg.Simulation.CentralMass,
		Rand:        sim.NewRand(a.cfg.Simulation.Seed),
	})
	if err != nil {
		return fmt.Errorf("spawn bodies: %w", err)
	}
	if len(bodies) != a.cfg.Simulation.Bodies {
		a.log.Info("body count adjusted to whole work groups",
			zap.Int("requested", a.cfg.Simulation.Bodies), zap.Int("records", len(bodies)))
	}
	a.params = sim.DefaultParams(len(bodies))
	a.params.CentralMass = a.cfg.Simulation.CentralMass
	a.speed = sim.NewSpeedControl(a.cfg.Simulation.Speed)
	a.speed.Apply(&a.params)
	if err := a.ctx.WriteParams(a.params); err != nil {
		return err
	}

	a.scene.Bodies, err = frame.NewBodyBuffer(a.ctx, bodies)
	if err != nil {
		return err
	}
	if err := a.scene.Bodies.Handoff(a.ctx); err != nil {
		return err
	}
	if a.cfg.Simulation.Orbits {
		if err := a.loadOrbits(); err != nil {
			return err
		}
	}
	a.scene.Overlay = a.cfg.Render.Overlay
	if err := a.cmds.Record(a.ctx, a.scene); err != nil {
		return err
	}

	a.sched, err = frame.NewScheduler(a.ctx, frame.SourceFunc(a.prepare), &a.cmds, a.scene.Bodies.Ownership(), frame.Options{
		FenceTimeout: a.cfg.Render.FenceTimeout.Duration,
		Logger:       a.log.Named("frame"),
		Observer:     a.metrics,
		Recreate:     a.recreate,
	})
	if err != nil {
		return err
	}
	a.metrics.Bodies.Set(float64(len(bodies)))
	a.metrics.Speed.Set(float64(a.params.Speed))
	a.log.Info("simulation ready",
		zap.Int("bodies", len(bodies)),
		zap.Uint32("groups", a.scene.Bodies.Groups()),
		zap.Bool("shared_family", a.ctx.Families().Shared()))
	return nil
}

func (a *Application) loadScene() error {
	load, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	assetLog := a.log.Named("asset")
	size := a.cfg.Render.TextureSize
	textures, err := asset.LoadTextureArray(load, a.cfg.Render.Textures, layerNames, layerTints, size, assetLog)
	if err != nil {
		return fmt.Errorf("load body textures: %w", err)
	}
	sky, err := asset.LoadTextureArray(load, a.cfg.Render.Textures, []string{"sky"}, []color.RGBA{{20, 24, 48, 255}}, size, assetLog)
	if err != nil {
		return fmt.Errorf("load sky texture: %w", err)
	}
	return a.ctx.LoadScene(vk.SceneData{
		Body:       mesh.Sphere(1, sphereRings, sphereSectors),
		Sky:        mesh.Sphere(skyRadius, sphereRings, sphereSectors),
		Textures:   textures,
		SkyTexture: sky,
	})
}

// loadOrbits traces every planet's orbit once and uploads the points.
func (a *Application) loadOrbits() error {
	inputs := make([]orbit.Input, len(sim.Planets))
	for i, p := range sim.Planets {
		inputs[i] = orbit.Input{Radius: float64(p.Distance)}
	}
	traces, err := orbit.Precompute(inputs, float64(a.params.CentralMass))
	if err != nil {
		return err
	}
	a.scene.Orbits, err = a.ctx.NewBuffer(gpu.UsageVertex, traces.Bytes())
	if err != nil {
		return fmt.Errorf("upload orbit traces: %w", err)
	}
	for _, s := range traces.Spans {
		a.scene.OrbitRanges = append(a.scene.OrbitRanges, gpu.DrawRange{First: s.First, Count: s.Count})
	}
	a.log.Debug("orbit traces uploaded",
		zap.Int("traces", len(traces.Spans)), zap.Int("points", len(traces.Points)))
	return nil
}

func (a *Application) bindInput() {
	a.window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if action == glfw.Release {
			return
		}
		switch key {
		case glfw.KeyEscape:
			w.SetShouldClose(true)
		case glfw.KeyEqual, glfw.KeyKPAdd:
			a.speed.Change(a.cfg.Simulation.SpeedStep)
			a.log.Debug("speed changed", zap.Float32("speed", a.speed.Speed()))
		case glfw.KeyMinus, glfw.KeyKPSubtract:
			a.speed.Change(-a.cfg.Simulation.SpeedStep)
			a.log.Debug("speed changed", zap.Float32("speed", a.speed.Speed()))
		case glfw.KeyP:
			if action == glfw.Press {
				a.log.Debug("pause toggled", zap.Bool("paused", a.speed.TogglePause()))
			}
		}
	})
	a.window.SetMouseButtonCallback(func(w *glfw.Window, button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) {
		if button == glfw.MouseButtonLeft {
			a.cam.SetDragging(action == glfw.Press)
		}
	})
	a.window.SetCursorPosCallback(func(w *glfw.Window, x, y float64) {
		a.cam.CursorMoved(x, y, a.dt)
	})
	a.window.SetScrollCallback(func(w *glfw.Window, xoff, yoff float64) {
		a.cam.Scroll(yoff)
	})
	a.window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		a.sched.RequestRecreate()
	})
}

// prepare writes the host data of a frame. The scheduler calls it after
// the image's previous frame and the last advance pass completed.
func (a *Application) prepare(image uint32) error {
	width, height := a.ctx.Extent()
	if err := a.ctx.WriteCamera(image, a.cam.UBO(width, height)); err != nil {
		return fmt.Errorf("write camera: %w", err)
	}
	a.params.DeltaTime = a.dt
	a.speed.Apply(&a.params)
	if err := a.ctx.WriteParams(a.params); err != nil {
		return fmt.Errorf("write params: %w", err)
	}
	a.metrics.Speed.Set(float64(a.params.Speed))
	if !a.cfg.Render.Overlay {
		return nil
	}
	fps := a.fps.Tick(time.Now())
	text := hud.Text(fps, float64(a.params.Speed))
	return a.ctx.WriteOverlay(image, hud.Build(text, width, height, hud.DefaultStyle))
}

func (a *Application) recreate() error {
	if err := a.ctx.Recreate(); err != nil {
		return err
	}
	return a.cmds.RecordGraphics(a.ctx, a.scene)
}

// Run polls input and runs frames until the window closes or a frame
// fails.
func (a *Application) Run() error {
	a.last = time.Now()
	for !a.window.ShouldClose() {
		glfw.PollEvents()
		now := time.Now()
		a.dt = float32(min(now.Sub(a.last).Seconds(), maxFrameTime))
		a.last = now
		if err := a.sched.Frame(); err != nil {
			return fmt.Errorf("frame %d: %w", a.sched.Frames(), err)
		}
	}
	return a.sched.Close()
}

// Close releases every device object.
func (a *Application) Close() {
	a.ctx.Close()
}
