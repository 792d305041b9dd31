// Package config loads the application settings. Values come from the
// defaults, then an optional TOML file, then the VK_VALIDATION
// environment variable, then command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
)

// DefaultFile is read when --config is not given and the file exists.
const DefaultFile = "orrery.toml"

type Window struct {
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	Title  string `toml:"title"`
}

type Simulation struct {
	// Bodies is the requested record count, rounded down to whole work
	// groups and capped by the device.
	Bodies      int     `toml:"bodies"`
	Seed        uint64  `toml:"seed"`
	Speed       float32 `toml:"speed"`
	SpeedStep   float32 `toml:"speed_step"`
	CentralMass float32 `toml:"central_mass"`
	Orbits      bool    `toml:"orbits"`
}

type Render struct {
	Validation   bool     `toml:"validation"`
	FenceTimeout Duration `toml:"fence_timeout"`
	FarPlane     float32  `toml:"far_plane"`
	Overlay      bool     `toml:"overlay"`
	Shaders      string   `toml:"shaders"`
	Textures     string   `toml:"textures"`
	TextureSize  int      `toml:"texture_size"`
}

// Duration reads a TOML string such as "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Log struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

type Metrics struct {
	// Addr serves /metrics when set, for example ":9090".
	Addr string `toml:"addr"`
}

type Config struct {
	Window     Window     `toml:"window"`
	Simulation Simulation `toml:"simulation"`
	Render     Render     `toml:"render"`
	Log        Log        `toml:"log"`
	Metrics    Metrics    `toml:"metrics"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Window: Window{Width: 1280, Height: 720, Title: "Orrery"},
		Simulation: Simulation{
			Bodies:      16384,
			Speed:       1,
			SpeedStep:   0.5,
			CentralMass: 50,
			Orbits:      true,
		},
		Render: Render{
			FenceTimeout: Duration{10 * time.Second},
			FarPlane:     2000,
			Overlay:      true,
			Shaders:      "shaders",
			Textures:     "textures",
			TextureSize:  512,
		},
		Log: Log{Level: "info"},
	}
}

// Decode overlays a TOML document on c. Unknown keys are an error.
func (c *Config) Decode(data []byte) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return fmt.Errorf("config: line %d column %d: %w", row, col, err)
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Validate reports settings the application cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Window.Width == 0 || c.Window.Height == 0 {
		errs = append(errs, fmt.Errorf("window size %dx%d", c.Window.Width, c.Window.Height))
	}
	if c.Simulation.Bodies <= 0 {
		errs = append(errs, fmt.Errorf("bodies %d", c.Simulation.Bodies))
	}
	if c.Simulation.CentralMass <= 0 {
		errs = append(errs, fmt.Errorf("central mass %v", c.Simulation.CentralMass))
	}
	if c.Simulation.SpeedStep <= 0 {
		errs = append(errs, fmt.Errorf("speed step %v", c.Simulation.SpeedStep))
	}
	if c.Render.FenceTimeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("fence timeout %v", c.Render.FenceTimeout))
	}
	if c.Render.TextureSize <= 0 {
		errs = append(errs, fmt.Errorf("texture size %d", c.Render.TextureSize))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid settings: %w", err)
	}
	return nil
}

// Load parses args and builds the configuration. getenv is os.Getenv in
// production.
func Load(args []string, getenv func(string) string) (Config, error) {
	cfg := Default()
	fset := pflag.NewFlagSet("orrery", pflag.ContinueOnError)
	path := fset.String("config", "", "TOML settings file (default "+DefaultFile+" if present)")
	width := fset.Uint32("width", cfg.Window.Width, "window width")
	height := fset.Uint32("height", cfg.Window.Height, "window height")
	bodies := fset.IntP("bodies", "n", cfg.Simulation.Bodies, "number of body records")
	seed := fset.Uint64("seed", 0, "random seed for the belt and rings, 0 for time based")
	speed := fset.Float32("speed", cfg.Simulation.Speed, "initial simulation speed")
	orbits := fset.Bool("orbits", cfg.Simulation.Orbits, "draw orbit traces")
	validation := fset.Bool("validation", false, "enable Vulkan validation layers")
	overlay := fset.Bool("overlay", cfg.Render.Overlay, "draw the FPS overlay")
	shaders := fset.String("shaders", cfg.Render.Shaders, "directory of compiled SPIR-V shaders")
	textures := fset.String("textures", cfg.Render.Textures, "directory of body textures")
	logLevel := fset.String("log-level", cfg.Log.Level, "debug, info, warn or error")
	metricsAddr := fset.String("metrics-addr", "", "serve Prometheus metrics on this address")
	if err := fset.Parse(args); err != nil {
		return cfg, err
	}

	file := *path
	if file == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			file = DefaultFile
		}
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := cfg.Decode(data); err != nil {
			return cfg, fmt.Errorf("%s: %w", file, err)
		}
	}

	if getenv("VK_VALIDATION") != "" {
		cfg.Render.Validation = true
	}

	set := func(name string, apply func()) {
		if fset.Changed(name) {
			apply()
		}
	}
	set("width", func() { cfg.Window.Width = *width })
	set("height", func() { cfg.Window.Height = *height })
	set("bodies", func() { cfg.Simulation.Bodies = *bodies })
	set("seed", func() { cfg.Simulation.Seed = *seed })
	set("speed", func() { cfg.Simulation.Speed = *speed })
	set("orbits", func() { cfg.Simulation.Orbits = *orbits })
	set("validation", func() { cfg.Render.Validation = *validation })
	set("overlay", func() { cfg.Render.Overlay = *overlay })
	set("shaders", func() { cfg.Render.Shaders = *shaders })
	set("textures", func() { cfg.Render.Textures = *textures })
	set("log-level", func() { cfg.Log.Level = *logLevel })
	set("metrics-addr", func() { cfg.Metrics.Addr = *metricsAddr })

	return cfg, cfg.Validate()
}
