// Package main provides the nv2a CLI application.
package main

import (
	"errors"
	"fmt"
	"image/png"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/hajimehoshi/ebiten/v2"

	"github.com/richardwooding/nv2a/internal/device"
	"github.com/richardwooding/nv2a/internal/pfifo"
	"github.com/richardwooding/nv2a/internal/trace"
)

var (
	// ErrTraceFailed indicates a trace script did not pass.
	ErrTraceFailed = errors.New("trace failed")

	// ErrInvalidScale indicates the scale factor is out of valid range.
	ErrInvalidScale = errors.New("scale must be between 1 and 16")

	// ErrNoFrame indicates a trace that never selected a surface to display.
	ErrNoFrame = errors.New("trace selected no surface with gpu.display")
)

// CLI represents the command-line interface structure.
type CLI struct {
	LogLevel  string `help:"Log level." enum:"debug,info,warn,error" default:"warn"`
	LogFormat string `help:"Log format; auto picks text on a terminal and JSON otherwise." enum:"auto,text,json" default:"auto"`

	Run    RunCmd    `cmd:"" help:"Run a trace script and report results."`
	View   ViewCmd   `cmd:"" help:"Run a trace script and show the surface it displays."`
	Decode DecodeCmd `cmd:"" help:"Decode a raw push buffer into methods."`
}

// DeviceFlags configure the emulated device.
type DeviceFlags struct {
	VRAM             int  `name:"vram" help:"Guest memory size in MiB." default:"64"`
	Channels         int  `help:"Number of PFIFO channels." default:"32"`
	TextureCache     int  `help:"Host texture cache capacity." default:"512"`
	FastTextureCache bool `help:"Skip recency updates on texture cache hits."`
}

// Config returns the device configuration for the flags.
func (f DeviceFlags) Config() device.Config {
	cfg := device.DefaultConfig()
	cfg.VRAMSize = f.VRAM << 20
	cfg.Channels = f.Channels
	cfg.TextureCacheCapacity = f.TextureCache
	cfg.FastTextureCache = f.FastTextureCache
	return cfg
}

// RunCmd runs a trace script and reports results.
type RunCmd struct {
	Script  string        `arg:"" type:"existingfile" help:"Path to Lua trace script."`
	Timeout time.Duration `default:"30s" help:"Timeout for the whole run."`
	Frame   string        `type:"path" help:"Write the displayed surface to this PNG file."`
	Verbose bool          `short:"v" help:"Show detailed output."`

	Device DeviceFlags `embed:""`
}

// Run executes the run command.
func (c *RunCmd) Run(w io.Writer) error {
	fmt.Fprintf(w, "Running trace: %s\n", c.Script)

	result := trace.Run(c.Script, c.Device.Config(), c.Timeout)

	fmt.Fprintf(w, "Result: %s\n", result.String())

	if c.Verbose || !result.IsSuccess() {
		fmt.Fprintf(w, "\nOutput:\n%s\n", result.Output)
	}
	if c.Verbose {
		fmt.Fprintf(w, "Interrupts: %d context switches, %d software, %d pusher errors, %d timer alarms\n",
			result.Stats.ContextSwitches, result.Stats.SoftwareInterrupts, result.Stats.PusherErrors, result.Stats.TimerAlarms)
	}

	if c.Frame != "" && result.Frame != nil {
		if err := writePNG(c.Frame, result); err != nil {
			return err
		}
		fmt.Fprintf(w, "Frame written to %s\n", c.Frame)
	}

	if !result.IsSuccess() {
		return ErrTraceFailed
	}

	return nil
}

func writePNG(path string, result *trace.Result) error {
	f, err := os.Create(path) // #nosec G304 - path is provided by the user via CLI argument
	if err != nil {
		return fmt.Errorf("failed to create frame file: %w", err)
	}
	if err := png.Encode(f, result.Frame); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return f.Close()
}

// ViewCmd runs a trace script and shows the displayed surface in a window.
type ViewCmd struct {
	Script  string        `arg:"" type:"existingfile" help:"Path to Lua trace script."`
	Scale   int           `help:"Display scale factor (1-16)." default:"4"`
	Filter  string        `help:"Scaling filter." enum:"nearest,bilinear,catmull-rom" default:"nearest"`
	Timeout time.Duration `default:"30s" help:"Timeout for the whole run."`

	Device DeviceFlags `embed:""`
}

// Run executes the view command.
func (c *ViewCmd) Run(w io.Writer) error {
	if c.Scale < 1 || c.Scale > 16 {
		return fmt.Errorf("%w: got %d", ErrInvalidScale, c.Scale)
	}

	result := trace.Run(c.Script, c.Device.Config(), c.Timeout)
	fmt.Fprintf(w, "Result: %s\n", result.String())
	if result.Error != nil {
		return fmt.Errorf("failed to run trace: %w", result.Error)
	}
	if result.Frame == nil {
		return ErrNoFrame
	}

	display := NewDisplay(result.Frame, c.Scale, scalers[c.Filter])
	width, height := display.Layout(0, 0)

	ebiten.SetWindowTitle("nv2a - " + c.Script)
	ebiten.SetWindowSize(width, height)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)

	if err := ebiten.RunGame(display); err != nil {
		return fmt.Errorf("display error: %w", err)
	}

	return nil
}

// DecodeCmd decodes a raw little-endian push buffer.
type DecodeCmd struct {
	File     string `arg:"" type:"existingfile" help:"Path to push buffer dump."`
	Get      uint32 `help:"Byte offset to start decoding at." default:"0"`
	Put      int64  `help:"Byte offset to stop at; negative means the end of the file." default:"-1"`
	MaxWords int    `help:"Abort walks longer than this many words; 0 means the file size." default:"0"`
}

// Run executes the decode command.
func (c *DecodeCmd) Run(w io.Writer) error {
	// #nosec G304 - path is provided by the user via CLI argument
	ring, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("failed to read push buffer: %w", err)
	}
	ring = ring[:len(ring)&^3]

	put := uint32(len(ring))
	if c.Put >= 0 {
		put = uint32(c.Put)
	}

	cmds, err := pfifo.Decode(ring, c.Get, put, c.MaxWords)
	for _, cmd := range cmds {
		fmt.Fprintln(w, cmd)
	}
	if err != nil {
		return fmt.Errorf("decode stopped after %d commands: %w", len(cmds), err)
	}

	fmt.Fprintf(w, "%d commands\n", len(cmds))
	return nil
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("nv2a"),
		kong.Description("An NV2A GPU command processor driven by Lua trace scripts."),
		kong.UsageOnError(),
		kong.BindTo(os.Stdout, (*io.Writer)(nil)),
	)

	setupLogging(os.Stderr, cli.LogLevel, cli.LogFormat)

	err := ctx.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
