// Package trace runs Lua scripts that drive the GPU the way a guest driver
// would and reports whether they passed.
package trace

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/richardwooding/nv2a/internal/device"
)

// Result represents the result of running a trace script.
type Result struct {
	Output  string
	Passed  bool
	Failed  bool
	Timeout bool
	Error   error

	// Stats holds the interrupts serviced during the run.
	Stats Stats

	// Frame is the surface the script selected with gpu.display, read after
	// the script finished.
	Frame *image.RGBA
}

// Run executes the trace script at path and returns the result.
func Run(path string, cfg device.Config, timeout time.Duration) *Result {
	// #nosec G304 - path is provided by the user via CLI argument
	src, err := os.ReadFile(path)
	if err != nil {
		return &Result{Error: fmt.Errorf("failed to read trace: %w", err)}
	}
	return RunScript(filepath.Base(path), string(src), cfg, timeout)
}

// RunScript executes src on a fresh device. The script and the interrupt
// servicer run concurrently; a fatal device error stops the script.
func RunScript(name, src string, cfg device.Config, timeout time.Duration) *Result {
	result := &Result{}

	drv, err := NewDriver(cfg)
	if err != nil {
		result.Error = fmt.Errorf("failed to create device: %w", err)
		return result
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()

	var out strings.Builder
	s := &script{drv: drv, out: &out, result: result}

	g.Go(func() error {
		return drv.Serve(serveCtx)
	})
	g.Go(func() error {
		defer stopServing()
		return s.run(gctx, name, src)
	})
	err = g.Wait()

	result.Output = out.String()
	result.Stats = drv.Stats()
	if err == nil && s.display != nil {
		result.Frame, err = drv.Frame(s.display.addr, s.display.width, s.display.height, s.display.pitch)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.Timeout = true
	}

	// A fatal device error is the root cause of whatever the script saw
	if shutdownErr := drv.Close(); shutdownErr != nil {
		err = shutdownErr
	}
	result.Error = err
	return result
}

// String returns a human-readable representation of the result.
func (r *Result) String() string {
	if r.Error != nil && !r.Timeout {
		return fmt.Sprintf("ERROR: %v", r.Error)
	}

	if r.Timeout {
		return "TIMEOUT"
	}

	if r.Failed {
		return "FAILED"
	}

	if r.Passed {
		return "PASSED"
	}

	return "UNKNOWN"
}

// IsSuccess returns true if the script passed.
func (r *Result) IsSuccess() bool {
	return r.Passed && !r.Failed && r.Error == nil
}
