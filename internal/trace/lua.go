package trace

import (
	"context"
	"fmt"
	"math"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/richardwooding/nv2a/internal/object"
	"github.com/richardwooding/nv2a/internal/pgraph"
)

// Constants published to scripts in the gpu table.
var scriptConstants = map[string]uint32{
	"KELVIN":              pgraph.ClassKelvin,
	"CONTEXT_SURFACES_2D": pgraph.ClassContextSurfaces2D,
	"IMAGE_BLIT":          pgraph.ClassImageBlit,
	"ENGINE_SOFTWARE":     uint32(object.EngineSoftware),
	"ENGINE_GRAPHICS":     uint32(object.EngineGraphics),
}

type displaySurface struct {
	addr, width, height, pitch uint32
}

// script holds the state one Lua run shares with its bindings. Only the
// script goroutine touches it.
type script struct {
	drv     *Driver
	out     *strings.Builder
	result  *Result
	chid    uint32
	display *displaySurface
}

func (s *script) run(ctx context.Context, name, src string) error {
	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)

	gpu := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"write32":    s.write32,
		"read32":     s.read32,
		"fill":       s.fill,
		"mmio_write": s.mmioWrite,
		"mmio_read":  s.mmioRead,
		"ramht":      s.ramht,
		"dma":        s.dma,
		"object":     s.object,
		"handle":     s.handle,
		"channel":    s.channel,
		"push":       s.push,
		"method":     s.method,
		"wait":       s.wait,
		"vblank":     s.vblank,
		"stats":      s.stats,
		"display":    s.setDisplay,
		"expect32":   s.expect32,
		"pass":       s.pass,
		"fail":       s.fail,
	})
	for k, v := range scriptConstants {
		gpu.RawSetString(k, lua.LNumber(v))
	}
	L.SetGlobal("gpu", gpu)
	L.SetGlobal("print", L.NewFunction(s.print))

	if err := L.DoString(src); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// checkWord returns argument n as a 32-bit unsigned integer.
func checkWord(L *lua.LState, n int) uint32 {
	v := float64(L.CheckNumber(n))
	if v < 0 || v > math.MaxUint32 || v != math.Trunc(v) {
		L.ArgError(n, "32-bit unsigned integer expected")
	}
	return uint32(v)
}

func optWord(L *lua.LState, n int, def uint32) uint32 {
	if L.Get(n) == lua.LNil {
		return def
	}
	return checkWord(L, n)
}

// words collects arguments from n on; a single table argument is expanded.
func words(L *lua.LState, n int) []uint32 {
	if tbl, ok := L.Get(n).(*lua.LTable); ok && L.GetTop() == n {
		out := make([]uint32, 0, tbl.Len())
		for i := 1; i <= tbl.Len(); i++ {
			v, ok := tbl.RawGetInt(i).(lua.LNumber)
			if !ok || v < 0 || float64(v) > math.MaxUint32 {
				L.ArgError(n, fmt.Sprintf("element %d is not a 32-bit word", i))
			}
			out = append(out, uint32(v))
		}
		return out
	}

	var out []uint32
	for i := n; i <= L.GetTop(); i++ {
		out = append(out, checkWord(L, i))
	}
	return out
}

func raise(L *lua.LState, err error) int {
	if err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (s *script) print(L *lua.LState) int {
	parts := make([]string, L.GetTop())
	for i := range parts {
		parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
	}
	s.out.WriteString(strings.Join(parts, "\t"))
	s.out.WriteByte('\n')
	return 0
}

// gpu.write32(addr, value)
func (s *script) write32(L *lua.LState) int {
	s.drv.dev.Memory.VRAM.Write32(checkWord(L, 1), checkWord(L, 2))
	return 0
}

// gpu.read32(addr) -> value
func (s *script) read32(L *lua.LState) int {
	L.Push(lua.LNumber(s.drv.dev.Memory.VRAM.Read32(checkWord(L, 1))))
	return 1
}

// gpu.fill(addr, count, value) writes count words.
func (s *script) fill(L *lua.LState) int {
	addr, count, value := checkWord(L, 1), checkWord(L, 2), checkWord(L, 3)
	for i := range count {
		s.drv.dev.Memory.VRAM.Write32(addr+4*i, value)
	}
	return 0
}

func (s *script) mmioWrite(L *lua.LState) int {
	s.drv.dev.Write(checkWord(L, 1), checkWord(L, 2))
	return 0
}

func (s *script) mmioRead(L *lua.LState) int {
	L.Push(lua.LNumber(s.drv.dev.Read(checkWord(L, 1))))
	return 1
}

// gpu.ramht(base [, size])
func (s *script) ramht(L *lua.LState) int {
	s.drv.SetRAMHT(checkWord(L, 1), optWord(L, 2, 0x1000))
	return 0
}

// gpu.dma(instance, addr, limit)
func (s *script) dma(L *lua.LState) int {
	return raise(L, s.drv.DMAObject(checkWord(L, 1), checkWord(L, 2), checkWord(L, 3)))
}

// gpu.object(instance, class)
func (s *script) object(L *lua.LState) int {
	return raise(L, s.drv.GraphicsObject(checkWord(L, 1), checkWord(L, 2)))
}

// gpu.handle(handle, instance [, engine]) on the current channel.
func (s *script) handle(L *lua.LState) int {
	engine := object.Engine(optWord(L, 3, uint32(object.EngineGraphics)))
	return raise(L, s.drv.AddHandle(s.chid, checkWord(L, 1), checkWord(L, 2), engine))
}

// gpu.channel(chid, push_instance) opens chid and makes it current.
func (s *script) channel(L *lua.LState) int {
	chid := checkWord(L, 1)
	if err := s.drv.OpenChannel(chid, checkWord(L, 2)); err != nil {
		return raise(L, err)
	}
	s.chid = chid
	return 0
}

// gpu.push(word, ...) or gpu.push({word, ...})
func (s *script) push(L *lua.LState) int {
	return raise(L, s.drv.Push(s.chid, words(L, 1)...))
}

// gpu.method(subch, method, param, ...)
func (s *script) method(L *lua.LState) int {
	return raise(L, s.drv.Method(s.chid, checkWord(L, 1), checkWord(L, 2), words(L, 3)...))
}

// gpu.wait() blocks until the pushed commands have executed.
func (s *script) wait(L *lua.LState) int {
	return raise(L, s.drv.Wait(L.Context()))
}

func (s *script) vblank(L *lua.LState) int {
	s.drv.dev.VBlank()
	return 0
}

// gpu.stats() -> {context_switches, software_interrupts, pusher_errors,
// timer_alarms}
func (s *script) stats(L *lua.LState) int {
	st := s.drv.Stats()
	tbl := L.NewTable()
	tbl.RawSetString("context_switches", lua.LNumber(st.ContextSwitches))
	tbl.RawSetString("software_interrupts", lua.LNumber(st.SoftwareInterrupts))
	tbl.RawSetString("pusher_errors", lua.LNumber(st.PusherErrors))
	tbl.RawSetString("timer_alarms", lua.LNumber(st.TimerAlarms))
	L.Push(tbl)
	return 1
}

// gpu.display(addr, width, height [, pitch]) selects the surface captured
// when the script ends.
func (s *script) setDisplay(L *lua.LState) int {
	width := checkWord(L, 2)
	s.display = &displaySurface{
		addr:   checkWord(L, 1),
		width:  width,
		height: checkWord(L, 3),
		pitch:  optWord(L, 4, width*4),
	}
	return 0
}

// gpu.expect32(addr, want [, message]) records a failure on mismatch.
func (s *script) expect32(L *lua.LState) int {
	addr, want := checkWord(L, 1), checkWord(L, 2)
	msg := L.OptString(3, "")

	if got := s.drv.dev.Memory.VRAM.Read32(addr); got != want {
		s.result.Failed = true
		fmt.Fprintf(s.out, "Failed: 0x%08X = 0x%08X, want 0x%08X %s\n", addr, got, want, msg)
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LTrue)
	return 1
}

func (s *script) pass(L *lua.LState) int {
	s.result.Passed = true
	s.out.WriteString("Passed\n")
	return 0
}

// gpu.fail([message])
func (s *script) fail(L *lua.LState) int {
	s.result.Failed = true
	fmt.Fprintf(s.out, "Failed: %s\n", L.OptString(1, "script failed"))
	return 0
}
