package pgraph

import (
	"github.com/richardwooding/nv2a/internal/logger"
	"github.com/richardwooding/nv2a/internal/shader"
)

// constant is one transform constant register.
type constant struct {
	data  [4]uint32
	dirty bool // written since the last uniform upload
}

// kelvinPrimitive is the NV097 3D class. Its state lives on the engine so
// that it survives rebinding the object.
type kelvinPrimitive struct{}

func (kelvinPrimitive) method(e *Engine, chid, subch, method, param uint32) error {
	e.methods[method/4] = param

	switch {
	case method == kelvinNoOperation:
		if param != 0 {
			return e.softwareInterrupt(chid, subch, method, param)
		}

	case method == kelvinWaitForIdle:
		return e.flushSurfaces()

	case method >= kelvinSetFlipRead && method <= kelvinFlipStall:
		return e.flipMethod(method, param)

	case method == kelvinDMAColor, method == kelvinDMAZeta:
		return e.setSurfaceMethod(method, param)
	case method == kelvinDMAA:
		e.dmaA = param
		e.markTexturesDirty()
	case method == kelvinDMAB:
		e.dmaB = param
		e.markTexturesDirty()
	case method == kelvinDMAVertexA:
		e.dmaVertexA = param
	case method == kelvinDMAVertexB:
		e.dmaVertexB = param
	case method == kelvinDMASemaphore:
		e.dmaSemaphore = param
	case method == kelvinDMAReport:
		e.dmaReport = param

	case method >= kelvinSurfaceClipHorizontal && method <= kelvinSurfaceZetaOffset:
		return e.setSurfaceMethod(method, param)

	case method >= kelvinTransformProgram && method < kelvinTransformConstant:
		slot := (method - kelvinTransformProgram) / 4
		if e.programLoad < shader.MaxProgramLength {
			e.program[e.programLoad][slot%4] = param
		}
		if slot%4 == 3 {
			e.programLoad++
		}

	case method >= kelvinTransformConstant && method < kelvinTransformConstant+0x80:
		slot := (method - kelvinTransformConstant) / 4
		if e.constLoad < shader.ConstantCount {
			c := &e.constants[e.constLoad]
			c.data[slot%4] = param
			c.dirty = true
		}
		if slot%4 == 3 {
			e.constLoad++
		}

	case method >= kelvinVertex3F && method < kelvinVertexDataArrayOffset,
		method >= kelvinVertexData2FM && method < kelvinTexture:
		e.vertexDataMethod(method, param)

	case method >= kelvinVertexDataArrayOffset && method < kelvinVertexDataArrayFormat:
		e.attribs[(method-kelvinVertexDataArrayOffset)/4].offset = param
	case method >= kelvinVertexDataArrayFormat && method < kelvinVertexDataArrayFormat+0x40:
		e.attribs[(method-kelvinVertexDataArrayFormat)/4].format = param

	case method == kelvinClearReportValue:
		e.clearReportValue()
	case method == kelvinZPassPixelCountEnable:
		e.zpassEnable = param != 0
	case method == kelvinGetReport:
		return e.getReport(param)

	case method == kelvinBeginEnd:
		return e.beginEnd(param)
	case method == kelvinArrayElement16:
		e.batch.inlineElements = append(e.batch.inlineElements, param&0xFFFF, param>>16)
	case method == kelvinArrayElement32:
		e.batch.inlineElements = append(e.batch.inlineElements, param)
	case method == kelvinDrawArrays:
		e.addDrawArrays(param)
	case method == kelvinInlineArray:
		e.batch.inlineArray = append(e.batch.inlineArray, param)

	case method >= kelvinTexture && method < kelvinTexture+shader.TextureUnits*texUnitStride:
		e.textureMethod(method, param)

	case method == kelvinSemaphoreOffset:
		e.semaphoreOffset = param
	case method == kelvinSemaphoreRelease:
		return e.releaseSemaphore(param)

	case method == kelvinClearSurface:
		return e.clearSurface(param)

	case method == kelvinTransformProgramLoad:
		e.programLoad = param
	case method == kelvinTransformConstantLoad:
		e.constLoad = param
	}
	return nil
}

// softwareInterrupt traps the method and stalls the channel until the
// device acknowledges the interrupt.
func (e *Engine) softwareInterrupt(chid, subch, method, param uint32) error {
	trapped := &e.regs[RegTrappedAddr/4]
	setField(trapped, trappedAddrChannelMask, trappedAddrChannelShift, chid)
	setField(trapped, trappedAddrSubchMask, trappedAddrSubchShift, subch)
	setField(trapped, trappedAddrMethodMask, 0, method)
	e.regs[RegTrappedDataLow/4] = param
	e.regs[RegNSource/4] = nsourceNotification

	logger.Logger().Debug("software interrupt", "channel", chid, "subchannel", subch, "parameter", param)
	return e.raiseAndWait(IntrError)
}

// flipMethod manages the 3D buffer indices held in PGRAPH SURFACE.
func (e *Engine) flipMethod(method, param uint32) error {
	s := &e.regs[RegSurface/4]

	switch method {
	case kelvinSetFlipRead:
		setField(s, surfaceRead3DMask, surfaceRead3DShift, param)
	case kelvinSetFlipWrite:
		setField(s, surfaceWrite3DMask, surfaceWrite3DShift, param)
	case kelvinSetFlipModulo:
		setField(s, surfaceModulo3DMask, surfaceModulo3DShift, param)
	case kelvinFlipIncrementWrite:
		modulo := getField(*s, surfaceModulo3DMask, surfaceModulo3DShift)
		if modulo != 0 {
			write := getField(*s, surfaceWrite3DMask, surfaceWrite3DShift)
			setField(s, surfaceWrite3DMask, surfaceWrite3DShift, (write+1)%modulo)
		}
	case kelvinFlipStall:
		if err := e.flushSurfaces(); err != nil {
			return err
		}
		// The display advances the read index through PGRAPH INCREMENT
		for getField(*s, surfaceRead3DMask, surfaceRead3DShift) == getField(*s, surfaceWrite3DMask, surfaceWrite3DShift) {
			if e.closed {
				return ErrShutdown
			}
			e.flipCond.Wait()
		}
	}
	return nil
}
